package handler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/session"
)

func TestHandleSessionFailed_SchedulesCoronerWithLogTail(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "session.log")
	lines := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	sched := newFakeScheduler()
	exitCode := 1
	sched.sessions["sess-1"] = &session.Session{
		SessionID:   "sess-1",
		Status:      session.StatusFailed,
		ExitCode:    &exitCode,
		LogLocation: logPath,
		Metadata:    map[string]any{"reason": "early_exit"},
	}

	s := NewSet(nil, Config{Bus: bus.New(nil), Scheduler: sched, DefaultEngine: "claude", LogTailLines: 10})

	s.handleSessionFailed(bus.Event{
		Type:    bus.SessionFailed,
		Payload: map[string]any{"session_id": "sess-1", "role_name": "engineer", "exit_code": 1},
	})

	task, ok := sched.lastTask()
	if !ok {
		t.Fatal("expected a coroner task to be scheduled")
	}
	if task.RoleName != "coroner" {
		t.Fatalf("role = %q, want coroner", task.RoleName)
	}
	if task.ParentSessionID != "sess-1" {
		t.Fatalf("parent_session_id = %q, want sess-1", task.ParentSessionID)
	}
	if !strings.Contains(task.Prompt, "early_exit") {
		t.Fatalf("prompt missing failure reason: %q", task.Prompt)
	}
	if got := strings.Count(task.Prompt, "line\n"); got != 10 {
		t.Fatalf("log tail lines in prompt = %d, want 10", got)
	}
}

func TestHandleSessionFailed_RefusesToInvestigateCoroner(t *testing.T) {
	sched := newFakeScheduler()
	s := NewSet(nil, Config{Bus: bus.New(nil), Scheduler: sched})

	s.handleSessionFailed(bus.Event{
		Type:    bus.SessionFailed,
		Payload: map[string]any{"session_id": "sess-2", "role_name": "coroner"},
	})

	if got := sched.taskCount(); got != 0 {
		t.Fatalf("taskCount = %d, want 0 when the failed session was itself a coroner", got)
	}
}

func TestHandleSessionFailed_UnknownSessionIsIgnored(t *testing.T) {
	sched := newFakeScheduler()
	s := NewSet(nil, Config{Bus: bus.New(nil), Scheduler: sched})

	s.handleSessionFailed(bus.Event{
		Type:    bus.SessionFailed,
		Payload: map[string]any{"session_id": "does-not-exist", "role_name": "engineer"},
	})

	if got := sched.taskCount(); got != 0 {
		t.Fatalf("taskCount = %d, want 0 for an unknown session", got)
	}
}
