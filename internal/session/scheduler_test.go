package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/config"
	"github.com/indenscale/monoco/internal/engine"
)

// shAdapter is a test-only Adapter that shells out to /bin/sh so the
// scheduler's process-supervision path can be exercised without an
// external agent CLI installed. It registers itself under the "local"
// name so Schedule's engine lookup resolves it without touching the
// config-driven built-ins.
type shAdapter struct {
	script string
}

func (a shAdapter) Name() string            { return "local" }
func (a shAdapter) SupportsUnattended() bool { return true }
func (a shAdapter) BuildCommand(_ string, _ map[string]string) ([]string, error) {
	return []string{"/bin/sh", "-c", a.script}, nil
}

// shRegistry resolves "local" to a shAdapter and delegates every other
// name to a real *engine.Registry, so Schedule's other validation
// (unknown engine, unattended support) still runs against genuine
// config-driven adapters.
type shRegistry struct {
	fallback *engine.Registry
	local    shAdapter
}

func (r shRegistry) Get(name string) (engine.Adapter, bool) {
	if name == "local" {
		return r.local, true
	}
	return r.fallback.Get(name)
}

func newTestScheduler(t *testing.T) (*Scheduler, *Store, *bus.Bus) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	r, err := engine.NewRegistry(config.Default())
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	b := bus.New(nil)
	sched, err := NewScheduler(nil, store, r, b, Config{DataDir: dir, GlobalConcurrency: 4})
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}
	return sched, store, b
}

func TestSchedule_CompletesOnZeroExit(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	base, err := engine.NewRegistry(config.Default())
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	r := shRegistry{fallback: base, local: shAdapter{script: "sleep 0.05; exit 0"}}
	b := bus.New(nil)
	sched, err := NewScheduler(nil, store, r, b, Config{DataDir: dir, GlobalConcurrency: 4})
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}

	completed := make(chan bus.Event, 1)
	b.Subscribe(bus.SessionCompleted, func(e bus.Event) { completed <- e })

	sessionID, err := sched.Schedule(context.Background(), AgentTask{
		RoleName: "engineer",
		Engine:   "local",
		Prompt:   "irrelevant",
	})
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	select {
	case e := <-completed:
		if e.Payload["session_id"] != sessionID {
			t.Fatalf("SESSION_COMPLETED session_id = %v, want %v", e.Payload["session_id"], sessionID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for SESSION_COMPLETED")
	}

	got, ok := store.Get(sessionID)
	if !ok || got.Status != StatusCompleted {
		t.Fatalf("final status = %+v, want completed", got)
	}
}

func TestSchedule_FailsOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	base, _ := engine.NewRegistry(config.Default())
	r := shRegistry{fallback: base, local: shAdapter{script: "sleep 0.05; exit 1"}}
	b := bus.New(nil)
	sched, err := NewScheduler(nil, store, r, b, Config{DataDir: dir, GlobalConcurrency: 4})
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}

	failed := make(chan bus.Event, 1)
	b.Subscribe(bus.SessionFailed, func(e bus.Event) { failed <- e })

	sessionID, err := sched.Schedule(context.Background(), AgentTask{RoleName: "engineer", Engine: "local"})
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for SESSION_FAILED")
	}

	got, ok := store.Get(sessionID)
	if !ok || got.Status != StatusFailed {
		t.Fatalf("final status = %+v, want failed", got)
	}
}

func TestSchedule_RefusesUnknownRole(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	_, err := sched.Schedule(context.Background(), AgentTask{RoleName: "bogus", Engine: "local"})
	if err == nil {
		t.Fatal("expected error for unrecognized role")
	}
}

func TestSchedule_RefusesExcessiveDepth(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	_, err := sched.Schedule(context.Background(), AgentTask{RoleName: "engineer", Engine: "local", Depth: 10})
	if err == nil {
		t.Fatal("expected error for depth exceeding the configured max")
	}
}

func TestSchedule_RejectIfFullReturnsImmediately(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	base, _ := engine.NewRegistry(config.Default())
	r := shRegistry{fallback: base, local: shAdapter{script: "sleep 1"}}
	b := bus.New(nil)
	sched, err := NewScheduler(nil, store, r, b, Config{DataDir: dir, GlobalConcurrency: 1, RoleConcurrency: map[string]int{"engineer": 1}})
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}

	id1, err := sched.Schedule(context.Background(), AgentTask{RoleName: "engineer", Engine: "local"})
	if err != nil {
		t.Fatalf("first schedule error: %v", err)
	}
	defer sched.Terminate(id1)

	_, err = sched.Schedule(context.Background(), AgentTask{
		RoleName: "engineer",
		Engine:   "local",
		Metadata: map[string]any{"reject_if_full": true},
	})
	if err == nil {
		t.Fatal("expected quota-exhausted error when reject_if_full is set and the role slot is taken")
	}
}

func TestResolveWorkingDir_WorktreeIsolation(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	r, err := engine.NewRegistry(config.Default())
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	b := bus.New(nil)
	worktreeRoot := t.TempDir()
	sched, err := NewScheduler(nil, store, r, b, Config{DataDir: dir, GlobalConcurrency: 4, WorktreeRoot: worktreeRoot})
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}

	task := AgentTask{
		RoleName: "engineer",
		IssueID:  "issue-42",
		Metadata: map[string]any{"working_dir": "/should/be/ignored", "isolation": "worktree"},
	}
	sess := &Session{SessionID: "sess-1", Task: task}

	got := sched.resolveWorkingDir(sess, task)
	want := filepath.Join(worktreeRoot, "issue-42")
	if got != want {
		t.Fatalf("resolveWorkingDir() = %q, want %q", got, want)
	}
	if info, err := os.Stat(got); err != nil || !info.IsDir() {
		t.Fatalf("expected worktree dir %q to be created: %v", got, err)
	}
}

func TestResolveWorkingDir_NonWorktreeFallsBackToMetadata(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	task := AgentTask{
		RoleName: "architect",
		Metadata: map[string]any{"working_dir": "/some/project/root"},
	}
	sess := &Session{SessionID: "sess-2", Task: task}

	got := sched.resolveWorkingDir(sess, task)
	if got != "/some/project/root" {
		t.Fatalf("resolveWorkingDir() = %q, want /some/project/root", got)
	}
}

func TestScheduler_RecoversOrphanedRunningSessions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	orphan := &Session{SessionID: "orphan", Task: AgentTask{RoleName: "engineer"}, Status: StatusRunning}
	if err := store.Put(orphan); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reload NewStore error: %v", err)
	}
	r, _ := engine.NewRegistry(config.Default())
	b := bus.New(nil)
	failed := make(chan bus.Event, 1)
	b.Subscribe(bus.SessionFailed, func(e bus.Event) {
		select {
		case failed <- e:
		default:
		}
	})

	_, err = NewScheduler(nil, reloaded, r, b, Config{DataDir: dir})
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}

	got, ok := reloaded.Get("orphan")
	if !ok {
		t.Fatal("expected orphan session to still exist")
	}
	if got.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", got.Status)
	}
	if got.Metadata["reason"] != "daemon_restart" {
		t.Fatalf("reason = %v, want daemon_restart", got.Metadata["reason"])
	}

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("expected SESSION_FAILED to be published for the recovered orphan")
	}
}
