package handler

import (
	"os"
	"strings"
	"testing"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/config"
	"github.com/indenscale/monoco/internal/mailbox"
	"github.com/indenscale/monoco/internal/route"
)

func newTestRouter(t *testing.T, rules []config.RuleConfig) *route.Router {
	t.Helper()
	r, err := route.NewRouter(nil, config.RoutingConfig{Rules: rules})
	if err != nil {
		t.Fatalf("route.NewRouter error: %v", err)
	}
	return r
}

func TestHandleMailboxInbound_RoutesAndSchedules(t *testing.T) {
	sched := newFakeScheduler()
	router := newTestRouter(t, []config.RuleConfig{
		{Kind: "keyword", Pattern: "deploy", Role: "engineer", Priority: 10},
	})
	s := NewSet(nil, Config{
		Bus:           bus.New(nil),
		Scheduler:     sched,
		Router:        router,
		DefaultEngine: "claude",
		WorkspaceDir:  "/repo",
	})

	s.handleMailboxInbound(bus.Event{
		Type: bus.MailboxInboundReceived,
		Payload: map[string]any{
			"provider": "email",
			"messages": []map[string]any{
				{"body": "earlier context", "from": "alice@example.com"},
				{"body": "please deploy the latest build", "from": "alice@example.com", "envelope_id": "env-2"},
			},
		},
	})

	task, ok := sched.lastTask()
	if !ok {
		t.Fatal("expected a task to be scheduled")
	}
	if task.RoleName != "engineer" {
		t.Fatalf("role = %q, want engineer", task.RoleName)
	}
	if !strings.Contains(task.Prompt, "earlier context") || !strings.Contains(task.Prompt, "deploy the latest build") {
		t.Fatalf("prompt missing batch history: %q", task.Prompt)
	}
}

func TestHandleMailboxInbound_WritesRefusalOnScheduleFailure(t *testing.T) {
	sched := newFakeScheduler()
	sched.failWith = os.ErrClosed
	router := newTestRouter(t, nil)
	store := mailbox.NewStore(t.TempDir())

	s := NewSet(nil, Config{
		Bus:       bus.New(nil),
		Scheduler: sched,
		Router:    router,
		Mailbox:   store,
	})

	s.handleMailboxInbound(bus.Event{
		Type: bus.MailboxInboundReceived,
		Payload: map[string]any{
			"provider": "email",
			"messages": []map[string]any{
				{"body": "hello", "from": "bob@example.com", "envelope_id": "env-1"},
			},
		},
	})

	pending, err := store.ListOutboundPending("email")
	if err != nil {
		t.Fatalf("ListOutboundPending error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("outbound pending = %d, want 1 refusal message", len(pending))
	}

	env, err := store.ReadEnvelope(pending[0])
	if err != nil {
		t.Fatalf("ReadEnvelope error: %v", err)
	}
	if env.Type != "refusal" {
		t.Fatalf("envelope type = %q, want refusal", env.Type)
	}
	if !strings.Contains(env.Body, "could not be handled") {
		t.Fatalf("refusal body missing explanation: %q", env.Body)
	}
}

func TestHandleMailboxInbound_EmptyBatchIsNoop(t *testing.T) {
	sched := newFakeScheduler()
	s := NewSet(nil, Config{Bus: bus.New(nil), Scheduler: sched, Router: newTestRouter(t, nil)})

	s.handleMailboxInbound(bus.Event{Type: bus.MailboxInboundReceived, Payload: map[string]any{"provider": "email"}})

	if got := sched.taskCount(); got != 0 {
		t.Fatalf("taskCount = %d, want 0 for an empty batch", got)
	}
}
