// Package handler implements the Handler set (C8): the five event
// subscribers that turn a bus event into an AgentTask. Each handler is
// single-instance, cooperative, and subscribes to one or more event
// types via the bus; none of them call each other directly (the
// scheduler/bus break the cycle per spec.md §9 — handlers only publish
// tasks to the scheduler and consume events the scheduler itself
// publishes back).
package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/forge"
	"github.com/indenscale/monoco/internal/mailbox"
	"github.com/indenscale/monoco/internal/policy"
	"github.com/indenscale/monoco/internal/route"
	"github.com/indenscale/monoco/internal/session"
)

// Scheduler is the subset of *session.Scheduler the handler set
// depends on. Defined as an interface so tests can substitute a fake
// without a real child process.
type Scheduler interface {
	Schedule(ctx context.Context, task session.AgentTask) (string, error)
	GetStatus(sessionID string) (*session.Session, bool)
}

// Config bundles the handler set's collaborators and tunables.
type Config struct {
	Bus         *bus.Bus
	Scheduler   Scheduler
	Router      *route.Router
	Mailbox     *mailbox.Store
	MemoPolicy  *policy.MemoPolicy
	Cooldown    *policy.CooldownGuard
	Forge       *forge.Registry // nil if no forge account configured
	ForgeAccount string          // account name to use for PR enrichment; "" = registry default
	ForgeRepo   string          // "owner/repo" default target for Reviewer enrichment

	DefaultEngine string
	WorkspaceDir  string // repo root containing Memos/, Issues/

	LogTailLines int // number of trailing log lines attached to a coroner prompt
}

// Set owns the five handlers and their bus subscriptions.
type Set struct {
	cfg    Config
	logger *slog.Logger

	subs []bus.Subscription
}

// NewSet constructs a handler Set. Call Register to subscribe its
// handlers on the bus; construction alone has no side effects.
func NewSet(logger *slog.Logger, cfg Config) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogTailLines <= 0 {
		cfg.LogTailLines = 40
	}
	return &Set{cfg: cfg, logger: logger}
}

// Register subscribes every handler to its event type(s). Safe to call
// once per Set; calling twice double-subscribes.
func (s *Set) Register() {
	s.subs = append(s.subs,
		s.cfg.Bus.Subscribe(bus.MemoThreshold, s.handleMemoThreshold),
		s.cfg.Bus.Subscribe(bus.IssueStageChanged, s.handleIssueStageChanged),
		s.cfg.Bus.Subscribe(bus.PRCreated, s.handlePRCreated),
		s.cfg.Bus.Subscribe(bus.SessionFailed, s.handleSessionFailed),
		s.cfg.Bus.Subscribe(bus.MailboxInboundReceived, s.handleMailboxInbound),
	)
}

// Unregister removes every subscription; intended for tests and
// orderly shutdown.
func (s *Set) Unregister() {
	for _, sub := range s.subs {
		s.cfg.Bus.Unsubscribe(sub)
	}
	s.subs = nil
}

// schedule is a small wrapper shared by every handler: it calls
// Scheduler.Schedule with a bounded context (spec.md §4.8: handlers
// must complete their decision logic within 30s, not counting the
// scheduled agent's own runtime) and returns the scheduler's result;
// each calling handler logs a failed schedule rather than crashing.
func (s *Set) schedule(task session.AgentTask) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.cfg.Scheduler.Schedule(ctx, task)
}

func stringPayload(evt bus.Event, key string) string {
	if evt.Payload == nil {
		return ""
	}
	v, _ := evt.Payload[key].(string)
	return v
}
