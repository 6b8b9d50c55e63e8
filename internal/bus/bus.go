// Package bus provides the in-process publish/subscribe event bus that
// drives the scheduler. Watchers and the scheduler publish typed events;
// handlers subscribe by event type and run on their own cooperative
// delivery task, so one handler's failure never blocks another's
// delivery. The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, matching the pattern used throughout this codebase for
// optional collaborators.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event flowing through the bus. The
// set is closed except for the scheduler-internal observability events
// added alongside it (SCHEDULER_*), which are additive per SPEC_FULL.md.
type EventType string

const (
	// Memo / mailbox ingress.
	MemoCreated            EventType = "MEMO_CREATED"
	MemoThreshold          EventType = "MEMO_THRESHOLD"
	MailboxInboundReceived EventType = "MAILBOX_INBOUND_RECEIVED"
	MailboxOutboundRequest EventType = "MAILBOX_OUTBOUND_REQUESTED"
	MailboxMalformed       EventType = "MAILBOX_MALFORMED"

	// Issue lifecycle.
	IssueCreated      EventType = "ISSUE_CREATED"
	IssueStageChanged EventType = "ISSUE_STAGE_CHANGED"
	IssueClosed       EventType = "ISSUE_CLOSED"

	// Scheduler lifecycle.
	SessionStarted   EventType = "SESSION_STARTED"
	SessionCompleted EventType = "SESSION_COMPLETED"
	SessionFailed    EventType = "SESSION_FAILED"
	SessionTerminated EventType = "SESSION_TERMINATED"

	// External.
	PRCreated         EventType = "PR_CREATED"
	HandoverRequested EventType = "HANDOVER_REQUESTED"

	// Scheduler-internal observability (additive, see SPEC_FULL.md §12).
	SchedulerOverload        EventType = "SCHEDULER_OVERLOAD"
	SchedulerHandlerFailure  EventType = "SCHEDULER_HANDLER_FAILURE"
	SchedulerPersistFailure  EventType = "SCHEDULER_PERSIST_FAILURE"
	SchedulerCooldown        EventType = "SCHEDULER_COOLDOWN"
	SchedulerWatcherDegraded EventType = "SCHEDULER_WATCHER_DEGRADED"
	SchedulerWatcherRecovered EventType = "SCHEDULER_WATCHER_RECOVERED"
)

// Event is a single published occurrence. Payload carries the event's
// data by value so a handler never needs to re-read mutable state to
// process it (spec invariant: "every event carries enough context to
// be processed without later reads of mutable state").
type Event struct {
	Type          EventType      `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Handler processes one event. Handlers run on their subscription's
// dedicated delivery task; a panic or error inside Handler is recovered
// and reported as SchedulerHandlerFailure rather than propagated.
type Handler func(Event)

// subscription is one registered handler with its own delivery queue.
type subscription struct {
	id      uuid.UUID
	evtType EventType
	ch      chan Event
	handler Handler
}

// Bus is a bounded, asynchronous, per-subscriber-ordered event bus.
// Publish enqueues to each matching subscriber's channel and returns
// without waiting for the handler to run. If a subscriber's channel is
// still full after a brief bounded wait, the event is dropped for that
// subscriber and a synthetic SchedulerOverload event is published so
// operators can observe back-pressure.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[EventType][]*subscription

	// backpressureWait bounds how long Publish waits for a full
	// subscriber channel before dropping the event for that subscriber.
	backpressureWait time.Duration
	// subBufSize sizes each subscription's delivery channel.
	subBufSize int
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithBackpressureWait overrides the default bounded wait (20ms) Publish
// applies to a full subscriber channel before dropping the event.
func WithBackpressureWait(d time.Duration) Option {
	return func(b *Bus) { b.backpressureWait = d }
}

// WithSubscriberBuffer overrides the default subscriber channel buffer
// size (64).
func WithSubscriberBuffer(n int) Option {
	return func(b *Bus) { b.subBufSize = n }
}

// New creates a ready-to-use Bus. logger may be nil (defaults to
// slog.Default()).
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:           logger,
		subs:             make(map[EventType][]*subscription),
		backpressureWait: 20 * time.Millisecond,
		subBufSize:       64,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscription is an opaque handle returned by Subscribe, used only to
// Unsubscribe.
type Subscription struct {
	evtType EventType
	id      uuid.UUID
}

// Subscribe registers handler for evtType and starts its delivery task.
// The handler runs sequentially on events of this type, in publish
// order; a panic inside handler is recovered and reported, never
// propagated to other subscribers.
func (b *Bus) Subscribe(evtType EventType, handler Handler) Subscription {
	sub := &subscription{
		id:      uuid.New(),
		evtType: evtType,
		ch:      make(chan Event, b.subBufSize),
		handler: handler,
	}

	b.mu.Lock()
	b.subs[evtType] = append(b.subs[evtType], sub)
	b.mu.Unlock()

	go b.deliver(sub)

	return Subscription{evtType: evtType, id: sub.id}
}

// Unsubscribe removes a subscription and stops its delivery task. Safe
// to call more than once.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[s.evtType]
	for i, sub := range subs {
		if sub.id == s.id {
			close(sub.ch)
			b.subs[s.evtType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// deliver is the per-subscription cooperative task. It runs handler for
// every event that arrives on the subscription's channel, in order,
// recovering from panics so one bad handler never starves the bus.
func (b *Bus) deliver(sub *subscription) {
	for evt := range sub.ch {
		b.runHandler(sub, evt)
	}
}

func (b *Bus) runHandler(sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", evt.Type,
				"subscription", sub.id,
				"panic", r,
			)
			b.publishInternal(Event{
				Type:      SchedulerHandlerFailure,
				Timestamp: evt.Timestamp,
				Payload: map[string]any{
					"event_type": string(evt.Type),
					"error":      "panic",
				},
				CorrelationID: evt.CorrelationID,
			}, false)
		}
	}()
	sub.handler(evt)
}

// Publish enqueues an event to every subscriber of evtType. It returns
// once the event has been handed off (or dropped for a saturated
// subscriber) — not after any handler has run. Safe to call on a nil
// Bus (no-op), so components never need a nil guard.
func (b *Bus) Publish(evtType EventType, payload map[string]any, correlationID string) {
	if b == nil {
		return
	}
	b.publishInternal(Event{
		Type:          evtType,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}, true)
}

func (b *Bus) publishInternal(evt Event, checkOverload bool) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[evt.Type]...)
	b.mu.RUnlock()

	dropped := false
	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		default:
			timer := time.NewTimer(b.backpressureWait)
			select {
			case sub.ch <- evt:
				timer.Stop()
			case <-timer.C:
				dropped = true
				b.logger.Warn("dropping event for saturated subscriber",
					"event_type", evt.Type,
					"subscription", sub.id,
				)
			}
		}
	}

	if dropped && checkOverload {
		b.publishInternal(Event{
			Type:      SchedulerOverload,
			Timestamp: time.Now(),
			Payload:   map[string]any{"event_type": string(evt.Type)},
		}, false)
	}
}

// SubscriberCount returns the number of active subscriptions for
// evtType, for tests and the broadcaster's own diagnostics.
func (b *Bus) SubscriberCount(evtType EventType) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[evtType])
}
