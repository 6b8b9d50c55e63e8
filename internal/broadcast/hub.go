// Package broadcast implements the Broadcaster (C9): it multiplexes a
// filtered projection of bus events to external consumers over
// WebSocket connections, one per-connection ring buffer at a time. A
// consumer that cannot keep up is disconnected rather than allowed to
// back-pressure the core event bus (spec.md §4.9) — the bus's own
// subscriber channel already absorbs a burst, but a browser tab on a
// slow network must never be able to stall event delivery to every
// other handler.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indenscale/monoco/internal/bus"
)

// allEventTypes is the closed set the Broadcaster relays, plus the
// additive scheduler-internal observability events (SPEC_FULL.md §12).
// No event replay from history is guaranteed: a client only sees
// events published after it connects.
var allEventTypes = []bus.EventType{
	bus.MemoCreated, bus.MemoThreshold,
	bus.MailboxInboundReceived, bus.MailboxOutboundRequest, bus.MailboxMalformed,
	bus.IssueCreated, bus.IssueStageChanged, bus.IssueClosed,
	bus.SessionStarted, bus.SessionCompleted, bus.SessionFailed, bus.SessionTerminated,
	bus.PRCreated, bus.HandoverRequested,
	bus.SchedulerOverload, bus.SchedulerHandlerFailure, bus.SchedulerPersistFailure,
	bus.SchedulerCooldown, bus.SchedulerWatcherDegraded, bus.SchedulerWatcherRecovered,
}

// Filter decides whether an event is relayed to external consumers at
// all. A nil Filter relays everything in allEventTypes.
type Filter func(bus.Event) bool

const (
	defaultRingSize = 256
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

// client is one connected WebSocket consumer with its own bounded
// outgoing ring buffer.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn, ringSize int, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		send:   make(chan []byte, ringSize),
		logger: logger,
		closed: make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// Hub fans out a filtered projection of bus events to every connected
// client. Construct with NewHub, call Register to start consuming the
// bus, and ServeWS as the http.HandlerFunc for the WebSocket endpoint.
type Hub struct {
	bus      *bus.Bus
	logger   *slog.Logger
	filter   Filter
	ringSize int

	sub bus.Subscription

	mu      sync.Mutex
	clients map[*client]bool
}

// NewHub constructs a Hub over b. filter may be nil to relay every
// event type the Broadcaster is allowed to see.
func NewHub(b *bus.Bus, logger *slog.Logger, filter Filter) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:      b,
		logger:   logger,
		filter:   filter,
		ringSize: defaultRingSize,
		clients:  make(map[*client]bool),
	}
}

// Register starts consuming events from the bus. Each event type is
// subscribed once, on its own delivery task, same as any other handler
// — a slow broadcast never blocks scheduler-internal subscribers
// because they are independent subscriptions.
func (h *Hub) Register() {
	// Every event type gets its own subscription to relay. relay copies
	// the client set under the Hub's mutex before fanning out, so it is
	// safe to call concurrently from the delivery tasks of several event
	// types.
	for _, t := range allEventTypes {
		evtType := t
		h.bus.Subscribe(evtType, h.relay)
	}
}

func (h *Hub) relay(evt bus.Event) {
	if h.filter != nil && !h.filter(evt) {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("broadcast: marshal event failed", "event_type", evt.Type, "error", err)
		return
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("broadcast: dropping slow consumer")
			h.unregister(c)
			c.close()
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ClientCount reports the number of currently connected consumers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
