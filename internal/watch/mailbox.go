package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/mailbox"
)

type pendingBatch struct {
	messages []map[string]any
	timer    *time.Timer
}

// MailboxWatcher watches .monoco/mailbox/inbound/{provider}/ for newly
// committed files, coalescing same-session arrivals over a per-provider
// quiescence window before publishing MAILBOX_INBOUND_RECEIVED. A file
// whose front matter fails to parse is moved to mailbox/_rejected/{provider}/
// via the MailboxStore and reported as MAILBOX_MALFORMED instead of
// crashing the watcher.
type MailboxWatcher struct {
	bus      *bus.Bus
	logger   *slog.Logger
	store    *mailbox.Store
	root     string
	debounce map[string]time.Duration // provider -> quiescence window

	mu      sync.Mutex
	seen    map[string]bool
	batches map[string]*pendingBatch // "{provider}:{session_id}"
}

// NewMailboxWatcher constructs a MailboxWatcher over the MailboxStore
// rooted at dataDir. debounce maps provider name ("email", "mqtt") to
// its quiescence window; a provider absent from the map gets no
// debouncing (window 0 — publish immediately).
func NewMailboxWatcher(b *bus.Bus, logger *slog.Logger, dataDir string, debounce map[string]time.Duration) *MailboxWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	store := mailbox.NewStore(dataDir)
	return &MailboxWatcher{
		bus:      b,
		logger:   logger,
		store:    store,
		root:     filepath.Join(dataDir, "mailbox", "inbound"),
		debounce: debounce,
		seen:     make(map[string]bool),
		batches:  make(map[string]*pendingBatch),
	}
}

// Iterate scans every provider directory once for newly committed files.
func (w *MailboxWatcher) Iterate(_ context.Context) error {
	providerDirs, err := os.ReadDir(w.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read mailbox inbound root: %w", err)
	}

	for _, pd := range providerDirs {
		if !pd.IsDir() {
			continue
		}
		if err := w.scanProvider(pd.Name()); err != nil {
			w.logger.Warn("mailbox watcher: provider scan failed", "provider", pd.Name(), "error", err)
		}
	}
	return nil
}

func (w *MailboxWatcher) scanProvider(provider string) error {
	dir := filepath.Join(w.root, provider)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		w.mu.Lock()
		already := w.seen[path]
		if !already {
			w.seen[path] = true
		}
		w.mu.Unlock()
		if already {
			continue
		}
		w.ingest(provider, path)
	}
	return nil
}

func (w *MailboxWatcher) ingest(provider, path string) {
	env, err := w.store.ReadEnvelope(path)
	if err != nil {
		w.reject(provider, path, err)
		return
	}

	w.enqueue(provider, map[string]any{
		"path":           path,
		"envelope_id":    env.ID,
		"session_id":     env.Session.ID,
		"correlation_id": env.Correlation.CorrelationID,
		"from":           env.Participants.Sender.ID,
		"mentions":       env.Participants.Mentions,
		"subject":        env.ThreadKey,
		"body":           env.Body,
	})
}

func (w *MailboxWatcher) reject(provider, path string, parseErr error) {
	dest, err := w.store.RejectInbound(provider, path)
	if err != nil {
		w.logger.Error("mailbox watcher: reject failed", "provider", provider, "path", path, "error", err)
		return
	}
	w.bus.Publish(bus.MailboxMalformed, map[string]any{
		"provider": provider,
		"path":     dest,
		"error":    parseErr.Error(),
	}, "")
}

func (w *MailboxWatcher) enqueue(provider string, msg map[string]any) {
	window := w.debounce[provider]
	sessionID, _ := msg["session_id"].(string)
	key := provider + ":" + sessionID

	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.batches[key]
	if !ok {
		b = &pendingBatch{}
		w.batches[key] = b
	}
	b.messages = append(b.messages, msg)

	if window <= 0 {
		w.flushLocked(provider, key)
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(window, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.flushLocked(provider, key)
	})
}

func (w *MailboxWatcher) flushLocked(provider, key string) {
	b, ok := w.batches[key]
	if !ok || len(b.messages) == 0 {
		return
	}
	delete(w.batches, key)

	correlationID, _ := b.messages[0]["correlation_id"].(string)
	w.bus.Publish(bus.MailboxInboundReceived, map[string]any{
		"provider": provider,
		"messages": b.messages,
	}, correlationID)
}
