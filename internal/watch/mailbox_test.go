package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/indenscale/monoco/internal/bus"
)

func TestMailboxWatcher_ImmediatePublishWhenNoDebounce(t *testing.T) {
	dir := t.TempDir()
	providerDir := filepath.Join(dir, "mailbox", "inbound", "email")
	if err := os.MkdirAll(providerDir, 0o755); err != nil {
		t.Fatalf("mkdir provider dir: %v", err)
	}
	msg := "---\n" +
		"id: msg-1\n" +
		"provider: email\n" +
		"session:\n  id: sess-1\n" +
		"thread_key: hi\n" +
		"timestamp: 2026-07-31T12:00:00Z\n" +
		"type: message\n" +
		"participants:\n  sender:\n    id: alice@example.com\n" +
		"correlation:\n  correlation_id: corr-1\n" +
		"---\n" +
		"hello\n"
	if err := os.WriteFile(filepath.Join(providerDir, "20260731T120000_email_1.md"), []byte(msg), 0o644); err != nil {
		t.Fatalf("write inbound message: %v", err)
	}

	b := bus.New(nil)
	received := make(chan bus.Event, 1)
	b.Subscribe(bus.MailboxInboundReceived, func(e bus.Event) { received <- e })

	w := NewMailboxWatcher(b, nil, dir, map[string]time.Duration{"email": 0})
	if err := w.Iterate(context.Background()); err != nil {
		t.Fatalf("Iterate error: %v", err)
	}

	select {
	case e := <-received:
		if e.CorrelationID != "corr-1" {
			t.Fatalf("correlation_id = %v, want corr-1", e.CorrelationID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected MAILBOX_INBOUND_RECEIVED")
	}
}

func TestMailboxWatcher_DebouncesSameSession(t *testing.T) {
	dir := t.TempDir()
	providerDir := filepath.Join(dir, "mailbox", "inbound", "mqtt")
	if err := os.MkdirAll(providerDir, 0o755); err != nil {
		t.Fatalf("mkdir provider dir: %v", err)
	}

	b := bus.New(nil)
	received := make(chan bus.Event, 2)
	b.Subscribe(bus.MailboxInboundReceived, func(e bus.Event) { received <- e })

	w := NewMailboxWatcher(b, nil, dir, map[string]time.Duration{"mqtt": 100 * time.Millisecond})

	for i := 0; i < 2; i++ {
		msg := "---\nid: msg-" + string(rune('0'+i)) + "\nsession:\n  id: sess-2\ntimestamp: 2026-07-31T12:00:00Z\n---\n\nmsg\n"
		name := filepath.Join(providerDir, "msg"+string(rune('0'+i))+".md")
		if err := os.WriteFile(name, []byte(msg), 0o644); err != nil {
			t.Fatalf("write message: %v", err)
		}
		if err := w.Iterate(context.Background()); err != nil {
			t.Fatalf("Iterate error: %v", err)
		}
	}

	select {
	case e := <-received:
		msgs, ok := e.Payload["messages"].([]map[string]any)
		if !ok || len(msgs) != 2 {
			t.Fatalf("expected a single batched event with 2 messages, got %+v", e.Payload["messages"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected a debounced MAILBOX_INBOUND_RECEIVED")
	}

	select {
	case e := <-received:
		t.Fatalf("unexpected second event: %+v", e)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMailboxWatcher_MalformedMovedToRejected(t *testing.T) {
	dir := t.TempDir()
	providerDir := filepath.Join(dir, "mailbox", "inbound", "email")
	if err := os.MkdirAll(providerDir, 0o755); err != nil {
		t.Fatalf("mkdir provider dir: %v", err)
	}
	bad := "---\nsession: [unterminated\n\nbody\n"
	name := filepath.Join(providerDir, "bad.md")
	if err := os.WriteFile(name, []byte(bad), 0o644); err != nil {
		t.Fatalf("write malformed message: %v", err)
	}

	b := bus.New(nil)
	malformed := make(chan bus.Event, 1)
	b.Subscribe(bus.MailboxMalformed, func(e bus.Event) { malformed <- e })

	w := NewMailboxWatcher(b, nil, dir, nil)
	if err := w.Iterate(context.Background()); err != nil {
		t.Fatalf("Iterate error: %v", err)
	}

	select {
	case <-malformed:
	case <-time.After(time.Second):
		t.Fatal("expected MAILBOX_MALFORMED")
	}

	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Fatalf("expected original file to be moved away, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "mailbox", "_rejected", "email", "bad.md")); err != nil {
		t.Fatalf("expected file under top-level _rejected/email: %v", err)
	}
}
