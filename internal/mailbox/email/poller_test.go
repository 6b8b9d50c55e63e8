package email

import (
	"path/filepath"
	"testing"

	"github.com/indenscale/monoco/internal/mailbox"
	"github.com/indenscale/monoco/internal/opstate"
)

func testOpstate(t *testing.T) *opstate.Store {
	t.Helper()
	s, err := opstate.NewStore(filepath.Join(t.TempDir(), "opstate_test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testStore(t *testing.T) *mailbox.Store {
	t.Helper()
	return mailbox.NewStore(t.TempDir())
}

func TestNewPoller(t *testing.T) {
	p := NewPoller(nil, AccountConfig{}, testStore(t), testOpstate(t), nil)
	if p == nil {
		t.Fatal("NewPoller returned nil")
	}
	if p.logger == nil {
		t.Error("expected default logger to be assigned")
	}
}

func TestAdvanceHighWaterMark_Increases(t *testing.T) {
	state := testOpstate(t)
	p := NewPoller(nil, AccountConfig{}, testStore(t), state, nil)

	if err := state.Set(pollNamespace, "INBOX", "100"); err != nil {
		t.Fatal(err)
	}

	if err := p.advanceHighWaterMark("INBOX", 100, []Envelope{
		{UID: 105},
		{UID: 103},
	}); err != nil {
		t.Fatalf("advanceHighWaterMark: %v", err)
	}

	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "105" {
		t.Errorf("high-water mark = %q, want %q", val, "105")
	}
}

func TestAdvanceHighWaterMark_NeverDecreases(t *testing.T) {
	state := testOpstate(t)
	p := NewPoller(nil, AccountConfig{}, testStore(t), state, nil)

	if err := state.Set(pollNamespace, "INBOX", "391"); err != nil {
		t.Fatal(err)
	}

	if err := p.advanceHighWaterMark("INBOX", 391, []Envelope{
		{UID: 286},
		{UID: 200},
	}); err != nil {
		t.Fatalf("advanceHighWaterMark: %v", err)
	}

	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "391" {
		t.Errorf("high-water mark should not decrease: got %q, want %q", val, "391")
	}
}

func TestAdvanceHighWaterMark_EmptyMessages(t *testing.T) {
	state := testOpstate(t)
	p := NewPoller(nil, AccountConfig{}, testStore(t), state, nil)

	if err := state.Set(pollNamespace, "INBOX", "100"); err != nil {
		t.Fatal(err)
	}

	if err := p.advanceHighWaterMark("INBOX", 100, nil); err != nil {
		t.Fatalf("advanceHighWaterMark: %v", err)
	}

	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "100" {
		t.Errorf("high-water mark should not change with empty messages: got %q, want %q", val, "100")
	}
}

func TestFilterSelfSent(t *testing.T) {
	acct := AccountConfig{DefaultFrom: "Monoco Agent <agent@example.com>"}
	p := NewPoller(nil, acct, testStore(t), testOpstate(t), nil)

	messages := []Envelope{
		{UID: 105, From: "alice@example.com", Subject: "Hello"},
		{UID: 106, From: "Monoco Agent <agent@example.com>", Subject: "Re: Hello"},
		{UID: 107, From: "bob@example.com", Subject: "Meeting"},
		{UID: 108, From: "agent@example.com", Subject: "Re: Meeting"},
	}

	filtered := p.filterSelfSent(messages)

	if len(filtered) != 2 {
		t.Fatalf("expected 2 messages after filtering, got %d", len(filtered))
	}
	if filtered[0].UID != 105 {
		t.Errorf("first message UID = %d, want 105", filtered[0].UID)
	}
	if filtered[1].UID != 107 {
		t.Errorf("second message UID = %d, want 107", filtered[1].UID)
	}
}

func TestFilterSelfSent_NoDefaultFrom(t *testing.T) {
	p := NewPoller(nil, AccountConfig{}, testStore(t), testOpstate(t), nil)

	messages := []Envelope{
		{UID: 100, From: "anyone@example.com"},
	}

	filtered := p.filterSelfSent(messages)
	if len(filtered) != 1 {
		t.Fatalf("expected 1 message (no filtering without DefaultFrom), got %d", len(filtered))
	}
}

func TestIngest_WritesInboundEnvelope(t *testing.T) {
	store := testStore(t)
	p := NewPoller(nil, AccountConfig{}, store, testOpstate(t), nil)

	msg := &Message{
		Envelope: Envelope{From: "alice@example.com", Subject: "Hello there"},
		MessageID: "abc@example.com",
		TextBody:  "hi there",
	}

	path, err := p.ingest(msg)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	env, err := store.ReadEnvelope(path)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if env.Provider != "email" {
		t.Errorf("Provider = %q, want email", env.Provider)
	}
	if env.Participants.Sender.ID != "alice@example.com" {
		t.Errorf("Sender.ID = %q, want alice@example.com", env.Participants.Sender.ID)
	}
	if env.Session.ID != "abc@example.com" {
		t.Errorf("Session.ID = %q, want abc@example.com", env.Session.ID)
	}
	if env.Body != "hi there" {
		t.Errorf("Body = %q, want %q", env.Body, "hi there")
	}
}

func TestThreadSessionID_PrefersReferences(t *testing.T) {
	msg := &Message{MessageID: "own@example.com", References: []string{"root@example.com", "mid@example.com"}}
	if got := threadSessionID(msg); got != "root@example.com" {
		t.Errorf("threadSessionID = %q, want root@example.com", got)
	}
}

func TestThreadSessionID_FallsBackToMessageID(t *testing.T) {
	msg := &Message{MessageID: "own@example.com"}
	if got := threadSessionID(msg); got != "own@example.com" {
		t.Errorf("threadSessionID = %q, want own@example.com", got)
	}
}
