package broadcast

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indenscale/monoco/internal/bus"
)

func TestHub_RelaysPublishedEventToConnectedClient(t *testing.T) {
	b := bus.New(nil)
	hub := NewHub(b, nil, nil)
	hub.Register()

	srv := NewServer("", 0, hub, nil, nil, nil)
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", hub.ClientCount())
	}

	b.Publish(bus.IssueCreated, map[string]any{"issue_id": "ISSUE-1"}, "corr-1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), "ISSUE-1") || !strings.Contains(string(data), "ISSUE_CREATED") {
		t.Fatalf("relayed message missing event content: %s", data)
	}
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	b := bus.New(nil)
	hub := NewHub(b, nil, nil)
	hub.ringSize = 2
	hub.Register()

	srv := NewServer("", 0, hub, nil, nil, nil)
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Never read from conn: flood past the tiny ring buffer so the
	// broadcaster must drop this consumer rather than block.
	for i := 0; i < 50; i++ {
		b.Publish(bus.IssueCreated, map[string]any{"n": i}, "")
	}

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0 after flooding a slow consumer", hub.ClientCount())
	}
}
