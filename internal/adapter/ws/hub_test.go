package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tacticore/tacticore/internal/port/broadcast"
)

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	waitForConns(t, h, 1)
	return c
}

func waitForConns(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want %d", h.ConnectionCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastDeliversEvent(t *testing.T) {
	h := NewHub()
	c := dialTestHub(t, h)

	h.BroadcastEvent(context.Background(), broadcast.EventTaskStatus, map[string]string{"task_id": "t1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if msg.Type != broadcast.EventTaskStatus {
		t.Errorf("event type = %s, want %s", msg.Type, broadcast.EventTaskStatus)
	}
	var payload map[string]string
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["task_id"] != "t1" {
		t.Errorf("payload task_id = %q, want t1", payload["task_id"])
	}
}

func TestHubBroadcastWriteIsBounded(t *testing.T) {
	h := NewHub()
	dialTestHub(t, h)

	// An expired context stands in for a write that cannot make
	// progress. The broadcast must return instead of blocking, and the
	// unwritable client is dropped.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		h.BroadcastEvent(ctx, broadcast.EventTaskStatus, map[string]string{"task_id": "t1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not return")
	}

	waitForConns(t, h, 0)
}
