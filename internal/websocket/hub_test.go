package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/hoadmin/internal/alert"
)

var discard = slog.New(slog.DiscardHandler)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		conn: nil,
		send: make(chan []byte, sendBufferSize),
	}
}

func recv(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.send:
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return e
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(discard)

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}
	hub.Unregister(c2)
	// Should not panic
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestAlertBroadcastsNotice(t *testing.T) {
	hub := NewHub(discard)
	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Alert(context.Background(), alert.NewNotice("residents", "New registration", []string{"12"}))

	for _, c := range []*Client{c1, c2} {
		e := recv(t, c)
		if e.Type != EventPendingNew || e.Source != "residents" {
			t.Errorf("event = %+v", e)
		}
		data, _ := e.Data.(map[string]any)
		if ids, _ := data["ids"].([]any); len(ids) != 1 || ids[0] != "12" {
			t.Errorf("data = %v", e.Data)
		}
	}
}

func TestRetainedReplayedToLateClient(t *testing.T) {
	hub := NewHub(discard)
	hub.Retain(Event{Type: EventSession, Data: map[string]any{"state": "logged_out"}})
	hub.Retain(Event{Type: EventSession, Data: map[string]any{"state": "logged_in"}})
	hub.Broadcast(Event{Type: EventPendingNew, Source: "residents"})

	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	e := recv(t, c)
	if e.Type != EventSession || e.Data.(map[string]any)["state"] != "logged_in" {
		t.Errorf("replayed = %+v", e)
	}
	select {
	case data := <-c.send:
		t.Errorf("unexpected replay %s", data)
	default:
	}
}

func TestSetHasNewRetainedPerSource(t *testing.T) {
	hub := NewHub(discard)
	hub.SetHasNew("residents", true)
	hub.SetHasNew("reservations", true)
	hub.SetHasNew("residents", false)

	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	got := map[string]any{}
	for range 2 {
		e := recv(t, c)
		got[e.Source] = e.Data
	}
	if got["residents"] != false || got["reservations"] != true {
		t.Errorf("flags = %v", got)
	}
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(discard)
	c := mockClient(hub)
	hub.Register(c)

	for range sendBufferSize {
		hub.Broadcast(Event{Type: "fill"})
	}
	// This should drop the event, not block
	hub.Broadcast(Event{Type: "dropped"})

	if n := len(c.send); n != sendBufferSize {
		t.Errorf("expected %d queued, got %d", sendBufferSize, n)
	}
	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(discard)
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.Broadcast(Event{Type: "concurrent"})
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	hub := NewHub(discard)
	acks := make(chan Event, 1)
	hub.OnEvent(func(e Event) { acks <- e })
	hub.Retain(Event{Type: EventSession, Data: "logged_in"})

	srv := httptest.NewServer(HandleWebSocket(hub, discard))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e Event
	json.Unmarshal(data, &e)
	if e.Type != EventSession {
		t.Errorf("first event = %+v", e)
	}

	if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ack","source":"residents"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-acks:
		if got.Type != EventAck || got.Source != "residents" {
			t.Errorf("ack = %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("ack not delivered")
	}
}
