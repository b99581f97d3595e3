package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-tracker/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// bareClient is attached to the hub without a connection.
func bareClient(h *Hub, buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), hub: h, send: make(chan []byte, buffer)}
}

func recv(t *testing.T, ch <-chan []byte) Message {
	t.Helper()
	select {
	case payload, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatal(err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sampleEvent() models.LocationUpdate {
	city := "Rajkot"
	return models.LocationUpdate{UserID: "u1", Name: "Asha", Latitude: 22.3, Longitude: 70.8, City: &city}
}

func TestHubFansOutToAllClients(t *testing.T) {
	h := startHub(t)
	a, b := bareClient(h, 4), bareClient(h, 4)
	h.Register(a)
	h.Register(b)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.PublishLocation(context.Background(), sampleEvent()); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Client{a, b} {
		msg := recv(t, c.send)
		if msg.Type != MessageTypeLocationUpdate {
			t.Errorf("type = %q", msg.Type)
		}
		data := msg.Data.(map[string]any)
		if data["userId"] != "u1" || data["city"] != "Rajkot" || data["state"] != nil {
			t.Errorf("unexpected data %v", data)
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := startHub(t)
	slow := bareClient(h, 1)
	h.Register(slow)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Broadcast(Message{Type: "x"})
	h.Broadcast(Message{Type: "y"})
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	// The buffered message is still readable, then the channel is closed.
	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("slow client channel not closed")
	}
}

func TestHubPublishReportsFullQueue(t *testing.T) {
	// Not running, so nothing drains the queue.
	h := NewHub()
	for i := 0; i < cap(h.broadcast); i++ {
		if err := h.PublishLocation(context.Background(), sampleEvent()); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := h.PublishLocation(context.Background(), sampleEvent()); !errors.Is(err, ErrBroadcastDropped) {
		t.Errorf("publish on a full queue = %v, want ErrBroadcastDropped", err)
	}
}

func TestHubStopClosesClients(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.RunWithContext(ctx) }()

	c := bareClient(h, 1)
	h.Register(c)
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("RunWithContext = %v", err)
	}
	if _, ok := <-c.send; ok {
		t.Error("client channel not closed on shutdown")
	}
	if h.Register(bareClient(h, 1)) {
		t.Error("Register succeeded on a stopped hub")
	}
}

func TestWebsocketClientReceivesBroadcastAndPong(t *testing.T) {
	h := startHub(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(h, conn).Start()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong Message
	if err := conn.ReadJSON(&pong); err != nil || pong.Type != MessageTypePong {
		t.Fatalf("pong = %+v, %v", pong, err)
	}

	h.PublishLocation(context.Background(), sampleEvent())
	var msg struct {
		Type string                `json:"type"`
		Data models.LocationUpdate `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != MessageTypeLocationUpdate || msg.Data.Name != "Asha" || msg.Data.Latitude != 22.3 {
		t.Errorf("unexpected message %+v", msg)
	}

	conn.Close()
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}
