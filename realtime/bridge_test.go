package realtime

import (
	"context"
	"testing"
	"time"
)

func TestNATSBridgeFansOutAcrossInstances(t *testing.T) {
	ns, err := StartEmbeddedNATS("127.0.0.1", -1)
	if err != nil {
		t.Fatal(err)
	}
	defer ns.Shutdown()

	newInstance := func() (*Hub, *NATSBridge, *Client) {
		nc, err := ConnectNATS(ns.ClientURL(), "bridge-test")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(nc.Close)

		h := startHub(t)
		b := NewNATSBridge(nc, "tracker.test.locations", h)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = b.Serve(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})

		c := bareClient(h, 8)
		h.Register(c)
		waitFor(t, func() bool { return h.ClientCount() == 1 })
		// Subscription round trip so the subscribe is registered before publishing.
		if err := nc.Flush(); err != nil {
			t.Fatal(err)
		}
		return h, b, c
	}

	_, bridgeA, clientA := newInstance()
	_, _, clientB := newInstance()
	// Give both subscriptions time to reach the server.
	time.Sleep(50 * time.Millisecond)

	if err := bridgeA.PublishLocation(context.Background(), sampleEvent()); err != nil {
		t.Fatal(err)
	}

	if msg := recv(t, clientA.send); msg.Type != MessageTypeLocationUpdate {
		t.Errorf("instance A got %q", msg.Type)
	}
	if msg := recv(t, clientB.send); msg.Type != MessageTypeLocationUpdate {
		t.Errorf("instance B got %q", msg.Type)
	}

	// Instance A must not receive its own event a second time via NATS.
	select {
	case <-clientA.send:
		t.Error("origin instance delivered the event twice")
	case <-time.After(200 * time.Millisecond):
	}
}
