package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HubService)(nil)
	_ suture.Service = (*NamedService)(nil)
	_ suture.Service = (*HTTPServerService)(nil)
)

type blockingRunner struct {
	runs atomic.Int32
}

func (b *blockingRunner) RunWithContext(ctx context.Context) error {
	b.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type flakyServer struct {
	calls atomic.Int32
}

// Serve fails on its first call and blocks afterwards.
func (f *flakyServer) Serve(ctx context.Context) error {
	if f.calls.Add(1) == 1 {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTreeRunsAndRestartsServices(t *testing.T) {
	tree := NewTree("test", TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	hub := &blockingRunner{}
	flaky := &flakyServer{}
	tree.AddMessagingService(NewHubService(hub))
	tree.AddMessagingService(NewNamedService("flaky", flaky))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitFor(t, func() bool { return hub.runs.Load() == 1 && flaky.calls.Load() >= 2 })

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	if hub.runs.Load() != 1 {
		t.Errorf("hub ran %d times, want 1", hub.runs.Load())
	}
	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	waitFor(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	})

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHTTPServerServiceReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	svc := NewHTTPServerService(&http.Server{Addr: ln.Addr().String()}, 0)
	err = svc.Serve(context.Background())
	if err == nil {
		t.Fatal("expected an error for an address already in use")
	}
	if svc.String() != "http-server" {
		t.Errorf("String() = %q", svc.String())
	}
}
