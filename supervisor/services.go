package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go-tracker/logging"
)

// ContextRunner is satisfied by *realtime.Hub.
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the websocket hub.
type HubService struct {
	hub ContextRunner
}

func NewHubService(hub ContextRunner) *HubService {
	return &HubService{hub: hub}
}

func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

func (s *HubService) String() string { return "websocket-hub" }

// ContextServer is satisfied by *realtime.NATSBridge.
type ContextServer interface {
	Serve(ctx context.Context) error
}

// NamedService gives a plain Serve(ctx) component a name in supervisor logs.
type NamedService struct {
	name string
	svc  ContextServer
}

func NewNamedService(name string, svc ContextServer) *NamedService {
	return &NamedService{name: name, svc: svc}
}

func (s *NamedService) Serve(ctx context.Context) error {
	return s.svc.Serve(ctx)
}

func (s *NamedService) String() string { return s.name }

// HTTPServer matches the lifecycle of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts ListenAndServe to suture's Serve and shuts the
// server down gracefully when the tree stops.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

func (s *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		logging.Info().Dur("timeout", s.shutdownTimeout).Msg("shutting down http server")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPServerService) String() string { return "http-server" }
