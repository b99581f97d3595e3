package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedNATS is an in-process NATS server other instances can connect to.
type EmbeddedNATS struct {
	srv *server.Server
}

// StartEmbeddedNATS starts a core NATS server on host:port (-1 picks a random port).
func StartEmbeddedNATS(host string, port int) (*EmbeddedNATS, error) {
	opts := &server.Options{
		ServerName: "go-tracker",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, errors.New("embedded nats not ready after 10s")
	}
	return &EmbeddedNATS{srv: srv}, nil
}

func (e *EmbeddedNATS) ClientURL() string {
	return e.srv.ClientURL()
}

func (e *EmbeddedNATS) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
