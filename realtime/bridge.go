package realtime

import (
	"context"
	"fmt"
	"time"

	"go-tracker/logging"
	"go-tracker/metrics"
	"go-tracker/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// envelope is the NATS payload. Origin lets an instance skip its own events,
// which it already delivered locally.
type envelope struct {
	Origin string                `json:"origin"`
	SentAt time.Time             `json:"sentAt"`
	Event  models.LocationUpdate `json:"event"`
}

// NATSBridge fans location events out to every server instance.
// Local clients are served directly; remote instances get the event over NATS.
type NATSBridge struct {
	nc         *nats.Conn
	subject    string
	instanceID string
	hub        *Hub
}

// ConnectNATS dials the server with reconnect options suited to a long-lived bridge.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

func NewNATSBridge(nc *nats.Conn, subject string, hub *Hub) *NATSBridge {
	return &NATSBridge{
		nc:         nc,
		subject:    subject,
		instanceID: uuid.NewString(),
		hub:        hub,
	}
}

// PublishLocation delivers ev locally and publishes it for other instances.
func (b *NATSBridge) PublishLocation(ctx context.Context, ev models.LocationUpdate) error {
	localErr := b.hub.PublishLocation(ctx, ev)

	data, err := json.Marshal(envelope{Origin: b.instanceID, SentAt: time.Now().UTC(), Event: ev})
	if err != nil {
		return fmt.Errorf("encode location event: %w", err)
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish location event: %w", err)
	}
	return localErr
}

// Serve subscribes to the subject and forwards remote events into the local
// hub until ctx is cancelled.
func (b *NATSBridge) Serve(ctx context.Context) error {
	sub, err := b.nc.Subscribe(b.subject, b.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	logging.Info().Str("subject", b.subject).Str("instance_id", b.instanceID).Msg("nats bridge started")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		logging.Warn().Err(err).Msg("nats unsubscribe failed")
	}
	logging.Info().Msg("nats bridge stopped")
	return ctx.Err()
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		logging.Warn().Err(err).Msg("failed to decode nats location event")
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	metrics.Broadcasts.WithLabelValues("remote").Inc()
	b.hub.Broadcast(Message{Type: MessageTypeLocationUpdate, Data: env.Event})
}
