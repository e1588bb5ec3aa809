package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/expectedparrot/edsl-sub003/pkg/logging"
)

// NATSConfig configures the NATS forwarder.
type NATSConfig struct {
	// URL is the NATS server URL
	URL string

	// Subject is the base subject; events go to Subject + "." + type.
	Subject string

	// ConnectTimeout is the connection timeout
	ConnectTimeout time.Duration
}

// NATSForwarder publishes hub events to NATS.
type NATSForwarder struct {
	conn    *nats.Conn
	subject string
	logger  *logging.Logger
}

// NewNATSForwarder connects to NATS.
func NewNATSForwarder(cfg NATSConfig, logger *logging.Logger) (*NATSForwarder, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "edsl.jobs"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSForwarder{conn: conn, subject: cfg.Subject, logger: logger}, nil
}

// Subject returns the NATS subject for an event type.
func (f *NATSForwarder) Subject(t EventType) string {
	return f.subject + "." + string(t)
}

// Publish sends one event.
func (f *NATSForwarder) Publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return f.conn.Publish(f.Subject(event.Type), data)
}

// Forward subscribes to hub before returning, then publishes events on its
// own goroutine until ctx is done or the hub closes. The connection is
// flushed and the returned channel closed when forwarding stops.
func (f *NATSForwarder) Forward(ctx context.Context, hub *Hub) <-chan struct{} {
	events, unsubscribe := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		defer f.conn.Flush()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := f.Publish(event); err != nil {
					_ = f.logger.Warn(logging.CategoryTelemetry, "nats.publish_failed", err.Error(), map[string]any{
						"type": string(event.Type),
					})
				}
			}
		}
	}()
	return done
}

// Close drains and closes the NATS connection.
func (f *NATSForwarder) Close() error {
	if f == nil || f.conn == nil {
		return nil
	}
	return f.conn.Drain()
}
