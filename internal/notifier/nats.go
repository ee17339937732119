package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// event is the JSON payload published for each state change
type event struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Tags  map[string]string `json:"tags,omitempty"`
	Time  time.Time         `json:"time"`
}

// NATSNotifier publishes state-change events to a NATS subject
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSNotifier connects to the NATS server. Reconnects forever; a flapping
// broker should not take the detector down with it.
func NewNATSNotifier(addr, subject string, logger *slog.Logger) (*NATSNotifier, error) {
	opts := []nats.Option{
		nats.Name("pvewatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSNotifier{nc: nc, subject: subject, logger: logger}, nil
}

func (n *NATSNotifier) Enabled() bool {
	return n.nc != nil && !n.nc.IsClosed()
}

func (n *NATSNotifier) Notify(ctx context.Context, title, body string, tags map[string]string) error {
	if !n.Enabled() {
		return fmt.Errorf("nats not connected")
	}

	payload, err := json.Marshal(event{
		Title: title,
		Body:  body,
		Tags:  tags,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return n.nc.Publish(n.subject, payload)
}

// Close drains and closes the connection
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		n.nc.Drain()
		n.nc.Close()
	}
}
