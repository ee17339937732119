// Package notifier delivers state-change events to an external sink.
// Delivery is fire-and-forget from the detector's point of view.
package notifier

import (
	"context"
	"log/slog"
)

// Notifier is the sink for guest state-change events
type Notifier interface {
	// Enabled reports whether the sink is configured and usable. The
	// detector gates on this in addition to the config flags.
	Enabled() bool

	// Notify delivers one event. Tags carry correlation metadata such as
	// the guest key and the observed status.
	Notify(ctx context.Context, title, body string, tags map[string]string) error
}

// LogNotifier writes events to the process log. Used when no NATS address is
// configured, so state changes are still visible.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Enabled() bool {
	return true
}

func (n *LogNotifier) Notify(ctx context.Context, title, body string, tags map[string]string) error {
	attrs := make([]any, 0, 2+2*len(tags))
	attrs = append(attrs, "title", title)
	for k, v := range tags {
		attrs = append(attrs, k, v)
	}
	n.logger.Warn(body, attrs...)
	return nil
}
