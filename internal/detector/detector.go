// Package detector diffs each poll snapshot against a durable baseline of
// last-observed guest statuses and emits a notification when a running guest
// is seen stopped.
package detector

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mkovalv/pvewatch/internal/baseline"
	"github.com/mkovalv/pvewatch/internal/config"
	"github.com/mkovalv/pvewatch/internal/metrics"
	"github.com/mkovalv/pvewatch/internal/model"
	"github.com/mkovalv/pvewatch/internal/notifier"
)

// Detector maintains the baseline and classifies status transitions. It is
// the single writer of the baseline store; the supervisor guarantees at most
// one active detector per process.
type Detector struct {
	store    baseline.Store
	notifier notifier.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// both config flags must be set for the detector to do anything
	enabled   bool
	recordTTL time.Duration

	now func() time.Time // test seam

	mu      sync.Mutex
	records map[string]baseline.Record // nil until seeded
}

// New creates a detector. The baseline is not read until Seed or the first
// Observe call.
func New(store baseline.Store, n notifier.Notifier, cfg config.NotificationsConfig, recordTTL time.Duration, m *metrics.Metrics, logger *slog.Logger) *Detector {
	return &Detector{
		store:     store,
		notifier:  n,
		metrics:   m,
		logger:    logger,
		enabled:   cfg.Enabled && cfg.AlertOnChanges,
		recordTTL: recordTTL,
		now:       time.Now,
	}
}

// Seed loads the persisted baseline so a restart does not re-alert on
// already-known states
func (d *Detector) Seed(ctx context.Context) error {
	records, err := d.store.Load(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.records = records
	d.mu.Unlock()

	d.metrics.BaselineSize.Set(float64(len(records)))
	d.logger.Info("baseline seeded", slog.Int("records", len(records)))
	return nil
}

// Observe processes one snapshot: diff against the baseline, notify on
// classified transitions, persist the updated baseline as one batch. A no-op
// unless alerting is enabled and the sink is usable.
func (d *Detector) Observe(ctx context.Context, snapshot model.PollSnapshot) {
	if !d.enabled || !d.notifier.Enabled() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.records == nil {
		// Cold start (a background check before monitoring ever ran).
		records, err := d.store.Load(ctx)
		if err != nil {
			d.logger.Error("baseline load failed, skipping cycle", slog.String("error", err.Error()))
			return
		}
		d.records = records
	}

	now := d.now()

	// Work on a copy: the in-memory baseline only advances together with a
	// successful persist.
	next := make(map[string]baseline.Record, len(d.records))
	for k, v := range d.records {
		next[k] = v
	}

	for _, guest := range snapshot.Guests {
		key := guest.Key.String()
		prev, known := next[key]
		if !known {
			// First observation establishes the baseline, it is not a
			// transition.
			next[key] = baseline.Record{Status: guest.RawStatus, Seen: now}
			continue
		}

		if prev.Status != guest.RawStatus && d.classify(prev.Status, guest.RawStatus) {
			d.emit(ctx, guest)
		}
		next[key] = baseline.Record{Status: guest.RawStatus, Seen: now}
	}

	// Guests absent from the snapshot are assumed to be a transient listing
	// gap, not a deletion; their records age out via the TTL instead.
	for key, rec := range next {
		if d.recordTTL > 0 && now.Sub(rec.Seen) > d.recordTTL {
			delete(next, key)
		}
	}

	if err := d.store.Save(ctx, next); err != nil {
		// Not durable, so the in-memory copy must not advance either.
		d.logger.Error("baseline persist failed, skipping cycle", slog.String("error", err.Error()))
		return
	}

	d.records = next
	d.metrics.BaselineSize.Set(float64(len(next)))
}

// classify reports whether the status change is alert-worthy. The only
// classified transition is running to stopped, tolerating qualified forms
// like "stopped (locked)".
func (d *Detector) classify(prevRaw, currentRaw string) bool {
	return model.ParseStatus(prevRaw) == model.StatusRunning && model.IsStopped(currentRaw)
}

func (d *Detector) emit(ctx context.Context, guest model.Guest) {
	title := "Guest stopped"
	body := guest.Name + " on " + guest.Key.Node + " is now " + guest.RawStatus
	tags := map[string]string{
		"node":   guest.Key.Node,
		"vmid":   strconv.Itoa(guest.Key.VMID),
		"kind":   string(guest.Kind),
		"status": guest.RawStatus,
	}

	if err := d.notifier.Notify(ctx, title, body, tags); err != nil {
		d.logger.Warn("notification delivery failed",
			slog.String("guest", guest.Key.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	d.metrics.Notifications.Inc()
	d.logger.Info("state change notified",
		slog.String("guest", guest.Key.String()),
		slog.String("status", guest.RawStatus),
	)
}
