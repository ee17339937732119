// Package scheduler owns the cancellable polling loops that keep the local
// view of the cluster fresh. Each poller runs exactly one loop; ticks are
// strictly sequential within a loop and a tick that would overlap a still
// running poll is skipped, never queued.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkovalv/pvewatch/internal/cache"
	"github.com/mkovalv/pvewatch/internal/concurrent"
	"github.com/mkovalv/pvewatch/internal/metrics"
	"github.com/mkovalv/pvewatch/internal/model"
	"github.com/mkovalv/pvewatch/internal/proxmox"
)

// ErrRefreshInFlight is returned by RefreshOnce when a poll is already
// running for the loop
var ErrRefreshInFlight = errors.New("refresh already in progress")

// SnapshotCacheKey is where the cluster poller publishes its latest snapshot
const SnapshotCacheKey = "cluster/latest"

// Sink receives each completed snapshot. The detector and the presentation
// layer register here.
type Sink func(ctx context.Context, snapshot model.PollSnapshot)

// ClusterPoller polls the cluster-wide guest listing plus node statuses on a
// fixed interval
type ClusterPoller struct {
	client          proxmox.Client
	cache           cache.Cache
	metrics         *metrics.Metrics
	logger          *slog.Logger
	nodeConcurrency int
	sinks           []Sink

	inFlight atomic.Bool

	// lifecycle serializes Start/Stop; mu guards the published state
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	snapshot *model.PollSnapshot
	lastErr  error
}

// NewClusterPoller creates a cluster poller. Sinks are fixed at construction
// time; the loop does not start until Start is called.
func NewClusterPoller(client proxmox.Client, c cache.Cache, m *metrics.Metrics, logger *slog.Logger, nodeConcurrency int, sinks ...Sink) *ClusterPoller {
	return &ClusterPoller{
		client:          client,
		cache:           c,
		metrics:         m,
		logger:          logger,
		nodeConcurrency: nodeConcurrency,
		sinks:           sinks,
	}
}

// Start launches the polling loop. Calling Start while a loop is running
// cancels it and starts a fresh one; there is never more than one loop.
func (p *ClusterPoller) Start(interval time.Duration) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx, interval)

	p.logger.Info("cluster poller started", slog.Duration("interval", interval))
}

// Stop cancels the loop. An in-flight poll finishes but its result is
// discarded before touching shared state.
func (p *ClusterPoller) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.wg.Wait()
	p.logger.Info("cluster poller stopped")
}

// Running reports whether the loop is active
func (p *ClusterPoller) Running() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.cancel != nil
}

// RefreshOnce performs one synchronous poll cycle outside the loop cadence,
// for pull-to-refresh semantics. Fails fast if a poll is already in flight.
func (p *ClusterPoller) RefreshOnce(ctx context.Context) (model.PollSnapshot, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return model.PollSnapshot{}, ErrRefreshInFlight
	}
	defer p.inFlight.Store(false)

	return p.poll(ctx)
}

// Snapshot returns the most recent snapshot, if any poll has completed
func (p *ClusterPoller) Snapshot() (model.PollSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		return model.PollSnapshot{}, false
	}
	return *p.snapshot, true
}

// LastError returns the error recorded by the most recent failed tick, reset
// by the next successful one
func (p *ClusterPoller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *ClusterPoller) run(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First cycle immediately; the interval paces the rest.
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one guarded poll cycle. Errors never stop the loop; retry is
// purely waiting for the next tick.
func (p *ClusterPoller) tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.PollSkips.WithLabelValues("cluster").Inc()
		return
	}
	defer p.inFlight.Store(false)

	if _, err := p.poll(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("cluster poll failed", slog.String("error", err.Error()))
	}
}

// poll performs one full cycle: list guests, fan out to node statuses,
// assemble the snapshot, publish it
func (p *ClusterPoller) poll(ctx context.Context) (model.PollSnapshot, error) {
	guests, err := p.client.ListGuests(ctx)
	if err != nil {
		p.recordError(err)
		return model.PollSnapshot{}, err
	}

	nodes := nodeNames(guests)
	statuses := concurrent.MapWithLimit(ctx, nodes, func(ctx context.Context, node string) (model.NodeStatus, error) {
		return p.client.NodeStatus(ctx, node)
	}, p.nodeConcurrency)

	// Node status failures degrade the snapshot but do not fail the tick;
	// the guest listing is the part the detector depends on.
	nodeStatuses, nodeErrs := concurrent.Collect(statuses)
	for _, nerr := range nodeErrs {
		p.logger.Warn("node status fetch failed", slog.String("error", nerr.Error()))
	}

	// A poll that was in flight when the loop was cancelled must not mutate
	// shared state afterwards.
	if ctx.Err() != nil {
		return model.PollSnapshot{}, ctx.Err()
	}

	snapshot := model.PollSnapshot{
		Taken:  time.Now(),
		Guests: guests,
		Nodes:  nodeStatuses,
	}

	p.mu.Lock()
	p.snapshot = &snapshot
	p.lastErr = nil
	p.mu.Unlock()

	p.cache.Set(SnapshotCacheKey, snapshot, cache.NoExpiration)
	p.metrics.PollTicks.WithLabelValues("cluster").Inc()

	for _, sink := range p.sinks {
		sink(ctx, snapshot)
	}

	return snapshot, nil
}

func (p *ClusterPoller) recordError(err error) {
	p.metrics.PollErrors.WithLabelValues("cluster").Inc()
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func nodeNames(guests []model.Guest) []string {
	seen := make(map[string]struct{}, 4)
	names := make([]string, 0, 4)
	for _, g := range guests {
		if _, ok := seen[g.Key.Node]; ok {
			continue
		}
		seen[g.Key.Node] = struct{}{}
		names = append(names, g.Key.Node)
	}
	return names
}
