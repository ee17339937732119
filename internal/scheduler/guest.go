package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkovalv/pvewatch/internal/metrics"
	"github.com/mkovalv/pvewatch/internal/model"
	"github.com/mkovalv/pvewatch/internal/proxmox"
)

// GuestPoller keeps one guest's view fresh for a detail screen: lightweight
// current-status samples at the fast cadence, the fuller detail payload only
// every Nth tick, and a trailing window of metric samples seeded from the
// cluster's historical series.
type GuestPoller struct {
	client      proxmox.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
	key         model.GuestKey
	kind        model.GuestKind
	detailEvery int
	window      time.Duration

	inFlight atomic.Bool

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	current model.CurrentStatus
	detail  model.GuestDetail
	samples []model.Sample
	lastErr error
}

// NewGuestPoller creates a poller for one guest
func NewGuestPoller(client proxmox.Client, m *metrics.Metrics, logger *slog.Logger, key model.GuestKey, kind model.GuestKind, detailEvery int, window time.Duration) *GuestPoller {
	if detailEvery <= 0 {
		detailEvery = 3
	}
	return &GuestPoller{
		client:      client,
		metrics:     m,
		logger:      logger.With(slog.String("guest", key.String())),
		key:         key,
		kind:        kind,
		detailEvery: detailEvery,
		window:      window,
	}
}

// Start launches the polling loop, restarting any existing one
func (p *GuestPoller) Start(interval time.Duration) {
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

	p.logger.Info("guest poller started", slog.Duration("interval", interval))
}

// Stop cancels the loop
func (p *GuestPoller) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.wg.Wait()
	p.logger.Info("guest poller stopped")
}

// Current returns the latest status sample
func (p *GuestPoller) Current() model.CurrentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Detail returns the latest full detail payload
func (p *GuestPoller) Detail() model.GuestDetail {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detail
}

// Samples returns a copy of the retained metric series
func (p *GuestPoller) Samples() []model.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Sample, len(p.samples))
	copy(out, p.samples)
	return out
}

// LastError returns the most recent tick error, cleared on success
func (p *GuestPoller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *GuestPoller) run(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	p.backfill(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tickNo := 0
	p.tick(ctx, tickNo)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickNo++
			p.tick(ctx, tickNo)
		}
	}
}

// backfill seeds the sample window from the cluster's historical series,
// once per loop start. Live samples merge on top of it.
func (p *GuestPoller) backfill(ctx context.Context) {
	history, err := p.client.HistoricalSamples(ctx, p.key, p.kind, p.window)
	if err != nil {
		p.logger.Warn("history backfill failed", slog.String("error", err.Error()))
		return
	}
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.samples = mergeSamples(p.samples, history, p.window)
	p.mu.Unlock()
}

func (p *GuestPoller) tick(ctx context.Context, tickNo int) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.PollSkips.WithLabelValues("guest").Inc()
		return
	}
	defer p.inFlight.Store(false)

	current, err := p.client.CurrentStatus(ctx, p.key, p.kind)
	if err != nil {
		p.recordError(ctx, err)
		return
	}

	// The full detail payload changes slowly; refetching it on every fast
	// tick would triple request volume for nothing.
	var detail *model.GuestDetail
	if tickNo%p.detailEvery == 0 {
		d, derr := p.client.GuestDetail(ctx, p.key, p.kind)
		if derr != nil {
			p.logger.Warn("detail fetch failed", slog.String("error", derr.Error()))
		} else {
			detail = &d
		}
	}

	if ctx.Err() != nil {
		return
	}

	sample := model.Sample{
		Time:     time.Now(),
		CPU:      current.CPU,
		MemUsed:  current.MemUsed,
		MemTotal: current.MemTotal,
	}

	p.mu.Lock()
	p.current = current
	if detail != nil {
		p.detail = *detail
	}
	p.samples = appendSample(p.samples, sample, p.window)
	p.lastErr = nil
	p.mu.Unlock()

	p.metrics.PollTicks.WithLabelValues("guest").Inc()
}

func (p *GuestPoller) recordError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	p.metrics.PollErrors.WithLabelValues("guest").Inc()
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	p.logger.Warn("guest poll failed", slog.String("error", err.Error()))
}
