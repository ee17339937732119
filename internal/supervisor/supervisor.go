// Package supervisor owns the lifetime of the monitoring loop: one cluster
// poller feeding one state-change detector. It is constructed once in main;
// single-instance semantics come from that, not from package state.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkovalv/pvewatch/internal/baseline"
	"github.com/mkovalv/pvewatch/internal/cache"
	"github.com/mkovalv/pvewatch/internal/config"
	"github.com/mkovalv/pvewatch/internal/detector"
	"github.com/mkovalv/pvewatch/internal/metrics"
	"github.com/mkovalv/pvewatch/internal/notifier"
	"github.com/mkovalv/pvewatch/internal/proxmox"
	"github.com/mkovalv/pvewatch/internal/scheduler"
)

// ClientFactory builds a cluster client for an address. Injected so tests
// can substitute a fake client.
type ClientFactory func(address string) (proxmox.Client, error)

// Status describes the supervisor for the status endpoint
type Status struct {
	Monitoring bool      `json:"monitoring"`
	Address    string    `json:"address,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	LastPoll   time.Time `json:"last_poll,omitempty"`
}

// Supervisor starts and stops the poller/detector pair in response to
// lifecycle and configuration changes
type Supervisor struct {
	cfg       *config.Config
	store     baseline.Store
	notifier  notifier.Notifier
	cache     cache.Cache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newClient ClientFactory

	mu       sync.Mutex
	address  string
	poller   *scheduler.ClusterPoller
	detector *detector.Detector
}

// New creates a supervisor. A nil factory defaults to the real API client
// with the configured credentials.
func New(cfg *config.Config, store baseline.Store, n notifier.Notifier, c cache.Cache, m *metrics.Metrics, logger *slog.Logger, factory ClientFactory) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		store:     store,
		notifier:  n,
		cache:     c,
		metrics:   m,
		logger:    logger,
		newClient: factory,
	}
	if s.newClient == nil {
		s.newClient = func(address string) (proxmox.Client, error) {
			pcfg := cfg.Proxmox
			pcfg.Address = address
			return proxmox.New(pcfg, logger)
		}
	}
	return s
}

// StartMonitoring starts the poller/detector pair for the given address.
// A no-op when already monitoring that address; a different address tears
// down the existing loop first.
func (s *Supervisor) StartMonitoring(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poller != nil && s.address == address && s.poller.Running() {
		return nil
	}

	s.stopLocked()

	client, err := s.newClient(address)
	if err != nil {
		return fmt.Errorf("failed to create cluster client: %w", err)
	}

	det := detector.New(s.store, s.notifier, s.cfg.Notifications, s.cfg.Baseline.RecordTTL, s.metrics, s.logger.With("module", "detector"))

	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := det.Seed(seedCtx); err != nil {
		return fmt.Errorf("failed to seed baseline: %w", err)
	}

	poller := scheduler.NewClusterPoller(
		client,
		s.cache,
		s.metrics,
		s.logger.With("module", "poller"),
		s.cfg.Poll.NodeConcurrency,
		det.Observe,
	)
	poller.Start(s.cfg.Poll.ClusterInterval)

	s.address = address
	s.poller = poller
	s.detector = det

	s.logger.Info("monitoring started", slog.String("address", address))
	return nil
}

// StopMonitoring cancels the loop and clears in-memory state. The durable
// baseline is untouched.
func (s *Supervisor) StopMonitoring() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.poller == nil {
		return
	}
	s.poller.Stop()
	s.poller = nil
	s.detector = nil
	s.address = ""
	s.logger.Info("monitoring stopped")
}

// Monitoring reports whether a loop is currently active
func (s *Supervisor) Monitoring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poller != nil && s.poller.Running()
}

// Poller exposes the active cluster poller to the presentation layer
func (s *Supervisor) Poller() *scheduler.ClusterPoller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poller
}

// Status summarizes supervisor state for the status endpoint
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	poller := s.poller
	address := s.address
	s.mu.Unlock()

	st := Status{Address: address}
	if poller == nil {
		return st
	}
	st.Monitoring = poller.Running()
	if err := poller.LastError(); err != nil {
		st.LastError = err.Error()
	}
	if snap, ok := poller.Snapshot(); ok {
		st.LastPoll = snap.Taken
	}
	return st
}

// PerformBackgroundCheck runs exactly one poll-and-detect cycle against the
// same durable baseline, for invocation from a time-boxed external trigger.
// It tolerates running with no warm state and being cancelled at any
// suspension point; the baseline is left consistent either way.
func (s *Supervisor) PerformBackgroundCheck(ctx context.Context) error {
	s.mu.Lock()
	poller := s.poller
	address := s.address
	s.mu.Unlock()

	// Warm path: the running loop's poller and detector already share the
	// baseline, so a single manual refresh is the whole cycle.
	if poller != nil {
		_, err := poller.RefreshOnce(ctx)
		return err
	}

	if address == "" {
		address = s.cfg.Proxmox.Address
	}

	client, err := s.newClient(address)
	if err != nil {
		return fmt.Errorf("failed to create cluster client: %w", err)
	}

	det := detector.New(s.store, s.notifier, s.cfg.Notifications, s.cfg.Baseline.RecordTTL, s.metrics, s.logger.With("module", "detector"))
	once := scheduler.NewClusterPoller(
		client,
		s.cache,
		s.metrics,
		s.logger.With("module", "poller"),
		s.cfg.Poll.NodeConcurrency,
		det.Observe,
	)

	_, err = once.RefreshOnce(ctx)
	return err
}
