package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkovalv/pvewatch/internal/api"
	"github.com/mkovalv/pvewatch/internal/baseline"
	"github.com/mkovalv/pvewatch/internal/cache"
	"github.com/mkovalv/pvewatch/internal/config"
	"github.com/mkovalv/pvewatch/internal/logger"
	"github.com/mkovalv/pvewatch/internal/metrics"
	"github.com/mkovalv/pvewatch/internal/notifier"
	"github.com/mkovalv/pvewatch/internal/orchestrator"
	"github.com/mkovalv/pvewatch/internal/proxmox"
	"github.com/mkovalv/pvewatch/internal/supervisor"
	"github.com/mkovalv/pvewatch/pkg/httpserver"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New().Error("failed to load configuration",
			"error", err.Error(),
		)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewWithLevel(logger.ParseLevel(cfg.LogLevel))

	log.Info("configuration loaded",
		"address", cfg.Proxmox.Address,
		"baseline_backend", cfg.Baseline.Backend,
	)

	// Create metrics registry
	m := metrics.New(prometheus.DefaultRegisterer)

	// Create cache
	appCache := cache.New(cfg.Poll.ClusterInterval)

	// Create Proxmox API client
	client, err := proxmox.New(cfg.Proxmox, log.With("module", "proxmox"))
	if err != nil {
		log.Error("failed to create cluster client",
			"error", err.Error(),
		)
		os.Exit(1)
	}

	// Create the durable baseline store
	var store baseline.Store
	switch cfg.Baseline.Backend {
	case "etcd":
		store, err = baseline.NewEtcdStore(cfg.Baseline, log.With("module", "baseline"))
	default:
		store, err = baseline.NewBadgerStore(cfg.Baseline.Path)
	}
	if err != nil {
		log.Error("failed to open baseline store",
			"error", err.Error(),
		)
		os.Exit(1)
	}
	defer store.Close()

	// Create the notification sink
	var sink notifier.Notifier
	if cfg.Notifications.NATSAddr != "" {
		natsSink, err := notifier.NewNATSNotifier(cfg.Notifications.NATSAddr, cfg.Notifications.NATSSubject, log.With("module", "notifier"))
		if err != nil {
			log.Error("failed to connect to nats",
				"error", err.Error(),
			)
			os.Exit(1)
		}
		defer natsSink.Close()
		sink = natsSink

		log.Info("nats notifier initialized",
			"subject", cfg.Notifications.NATSSubject,
		)
	} else {
		sink = notifier.NewLogNotifier(log.With("module", "notifier"))
	}

	// Create the monitoring supervisor and start the loop
	sup := supervisor.New(cfg, store, sink, appCache, m, log.With("module", "supervisor"), nil)

	if cfg.Notifications.Enabled {
		if err := sup.StartMonitoring(cfg.Proxmox.Address); err != nil {
			log.Error("failed to start monitoring",
				"error", err.Error(),
			)
			os.Exit(1)
		}
	} else {
		log.Info("state-change monitoring disabled by configuration")
	}

	// Create the action orchestrator
	orch := orchestrator.New(client, cfg.Actions, m, log.With("module", "orchestrator"))

	// Create HTTP handler
	handler := api.NewHandler(sup, orch, client, appCache, cfg, log.With("module", "api"))

	// Setup signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// Create HTTP server
	srv := httpserver.New(
		cfg.Server.Addr,
		handler.Router(),
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		log,
	)

	log.Info("starting pvewatch service")

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			serverErrors <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		log.Error("server error",
			"error", err.Error(),
		)
	case sig := <-quit:
		log.Info("received shutdown signal",
			"signal", sig.String(),
		)
	}

	// Graceful shutdown
	log.Info("shutting down monitoring")
	sup.StopMonitoring()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown failed",
			"error", err.Error(),
		)
	}

	log.Info("shutdown complete")
}
