package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crashguard/internal/alerts"
	"crashguard/internal/api"
	"crashguard/internal/config"
	"crashguard/internal/engine"
	"crashguard/internal/ingest"
	"crashguard/internal/logging"
	"crashguard/internal/metrics"
	"crashguard/internal/pattern"
	"crashguard/internal/storage"
)

const version = "1.0.0"

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "crashguard",
		Short:   "Real-time crash pattern detection and alerting for device fleets",
		Long:    "crashguard ingests device crash reports, detects known failure patterns, crash bursts, and cascading failures over a sliding window, and dispatches rate-limited alerts.",
		Version: version,
		RunE:    run,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var manager *config.Manager
	if configPath != "" {
		m, err := config.NewManager(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		manager = m
	} else {
		manager = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := manager.Get()

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewLogger(level)
	logger.Info("starting crashguard", "version", version, "config", manager.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog, err := pattern.BuildCatalog(cfg.Detection.Patterns)
	if err != nil {
		return fmt.Errorf("build pattern catalog: %w", err)
	}
	logger.Info("pattern catalog loaded", "patterns", catalog.Len())

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	devices := metrics.NewStore(cfg.Detection.BufferSize)
	recent := alerts.NewStore(cfg.Alerts.StoreLimit)

	eng, err := engine.NewEngine(cfg, logger, catalog, devices, recent, store)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	hub := api.NewHub(logger)
	eng.Dispatcher().Register(hub.HandleAlert)
	eng.OnPattern(hub.NotifyPattern)
	defer hub.Close()

	eng.Start()
	defer func() {
		if err := eng.Stop(10 * time.Second); err != nil {
			logger.Error("engine stop", "err", err)
		}
	}()

	parser := ingest.NewParser()
	ingest.StartREST(ctx, manager, eng, logger)
	ingest.StartTCPStream(ctx, manager, parser, eng, logger)
	ingest.StartFileTail(ctx, manager, parser, eng, logger)
	ingest.StartKafka(ctx, manager, parser, eng, logger)

	api.Start(ctx, manager, devices, recent, eng, hub, logger, version)

	if configPath != "" {
		stop := make(chan struct{})
		defer close(stop)
		go manager.Watch(2*time.Second, func(next *config.Config) {
			if err := eng.UpdateConfig(next); err != nil {
				logger.Error("apply reloaded config", "err", err)
				return
			}
			logger.Info("configuration reloaded", "path", manager.Path())
		}, func(err error) {
			logger.Error("config reload error", "err", err)
		}, stop)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	cancel()
	return nil
}
