package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/licensewatch/internal/api"
	"github.com/goodtune/licensewatch/internal/config"
	"github.com/goodtune/licensewatch/internal/inventory"
	"github.com/goodtune/licensewatch/internal/metrics"
	"github.com/goodtune/licensewatch/internal/snapshot"
	"github.com/goodtune/licensewatch/internal/storage"
	"github.com/goodtune/licensewatch/internal/storage/memory"
	"github.com/goodtune/licensewatch/internal/storage/redis"
	"github.com/goodtune/licensewatch/internal/systemd"
	"github.com/goodtune/licensewatch/internal/watcher"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the licensewatch server",
	Long:  `Start the directory watcher, the JSON API with its websocket change feed, and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("dir", cfg.Watch.Dir).
		Msg("Starting licensewatch")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	svc, err := newInventory(cfg, store, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := api.NewBroadcaster(logger)

	// Seed the tracker before the first pass so nothing changes unseen in between
	tracker := snapshot.NewTracker(cfg.Watch.Dir, logger)
	metrics.WatchedFiles.Set(float64(len(tracker.Last())))

	// Publish the first pass before accepting requests
	publish := func(ctx context.Context) {
		pass, err := svc.Refresh(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to refresh license inventory")
			return
		}
		feed.NotifyChanged(pass)
		_ = systemd.NotifyStatus("%d tools, %d features", len(pass.Tools), len(pass.Features))
	}
	publish(ctx)

	// Start watcher; it owns the tracker and runs every publish from here on
	dirWatcher := watcher.New(tracker, watcher.Config{
		PollInterval: parseDuration(cfg.Watch.PollInterval, 5*time.Second),
		Debounce:     parseDuration(cfg.Watch.Debounce, 500*time.Millisecond),
		UseFSNotify:  cfg.Watch.UseFSNotify,
	}, publish, logger)
	dirWatcher.Start(ctx)

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{
		ListenAddr:     apiAddr,
		CheckRateLimit: cfg.Server.CheckLimit,
	}, svc, dirWatcher, feed, logger)
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().Msg("licensewatch startup complete")
	logger.Info().Msgf("API: http://%s/api/licenses", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or forced refresh)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reparsing license directory...")
			_ = systemd.NotifyReloading()
			if err := dirWatcher.Reload(ctx); err != nil {
				logger.Error().Err(err).Msg("Failed to reload license inventory")
			}
			_ = systemd.NotifyReady()
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop servers
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	dirWatcher.Stop()
	cancel()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("licensewatch stopped")

	return nil
}

// newInventory builds the inventory service for the configured directory
func newInventory(cfg *config.Config, store storage.Store, logger zerolog.Logger) (*inventory.Service, error) {
	svc, err := inventory.NewService(inventory.Config{
		Dir:           cfg.Watch.Dir,
		IncludeHidden: cfg.Watch.IncludeHidden,
		Workers:       cfg.Watch.ParseWorkers,
		CacheSize:     cfg.Cache.Size,
	}, store.Inventory(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inventory: %w", err)
	}
	return svc, nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "memory"
	}

	switch storageType {
	case "memory":
		return memory.New(), nil
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'memory' or 'redis')", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
