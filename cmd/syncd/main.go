// NetNeural Sync Core - Integration Synchronization Engine
//
// This is the main entry point for the sync engine. It keeps the local
// device catalogue and external device registries (Golioth, AWS IoT,
// Azure IoT Hub, Google Cloud IoT, generic MQTT) in agreement:
//   - Scheduled and manually triggered sync runs with conflict resolution
//   - HMAC-verified webhook ingestion for registry-originated changes
//   - Notification dispatch (email, Slack, outbound webhooks)
//   - REST + WebSocket API for dashboards and automation
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/netneural/sync-core/migrations"

	"github.com/netneural/sync-core/internal/activity"
	"github.com/netneural/sync-core/internal/api"
	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/infrastructure/config"
	"github.com/netneural/sync-core/internal/infrastructure/database"
	"github.com/netneural/sync-core/internal/infrastructure/logging"
	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/notify"
	"github.com/netneural/sync-core/internal/registry"
	"github.com/netneural/sync-core/internal/scheduler"
	"github.com/netneural/sync-core/internal/webhook"

	syncengine "github.com/netneural/sync-core/internal/sync"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// registryHTTPTimeout bounds individual HTTP calls to remote registries.
const registryHTTPTimeout = 30 * time.Second

// pruneInterval is how often processed webhook events are swept.
const pruneInterval = time.Hour

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting NetNeural Sync Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	integrations := integration.NewSQLiteRepository(db.DB)
	devices := device.NewSQLiteRepository(db.DB)
	runs := syncengine.NewSQLiteRunRepository(db.DB)
	conflicts := syncengine.NewSQLiteConflictRepository(db.DB)
	deliveries := notify.NewSQLiteRepository(db.DB)
	schedules := scheduler.NewSQLiteRepository(db.DB)
	events := webhook.NewSQLiteEventRepository(db.DB)
	activityLog := activity.NewSQLiteRepository(db.DB)

	// Shared WebSocket hub: the engine components broadcast through it and
	// the API server serves connections from it.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	orchestrator := syncengine.NewOrchestrator(syncengine.OrchestratorConfig{
		Integrations: integrations,
		Devices:      devices,
		Runs:         runs,
		Conflicts:    conflicts,
		Activity:     activityLog,
		Adapters:     registry.NewFactory(nil, registryHTTPTimeout),
		Sync:         cfg.Sync,
		Logger:       log,
		Events:       hub,
	})

	processor := webhook.NewProcessor(webhook.ProcessorConfig{
		Integrations: integrations,
		Devices:      devices,
		Conflicts:    conflicts,
		Runs:         runs,
		Events:       events,
		Activity:     activityLog,
		Logger:       log,
		Broadcast:    hub,
	})

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Deliveries:    deliveries,
		Integrations:  integrations,
		Activity:      activityLog,
		Notifications: cfg.Notifications,
		HTTPClient:    &http.Client{Timeout: cfg.Notifications.Timeout()},
		Logger:        log,
		Events:        hub,
	})

	// API server
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Webhook:      cfg.Webhook,
		Logger:       log,
		Engine:       orchestrator,
		Ingestor:     processor,
		Dispatcher:   dispatcher,
		Integrations: integrations,
		Runs:         runs,
		Conflicts:    conflicts,
		Deliveries:   deliveries,
		Schedules:    schedules,
		Activity:     activityLog,
		ExternalHub:  hub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Auto-sync scheduler
	if cfg.Scheduler.Enabled {
		runner := scheduler.NewRunner(schedules, orchestrator, cfg.Scheduler, log)
		go runner.Start(ctx)
	} else {
		log.Info("scheduler disabled")
	}

	// Periodic webhook event retention sweep
	go pruneLoop(ctx, processor, cfg.Webhook.Retention(), log)

	if err := healthCheck(ctx, db, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Database

	log.Info("NetNeural Sync Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NETNEURAL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NETNEURAL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// pruneLoop deletes processed webhook events older than the retention
// window, hourly, until the context is cancelled.
func pruneLoop(ctx context.Context, processor *webhook.Processor, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := processor.PruneEvents(ctx, retention)
			if err != nil {
				log.Error("pruning webhook events", "error", err)
				continue
			}
			if pruned > 0 {
				log.Info("pruned webhook events", "count", pruned)
			}
		}
	}
}
