package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/netneural/sync-core/internal/activity"
	"github.com/netneural/sync-core/internal/infrastructure/config"
	"github.com/netneural/sync-core/internal/infrastructure/logging"
	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/notify"
	"github.com/netneural/sync-core/internal/scheduler"
	syncengine "github.com/netneural/sync-core/internal/sync"
	"github.com/netneural/sync-core/internal/webhook"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SyncEngine triggers sync runs and resolves manual conflicts.
// Satisfied by sync.Orchestrator.
type SyncEngine interface {
	Run(ctx context.Context, req syncengine.RunRequest) (*syncengine.SyncRun, error)
	TestConnection(ctx context.Context, integrationID string) error
	ResolveConflict(ctx context.Context, conflictID string, choice syncengine.ConflictResolution, resolvedBy string) (*syncengine.Conflict, error)
}

// WebhookIngestor processes inbound webhook payloads.
// Satisfied by webhook.Processor.
type WebhookIngestor interface {
	Ingest(ctx context.Context, integrationID string, raw []byte, signature string) (*webhook.Result, error)
}

// Notifier sends and retries notification deliveries.
// Satisfied by notify.Dispatcher.
type Notifier interface {
	Send(ctx context.Context, req notify.SendRequest) (*notify.Delivery, error)
	Retry(ctx context.Context, deliveryID string) (*notify.Delivery, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Webhook  config.WebhookConfig
	Logger   *logging.Logger

	Engine     SyncEngine
	Ingestor   WebhookIngestor
	Dispatcher Notifier

	Integrations integration.Repository
	Runs         syncengine.RunRepository
	Conflicts    syncengine.ConflictRepository
	Deliveries   notify.Repository
	Schedules    scheduler.Repository
	Activity     activity.Repository

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for the sync engine.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	webhookCfg config.WebhookConfig
	logger     *logging.Logger

	engine     SyncEngine
	ingestor   WebhookIngestor
	dispatcher Notifier

	integrations integration.Repository
	runs         syncengine.RunRepository
	conflicts    syncengine.ConflictRepository
	deliveries   notify.Repository
	schedules    scheduler.Repository
	activity     activity.Repository

	version string
	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("sync engine is required")
	}
	if deps.Integrations == nil {
		return nil, fmt.Errorf("integration repository is required")
	}
	if deps.Runs == nil {
		return nil, fmt.Errorf("run repository is required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		webhookCfg:   deps.Webhook,
		logger:       deps.Logger,
		engine:       deps.Engine,
		ingestor:     deps.Ingestor,
		dispatcher:   deps.Dispatcher,
		integrations: deps.Integrations,
		runs:         deps.Runs,
		conflicts:    deps.Conflicts,
		deliveries:   deps.Deliveries,
		schedules:    deps.Schedules,
		activity:     deps.Activity,
		version:      deps.Version,
		tickets:      newTicketStore(),
	}

	// Use an externally-provided hub if available (needed when the engine
	// packages also broadcast through it).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and the periodic
// ticket cleanup, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	go s.tickets.cleanLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
