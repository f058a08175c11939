package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/netneural/sync-core/internal/infrastructure/config"
	"github.com/netneural/sync-core/internal/infrastructure/logging"
	syncengine "github.com/netneural/sync-core/internal/sync"
)

// Trigger starts a sync run. Satisfied by sync.Orchestrator.
type Trigger interface {
	Run(ctx context.Context, req syncengine.RunRequest) (*syncengine.SyncRun, error)
}

// Runner polls for due schedules and executes them.
type Runner struct {
	schedules Repository
	trigger   Trigger
	cfg       config.SchedulerConfig
	log       *logging.Logger

	wg sync.WaitGroup
}

// NewRunner creates a schedule runner.
func NewRunner(schedules Repository, trigger Trigger, cfg config.SchedulerConfig, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Default()
	}
	return &Runner{
		schedules: schedules,
		trigger:   trigger,
		cfg:       cfg,
		log:       log.With("component", "scheduler"),
	}
}

// Start runs the poll loop until the context is cancelled, then waits
// for in-flight runs to finish.
func (r *Runner) Start(ctx context.Context) {
	r.log.Info("scheduler started", "poll_interval", r.cfg.PollInterval().String())

	ticker := time.NewTicker(r.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.log.Info("scheduler stopped")
			return
		case now := <-ticker.C:
			r.Tick(ctx, now)
		}
	}
}

// Tick claims and executes every due schedule once.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	due, err := r.schedules.Due(ctx, now)
	if err != nil {
		r.log.Error("querying due schedules", "error", err)
		return
	}

	for _, s := range due {
		claimed, err := r.schedules.Claim(ctx, s.IntegrationID, now, r.cfg.Lease())
		if err != nil {
			r.log.Error("claiming schedule", "integration_id", s.IntegrationID, "error", err)
			continue
		}
		if !claimed {
			// Another worker holds the lease.
			continue
		}

		s := s
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.execute(ctx, s)
		}()
	}
}

// execute runs one claimed schedule and releases it whatever happens.
// Run errors are not surfaced anywhere; the outcome lands on the
// schedule row and the next tick carries on.
func (r *Runner) execute(ctx context.Context, s *Schedule) {
	onlyOnline := s.OnlyOnline
	req := syncengine.RunRequest{
		IntegrationID: s.IntegrationID,
		Operation:     syncengine.OperationForDirection(s.Direction),
		Policy:        s.ConflictResolution,
		OnlyOnline:    &onlyOnline,
		Filter:        s.DeviceFilter,
	}

	status := "failed"
	run, err := r.trigger.Run(ctx, req)
	switch {
	case err != nil:
		r.log.Warn("scheduled run refused",
			"integration_id", s.IntegrationID, "error", err)
	default:
		status = string(run.Status)
	}

	if err := r.schedules.Release(ctx, s.IntegrationID, time.Now().UTC(), status); err != nil {
		r.log.Error("releasing schedule", "integration_id", s.IntegrationID, "error", err)
	}
}
