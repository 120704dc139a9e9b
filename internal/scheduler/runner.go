// Package scheduler runs periodic jobs such as the lottery draw.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"points-lottery/internal/pkg/lock"
	"points-lottery/internal/service"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Runner wraps a cron scheduler. A job whose previous run is still going is
// skipped rather than stacked.
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
	running *lock.Keyed[string]
	timeout time.Duration
}

// New creates a runner. Jobs receive contexts derived from baseCtx and are
// cancelled after timeout (0 disables the limit).
func New(baseCtx context.Context, timeout time.Duration) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(),
		baseCtx: baseCtx,
		running: lock.NewKeyed[string](),
		timeout: timeout,
	}
}

// Add schedules job under name with a standard cron spec or descriptor such as "@every 1h".
func (r *Runner) Add(name, spec string, job Job) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, r.wrap(name, job))
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	log.Info().Str("job", name).Str("schedule", spec).Msg("Job scheduled")
	return id, nil
}

// wrap adds overlap protection, a run id, logging and panic recovery.
func (r *Runner) wrap(name string, job Job) func() {
	return func() {
		if !r.running.TryLock(name) {
			log.Warn().Str("job", name).Msg("Previous run still in progress, skipping")
			return
		}
		defer r.running.Unlock(name)

		runID := uuid.NewString()
		logger := log.With().Str("job", name).Str("run_id", runID).Logger()

		ctx := r.baseCtx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		ctx = logger.WithContext(ctx)

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("Job panicked")
			}
		}()

		if err := job(ctx); err != nil {
			logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Job failed")
			return
		}
		logger.Debug().Dur("duration", time.Since(start)).Msg("Job finished")
	}
}

// Drawer runs the lottery draw.
type Drawer interface {
	Run(ctx context.Context) (*service.DrawResult, error)
}

// DrawJob adapts a Drawer to a Job.
func DrawJob(d Drawer) Job {
	return func(ctx context.Context) error {
		res, err := d.Run(ctx)
		if err != nil {
			return err
		}
		evt := log.Ctx(ctx).Debug()
		if res.Due {
			evt = log.Ctx(ctx).Info()
		}
		evt.Str("outcome", res.Outcome()).Msg("Draw task run")
		return nil
	}
}

// Start begins running scheduled jobs in the background.
func (r *Runner) Start() {
	r.cron.Start()
	log.Info().Msg("Scheduler started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Scheduler stopped")
}
