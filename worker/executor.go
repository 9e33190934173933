// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware with per-job timeout
// enforcement, and a Pool that manages concurrent worker goroutines
// polling the store for ready jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/backoff"
	"github.com/arkline/conveyor/dlq"
	"github.com/arkline/conveyor/hook"
	"github.com/arkline/conveyor/id"
	"github.com/arkline/conveyor/job"
	"github.com/arkline/conveyor/middleware"
)

// Executor runs a single job attempt through middleware and the
// registered handler, then applies the retry, requeue, and dead-letter
// bookkeeping for the outcome.
type Executor struct {
	registry *job.Registry
	hooks    *hook.Registry
	store    job.Store
	dlq      *dlq.Service
	mw       middleware.Middleware
	logger   *slog.Logger
	workerID id.WorkerID
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	dlqService *dlq.Service,
	workerID id.WorkerID,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		dlq:      dlqService,
		mw:       middleware.Chain(mws...),
		logger:   logger,
		workerID: workerID,
	}
}

// Execute runs one attempt of a claimed job and returns the attempt's
// result. Any fault in the handler (error return, panic via the Recover
// middleware, timeout, or a missing handler) is converted into a failed
// Result; Execute itself only returns an error when the store cannot be
// updated.
//
// On success the job is marked completed. On failure with attempts
// remaining it is requeued in retrying state with a backoff delay. On
// failure with the attempt budget exhausted it is marked failed and
// recorded in the dead-letter queue exactly once.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (*job.Result, error) {
	now := time.Now().UTC()
	j.WorkerID = e.workerID
	j.StartedAt = &now
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("mark job started: %w", err)
	}

	e.hooks.EmitJobStarted(ctx, j)

	// Settlement writes run on a detached context: a shutdown cancel
	// that aborts the handler must not also abort the bookkeeping, or
	// the attempt is lost until the reaper finds it.
	sctx := context.WithoutCancel(ctx)

	handler, ok := e.registry.Get(j.Name)
	if !ok {
		// No handler is a retryable failure: the definition may be
		// registered by another process or a later deploy.
		res := job.Failed(fmt.Errorf("%w: %s", conveyor.ErrUnknownJob, j.Name), nil)
		return res, e.handleFailure(sctx, j, res)
	}

	start := time.Now()
	res := e.run(ctx, j, handler)
	elapsed := time.Since(start)

	if !res.Success {
		return res, e.handleFailure(sctx, j, res)
	}
	return res, e.handleSuccess(sctx, j, res, elapsed)
}

// run invokes the handler through the middleware chain, enforcing the
// job's timeout. A handler that overruns is abandoned: its goroutine
// keeps running but its eventual return is discarded and never touches
// queue state.
func (e *Executor) run(ctx context.Context, j *job.Job, handler job.HandlerFunc) *job.Result {
	exec := &job.Execution{
		JobID:       j.ID,
		Name:        j.Name,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		EnqueuedAt:  j.EnqueuedAt,
		Logger: e.logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.Attempt),
		),
	}
	hctx := job.NewContext(ctx, exec)

	type outcome struct {
		res *job.Result
	}
	done := make(chan outcome, 1)

	go func() {
		var out any
		terminal := func(ctx context.Context) error {
			var err error
			out, err = handler(ctx, j.Payload)
			return err
		}
		if err := e.mw(hctx, j, terminal); err != nil {
			done <- outcome{res: job.Failed(err, nil)}
			return
		}
		done <- outcome{res: job.Succeeded(out, nil)}
	}()

	var timeout <-chan time.Time
	if j.Timeout > 0 {
		timer := time.NewTimer(j.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case o := <-done:
		return o.res
	case <-timeout:
		e.logger.Warn("job handler exceeded timeout, abandoning",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Duration("timeout", j.Timeout),
		)
		return job.Failed(fmt.Errorf("%w after %s", conveyor.ErrExecutionTimeout, j.Timeout), nil)
	case <-ctx.Done():
		return job.Failed(ctx.Err(), nil)
	}
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, res *job.Result, elapsed time.Duration) error {
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""
	j.UpdatedAt = now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.hooks.EmitJobCompleted(ctx, j, res, elapsed)
	return nil
}

// handleFailure decides between requeue-for-retry and dead-lettering.
// The attempt counter tracks attempts started, so the budget is spent
// once Attempt reaches MaxAttempts.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, res *job.Result) error {
	now := time.Now().UTC()
	j.LastError = res.Error
	j.UpdatedAt = now

	if j.Attempt < j.MaxAttempts {
		return e.scheduleRetry(ctx, j, now)
	}
	return e.deadLetter(ctx, j, res)
}

func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	policy := e.retryPolicy(j.Name)
	delay := policy.Delay(j.Attempt)

	j.Attempt++
	j.State = job.StateRetrying
	j.RunAt = now.Add(delay)
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if err := e.store.RequeueJob(ctx, j); err != nil {
		e.logger.Error("failed to requeue job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.hooks.EmitJobRetrying(ctx, j, j.Attempt, j.RunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("next_attempt", j.Attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)
	return nil
}

func (e *Executor) deadLetter(ctx context.Context, j *job.Job, res *job.Result) error {
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.CompletedAt = &now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to mark job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	finalErr := fmt.Errorf("%s", res.Error)
	if e.dlq != nil {
		// A sink failure is logged, never propagated: the worker loop
		// must not stall on dead-letter recording.
		if err := e.dlq.Record(ctx, j, finalErr); err != nil {
			e.logger.Error("failed to record dead-lettered job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	e.hooks.EmitJobFailed(ctx, j, finalErr)
	e.hooks.EmitJobDeadLettered(ctx, j, finalErr)

	e.logger.Warn("job dead-lettered after exhausting attempts",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts", j.Attempt),
		slog.String("error", res.Error),
	)
	return nil
}

// retryPolicy resolves the backoff policy for a job name, falling back
// to the default policy for jobs with no registered definition.
func (e *Executor) retryPolicy(name string) backoff.Policy {
	if opts, ok := e.registry.Options(name); ok {
		return opts.Retry
	}
	return backoff.Default()
}
