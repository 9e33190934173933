// Package engine wires all conveyor subsystems together. It creates the
// hook registry, job registry, middleware chain, worker pool, and cron
// scheduler, and provides the Register/Enqueue operations.
//
// This package exists to break the import cycle: the root conveyor
// package defines Entity (imported by job, cron, dlq) and so cannot
// import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/cron"
	"github.com/arkline/conveyor/dlq"
	"github.com/arkline/conveyor/hook"
	"github.com/arkline/conveyor/id"
	"github.com/arkline/conveyor/job"
	mw "github.com/arkline/conveyor/middleware"
	"github.com/arkline/conveyor/queue"
	"github.com/arkline/conveyor/worker"
)

// Engine wraps a Runner with typed subsystem access.
// Use Build() to create one from a Runner.
type Engine struct {
	r          *conveyor.Runner
	hooks      *hook.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Cron subsystem.
	cronStore cron.Store
	scheduler *cron.Scheduler

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.hooks.Register(h)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Runner.
// The Runner's store must implement job.Store, dlq.Store, and cron.Store.
func Build(r *conveyor.Runner, opts ...Option) (*Engine, error) {
	logger := r.Logger()
	store := r.Store()

	if store == nil {
		return nil, conveyor.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement dlq.Store")
	}
	cs, ok := store.(cron.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement cron.Store")
	}

	eng := &Engine{
		r:        r,
		hooks:    hook.NewRegistry(logger),
		registry: job.NewRegistry(),
		jobStore: js,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	eng.dlqService = dlq.NewService(ds, js)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/arkline/conveyor")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/arkline/conveyor")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	config := r.Config()
	workerID := id.NewWorkerID()
	executor := worker.NewExecutor(eng.registry, eng.hooks, eng.jobStore, eng.dlqService, workerID, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
		worker.WithWorkerID(workerID),
	}

	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(eng.jobStore, executor, logger, poolOpts...)

	// Wire back into the Runner.
	r.SetPool(eng.pool)
	r.SetHooks(eng.hooks)

	// Create the cron scheduler.
	eng.cronStore = cs
	enqueueFunc := func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error) {
		j, err := eng.EnqueueRaw(ctx, name, payload, opts...)
		if err != nil {
			return id.JobID{}, err
		}
		return j.ID, nil
	}
	eng.scheduler = cron.NewScheduler(cs, enqueueFunc, eng.hooks, workerID, logger)

	return eng, nil
}

// Register registers a typed job definition with the engine. A
// duplicate name or invalid definition is a configuration error and
// should be treated as fatal at startup.
func Register[T any](eng *Engine, def *job.Definition[T]) error {
	return job.RegisterDefinition(eng.registry, def)
}

// Enqueue serializes a typed payload and enqueues a job.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
//
// Defaults come from the registered definition's options (retry budget,
// queue, priority, timeout); explicit options override them. The job is
// created on its first attempt with RunAt = now unless a later RunAt is
// given.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts, registered := eng.registry.Options(name)
	if !registered {
		jobOpts = job.DefaultOptions()
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Payload:     payload,
		State:       job.StatePending,
		Queue:       jobOpts.Queue,
		Priority:    jobOpts.Priority,
		Attempt:     1,
		MaxAttempts: jobOpts.Retry.MaxAttempts,
		Timeout:     jobOpts.Timeout,
		EnqueuedAt:  now,
		RunAt:       now,
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.hooks.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start begins job processing by starting the cron scheduler and the
// worker pool. Definitions registered with a schedule are materialized
// as cron entries first.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.registerScheduledDefinitions(ctx); err != nil {
		return err
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return eng.r.Start(ctx)
}

// registerScheduledDefinitions creates a cron entry for every job
// definition that carries a schedule expression. Entries are named
// after the job, so re-registration across restarts is idempotent.
func (eng *Engine) registerScheduledDefinitions(ctx context.Context) error {
	for name, opts := range eng.registry.Scheduled() {
		def := &cron.Definition[json.RawMessage]{
			Name:     name,
			Schedule: opts.Schedule,
			JobName:  name,
			Payload:  json.RawMessage(`{}`),
			Queue:    opts.Queue,
		}
		if err := RegisterCron(ctx, eng, def); err != nil {
			return fmt.Errorf("register scheduled definition %q: %w", name, err)
		}
	}
	return nil
}

// Stop gracefully shuts down the engine. The scheduler and the worker
// pool stop concurrently; in-flight jobs run to completion unless ctx
// expires first.
func (eng *Engine) Stop(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.scheduler.Stop(gctx) })
	g.Go(func() error { return eng.r.Stop(gctx) })
	return g.Wait()
}

// Status reports the worker pool's running state and backlog.
func (eng *Engine) Status(ctx context.Context) (worker.Status, error) {
	return eng.pool.Status(ctx)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Runner returns the underlying Runner.
func (eng *Engine) Runner() *conveyor.Runner { return eng.r }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// CronStore returns the cron store.
func (eng *Engine) CronStore() cron.Store { return eng.cronStore }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// RegisterCron registers a typed cron definition with the engine.
// It validates the schedule expression, computes the initial NextRunAt,
// and persists the entry. Re-registration of the same name is idempotent.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", def.Schedule, err)
	}

	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal cron payload: %w", err)
	}

	now := time.Now().UTC()
	next := sched.Next(now)

	entry := &cron.Entry{
		Entity:    conveyor.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		JobName:   def.JobName,
		Queue:     def.Queue,
		Payload:   payload,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		// Idempotent: ignore duplicate cron entries.
		if errors.Is(err, conveyor.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_name", def.JobName),
		slog.Time("next_run_at", next),
	)

	return nil
}
