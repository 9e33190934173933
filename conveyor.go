package conveyor

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Runner.
type Option func(*Runner) error

// Storer is the minimal store interface held by the Runner. It covers
// lifecycle operations only; the full composite interface (store.Store)
// is used by the subsystem layers, which would create an import cycle
// if referenced here.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Runner is the central coordinator for job processing and cron
// scheduling.
//
// Create one with New() and functional options. The Runner holds
// references to subsystem components via internal interfaces to avoid
// import cycles; use engine.Build to wire everything together.
type Runner struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Runner with the given options.
func New(opts ...Option) (*Runner, error) {
	r := &Runner{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Logger returns the runner's logger.
func (r *Runner) Logger() *slog.Logger { return r.logger }

// Store returns the runner's store.
func (r *Runner) Store() Storer { return r.store }

// Config returns a copy of the runner's configuration.
func (r *Runner) Config() Config { return r.config }

// SetPool sets the worker pool (called by the engine package).
func (r *Runner) SetPool(p poolRunner) { r.pool = p }

// SetHooks sets the hook emitter (called by the engine package).
func (r *Runner) SetHooks(h hookEmitter) { r.hooks = h }

// Start begins job processing.
func (r *Runner) Start(ctx context.Context) error {
	if r.pool == nil {
		return ErrNoStore
	}
	if err := r.pool.Start(ctx); err != nil {
		return err
	}
	r.started = true
	return nil
}

// Stop gracefully shuts down the runner. In-flight executions run to
// completion unless ctx expires first.
func (r *Runner) Stop(ctx context.Context) error {
	if r.pool != nil && r.started {
		if err := r.pool.Stop(ctx); err != nil {
			r.logger.Error("pool stop error", "error", err)
		}
	}
	if r.hooks != nil {
		r.hooks.EmitShutdown(ctx)
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(r *Runner) error {
		r.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the runner will poll.
func WithQueues(queues []string) Option {
	return func(r *Runner) error {
		r.config.Queues = queues
		return nil
	}
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) error {
		r.config.PollInterval = d
		return nil
	}
}

// WithLogger sets the structured logger for the runner.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) error {
		r.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the runner. The store must
// implement Storer at minimum; typically it will be a store.Store which
// embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(r *Runner) error {
		r.store = s
		return nil
	}
}
