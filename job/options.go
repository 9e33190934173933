package job

import (
	"time"

	"github.com/arkline/conveyor/backoff"
)

// Options configures per-definition behavior: retry policy, queue,
// priority, timeout, and an optional cron schedule. The same options are
// accepted at enqueue time to override definition defaults per instance.
type Options struct {
	// Retry controls the attempt budget and the backoff curve between
	// attempts. MaxAttempts is copied onto each instance at enqueue time.
	Retry backoff.Policy

	// Queue is the queue name instances are enqueued to.
	Queue string

	// Priority determines dequeue ordering among ready jobs.
	Priority Priority

	// Timeout is the maximum duration one attempt may run before the
	// executor abandons it. Zero or negative means no timeout.
	Timeout time.Duration

	// Schedule is an optional five-field cron expression. When set, the
	// cron trigger enqueues an instance on each firing; the queue and
	// executor never interpret it themselves.
	Schedule string

	// RunAt defers the instance until a specific time. Zero means
	// immediately ready. Only meaningful at enqueue time.
	RunAt time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Retry:    backoff.Default(),
		Queue:    "default",
		Priority: PriorityNormal,
		Timeout:  5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition or a
// single enqueue.
type Option func(*Options)

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(o *Options) {
		o.Retry = p
	}
}

// WithMaxAttempts sets only the attempt budget, keeping the default
// backoff curve.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.Retry.MaxAttempts = n
	}
}

// WithQueue sets the queue name.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the dequeue priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithSchedule attaches a cron schedule to the definition.
func WithSchedule(expr string) Option {
	return func(o *Options) {
		o.Schedule = expr
	}
}

// WithRunAt defers execution until a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}
