package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this job kind.
	Name string

	// Handler processes one payload. The returned value, if non-nil, is
	// JSON-encoded into the attempt's Result.Data.
	Handler func(ctx context.Context, payload T) (any, error)

	// Opts configures retry policy, queue, priority, timeout, and an
	// optional cron schedule.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
