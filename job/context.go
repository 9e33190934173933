package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/arkline/conveyor/id"
)

// Execution is the per-attempt context handed to handlers through the
// stdlib context. It is ephemeral and never persisted.
type Execution struct {
	JobID       id.JobID
	Name        string
	Attempt     int
	MaxAttempts int
	EnqueuedAt  time.Time
	Logger      *slog.Logger
}

type executionKey struct{}

// NewContext returns a context carrying the execution info.
func NewContext(ctx context.Context, e *Execution) context.Context {
	return context.WithValue(ctx, executionKey{}, e)
}

// FromContext extracts the execution info, if any.
func FromContext(ctx context.Context) (*Execution, bool) {
	e, ok := ctx.Value(executionKey{}).(*Execution)
	return e, ok
}

// Log returns the execution's logger, pre-scoped with job attributes.
// Outside an execution it falls back to slog.Default so handlers can log
// unconditionally.
func Log(ctx context.Context) *slog.Logger {
	if e, ok := FromContext(ctx); ok && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
