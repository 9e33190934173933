package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arkline/conveyor"
)

// HandlerFunc is a type-erased job handler that accepts a raw JSON
// payload. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) (any, error)

// registration pairs a handler with its definition options so enqueue
// and cron triggering can read the definition's defaults.
type registration struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps job names to type-erased handler functions and their
// definition options. Registration happens at process start; reads are
// lock-protected but effectively contention-free afterwards.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]registration
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]registration),
	}
}

// RegisterDefinition registers a typed job definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// before calling the typed handler.
//
// Registering a name twice returns conveyor.ErrDuplicateDefinition and a
// malformed retry policy returns conveyor.ErrInvalidDefinition; both are
// meant to be fatal at startup.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	if def.Name == "" {
		return fmt.Errorf("%w: empty name", conveyor.ErrInvalidDefinition)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: job %q has no handler", conveyor.ErrInvalidDefinition, def.Name)
	}
	if err := def.Opts.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: job %q: %v", conveyor.ErrInvalidDefinition, def.Name, err)
	}

	handler := func(ctx context.Context, payload []byte) (any, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("%w: %q", conveyor.ErrDuplicateDefinition, def.Name)
	}
	r.defs[def.Name] = registration{handler: handler, opts: def.Opts}
	return nil
}

// Get returns the handler for the given job name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.defs[name]
	if !ok {
		return nil, false
	}
	return reg.handler, true
}

// Options returns the definition options for the given job name.
// Returns false if no definition is registered.
func (r *Registry) Options(name string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.defs[name]
	if !ok {
		return Options{}, false
	}
	return reg.opts, true
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}

// Scheduled returns the names and options of all definitions carrying a
// cron schedule, for the cron trigger to register at startup.
func (r *Registry) Scheduled() map[string]Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Options)
	for name, reg := range r.defs {
		if reg.opts.Schedule != "" {
			out[name] = reg.opts
		}
	}
	return out
}
