// Package store defines the aggregate persistence interface. Each
// subsystem (job, cron, dlq) defines its own store interface; the
// composite Store composes them all. Backends: Postgres, SQLite,
// Redis, and Memory.
package store

import (
	"context"

	"github.com/arkline/conveyor/cron"
	"github.com/arkline/conveyor/dlq"
	"github.com/arkline/conveyor/job"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	job.Store
	cron.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
