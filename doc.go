// Package conveyor provides a composable background job subsystem for Go:
// typed job definitions, a durable priority queue contract with pluggable
// store backends, retry with backoff, dead-lettering, and cron triggers.
//
// Conveyor is designed as a library, not a service. Import it, configure a
// store, and register jobs as ordinary Go functions.
//
// # Quick Start
//
//	r, err := conveyor.New(
//	    conveyor.WithStore(memory.New()),
//	    conveyor.WithConcurrency(8),
//	)
//
// # Architecture
//
// Conveyor follows a composable store pattern where each subsystem (job,
// dlq, cron) defines its own store interface. A single backend implements
// all of them: Postgres, Redis, SQLite, or the in-memory store used for
// testing and development.
//
// The engine package wires the pieces together: the handler registry, the
// middleware chain, the executor that runs handlers under their timeout,
// the polling worker pool, and the cron trigger. All entity IDs use
// TypeID — type-prefixed, K-sortable, UUIDv7-based identifiers; the
// K-sortability doubles as the FIFO tie-break within a priority class.
package conveyor
