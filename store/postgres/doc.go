// Package postgres provides a PostgreSQL-backed store for conveyor using
// pgx/v5. Dequeue uses FOR UPDATE SKIP LOCKED so multiple worker processes
// can share one database without double-claiming jobs, and cron firing
// locks are plain conditional updates on the entry row.
//
// Call Migrate once at startup to apply the embedded schema migrations.
package postgres
