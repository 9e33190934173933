// Package sqlite implements store.Store on database/sql with the
// mattn/go-sqlite3 driver. Suitable for embedded/edge deployments, CLI
// tools, and standalone applications.
//
// SQLite serializes writers, so dequeue claims run inside a single
// transaction without explicit row locks. Timestamps are stored as
// RFC 3339 text.
//
//	s, err := sqlite.Open(ctx, "file:conveyor.db?_busy_timeout=5000")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package sqlite
