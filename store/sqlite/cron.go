package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/cron"
	"github.com/arkline/conveyor/id"
)

const cronColumns = `
	id, name, schedule, job_name, queue, payload,
	last_run_at, next_run_at, locked_by, locked_until,
	enabled, created_at, updated_at`

// RegisterCron persists a new cron entry. Returns conveyor.ErrDuplicateCron
// if the name already exists.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_cron_entries (
			id, name, schedule, job_name, queue, payload,
			last_run_at, next_run_at, locked_by, locked_until,
			enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.JobName, entry.Queue, entry.Payload,
		fmtTimePtr(entry.LastRunAt), fmtTimePtr(entry.NextRunAt),
		nilIfEmpty(entry.LockedBy), fmtTimePtr(entry.LockedUntil),
		entry.Enabled, fmtTime(entry.CreatedAt), fmtTime(entry.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrDuplicateCron
		}
		return fmt.Errorf("conveyor/sqlite: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cronColumns+` FROM conveyor_cron_entries WHERE id = ?`,
		entryID.String(),
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrCronNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cronColumns+` FROM conveyor_cron_entries ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list crons: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate cron rows: %w", err)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the firing lock for a cron entry.
// The conditional update succeeds when the lock is free, expired, or
// already held by this worker.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	wID := workerID.String()

	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_cron_entries
		SET locked_by = ?, locked_until = ?, updated_at = ?
		WHERE id = ?
		  AND (locked_by IS NULL OR locked_until < ? OR locked_by = ?)`,
		wID, fmtTime(now.Add(ttl)), fmtTime(now),
		entryID.String(), fmtTime(now), wID,
	)
	if err != nil {
		return false, fmt.Errorf("conveyor/sqlite: acquire cron lock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conveyor/sqlite: acquire cron lock rows: %w", err)
	}
	if n == 0 {
		var exists bool
		existErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_cron_entries WHERE id = ?)`,
			entryID.String(),
		).Scan(&exists)
		if existErr != nil {
			return false, fmt.Errorf("conveyor/sqlite: check cron exists: %w", existErr)
		}
		if !exists {
			return false, conveyor.ErrCronNotFound
		}
		// Entry exists but the lock is held by another worker.
		return false, nil
	}

	return true, nil
}

// ReleaseCronLock releases the firing lock for a cron entry.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_cron_entries
		SET locked_by = NULL, locked_until = NULL, updated_at = ?
		WHERE id = ? AND locked_by = ?`,
		fmtTime(time.Now()), entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_cron_entries
		SET last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		fmtTime(at), fmtTime(time.Now()), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update cron last run: %w", err)
	}
	return requireRowAffected(res, conveyor.ErrCronNotFound)
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_cron_entries SET
			name = ?, schedule = ?, job_name = ?, queue = ?, payload = ?,
			last_run_at = ?, next_run_at = ?,
			locked_by = ?, locked_until = ?,
			enabled = ?, updated_at = ?
		WHERE id = ?`,
		entry.Name, entry.Schedule, entry.JobName, entry.Queue, entry.Payload,
		fmtTimePtr(entry.LastRunAt), fmtTimePtr(entry.NextRunAt),
		nilIfEmpty(entry.LockedBy), fmtTimePtr(entry.LockedUntil),
		entry.Enabled, fmtTime(time.Now()), entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update cron entry: %w", err)
	}
	return requireRowAffected(res, conveyor.ErrCronNotFound)
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conveyor_cron_entries WHERE id = ?`, entryID.String())
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete cron: %w", err)
	}
	return requireRowAffected(res, conveyor.ErrCronNotFound)
}

// scanCron scans a single cron entry row.
func scanCron(row rowScanner) (*cron.Entry, error) {
	var (
		e           cron.Entry
		idStr       string
		lastRunAt   sql.NullString
		nextRunAt   sql.NullString
		lockBy      sql.NullString
		lockedUntil sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.JobName, &e.Queue, &e.Payload,
		&lastRunAt, &nextRunAt, &lockBy, &lockedUntil,
		&e.Enabled, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.LastRunAt = parseTimePtr(lastRunAt)
	e.NextRunAt = parseTimePtr(nextRunAt)
	e.LockedUntil = parseTimePtr(lockedUntil)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	if lockBy.Valid {
		e.LockedBy = lockBy.String
	}

	parsedID, parseErr := id.ParseCronID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}

// nilIfEmpty maps the empty string to SQL NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
