package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/dlq"
	"github.com/arkline/conveyor/id"
	"github.com/arkline/conveyor/job"
)

const dlqColumns = `
	id, job_id, job_name, queue, payload, error,
	attempts, max_attempts, priority,
	failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_dlq (
			id, job_id, job_name, queue, payload, error,
			attempts, max_attempts, priority,
			failed_at, replayed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.JobID.String(), entry.JobName,
		entry.Queue, entry.Payload, entry.Error,
		entry.Attempts, entry.MaxAttempts, int(entry.Priority),
		fmtTime(entry.FailedAt), fmtTimePtr(entry.ReplayedAt), fmtTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching the given options, oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM conveyor_dlq WHERE 1=1`
	args := []any{}

	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}

	query += " ORDER BY failed_at ASC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list dlq: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM conveyor_dlq WHERE id = ?`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conveyor_dlq SET replayed_at = ? WHERE id = ?`,
		fmtTime(time.Now()), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: replay dlq: %w", err)
	}
	return requireRowAffected(res, conveyor.ErrDLQNotFound)
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
// Returns the number of entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conveyor_dlq WHERE failed_at < ?`,
		fmtTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: purge dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: purge dlq rows: %w", err)
	}
	return n, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conveyor_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row rowScanner) (*dlq.Entry, error) {
	var (
		e          dlq.Entry
		idStr      string
		jobIDStr   string
		priority   int
		failedAt   string
		replayedAt sql.NullString
		createdAt  string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.JobName, &e.Queue, &e.Payload, &e.Error,
		&e.Attempts, &e.MaxAttempts, &priority,
		&failedAt, &replayedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Priority = job.Priority(priority)
	e.FailedAt = parseTime(failedAt)
	e.ReplayedAt = parseTimePtr(replayedAt)
	e.CreatedAt = parseTime(createdAt)

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, jobParseErr := id.ParseJobID(jobIDStr)
	if jobParseErr != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse job id %q: %w", jobIDStr, jobParseErr)
	}
	e.JobID = parsedJobID

	return &e, nil
}
