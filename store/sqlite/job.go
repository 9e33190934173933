package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/id"
	"github.com/arkline/conveyor/job"
)

const jobColumns = `
	id, name, queue, payload, state, priority, attempt, max_attempts,
	last_error, worker_id, enqueued_at, run_at, started_at, completed_at,
	heartbeat_at, timeout, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_jobs (
			id, name, queue, payload, state, priority, attempt, max_attempts,
			last_error, worker_id, enqueued_at, run_at, started_at,
			completed_at, heartbeat_at, timeout, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		int(j.Priority), j.Attempt, j.MaxAttempts,
		j.LastError, j.WorkerID.String(), fmtTime(j.EnqueuedAt), fmtTime(j.RunAt),
		fmtTimePtr(j.StartedAt), fmtTimePtr(j.CompletedAt), fmtTimePtr(j.HeartbeatAt),
		j.Timeout.Nanoseconds(), fmtTime(j.CreatedAt), fmtTime(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/sqlite: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit ready jobs from the given queues inside
// one transaction. SQLite's single-writer model makes the select-then-mark
// sequence atomic with respect to other claimers.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if len(queues) == 0 || limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: dequeue begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := fmtTime(time.Now())
	placeholders := strings.Repeat("?,", len(queues))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(queues)+2)
	for _, q := range queues {
		args = append(args, q)
	}
	args = append(args, now, limit)

	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM conveyor_jobs
		WHERE state IN ('pending', 'retrying')
		  AND queue IN (`+placeholders+`)
		  AND run_at <= ?
		ORDER BY priority DESC, run_at ASC, id ASC
		LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: dequeue select: %w", err)
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	for _, j := range jobs {
		started := time.Now().UTC()
		if _, upErr := tx.ExecContext(ctx, `
			UPDATE conveyor_jobs
			SET state = ?, started_at = ?, updated_at = ?
			WHERE id = ?`,
			string(job.StateRunning), fmtTime(started), fmtTime(started), j.ID.String(),
		); upErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: dequeue mark running: %w", upErr)
		}
		j.State = job.StateRunning
		j.StartedAt = &started
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: dequeue commit: %w", err)
	}
	return jobs, nil
}

// RequeueJob re-admits a failed job for another attempt.
func (s *Store) RequeueJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_jobs SET
			state = ?, attempt = ?, last_error = ?, run_at = ?,
			worker_id = '', started_at = NULL, heartbeat_at = NULL,
			updated_at = ?
		WHERE id = ?`,
		string(j.State), j.Attempt, j.LastError, fmtTime(j.RunAt),
		fmtTime(time.Now()), j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: requeue job: %w", err)
	}
	return requireRowAffected(res, conveyor.ErrJobNotFound)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = ?`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_jobs SET
			name = ?, queue = ?, payload = ?, state = ?,
			priority = ?, attempt = ?, max_attempts = ?,
			last_error = ?, worker_id = ?,
			enqueued_at = ?, run_at = ?, started_at = ?,
			completed_at = ?, heartbeat_at = ?, timeout = ?,
			updated_at = ?
		WHERE id = ?`,
		j.Name, j.Queue, j.Payload, string(j.State),
		int(j.Priority), j.Attempt, j.MaxAttempts,
		j.LastError, j.WorkerID.String(),
		fmtTime(j.EnqueuedAt), fmtTime(j.RunAt), fmtTimePtr(j.StartedAt),
		fmtTimePtr(j.CompletedAt), fmtTimePtr(j.HeartbeatAt), j.Timeout.Nanoseconds(),
		fmtTime(time.Now()), j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update job: %w", err)
	}
	return requireRowAffected(res, conveyor.ErrJobNotFound)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conveyor_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: delete job: %w", err)
	}
	return requireRowAffected(res, conveyor.ErrJobNotFound)
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE state = ?`
	args := []any{string(state)}

	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}

	query += " ORDER BY created_at ASC"

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
		return nil, fmt.Errorf("conveyor/sqlite: list jobs by state: %w", err)
	}

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_jobs SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND worker_id = ?`,
		now, now, jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: heartbeat job: %w", err)
	}
	return requireRowAffected(res, conveyor.ErrJobNotFound)
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := fmtTime(time.Now().Add(-threshold))
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM conveyor_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: reap stale jobs: %w", err)
	}

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_jobs WHERE 1=1`
	args := []any{}

	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// ── scan helpers ──────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans a single job row.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		stateStr    string
		priority    int
		workerStr   string
		enqueuedAt  string
		runAt       string
		startedAt   sql.NullString
		completedAt sql.NullString
		heartbeatAt sql.NullString
		timeoutNs   int64
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr,
		&priority, &j.Attempt, &j.MaxAttempts,
		&j.LastError, &workerStr, &enqueuedAt, &runAt, &startedAt,
		&completedAt, &heartbeatAt, &timeoutNs,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Priority = job.Priority(priority)
	j.Timeout = time.Duration(timeoutNs)
	j.EnqueuedAt = parseTime(enqueuedAt)
	j.RunAt = parseTime(runAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.CompletedAt = parseTimePtr(completedAt)
	j.HeartbeatAt = parseTimePtr(heartbeatAt)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/sqlite: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows and closes them.
func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close() //nolint:errcheck // read-only rows

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// requireRowAffected maps a zero-row update to notFound.
func requireRowAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
