package job

import (
	"context"
	"time"

	"github.com/arkline/conveyor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. It is the queue: an
// ordered, durable holding area for pending and retry-scheduled
// instances. All mutating operations must be atomic with respect to each
// other so multiple worker processes can share one store.
type Store interface {
	// EnqueueJob persists a new job in pending state. Enqueueing an ID
	// that already exists returns conveyor.ErrJobAlreadyExists.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit ready jobs from the given
	// queues, sets them to running, and returns them. A job is ready when
	// its state is pending or retrying and RunAt <= now. Ordering:
	// priority descending, then RunAt ascending, then ID ascending
	// (enqueue order). A claimed job is never returned to a second
	// caller until it is requeued or reaped.
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// RequeueJob re-admits a job whose attempt failed. The caller has
	// already incremented Attempt, set LastError, and recomputed RunAt
	// from the backoff policy; the store persists it in retrying state.
	RequeueJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob updates the heartbeat timestamp for a running job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older
	// than the given threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	// The count may be approximate under concurrent mutation.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
