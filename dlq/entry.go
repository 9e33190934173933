package dlq

import (
	"time"

	"github.com/arkline/conveyor/id"
	"github.com/arkline/conveyor/job"
)

// Entry represents a job that has exhausted its attempt budget and been
// recorded for operator inspection or replay.
type Entry struct {
	ID          id.DLQID     `json:"id"`
	JobID       id.JobID     `json:"job_id"`
	JobName     string       `json:"job_name"`
	Queue       string       `json:"queue"`
	Payload     []byte       `json:"payload"`
	Error       string       `json:"error"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	Priority    job.Priority `json:"priority"`
	FailedAt    time.Time    `json:"failed_at"`
	ReplayedAt  *time.Time   `json:"replayed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
