package job

import (
	"time"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts and was dead-lettered.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for another attempt.
	StateRetrying State = "retrying"
)

// Priority orders ready jobs at dequeue time. Higher values dequeue first;
// jobs of equal priority dequeue in enqueue order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// Job is one unit of deferred work awaiting execution.
//
// Attempt starts at 1 and is incremented by the worker on each requeue;
// MaxAttempts is copied from the definition's retry policy at enqueue time
// and is immutable per instance. RunAt is the earliest time the job may be
// dequeued; requeues recompute it from the backoff policy.
type Job struct {
	conveyor.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Priority    Priority      `json:"priority"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
