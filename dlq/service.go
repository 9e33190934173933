package dlq

import (
	"context"
	"time"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/id"
	"github.com/arkline/conveyor/job"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a dead letter service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Record builds an Entry from a terminally failed job and persists it.
// The worker treats a Record failure as log-and-continue: losing a dead
// letter entry must never block job processing.
func (s *Service) Record(ctx context.Context, j *job.Job, finalErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		JobName:     j.Name,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Error:       finalErr.Error(),
		Attempts:    j.Attempt,
		MaxAttempts: j.MaxAttempts,
		Priority:    j.Priority,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Replay re-enqueues a dead-lettered job as a new pending instance and
// marks the entry as replayed. The new job keeps the original payload,
// queue, and priority but gets a fresh ID and attempt budget.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Name:        entry.JobName,
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		State:       job.StatePending,
		Priority:    entry.Priority,
		Attempt:     1,
		MaxAttempts: entry.MaxAttempts,
		EnqueuedAt:  now,
		RunAt:       now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Return it along with the error.
		return j, err
	}

	return j, nil
}

// DLQStore returns the underlying store for direct access to List, Get,
// Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
