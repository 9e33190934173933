package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/cron"
	"github.com/arkline/conveyor/dlq"
	"github.com/arkline/conveyor/id"
	"github.com/arkline/conveyor/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(name, queue string, state job.State, priority job.Priority) *job.Job {
	return &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       queue,
		Payload:     []byte(`{"test":true}`),
		State:       state,
		Priority:    priority,
		Attempt:     1,
		MaxAttempts: 3,
		EnqueuedAt:  time.Now().UTC(),
		RunAt:       time.Now().UTC().Add(-time.Second), // ready immediately
	}
}

func TestJobEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("test-job", "default", job.StatePending, job.PriorityNormal)

	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue err = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "test-job" || got.Queue != "default" {
		t.Errorf("got %q/%q, want test-job/default", got.Name, got.Queue)
	}

	// The store returns copies.
	got.Name = "mutated"
	again, _ := s.GetJob(ctx, j.ID)
	if again.Name != "test-job" {
		t.Error("store returned a live reference, not a copy")
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("missing job err = %v, want ErrJobNotFound", err)
	}
}

func TestDequeueOrdering(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	// Enqueue in shuffled priority order. IDs are generated in sequence,
	// so same-priority jobs come out oldest first.
	low := newJob("low", "default", job.StatePending, job.PriorityLow)
	urgentA := newJob("urgent-a", "default", job.StatePending, job.PriorityUrgent)
	normal := newJob("normal", "default", job.StatePending, job.PriorityNormal)
	// ID timestamps have millisecond precision; space the second urgent
	// job out so its ID sorts strictly after the first.
	time.Sleep(2 * time.Millisecond)
	urgentB := newJob("urgent-b", "default", job.StatePending, job.PriorityUrgent)

	sameRunAt := time.Now().UTC().Add(-time.Second)
	for _, j := range []*job.Job{low, urgentA, normal, urgentB} {
		j.RunAt = sameRunAt
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue %s: %v", j.Name, err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	want := []string{"urgent-a", "urgent-b", "normal", "low"}
	if len(jobs) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(jobs), len(want))
	}
	for i, name := range want {
		if jobs[i].Name != name {
			t.Errorf("position %d: got %q, want %q", i, jobs[i].Name, name)
		}
		if jobs[i].State != job.StateRunning {
			t.Errorf("%s state = %s, want running", jobs[i].Name, jobs[i].State)
		}
	}
}

func TestDequeueReadiness(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	ready := newJob("ready", "default", job.StatePending, job.PriorityNormal)
	future := newJob("future", "default", job.StatePending, job.PriorityUrgent)
	future.RunAt = time.Now().UTC().Add(time.Hour)
	retrying := newJob("retrying", "default", job.StateRetrying, job.PriorityNormal)
	done := newJob("done", "default", job.StateCompleted, job.PriorityNormal)

	for _, j := range []*job.Job{ready, future, retrying, done} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue %s: %v", j.Name, err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	names := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		names[j.Name] = true
	}
	if !names["ready"] || !names["retrying"] {
		t.Errorf("ready and retrying jobs should be dequeued, got %v", names)
	}
	if names["future"] {
		t.Error("a job with future RunAt must not be dequeued, regardless of priority")
	}
	if names["done"] {
		t.Error("completed jobs must not be dequeued")
	}
}

func TestDequeueClaimsExclusively(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("solo", "default", job.StatePending, job.PriorityNormal)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("first dequeue: jobs=%d err=%v", len(first), err)
	}

	second, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("claimed job was dequeued twice")
	}
}

func TestDequeueQueueFilterAndLimit(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, q := range []string{"emails", "emails", "reports"} {
		if err := s.EnqueueJob(ctx, newJob("j-"+q, q, job.StatePending, job.PriorityNormal)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, []string{"emails"}, 1)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Queue != "emails" {
		t.Fatalf("got %d jobs from %q, want 1 from emails", len(jobs), jobs[0].Queue)
	}
}

func TestRequeueJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("flaky", "default", job.StatePending, job.PriorityHigh)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("dequeue: jobs=%d err=%v", len(claimed), err)
	}

	// Simulate a failed attempt requeued with a past RunAt.
	c := claimed[0]
	c.Attempt = 2
	c.State = job.StateRetrying
	c.RunAt = time.Now().UTC().Add(-time.Millisecond)
	c.LastError = "boom"
	if err := s.RequeueJob(ctx, c); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	again, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil || len(again) != 1 {
		t.Fatalf("dequeue after requeue: jobs=%d err=%v", len(again), err)
	}
	if again[0].Attempt != 2 {
		t.Errorf("attempt = %d, want 2", again[0].Attempt)
	}
	if again[0].Priority != job.PriorityHigh {
		t.Errorf("priority = %v, want high (requeue preserves priority)", again[0].Priority)
	}

	ghost := newJob("ghost", "default", job.StateRetrying, job.PriorityNormal)
	if err := s.RequeueJob(ctx, ghost); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("requeue unknown job err = %v, want ErrJobNotFound", err)
	}
}

func TestListCountDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newJob("a", "default", job.StatePending, job.PriorityNormal)
	b := newJob("b", "default", job.StateCompleted, job.PriorityNormal)
	for _, j := range []*job.Job{a, b} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pending, err := s.ListJobsByState(ctx, job.StatePending, job.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "a" {
		t.Errorf("pending list = %v", pending)
	}

	n, err := s.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
	if err != nil || n != 1 {
		t.Errorf("count completed = %d err=%v, want 1", n, err)
	}

	if err := s.DeleteJob(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetJob(ctx, a.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
}

func TestHeartbeatAndReap(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("long-runner", "default", job.StateRunning, job.PriorityNormal)
	old := time.Now().UTC().Add(-time.Hour)
	j.HeartbeatAt = &old
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != j.ID {
		t.Fatalf("stale = %v, want the hour-old job", stale)
	}

	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	stale, err = s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap after heartbeat: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("freshly heartbeated job reported stale")
	}
}

// ──────────────────────────────────────────────────
// Cron Store tests
// ──────────────────────────────────────────────────

func newCron(name string) *cron.Entry {
	return &cron.Entry{
		Entity:   conveyor.NewEntity(),
		ID:       id.NewCronID(),
		Name:     name,
		Schedule: "*/5 * * * *",
		JobName:  "tick",
		Enabled:  true,
	}
}

func TestCronRegisterAndLocks(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCron("nightly")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("register: %v", err)
	}

	dup := newCron("nightly")
	if err := s.RegisterCron(ctx, dup); !errors.Is(err, conveyor.ErrDuplicateCron) {
		t.Fatalf("duplicate register err = %v, want ErrDuplicateCron", err)
	}

	w1 := id.NewWorkerID()
	w2 := id.NewWorkerID()

	ok, err := s.AcquireCronLock(ctx, e.ID, w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w1 acquire: ok=%v err=%v", ok, err)
	}

	ok, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil {
		t.Fatalf("w2 acquire: %v", err)
	}
	if ok {
		t.Error("second worker acquired a held lock")
	}

	// Re-acquire by the holder succeeds.
	ok, _ = s.AcquireCronLock(ctx, e.ID, w1, time.Minute)
	if !ok {
		t.Error("holder could not re-acquire its own lock")
	}

	if err := s.ReleaseCronLock(ctx, e.ID, w1); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if !ok {
		t.Error("released lock could not be acquired")
	}
}

func TestCronUpdateAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newCron("report")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("register: %v", err)
	}

	fired := time.Now().UTC()
	if err := s.UpdateCronLastRun(ctx, e.ID, fired); err != nil {
		t.Fatalf("update last run: %v", err)
	}

	e.Enabled = false
	if err := s.UpdateCronEntry(ctx, e); err != nil {
		t.Fatalf("update entry: %v", err)
	}

	got, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled {
		t.Error("entry should be disabled")
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(fired) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, fired)
	}

	if err := s.DeleteCron(ctx, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetCron(ctx, e.ID); !errors.Is(err, conveyor.ErrCronNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
}

// ──────────────────────────────────────────────────
// DLQ Store tests
// ──────────────────────────────────────────────────

func newDLQEntry(queue string, failedAt time.Time) *dlq.Entry {
	return &dlq.Entry{
		ID:        id.NewDLQID(),
		JobID:     id.NewJobID(),
		JobName:   "doomed",
		Queue:     queue,
		Error:     "boom",
		Attempts:  3,
		FailedAt:  failedAt,
		CreatedAt: failedAt,
	}
}

func TestDLQPushListReplay(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	older := newDLQEntry("default", time.Now().UTC().Add(-time.Hour))
	newer := newDLQEntry("default", time.Now().UTC())
	for _, e := range []*dlq.Entry{newer, older} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	list, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || !list[0].FailedAt.Before(list[1].FailedAt) {
		t.Errorf("list should be oldest first, got %v", list)
	}

	if err := s.ReplayDLQ(ctx, older.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	got, err := s.GetDLQ(ctx, older.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt should be set after replay")
	}

	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("replay unknown err = %v, want ErrDLQNotFound", err)
	}
}

func TestDLQPurgeAndCount(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	old := newDLQEntry("default", time.Now().UTC().Add(-48*time.Hour))
	fresh := newDLQEntry("default", time.Now().UTC())
	for _, e := range []*dlq.Entry{old, fresh} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	removed, err := s.PurgeDLQ(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("purged %d, want 1", removed)
	}

	n, err := s.CountDLQ(ctx)
	if err != nil || n != 1 {
		t.Errorf("count = %d err=%v, want 1", n, err)
	}
}
