package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkline/conveyor/job"
	"github.com/arkline/conveyor/worker"
)

func startPool(t *testing.T, rig *testRig, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()
	base := []worker.PoolOption{
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10 * time.Millisecond),
	}
	p := worker.NewPool(rig.store, rig.executor, discardLogger(), append(base, opts...)...)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPool_ProcessesEnqueuedJobs(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	var handled atomic.Int32
	def := job.NewDefinition("tick", func(ctx context.Context, p countPayload) (any, error) {
		handled.Add(1)
		return nil, nil
	}, job.WithRetryPolicy(fixedPolicy(3)))
	if err := job.RegisterDefinition(rig.registry, def); err != nil {
		t.Fatalf("register: %v", err)
	}

	for range 3 {
		if err := rig.store.EnqueueJob(ctx, pendingJob("tick", 1, 3)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	startPool(t, rig)

	waitFor(t, 2*time.Second, func() bool {
		n, err := rig.store.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
		return err == nil && n == 3
	})
	if got := handled.Load(); got != 3 {
		t.Errorf("handler ran %d times, want 3", got)
	}
}

func TestPool_RetriesThroughToCompletion(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	// Fail the first attempt, succeed on the second. The retry delay is
	// short so the pool picks the job back up quickly.
	var calls atomic.Int32
	def := job.NewDefinition("second-try", func(ctx context.Context, p countPayload) (any, error) {
		if calls.Add(1) == 1 {
			return nil, context.DeadlineExceeded
		}
		return nil, nil
	}, job.WithRetryPolicy(fixedPolicy(3)))
	if err := job.RegisterDefinition(rig.registry, def); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := rig.store.EnqueueJob(ctx, pendingJob("second-try", 1, 3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	startPool(t, rig)

	waitFor(t, 3*time.Second, func() bool {
		n, err := rig.store.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
		return err == nil && n == 1
	})
	if got := calls.Load(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
}

// flakyStore fails the first few dequeues to simulate a backend outage.
type flakyStore struct {
	job.Store
	remaining atomic.Int32
}

func (s *flakyStore) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if s.remaining.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	return s.Store.DequeueJobs(ctx, queues, limit)
}

func TestPool_KeepsPollingThroughDequeueErrors(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	var handled atomic.Int32
	def := job.NewDefinition("resilient", func(ctx context.Context, p countPayload) (any, error) {
		handled.Add(1)
		return nil, nil
	}, job.WithRetryPolicy(fixedPolicy(3)))
	if err := job.RegisterDefinition(rig.registry, def); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := rig.store.EnqueueJob(ctx, pendingJob("resilient", 1, 3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	flaky := &flakyStore{Store: rig.store}
	flaky.remaining.Store(3)

	p := worker.NewPool(flaky, rig.executor, discardLogger(),
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(sctx)
	})

	// The loop must outlast the outage and process the backlog.
	waitFor(t, 2*time.Second, func() bool { return handled.Load() == 1 })
	if flaky.remaining.Load() >= 0 {
		t.Error("dequeue never failed, outage not exercised")
	}
}

// denyOnceManager rejects the first Acquire and admits the rest.
type denyOnceManager struct {
	denied atomic.Int32
}

func (m *denyOnceManager) Acquire(string) bool { return !m.denied.CompareAndSwap(0, 1) }
func (m *denyOnceManager) Release(string)      {}

func TestPool_RateLimitedJobIsReadmitted(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	var handled atomic.Int32
	def := job.NewDefinition("throttled", func(ctx context.Context, p countPayload) (any, error) {
		handled.Add(1)
		return nil, nil
	}, job.WithRetryPolicy(fixedPolicy(3)))
	if err := job.RegisterDefinition(rig.registry, def); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := rig.store.EnqueueJob(ctx, pendingJob("throttled", 1, 3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	mgr := &denyOnceManager{}
	startPool(t, rig, worker.WithQueueManager(mgr))

	// The pushed-back job must come around again and complete.
	waitFor(t, 2*time.Second, func() bool {
		n, err := rig.store.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
		return err == nil && n == 1
	})
	if mgr.denied.Load() != 1 {
		t.Error("queue manager never denied, pushback not exercised")
	}
	if got := handled.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestPool_ReaperReturnsStaleJobs(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	var handled atomic.Int32
	def := job.NewDefinition("orphaned", func(ctx context.Context, p countPayload) (any, error) {
		handled.Add(1)
		return nil, nil
	}, job.WithRetryPolicy(fixedPolicy(3)))
	if err := job.RegisterDefinition(rig.registry, def); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Simulate a worker that claimed the job and died: running state
	// with a heartbeat far in the past.
	claimed := rig.claim(t, pendingJob("orphaned", 1, 3))
	old := time.Now().UTC().Add(-time.Hour)
	claimed.HeartbeatAt = &old
	if err := rig.store.UpdateJob(ctx, claimed); err != nil {
		t.Fatalf("update: %v", err)
	}

	startPool(t, rig, worker.WithStaleJobThreshold(20*time.Millisecond))

	// The reaper must reset the claim and the poll loop must run it.
	waitFor(t, 2*time.Second, func() bool {
		n, err := rig.store.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
		return err == nil && n == 1
	})
	if got := handled.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestPool_StartIsIdempotent(t *testing.T) {
	rig := newRig(t)
	p := startPool(t, rig)

	// Second Start must not spawn a second set of workers or panic.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	st, err := p.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Running {
		t.Error("pool should report running")
	}
}

func TestPool_StopIsIdempotentAndCooperative(t *testing.T) {
	rig := newRig(t)
	p := startPool(t, rig)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	st, err := p.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Running {
		t.Error("pool should report stopped")
	}
}

func TestPool_StatusReportsBacklog(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	// No pool started: enqueued jobs stay pending.
	p := worker.NewPool(rig.store, rig.executor, discardLogger())
	for range 2 {
		if err := rig.store.EnqueueJob(ctx, pendingJob("queued", 1, 3)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	st, err := p.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Running {
		t.Error("unstarted pool should not report running")
	}
	if st.QueueSize != 2 {
		t.Errorf("queue size = %d, want 2", st.QueueSize)
	}
}

func TestPool_StopWaitsForInflightJob(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	def := job.NewDefinition("slow", func(ctx context.Context, p countPayload) (any, error) {
		close(entered)
		<-release
		finished.Store(true)
		return nil, nil
	}, job.WithRetryPolicy(fixedPolicy(3)))
	if err := job.RegisterDefinition(rig.registry, def); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := rig.store.EnqueueJob(ctx, pendingJob("slow", 1, 3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := startPool(t, rig)
	<-entered

	stopDone := make(chan error, 1)
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopDone <- p.Stop(sctx)
	}()

	// Stop must block while the handler is still running.
	select {
	case <-stopDone:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-stopDone; err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finished.Load() {
		t.Error("in-flight job should have finished before Stop returned")
	}
}
