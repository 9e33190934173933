package queue_test

import (
	"testing"

	"github.com/arkline/conveyor/queue"
)

func TestManager_UnconfiguredQueueHasNoLimits(t *testing.T) {
	m := queue.NewManager()

	for range 100 {
		if !m.Acquire("anything") {
			t.Fatal("Acquire returned false for unconfigured queue")
		}
	}
}

func TestManager_ConcurrencyCap(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "email", MaxConcurrency: 2})

	if !m.Acquire("email") {
		t.Fatal("first Acquire failed")
	}
	if !m.Acquire("email") {
		t.Fatal("second Acquire failed")
	}
	if m.Acquire("email") {
		t.Fatal("third Acquire succeeded beyond MaxConcurrency=2")
	}

	m.Release("email")
	if !m.Acquire("email") {
		t.Fatal("Acquire failed after Release freed a slot")
	}
}

func TestManager_RateLimit(t *testing.T) {
	// 1 job/s with burst 2: the first two Acquires pass, the third is
	// rate limited.
	m := queue.NewManager(queue.Config{Name: "bulk", RateLimit: 1, RateBurst: 2})

	if !m.Acquire("bulk") {
		t.Fatal("first Acquire failed")
	}
	if !m.Acquire("bulk") {
		t.Fatal("second Acquire failed within burst")
	}
	if m.Acquire("bulk") {
		t.Fatal("third Acquire succeeded beyond the burst budget")
	}
}

func TestManager_ReleaseNeverGoesNegative(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", MaxConcurrency: 1})

	m.Release("q")
	m.Release("q")

	if got := m.ActiveCount("q"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
	if !m.Acquire("q") {
		t.Error("Acquire failed after spurious releases")
	}
}

func TestManager_SetQueueConfigPreservesActiveCount(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "q", MaxConcurrency: 5})

	if !m.Acquire("q") {
		t.Fatal("Acquire failed")
	}

	m.SetQueueConfig(queue.Config{Name: "q", MaxConcurrency: 1})

	if got := m.ActiveCount("q"); got != 1 {
		t.Errorf("ActiveCount after reconfigure = %d, want 1", got)
	}
	// The single slot is occupied by the pre-reconfigure job.
	if m.Acquire("q") {
		t.Error("Acquire succeeded beyond the reconfigured cap")
	}
}
