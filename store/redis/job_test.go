package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/id"
	"github.com/arkline/conveyor/job"
)

// spyPipeliner records the ready-set writes queued during an update.
// Only the commands UpdateJob issues are implemented; anything else
// panics through the embedded nil interface.
type spyPipeliner struct {
	goredis.Pipeliner
	zaddKeys []string
	zremKeys []string
}

func (p *spyPipeliner) HSet(_ context.Context, _ string, _ ...interface{}) *goredis.IntCmd {
	return goredis.NewIntResult(1, nil)
}

func (p *spyPipeliner) HDel(_ context.Context, _ string, _ ...string) *goredis.IntCmd {
	return goredis.NewIntResult(1, nil)
}

func (p *spyPipeliner) ZAdd(_ context.Context, key string, _ ...goredis.Z) *goredis.IntCmd {
	p.zaddKeys = append(p.zaddKeys, key)
	return goredis.NewIntResult(1, nil)
}

func (p *spyPipeliner) ZRem(_ context.Context, key string, _ ...interface{}) *goredis.IntCmd {
	p.zremKeys = append(p.zremKeys, key)
	return goredis.NewIntResult(1, nil)
}

func (p *spyPipeliner) Exec(_ context.Context) ([]goredis.Cmder, error) { return nil, nil }

type spyClient struct {
	goredis.Cmdable
	pipe *spyPipeliner
}

func (c *spyClient) Exists(_ context.Context, _ ...string) *goredis.IntCmd {
	return goredis.NewIntResult(1, nil)
}

func (c *spyClient) TxPipeline() goredis.Pipeliner { return c.pipe }

func updatableJob(state job.State) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Name:        "refill",
		Queue:       "default",
		Payload:     []byte(`{}`),
		State:       state,
		Priority:    job.PriorityNormal,
		Attempt:     1,
		MaxAttempts: 3,
		EnqueuedAt:  now,
		RunAt:       now,
	}
}

// A job reset to pending outside the dequeue path (rate-limit pushback,
// stale-job reaping) must land back on its queue's ready set, or no
// dequeue will ever see it again.
func TestUpdateJob_ReadyStateRestoresQueueMembership(t *testing.T) {
	for _, state := range []job.State{job.StatePending, job.StateRetrying} {
		pipe := &spyPipeliner{}
		s := New(&spyClient{pipe: pipe})

		j := updatableJob(state)
		if err := s.UpdateJob(context.Background(), j); err != nil {
			t.Fatalf("update %s: %v", state, err)
		}

		want := queueKey(j.Queue, j.Priority)
		if len(pipe.zaddKeys) != 1 || pipe.zaddKeys[0] != want {
			t.Errorf("state %s: zadd keys = %v, want [%s]", state, pipe.zaddKeys, want)
		}
		if len(pipe.zremKeys) != 0 {
			t.Errorf("state %s: unexpected zrem keys %v", state, pipe.zremKeys)
		}
	}
}

func TestUpdateJob_TerminalStateClearsQueueMembership(t *testing.T) {
	for _, state := range []job.State{job.StateRunning, job.StateCompleted, job.StateFailed} {
		pipe := &spyPipeliner{}
		s := New(&spyClient{pipe: pipe})

		j := updatableJob(state)
		if err := s.UpdateJob(context.Background(), j); err != nil {
			t.Fatalf("update %s: %v", state, err)
		}

		want := queueKey(j.Queue, j.Priority)
		if len(pipe.zremKeys) != 1 || pipe.zremKeys[0] != want {
			t.Errorf("state %s: zrem keys = %v, want [%s]", state, pipe.zremKeys, want)
		}
		if len(pipe.zaddKeys) != 0 {
			t.Errorf("state %s: unexpected zadd keys %v", state, pipe.zaddKeys)
		}
	}
}
