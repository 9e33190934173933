// Package job defines the job entity, state machine, typed definitions,
// and store interface.
//
// # Job Entity
//
// A [Job] represents a unit of deferred work. It embeds [conveyor.Entity]
// for timestamps, carries a JSON payload, and progresses through a state
// machine:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed (dead-lettered)
//
// Fields of note:
//   - Queue: which queue the job belongs to (default: "default")
//   - Priority: URGENT > HIGH > NORMAL > LOW; equal priorities are FIFO
//   - Attempt / MaxAttempts: the retry budget; Attempt starts at 1
//   - RunAt: earliest time the job may be dequeued (backoff lands here)
//   - Timeout: per-attempt execution deadline (zero = unlimited)
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) (any, error) {
//	        return nil, mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	    job.WithTimeout(30*time.Second),
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values plus the
// definition's options. Register definitions at startup via
// [RegisterDefinition]; a duplicate name or malformed retry policy is a
// fatal configuration error:
//
//	if err := job.RegisterDefinition(registry, SendEmail); err != nil {
//	    log.Fatal(err)
//	}
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
