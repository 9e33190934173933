// Package dlq provides the dead letter queue for jobs that have
// exhausted their attempt budget. It supports inspection, replay, and
// purging.
//
// When a job fails its final attempt, the worker calls [Service.Record]
// to move it into the dead letter queue. The original payload, error
// message, and attempt counts are preserved for debugging. Record is a
// one-way sink from the worker's point of view: a failed Record is
// logged and swallowed so it can never stall the worker loop.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / JobName / Queue: original job identity
//   - Payload: the raw JSON payload at time of failure
//   - Error: the final error message
//   - Attempts / MaxAttempts: the exhausted budget
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet)
//
// # Replay
//
// [Service.Replay] re-enqueues the original job with the same payload,
// queue, and priority but a fresh ID and attempt budget, then sets
// ReplayedAt on the entry. The queue never re-admits the original
// instance; replay always creates a new one.
package dlq
