// Package cron provides recurring job schedules backed by the store.
//
// Cron entries are persisted, so every process sharing a store sees the
// same schedule set. On each tick the [Scheduler] evaluates due
// entries, acquires a per-entry lock, enqueues the corresponding job,
// and advances NextRunAt. The per-entry lock guarantees an entry fires
// at most once per due time even when multiple processes run
// schedulers against the same store.
//
// An [Entry] pairs a cron expression with a registered job name:
//   - Schedule: standard 5-field cron expression or a descriptor like
//     "@every 30s"
//   - JobName: the registered job definition to enqueue when fired
//   - Queue: target queue override (defaults to the definition's queue)
//   - Payload: static JSON payload passed to every triggered job
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: lock fields (managed internally)
package cron
