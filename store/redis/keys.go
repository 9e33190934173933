package redis

import (
	"fmt"

	"github.com/arkline/conveyor/job"
)

// Redis key naming conventions for conveyor data.
// All keys are prefixed with "conveyor:" to avoid collisions.

const keyPrefix = "conveyor:"

// ── Job keys ──

// jobKey returns the key for a job entity: conveyor:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the ready Sorted Set for one queue and priority band:
// conveyor:queue:{name}:{priority}. Score is run_at in unix millis, so a
// bounded range scan yields only due jobs, earliest first; ties fall back
// to lexicographic member order, which for K-sortable IDs is enqueue
// order.
func queueKey(name string, p job.Priority) string {
	return fmt.Sprintf("%squeue:%s:%d", keyPrefix, name, int(p))
}

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Cron keys ──

// cronKey returns the key for a cron entry entity: conveyor:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronIDsKey is the Set tracking all cron IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps cron names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: conveyor:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"
