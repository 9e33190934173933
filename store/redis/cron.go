package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/arkline/conveyor"
	"github.com/arkline/conveyor/cron"
	"github.com/arkline/conveyor/id"
)

// RegisterCron persists a new cron entry. The name index is written with
// HSETNX, so duplicate detection is atomic across processes.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()

	claimed, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: register cron claim name: %w", err)
	}
	if !claimed {
		return conveyor.ErrDuplicateCron
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, cronKey(eID), cronToMap(entry))
	pipe.SAdd(ctx, cronIDsKey, eID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/redis: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	vals, err := s.client.HGetAll(ctx, cronKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get cron: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrCronNotFound
	}
	return mapToCron(vals)
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, cronKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		entry, convErr := mapToCron(vals)
		if convErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the firing lock for a cron entry.
// Succeeds when the lock is free, expired, or already held by this worker.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	key := cronKey(entryID.String())
	wID := workerID.String()
	now := time.Now().UTC()
	until := now.Add(ttl)

	entry, err := s.GetCron(ctx, entryID)
	if err != nil {
		return false, err
	}

	if entry.LockedBy != "" && entry.LockedBy != wID {
		if entry.LockedUntil != nil && entry.LockedUntil.After(now) {
			return false, nil // lock still held elsewhere
		}
	}

	_, err = s.client.HSet(ctx, key,
		"locked_by", wID,
		"locked_until", until.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return false, fmt.Errorf("conveyor/redis: acquire cron lock: %w", err)
	}
	return true, nil
}

// ReleaseCronLock releases the firing lock for a cron entry.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	key := cronKey(entryID.String())

	entry, err := s.GetCron(ctx, entryID)
	if err != nil {
		if err == conveyor.ErrCronNotFound {
			return nil // entry gone, no-op
		}
		return err
	}
	if entry.LockedBy != workerID.String() {
		return nil // not our lock, no-op
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.HDel(ctx, key, "locked_by", "locked_until")
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/redis: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	key := cronKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update last run exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrCronNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"last_run_at", at.Format(time.RFC3339Nano),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update cron last run: %w", err)
	}
	return nil
}

// UpdateCronEntry updates a cron entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := cronKey(entry.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update cron exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrCronNotFound
	}

	fields := cronToMap(entry)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.client.HSet(ctx, key, fields).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update cron entry: %w", err)
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	key := cronKey(eID)

	// Read the name for index cleanup.
	name, err := s.client.HGet(ctx, key, "name").Result()
	if err != nil {
		if isRedisNil(err) {
			return conveyor.ErrCronNotFound
		}
		return fmt.Errorf("conveyor/redis: delete cron get: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, cronIDsKey, eID)
	if name != "" {
		pipe.HDel(ctx, cronNamesKey, name)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/redis: delete cron: %w", err)
	}
	return nil
}

// ── helpers ──

func cronToMap(e *cron.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":         e.ID.String(),
		"name":       e.Name,
		"schedule":   e.Schedule,
		"job_name":   e.JobName,
		"queue":      e.Queue,
		"payload":    string(e.Payload),
		"locked_by":  e.LockedBy,
		"enabled":    boolStr(e.Enabled),
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": e.UpdatedAt.Format(time.RFC3339Nano),
	}
	if e.LastRunAt != nil {
		m["last_run_at"] = e.LastRunAt.Format(time.RFC3339Nano)
	}
	if e.NextRunAt != nil {
		m["next_run_at"] = e.NextRunAt.Format(time.RFC3339Nano)
	}
	if e.LockedUntil != nil {
		m["locked_until"] = e.LockedUntil.Format(time.RFC3339Nano)
	}
	return m
}

func mapToCron(m map[string]string) (*cron.Entry, error) {
	eID, err := id.ParseCronID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse cron id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &cron.Entry{
		Entity: conveyor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:       eID,
		Name:     m["name"],
		Schedule: m["schedule"],
		JobName:  m["job_name"],
		Queue:    m["queue"],
		Payload:  []byte(m["payload"]),
		LockedBy: m["locked_by"],
		Enabled:  m["enabled"] == "true",
	}

	if v := m["last_run_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.LastRunAt = &t
	}
	if v := m["next_run_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.NextRunAt = &t
	}
	if v := m["locked_until"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.LockedUntil = &t
	}

	return e, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
