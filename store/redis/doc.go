// Package redis implements store.Store using Redis for high-throughput
// workloads. Jobs are stored as Hashes with per-queue, per-priority Sorted
// Sets scored by run_at acting as ready queues; cron entries and dead
// letter entries are plain Hashes with Set indexes for enumeration.
//
// The caller owns the Redis client lifecycle:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
