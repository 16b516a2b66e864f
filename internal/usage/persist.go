package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"modelgate/internal/logging"
)

// snapshotKey stores the serialized counter snapshot in Redis.
const snapshotKey = "modelgate:usage:counters"

// snapshotTTL caps how stale a persisted snapshot can be. Longer than the
// largest limiter window (one day) so daily budgets survive a restart.
const snapshotTTL = 25 * time.Hour

// RedisStore persists limiter counters to Redis, best-effort. The gateway
// is single-process; this exists only so budgets survive a restart. Redis
// being down never affects admission decisions.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisStore connects to Redis at addr. A failed ping is returned as an
// error so the caller can log and continue without persistence.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("usage: redis ping failed: %w", err)
	}

	return &RedisStore{client: client, log: logging.L()}, nil
}

// Save writes the snapshot. Errors are logged, not returned; admission never
// waits on Redis.
func (s *RedisStore) Save(ctx context.Context, snaps []CounterSnapshot) {
	data, err := json.Marshal(snaps)
	if err != nil {
		s.log.Warn("failed to encode usage snapshot", zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, snapshotKey, data, snapshotTTL).Err(); err != nil {
		s.log.Warn("failed to persist usage snapshot", zap.Error(err))
	}
}

// Load reads the last persisted snapshot. A missing key yields an empty
// slice and no error.
func (s *RedisStore) Load(ctx context.Context) ([]CounterSnapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("usage: failed to load snapshot: %w", err)
	}
	var snaps []CounterSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("usage: failed to decode snapshot: %w", err)
	}
	return snaps, nil
}

// Run periodically persists manager snapshots until ctx is done, then
// writes one final snapshot so a clean shutdown loses nothing.
func (s *RedisStore) Run(ctx context.Context, m *Manager, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Save(ctx, m.Snapshot())
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.Save(flushCtx, m.Snapshot())
			cancel()
			return
		}
	}
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
