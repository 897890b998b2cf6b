package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTrail keeps per-player location trails as capped Redis lists,
// newest fix first. Every append re-arms the key's TTL so trails of
// finished games age out on their own.
type RedisTrail struct {
	rdb    *redis.Client
	window int
	ttl    time.Duration
}

func NewRedisTrail(rdb *redis.Client, window int, ttl time.Duration) *RedisTrail {
	return &RedisTrail{rdb: rdb, window: window, ttl: ttl}
}

var _ TrailStore = (*RedisTrail)(nil)

func trailKey(playerID string) string {
	return "trail:" + playerID
}

func (t *RedisTrail) Append(ctx context.Context, playerID string, fix Fix) error {
	data, err := json.Marshal(fix)
	if err != nil {
		return err
	}

	key := trailKey(playerID)
	pipe := t.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(t.window-1))
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending trail fix: %w", err)
	}
	return nil
}

func (t *RedisTrail) Recent(ctx context.Context, playerID string, n int) ([]Fix, error) {
	if n <= 0 || n > t.window {
		n = t.window
	}
	vals, err := t.rdb.LRange(ctx, trailKey(playerID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading trail: %w", err)
	}

	fixes := make([]Fix, 0, len(vals))
	for _, v := range vals {
		var f Fix
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, fmt.Errorf("decoding trail fix: %w", err)
		}
		fixes = append(fixes, f)
	}
	return fixes, nil
}

// MemoryTrail is a process-local TrailStore for tests and single-node
// development runs.
type MemoryTrail struct {
	mu     sync.Mutex
	window int
	trails map[string][]Fix // newest first
}

func NewMemoryTrail(window int) *MemoryTrail {
	return &MemoryTrail{window: window, trails: make(map[string][]Fix)}
}

var _ TrailStore = (*MemoryTrail)(nil)

func (t *MemoryTrail) Append(_ context.Context, playerID string, fix Fix) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	trail := append([]Fix{fix}, t.trails[playerID]...)
	if len(trail) > t.window {
		trail = trail[:t.window]
	}
	t.trails[playerID] = trail
	return nil
}

func (t *MemoryTrail) Recent(_ context.Context, playerID string, n int) ([]Fix, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trail := t.trails[playerID]
	if n <= 0 || n > len(trail) {
		n = len(trail)
	}
	out := make([]Fix, n)
	copy(out, trail[:n])
	return out, nil
}
