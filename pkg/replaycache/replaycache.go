// Package replaycache provides the keyed seen/mark-seen store that guards
// confirmation tokens and model attestations against replay.
//
// The in-memory implementation is process-scoped: in multi-instance
// deployments replay protection degrades to best-effort unless the Redis
// implementation (shared storage) is used instead.
package replaycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the replay/nonce store interface.
type Cache interface {
	// Seen reports whether key was previously marked.
	Seen(ctx context.Context, key string) (bool, error)
	// MarkSeen records key for ttl. Marking an already-seen key is allowed.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
}

// Memory is a process-local Cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
	clock   func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func (m *Memory) Seen(ctx context.Context, key string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if m.clock().After(expiry) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

func (m *Memory) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.clock().Add(ttl)
	return nil
}

// Redis is a shared Cache backed by Redis, for multi-instance deployments.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed cache.
func NewRedis(addr, password string, db int) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: rdb, prefix: "replay:"}
}

// NewRedisWithClient wraps an existing client (testing, shared pools).
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "replay:"}
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("replaycache: redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("replaycache: redis set: %w", err)
	}
	return nil
}
