package storage

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency remembers processed keys (webhook event ids) for a while so
// retried deliveries are applied once.
type Idempotency interface {
	// MarkProcessed returns true the first time key is seen within ttl.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget releases a key whose processing failed so a retry can run.
	Forget(ctx context.Context, key string) error
}

type MemoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{seen: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryIdempotency) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.seen {
		if now.After(exp) {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryIdempotency) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}

type RedisIdempotency struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdempotency(client redis.UniversalClient, prefix string) *RedisIdempotency {
	if prefix == "" {
		prefix = "airbear:idem:"
	}
	return &RedisIdempotency{client: client, prefix: prefix}
}

func (r *RedisIdempotency) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
}

func (r *RedisIdempotency) Forget(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
