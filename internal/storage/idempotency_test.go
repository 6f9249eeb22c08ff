package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIdempotency()
	now := time.Now()
	m.now = func() time.Time { return now }

	first, err := m.MarkProcessed(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, _ := m.MarkProcessed(ctx, "evt_1", time.Minute)
	assert.False(t, again)

	require.NoError(t, m.Forget(ctx, "evt_1"))
	retried, _ := m.MarkProcessed(ctx, "evt_1", time.Minute)
	assert.True(t, retried)

	now = now.Add(2 * time.Minute)
	expired, _ := m.MarkProcessed(ctx, "evt_1", time.Minute)
	assert.True(t, expired)
}

func TestRedisIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	r := NewRedisIdempotency(client, "")

	first, err := r.MarkProcessed(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, mr.Exists("airbear:idem:evt_1"))

	again, err := r.MarkProcessed(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, r.Forget(ctx, "evt_1"))
	assert.False(t, mr.Exists("airbear:idem:evt_1"))
	_, _ = r.MarkProcessed(ctx, "evt_1", time.Hour)

	mr.FastForward(2 * time.Hour)
	expired, err := r.MarkProcessed(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, expired)
}
