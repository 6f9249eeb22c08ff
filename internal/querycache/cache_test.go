package querycache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCachesUntilInvalidated(t *testing.T) {
	c := New(0)
	calls := 0
	fn := func(context.Context) ([]string, error) {
		calls++
		return []string{"ride-1"}, nil
	}
	ctx := context.Background()

	_, err := Fetch(ctx, c, "/api/rides/user/u1", fn)
	require.NoError(t, err)
	_, err = Fetch(ctx, c, "/api/rides/user/u1", fn)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	c.Invalidate("/api/rides")
	assert.True(t, c.Stale("/api/rides/user/u1"))
	_, err = Fetch(ctx, c, "/api/rides/user/u1", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.False(t, c.Stale("/api/rides/user/u1"))
}

func TestInvalidateDoesNotTouchSiblings(t *testing.T) {
	c := New(0)
	c.Set("/api/rides", 1)
	c.Set("/api/ridesharing", 2)
	c.Invalidate("/api/rides")
	assert.True(t, c.Stale("/api/rides"))
	assert.False(t, c.Stale("/api/ridesharing"))
}

func TestFetchErrorNotCached(t *testing.T) {
	c := New(0)
	boom := errors.New("boom")
	_, err := Fetch(context.Background(), c, "/api/orders", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get("/api/orders")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Set("/api/spots", 16)
	_, ok := c.Get("/api/spots")
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("/api/spots")
	assert.False(t, ok)
}
