package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sessionID string

type tombstone struct {
	ExitCode int
}

func TestInMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[sessionID, tombstone]("tombstones", DefaultExpiration, DefaultCleanupInterval)

	c.Set(ctx, "s1", tombstone{ExitCode: 7}, 0)

	got, ok := c.Get(ctx, "s1")
	require.True(t, ok)
	require.Equal(t, 7, got.ExitCode)
	require.Equal(t, 1, c.Len())

	_, ok = c.Get(ctx, "missing")
	require.False(t, ok)
}

func TestInMemory_WrongTypeIsMiss(t *testing.T) {
	c := NewInMemory[sessionID, tombstone]("tombstones", DefaultExpiration, DefaultCleanupInterval)
	c.cache.Set("s1", 123, DefaultExpiration)

	got, ok := c.Get(context.Background(), "s1")
	require.False(t, ok)
	require.Zero(t, got)
}

func TestInMemory_Expires(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[sessionID, tombstone]("tombstones", DefaultExpiration, DefaultCleanupInterval)

	c.Set(ctx, "s1", tombstone{}, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "s1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestInMemory_GetWithRefreshExtends(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[sessionID, tombstone]("tombstones", DefaultExpiration, DefaultCleanupInterval)

	c.Set(ctx, "s1", tombstone{ExitCode: 1}, 50*time.Millisecond)
	_, ok := c.GetWithRefresh(ctx, "s1", time.Hour)
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get(ctx, "s1")
	require.True(t, ok, "refresh replaced the short ttl")
}

func TestInMemory_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[sessionID, tombstone]("tombstones", DefaultExpiration, DefaultCleanupInterval)
	c.Set(ctx, "a", tombstone{}, 0)
	c.Set(ctx, "b", tombstone{}, 0)
	c.Set(ctx, "c", tombstone{}, 0)

	c.Delete(ctx, "a", "b")
	require.Equal(t, 1, c.Len())

	c.Flush(ctx)
	require.Zero(t, c.Len())
}

func TestReadThrough_CachesSuccessfulLoads(t *testing.T) {
	ctx := context.Background()
	calls := 0
	rt := NewReadThrough[sessionID, tombstone](
		NewInMemory[sessionID, tombstone]("history", DefaultExpiration, DefaultCleanupInterval),
		func(_ context.Context, key sessionID) (tombstone, error) {
			calls++
			return tombstone{ExitCode: len(key)}, nil
		},
		time.Minute,
		false,
	)

	for range 3 {
		got, err := rt.Get(ctx, "abc")
		require.NoError(t, err)
		require.Equal(t, 3, got.ExitCode)
	}
	require.Equal(t, 1, calls)

	rt.Invalidate(ctx, "abc")
	_, err := rt.Get(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestReadThrough_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	calls := 0
	rt := NewReadThrough[sessionID, tombstone](
		NewInMemory[sessionID, tombstone]("history", DefaultExpiration, DefaultCleanupInterval),
		func(context.Context, sessionID) (tombstone, error) {
			calls++
			return tombstone{}, boom
		},
		time.Minute,
		false,
	)

	_, err := rt.Get(ctx, "x")
	require.ErrorIs(t, err, boom)
	_, err = rt.Get(ctx, "x")
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, calls)
}

func TestReadThrough_Skip(t *testing.T) {
	ctx := context.Background()
	calls := 0
	rt := NewReadThrough[sessionID, tombstone](
		NewInMemory[sessionID, tombstone]("history", DefaultExpiration, DefaultCleanupInterval),
		func(context.Context, sessionID) (tombstone, error) {
			calls++
			return tombstone{}, nil
		},
		time.Minute,
		true,
	)

	_, _ = rt.Get(ctx, "x")
	_, _ = rt.Get(ctx, "x")
	require.Equal(t, 2, calls)
}
