package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(context.Background(), Config{RedisURL: "redis://" + mr.Addr()})
	require.True(t, c.Available())
	t.Cleanup(c.Close)
	return c, mr
}

func newUnavailableCache(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	c := New(context.Background(), Config{RedisURL: "redis://" + addr})
	require.False(t, c.Available())
	return c
}

func Test_StatusRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.SetStatus(ctx, 42, "online", DefaultTTL))

	status, ok := c.GetStatus(ctx, 42)
	require.True(t, ok)
	require.Equal(t, "online", status)

	// Entries carry the retention TTL so silent devices age out on their own.
	require.Equal(t, DefaultTTL, mr.TTL("device:status:42"))
}

func Test_StatusMiss(t *testing.T) {
	c, _ := newTestCache(t)

	status, ok := c.GetStatus(context.Background(), 99)
	require.False(t, ok)
	require.Empty(t, status)
}

func Test_LastSeenRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	require.True(t, c.SetLastSeen(ctx, 42, ts, DefaultTTL))

	got, ok := c.GetLastSeen(ctx, 42)
	require.True(t, ok)
	require.True(t, got.Equal(ts))
	require.Equal(t, DefaultTTL, mr.TTL("device:lastseen:42"))
}

func Test_LastSeenMalformedValue(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Set("device:lastseen:7", "not-a-timestamp")

	_, ok := c.GetLastSeen(context.Background(), 7)
	require.False(t, ok)
}

func Test_TrackedDeviceIDs(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.SetStatus(ctx, 1, "online", DefaultTTL))
	require.True(t, c.SetStatus(ctx, 2, "offline", DefaultTTL))
	require.True(t, c.SetStatus(ctx, 3, "online", DefaultTTL))
	// Unrelated and malformed keys must not leak into the result.
	mr.Set("device:lastseen:1", time.Now().UTC().Format(time.RFC3339Nano))
	mr.Set("device:status:garbage", "online")

	ids := c.TrackedDeviceIDs(ctx)
	require.ElementsMatch(t, []DeviceID{1, 2, 3}, ids)
}

func Test_TrackedDeviceIDsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	require.Empty(t, c.TrackedDeviceIDs(context.Background()))
}

func Test_UnavailableBackendDegrades(t *testing.T) {
	c := newUnavailableCache(t)
	ctx := context.Background()

	require.False(t, c.SetStatus(ctx, 1, "online", DefaultTTL))
	require.False(t, c.SetLastSeen(ctx, 1, time.Now(), DefaultTTL))

	_, ok := c.GetStatus(ctx, 1)
	require.False(t, ok)
	_, ok = c.GetLastSeen(ctx, 1)
	require.False(t, ok)
	require.Empty(t, c.TrackedDeviceIDs(ctx))
}

func Test_InvalidURLDegrades(t *testing.T) {
	c := New(context.Background(), Config{RedisURL: "not a url"})
	require.False(t, c.Available())
	require.False(t, c.SetStatus(context.Background(), 1, "online", DefaultTTL))
}
