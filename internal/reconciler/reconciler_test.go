package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"iotflow-presence/internal/cache"
	"iotflow-presence/internal/presence"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeGateway struct {
	mu       sync.Mutex
	statuses map[int64]string
	failing  map[int64]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: make(map[int64]string),
		failing:  make(map[int64]bool),
	}
}

func (g *fakeGateway) WriteStatus(ctx context.Context, deviceID int64, status string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing[deviceID] {
		return false
	}
	g.statuses[deviceID] = status
	return true
}

func (g *fakeGateway) WriteLastSeen(ctx context.Context, deviceID int64, ts time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.failing[deviceID]
}

func (g *fakeGateway) status(deviceID int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses[deviceID]
}

type fixture struct {
	cache   *cache.RedisCache
	tracker *presence.Tracker
	gateway *fakeGateway
	clock   *testClock
}

func newFixture(t *testing.T, interval time.Duration) (*Reconciler, *fixture) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(context.Background(), cache.Config{RedisURL: "redis://" + mr.Addr()})
	require.True(t, c.Available())
	t.Cleanup(c.Close)

	gw := newFakeGateway()
	clock := &testClock{t: time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)}
	tracker := presence.New(presence.Config{
		Cache:   c,
		Gateway: gw,
		Timeout: 60 * time.Second,
		DBSync:  true,
		Now:     clock.Now,
	})
	r := New(Config{Cache: c, Tracker: tracker, Gateway: gw, Interval: interval})
	return r, &fixture{cache: c, tracker: tracker, gateway: gw, clock: clock}
}

func Test_SweepConvergesOnlineAndOffline(t *testing.T) {
	r, f := newFixture(t, DefaultInterval)
	ctx := context.Background()

	require.True(t, f.tracker.UpdateDeviceActivity(ctx, 8))
	require.Equal(t, "online", f.gateway.status(8))

	// Fresh activity: a sweep keeps the database at online.
	r.ForceSyncAll(ctx)
	require.Equal(t, "online", f.gateway.status(8))

	// Silence past the timeout: the next sweep is the only thing that can
	// move the database to offline.
	f.clock.Advance(2 * time.Minute)
	r.ForceSyncAll(ctx)
	require.Equal(t, "offline", f.gateway.status(8))
}

func Test_SweepRecomputesStaleCachedStatus(t *testing.T) {
	r, f := newFixture(t, DefaultInterval)
	ctx := context.Background()

	// The cached string still says online, but the timestamp is long past the
	// timeout. The sweep must not copy the string verbatim.
	f.cache.SetLastSeen(ctx, 4, f.clock.Now().Add(-10*time.Minute), cache.DefaultTTL)
	f.cache.SetStatus(ctx, 4, "online", cache.DefaultTTL)

	r.ForceSyncAll(ctx)

	require.Equal(t, "offline", f.gateway.status(4))
	cached, ok := f.cache.GetStatus(ctx, 4)
	require.True(t, ok)
	require.Equal(t, "offline", cached)
}

func Test_SweepContinuesPastFailingDevice(t *testing.T) {
	r, f := newFixture(t, DefaultInterval)
	ctx := context.Background()

	for _, id := range []cache.DeviceID{1, 2, 3} {
		require.True(t, f.tracker.UpdateDeviceActivity(ctx, id))
	}
	f.gateway.mu.Lock()
	f.gateway.failing[2] = true
	delete(f.gateway.statuses, 1)
	delete(f.gateway.statuses, 2)
	delete(f.gateway.statuses, 3)
	f.gateway.mu.Unlock()

	synced, err := r.sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, synced)
	require.Equal(t, "online", f.gateway.status(1))
	require.Equal(t, "online", f.gateway.status(3))
	require.Empty(t, f.gateway.status(2))
}

func Test_StartStopLifecycle(t *testing.T) {
	r, f := newFixture(t, 10*time.Millisecond)
	ctx := context.Background()

	require.True(t, f.tracker.UpdateDeviceActivity(ctx, 6))

	require.False(t, r.Stats().Running)
	r.Start(ctx)
	require.True(t, r.Stats().Running)

	// Starting again is a no-op, still exactly one loop.
	r.Start(ctx)

	require.Eventually(t, func() bool {
		return r.Stats().ProcessedDevices >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, r.Stop(ctx))
	require.False(t, r.Stats().Running)

	// Stopping a stopped reconciler is a no-op.
	require.True(t, r.Stop(ctx))

	// Restart is stop-then-start.
	r.Start(ctx)
	require.True(t, r.Stats().Running)
	require.True(t, r.Stop(ctx))
}

func Test_ForceSyncDevice(t *testing.T) {
	r, f := newFixture(t, DefaultInterval)
	ctx := context.Background()

	require.True(t, f.tracker.UpdateDeviceActivity(ctx, 12))
	require.True(t, r.ForceSyncDevice(ctx, 12))
	require.Equal(t, "online", f.gateway.status(12))

	// Untracked device: nothing to sync.
	require.False(t, r.ForceSyncDevice(ctx, 999))
}

func Test_SweepCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	c := cache.New(context.Background(), cache.Config{RedisURL: "redis://" + addr})
	require.False(t, c.Available())

	gw := newFakeGateway()
	tracker := presence.New(presence.Config{Cache: c, Gateway: gw, DBSync: true})
	r := New(Config{Cache: c, Tracker: tracker, Gateway: gw})

	_, err := r.sweep(context.Background())
	require.ErrorIs(t, err, ErrCacheUnavailable)
	require.False(t, r.ForceSyncDevice(context.Background(), 1))
}

func Test_Stats(t *testing.T) {
	r, f := newFixture(t, 42*time.Second)
	ctx := context.Background()

	require.True(t, f.tracker.UpdateDeviceActivity(ctx, 1))
	require.True(t, f.tracker.UpdateDeviceActivity(ctx, 2))
	r.ForceSyncAll(ctx)

	stats := r.Stats()
	require.False(t, stats.Running)
	require.Equal(t, 42*time.Second, stats.Interval)
	require.Equal(t, 2, stats.TrackedDevices)
	require.Equal(t, 2, stats.ProcessedDevices)
}
