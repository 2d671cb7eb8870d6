// Package presence owns the online/offline decision policy. A device is
// online while its last observed activity is within the configured timeout;
// silence past the timeout means offline. The cached status string is only a
// convenience copy; every decision here is recomputed from the last-seen
// timestamp.
package presence

import (
	"context"
	"log/slog"
	"time"

	"iotflow-presence/internal/cache"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	DefaultTimeout = 60 * time.Second
)

// Gateway is the out-of-band database write path. Both methods report
// success as a boolean and never return errors; the gateway absorbs every
// database failure itself.
type Gateway interface {
	WriteStatus(ctx context.Context, deviceID int64, status string) bool
	WriteLastSeen(ctx context.Context, deviceID int64, ts time.Time) bool
}

type Config struct {
	Cache   cache.Cache
	Gateway Gateway // may be nil when DBSync is false

	// Timeout is the inactivity duration after which a device counts as
	// offline. Defaults to DefaultTimeout.
	Timeout time.Duration
	// CacheTTL is the retention window for cache entries. Defaults to
	// cache.DefaultTTL.
	CacheTTL time.Duration
	// DBSync enables immediate database writes on activity and on offline
	// transitions.
	DBSync bool
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

type Tracker struct {
	cache    cache.Cache
	gateway  Gateway
	timeout  time.Duration
	cacheTTL time.Duration
	dbSync   bool
	now      func() time.Time
}

func New(cfg Config) *Tracker {
	t := &Tracker{
		cache:    cfg.Cache,
		gateway:  cfg.Gateway,
		timeout:  cfg.Timeout,
		cacheTTL: cfg.CacheTTL,
		dbSync:   cfg.DBSync,
		now:      cfg.Now,
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.cacheTTL <= 0 {
		t.cacheTTL = cache.DefaultTTL
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.gateway == nil {
		t.dbSync = false
	}
	return t
}

// UpdateDeviceActivity records that a device just sent telemetry: last seen
// is set to now and the cached status to online, both with the full TTL. With
// DB sync enabled the new state is also pushed to the database immediately.
// Returns false when the cache is unavailable. Activity tracking is
// best-effort relative to the caller's ingestion path; this never blocks it
// with an error.
func (t *Tracker) UpdateDeviceActivity(ctx context.Context, deviceID cache.DeviceID) bool {
	now := t.now().UTC()

	if !t.cache.SetLastSeen(ctx, deviceID, now, t.cacheTTL) {
		slog.DebugContext(ctx, "Cache unavailable, cannot update device activity", "device_id", deviceID)
		return false
	}
	t.cache.SetStatus(ctx, deviceID, StatusOnline, t.cacheTTL)

	if t.dbSync {
		t.gateway.WriteStatus(ctx, int64(deviceID), StatusOnline)
		t.gateway.WriteLastSeen(ctx, int64(deviceID), now)
	}
	return true
}

// IsDeviceOnline reports whether the device's last activity falls within the
// timeout window. This is the single source of truth for "online": it always
// recomputes from the last-seen timestamp and never trusts the cached status
// string. No cache entry means offline.
func (t *Tracker) IsDeviceOnline(ctx context.Context, deviceID cache.DeviceID) bool {
	lastSeen, ok := t.cache.GetLastSeen(ctx, deviceID)
	if !ok {
		return false
	}
	return t.now().UTC().Sub(lastSeen) <= t.timeout
}

// DeviceStatus returns "online" or "offline".
func (t *Tracker) DeviceStatus(ctx context.Context, deviceID cache.DeviceID) string {
	if t.IsDeviceOnline(ctx, deviceID) {
		return StatusOnline
	}
	return StatusOffline
}

// CheckAndUpdateStatus recomputes the device's status, refreshes the cached
// status entry with the result, and, when the device has gone offline and DB
// sync is enabled, pushes the offline transition to the database. Silence
// never produces an event of its own, so this is the only path that can move
// a device from online to offline in durable storage; the reconciler calls it
// on every sweep, and read paths may call it for authoritative freshness.
func (t *Tracker) CheckAndUpdateStatus(ctx context.Context, deviceID cache.DeviceID) string {
	if !t.cache.Available() {
		return StatusOffline
	}
	status := t.DeviceStatus(ctx, deviceID)

	t.cache.SetStatus(ctx, deviceID, status, t.cacheTTL)

	if status == StatusOffline && t.dbSync {
		t.gateway.WriteStatus(ctx, int64(deviceID), StatusOffline)
	}
	return status
}

// LastSeen returns the device's last activity timestamp, absent when the
// device was never seen or the cache is unavailable.
func (t *Tracker) LastSeen(ctx context.Context, deviceID cache.DeviceID) (time.Time, bool) {
	return t.cache.GetLastSeen(ctx, deviceID)
}
