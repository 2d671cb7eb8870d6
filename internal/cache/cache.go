package cache

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key namespaces for presence data. Keys are device:status:<id> and
// device:lastseen:<id>, both expiring after DefaultTTL.
const (
	StatusPrefix   = "device:status:"
	LastSeenPrefix = "device:lastseen:"

	// DefaultTTL is the maximum retention window for presence entries. It is
	// much larger than any online/offline timeout, so the cache never expires
	// a still-recent activity record before the timeout policy itself would
	// mark the device offline.
	DefaultTTL = 24 * time.Hour
)

type DeviceID int64

type Config struct {
	// RedisURL is a redis:// connection URL.
	RedisURL string
}

// Cache is the presence cache contract. Implementations never return errors:
// a backend failure degrades to false/absent so callers on the ingestion hot
// path have nothing to handle.
type Cache interface {
	SetStatus(ctx context.Context, deviceID DeviceID, status string, ttl time.Duration) bool
	GetStatus(ctx context.Context, deviceID DeviceID) (string, bool)
	SetLastSeen(ctx context.Context, deviceID DeviceID, ts time.Time, ttl time.Duration) bool
	GetLastSeen(ctx context.Context, deviceID DeviceID) (time.Time, bool)
	TrackedDeviceIDs(ctx context.Context) []DeviceID
	Available() bool
}

// RedisCache is the Redis-backed Cache. Construction performs a single
// connectivity probe; if it fails the instance stays permanently unavailable
// and every operation is a cheap no-op. Reconnecting is an explicit action
// (build a new instance), never done transparently per call.
type RedisCache struct {
	client    *redis.Client
	available bool
}

func New(ctx context.Context, cfg Config) *RedisCache {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.WarnContext(ctx, "Invalid Redis URL, presence cache disabled", "error", err)
		return &RedisCache{}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		slog.WarnContext(ctx, "Redis unreachable, presence cache disabled", "error", err)
		client.Close()
		return &RedisCache{}
	}

	return &RedisCache{client: client, available: true}
}

func (c *RedisCache) Available() bool {
	return c.available
}

func (c *RedisCache) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *RedisCache) SetStatus(ctx context.Context, deviceID DeviceID, status string, ttl time.Duration) bool {
	if !c.available {
		return false
	}
	if err := c.client.Set(ctx, statusKey(deviceID), status, ttl).Err(); err != nil {
		slog.ErrorContext(ctx, "Failed to cache device status", "device_id", deviceID, "error", err)
		return false
	}
	return true
}

func (c *RedisCache) GetStatus(ctx context.Context, deviceID DeviceID) (string, bool) {
	if !c.available {
		return "", false
	}
	status, err := c.client.Get(ctx, statusKey(deviceID)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.ErrorContext(ctx, "Failed to read cached device status", "device_id", deviceID, "error", err)
		}
		return "", false
	}
	return status, true
}

func (c *RedisCache) SetLastSeen(ctx context.Context, deviceID DeviceID, ts time.Time, ttl time.Duration) bool {
	if !c.available {
		return false
	}
	value := ts.UTC().Format(time.RFC3339Nano)
	if err := c.client.Set(ctx, lastSeenKey(deviceID), value, ttl).Err(); err != nil {
		slog.ErrorContext(ctx, "Failed to cache device last seen", "device_id", deviceID, "error", err)
		return false
	}
	return true
}

func (c *RedisCache) GetLastSeen(ctx context.Context, deviceID DeviceID) (time.Time, bool) {
	if !c.available {
		return time.Time{}, false
	}
	raw, err := c.client.Get(ctx, lastSeenKey(deviceID)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.ErrorContext(ctx, "Failed to read cached last seen", "device_id", deviceID, "error", err)
		}
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// Malformed value, treat as absent.
		slog.WarnContext(ctx, "Unparseable last seen value in cache", "device_id", deviceID, "value", raw)
		return time.Time{}, false
	}
	return ts, true
}

// TrackedDeviceIDs enumerates every device with a status entry in the cache.
// A scan interrupted by a backend failure returns the ids retrieved so far;
// keys that do not parse as device ids are skipped.
func (c *RedisCache) TrackedDeviceIDs(ctx context.Context) []DeviceID {
	if !c.available {
		return nil
	}

	var ids []DeviceID
	iter := c.client.Scan(ctx, 0, StatusPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		id, err := parseDeviceKey(iter.Val())
		if err != nil {
			slog.WarnContext(ctx, "Invalid device key in cache", "key", iter.Val(), "error", err)
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		slog.ErrorContext(ctx, "Device key scan interrupted", "error", err, "retrieved", len(ids))
	}
	return ids
}

func statusKey(deviceID DeviceID) string {
	return StatusPrefix + strconv.FormatInt(int64(deviceID), 10)
}

func lastSeenKey(deviceID DeviceID) string {
	return LastSeenPrefix + strconv.FormatInt(int64(deviceID), 10)
}

func parseDeviceKey(key string) (DeviceID, error) {
	raw := key[strings.LastIndex(key, ":")+1:]
	id, err := strconv.ParseInt(raw, 10, 64)
	return DeviceID(id), err
}
