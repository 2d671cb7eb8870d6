// Package reconciler keeps the device registry's status column eventually
// consistent with cache-observed presence. Going offline is a silent
// transition that no inbound event ever signals, so a periodic sweep is the
// only thing that can detect it and push it to durable storage.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"iotflow-presence/internal/cache"
	"iotflow-presence/internal/presence"
)

const (
	DefaultInterval = 30 * time.Second

	// errSleep bounds the retry cadence after a failed sweep so an outage
	// does not turn the loop into a hot spin.
	errSleep = 5 * time.Second

	// stopWait bounds how long Stop blocks for the in-flight sweep to drain.
	stopWait = 5 * time.Second
)

var ErrCacheUnavailable = errors.New("presence cache unavailable")

// Tracker is the recompute path the sweep defers to. A sweep must never copy
// a cached status string to the database verbatim; a stale "online" entry
// past the timeout has to be recomputed first.
type Tracker interface {
	CheckAndUpdateStatus(ctx context.Context, deviceID cache.DeviceID) string
}

type Config struct {
	Cache   cache.Cache
	Tracker Tracker
	Gateway presence.Gateway

	// Interval is the sweep cadence. Defaults to DefaultInterval.
	Interval time.Duration
}

// Reconciler runs exactly one background sweep goroutine per instance.
// Instances are independent; tests can run several side by side with their
// own cache and gateway.
type Reconciler struct {
	cache    cache.Cache
	tracker  Tracker
	gateway  presence.Gateway
	interval time.Duration

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	processed map[cache.DeviceID]struct{}
	lastSeen  int
}

type Stats struct {
	Running          bool          `json:"running"`
	Interval         time.Duration `json:"interval"`
	TrackedDevices   int           `json:"tracked_devices"`
	ProcessedDevices int           `json:"processed_devices"`
}

func New(cfg Config) *Reconciler {
	r := &Reconciler{
		cache:     cfg.Cache,
		tracker:   cfg.Tracker,
		gateway:   cfg.Gateway,
		interval:  cfg.Interval,
		processed: make(map[cache.DeviceID]struct{}),
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	return r
}

// Start spawns the background sweep loop. Starting a running reconciler is a
// no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		slog.WarnContext(ctx, "Reconciler is already running")
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.loop(ctx, r.stop, r.done)
	slog.InfoContext(ctx, "Reconciler started", "interval", r.interval)
}

// Stop signals the loop and blocks until the in-flight sweep drains, bounded
// by an internal timeout so a stuck database write cannot wedge shutdown.
// Returns false when the wait timed out. Stopping a stopped reconciler is a
// no-op returning true.
func (r *Reconciler) Stop(ctx context.Context) bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return true
	}
	r.running = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	select {
	case <-done:
		slog.InfoContext(ctx, "Reconciler stopped")
		return true
	case <-time.After(stopWait):
		slog.WarnContext(ctx, "Reconciler stop timed out waiting for sweep to drain")
		return false
	}
}

func (r *Reconciler) loop(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		close(done)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()
	for {
		// The stop signal is observed at the top of each iteration; a sweep
		// in progress is never torn down mid-write.
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		started := time.Now()
		sleep := r.interval
		if _, err := r.sweep(ctx); err != nil {
			slog.ErrorContext(ctx, "Reconciler sweep failed", "error", err)
			sleep = errSleep
		} else if elapsed := time.Since(started); elapsed < sleep {
			sleep -= elapsed
		} else {
			sleep = 0
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// sweep performs one full reconciliation pass. Each tracked device's status
// is recomputed via the tracker (which also pushes offline transitions to the
// database); devices found online are pushed explicitly so a single sweep
// converges the database in both directions. Per-device failures are logged
// and skipped.
func (r *Reconciler) sweep(ctx context.Context) (int, error) {
	if !r.cache.Available() {
		return 0, ErrCacheUnavailable
	}

	ids := r.cache.TrackedDeviceIDs(ctx)
	if len(ids) == 0 {
		slog.DebugContext(ctx, "No tracked devices to reconcile")
		r.recordSweep(ids)
		return 0, nil
	}

	synced := 0
	for _, id := range ids {
		if r.syncDevice(ctx, id) {
			synced++
		}
	}
	r.recordSweep(ids)

	slog.DebugContext(ctx, "Reconciliation pass complete", "tracked", len(ids), "synced", synced)
	return synced, nil
}

func (r *Reconciler) syncDevice(ctx context.Context, deviceID cache.DeviceID) bool {
	status := r.tracker.CheckAndUpdateStatus(ctx, deviceID)
	if status == presence.StatusOnline {
		// Offline transitions were already written by the tracker.
		if !r.gateway.WriteStatus(ctx, int64(deviceID), status) {
			return false
		}
	}
	return true
}

func (r *Reconciler) recordSweep(ids []cache.DeviceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen = len(ids)
	for _, id := range ids {
		r.processed[id] = struct{}{}
	}
}

// ForceSyncAll runs one reconciliation pass synchronously.
func (r *Reconciler) ForceSyncAll(ctx context.Context) {
	slog.InfoContext(ctx, "Forcing immediate sync of all device statuses")
	if _, err := r.sweep(ctx); err != nil {
		slog.ErrorContext(ctx, "Forced sync failed", "error", err)
	}
}

// ForceSyncDevice reconciles a single device immediately. Returns false when
// the device is not tracked, the cache is unavailable, or the database write
// failed.
func (r *Reconciler) ForceSyncDevice(ctx context.Context, deviceID cache.DeviceID) bool {
	if !r.cache.Available() {
		slog.ErrorContext(ctx, "Cannot force sync, cache unavailable", "device_id", deviceID)
		return false
	}
	if _, ok := r.cache.GetStatus(ctx, deviceID); !ok {
		if _, seen := r.cache.GetLastSeen(ctx, deviceID); !seen {
			slog.WarnContext(ctx, "No cached presence for device", "device_id", deviceID)
			return false
		}
	}
	ok := r.syncDevice(ctx, deviceID)
	if ok {
		r.mu.Lock()
		r.processed[deviceID] = struct{}{}
		r.mu.Unlock()
	}
	return ok
}

func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Running:          r.running,
		Interval:         r.interval,
		TrackedDevices:   r.lastSeen,
		ProcessedDevices: len(r.processed),
	}
}
