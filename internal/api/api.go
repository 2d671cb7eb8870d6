package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"iotflow-presence/internal/cache"
	"iotflow-presence/internal/reconciler"

	"github.com/go-chi/chi/v5"
)

type tracker interface {
	UpdateDeviceActivity(ctx context.Context, deviceID cache.DeviceID) bool
	IsDeviceOnline(ctx context.Context, deviceID cache.DeviceID) bool
	DeviceStatus(ctx context.Context, deviceID cache.DeviceID) string
	CheckAndUpdateStatus(ctx context.Context, deviceID cache.DeviceID) string
	LastSeen(ctx context.Context, deviceID cache.DeviceID) (time.Time, bool)
}

type syncService interface {
	ForceSyncAll(ctx context.Context)
	ForceSyncDevice(ctx context.Context, deviceID cache.DeviceID) bool
	Stats() reconciler.Stats
}

type API struct {
	Tracker tracker
	Sync    syncService
}

type Config struct {
	Tracker tracker
	Sync    syncService
}

func New(cfg Config) *API {
	return &API{Tracker: cfg.Tracker, Sync: cfg.Sync}
}

func (a *API) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/telemetry", a.IngestTelemetry)
		r.Post("/sync", a.ForceSyncAll)
		r.Get("/sync/stats", a.GetSyncStats)
		r.Route("/devices/{device_id}", func(r chi.Router) {
			r.Get("/status", a.GetDeviceStatus)
			r.Post("/status/refresh", a.RefreshDeviceStatus)
			r.Post("/sync", a.ForceSyncDevice)
		})
	})
	return r
}

// IngestTelemetry is the request/response ingestion path. Presence tracking
// is best-effort: a cache outage does not fail the request, only a malformed
// body does.
func (a *API) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var req TelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID <= 0 {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}

	a.Tracker.UpdateDeviceActivity(r.Context(), cache.DeviceID(req.DeviceID))
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) GetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	resp := DeviceStatusResponse{
		DeviceID: int64(deviceID),
		Status:   a.Tracker.DeviceStatus(r.Context(), deviceID),
	}
	resp.Online = resp.Status == "online"
	if lastSeen, ok := a.Tracker.LastSeen(r.Context(), deviceID); ok {
		resp.LastSeen = lastSeen.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

// RefreshDeviceStatus forces an authoritative recompute, at the cost of a
// possible database write when the device has gone offline.
func (a *API) RefreshDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	status := a.Tracker.CheckAndUpdateStatus(r.Context(), deviceID)
	resp := DeviceStatusResponse{
		DeviceID: int64(deviceID),
		Status:   status,
		Online:   status == "online",
	}
	if lastSeen, ok := a.Tracker.LastSeen(r.Context(), deviceID); ok {
		resp.LastSeen = lastSeen.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) ForceSyncAll(w http.ResponseWriter, r *http.Request) {
	a.Sync.ForceSyncAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ForceSyncDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	synced := a.Sync.ForceSyncDevice(r.Context(), deviceID)
	status := http.StatusOK
	if !synced {
		status = http.StatusConflict
	}
	writeJSON(w, status, ForceSyncDeviceResponse{DeviceID: int64(deviceID), Synced: synced})
}

func (a *API) GetSyncStats(w http.ResponseWriter, r *http.Request) {
	stats := a.Sync.Stats()
	state := "stopped"
	if stats.Running {
		state = "running"
	}
	writeJSON(w, http.StatusOK, SyncStatsResponse{
		Status:           state,
		IntervalSeconds:  int(stats.Interval.Seconds()),
		TrackedDevices:   stats.TrackedDevices,
		ProcessedDevices: stats.ProcessedDevices,
	})
}

func deviceIDParam(w http.ResponseWriter, r *http.Request) (cache.DeviceID, bool) {
	raw := chi.URLParam(r, "device_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return 0, false
	}
	return cache.DeviceID(id), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
