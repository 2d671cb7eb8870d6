package api

type TelemetryRequest struct {
	DeviceID int64                  `json:"device_id"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

type DeviceStatusResponse struct {
	DeviceID int64  `json:"device_id"`
	Status   string `json:"status"`
	Online   bool   `json:"online"`
	LastSeen string `json:"last_seen,omitempty"`
}

type SyncStatsResponse struct {
	Status           string `json:"status"`
	IntervalSeconds  int    `json:"interval_seconds"`
	TrackedDevices   int    `json:"tracked_devices"`
	ProcessedDevices int    `json:"processed_devices"`
}

type ForceSyncDeviceResponse struct {
	DeviceID int64 `json:"device_id"`
	Synced   bool  `json:"synced"`
}
