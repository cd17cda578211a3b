package models

import "encoding/json"

// Shot is one recorded shot as persisted by a store.
// Optional device counters are nil when the payload did not carry them.
type Shot struct {
	ID          string          `json:"id"`
	OccurredAt  int64           `json:"created_at"` // ms since epoch
	DurationMs  float64         `json:"shot_ms"`
	DeviceID    string          `json:"device_id,omitempty"`
	ShotIndex   *float64        `json:"shot_index"`
	BootID      *float64        `json:"boot_id,omitempty"`
	BrewCounter *float64        `json:"brew_counter"`
	AvgMs       *float64        `json:"avg_ms"`
	DaySeq      *int64          `json:"day_seq"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ShotsResponse is returned by GET /api/shots, newest first.
type ShotsResponse struct {
	OK   bool   `json:"ok"`
	Data []Shot `json:"data"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	OK bool  `json:"ok"`
	TS int64 `json:"ts"`
}

// Error codes surfaced to HTTP callers.
const (
	CodeUnauthorized     = "unauthorized"
	CodeInvalidJSON      = "invalid_json"
	CodeInvalidShotMs    = "invalid_shot_ms"
	CodeStoreUnavailable = "store_unavailable"
	CodeRateLimited      = "rate_limited"
	CodeNotReady         = "not_ready"
)
