package stream

import (
	"time"
)

// EventType is the closed set of envelope kinds carried on the wire.
type EventType string

const (
	// EventHeartbeat is the liveness signal composed per connection.
	EventHeartbeat EventType = "heartbeat"
	// EventDeltaUpdate carries one detected change for one partition.
	EventDeltaUpdate EventType = "delta_update"
)

// Envelope is the wire-level event shape. IDs are strictly increasing
// within one process instance and are never reused; the fixed-width
// decimal format sorts correctly as an opaque string, which is all
// resume comparison relies on.
type Envelope struct {
	Type EventType
	// ID is the process-relative monotonic identifier.
	ID string
	// Partition is the symbol a delta belongs to; empty for heartbeats.
	Partition string
	// Payload is the type-specific structured data.
	Payload any
	// RetryHintMS, when non-zero, is rendered as the SSE retry: line.
	RetryHintMS int
	// EmittedAt is when the envelope was composed; used for delivery
	// latency measurement, never serialized.
	EmittedAt time.Time
}

// DeltaPayload is the payload of a delta_update envelope: one observed
// price point for the changed partition.
type DeltaPayload struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Change     float64   `json:"change"`
	ChangePct  float64   `json:"change_pct"`
	Volume     int64     `json:"volume"`
	ObservedAt time.Time `json:"observed_at"`
}

// HeartbeatPayload is the payload of a heartbeat envelope.
type HeartbeatPayload struct {
	Connections int       `json:"connections"`
	UptimeSec   int64     `json:"uptime_sec"`
	ServerTime  time.Time `json:"server_time"`
}
