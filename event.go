package xembed

import (
	"time"
)

// EventType enumerates protocol lifecycle events for observers.
type EventType string

const (
	SendStart    EventType = "send_start"
	SendDone     EventType = "send_done"
	SendTimeout  EventType = "send_timeout"
	Relayed      EventType = "relayed"
	Acknowledged EventType = "acknowledged"
	Dropped      EventType = "dropped"
	Changed      EventType = "changed"
	Error        EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Identity  string
	EventName string
	EventID   string
	Duration  time.Duration
	Err       error
	// Change is set for Changed events.
	Change *ChangeEvent

	// attached for async dispatch
	observers []Observer
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped    uint64
	Processed  uint64
	Queued     int
	Workers    int
	BufferSize int
}

// Metrics defines observable telemetry for an embedding context.
type Metrics struct {
	Experiences    uint64
	Sent           uint64
	Replied        uint64
	TimedOut       uint64
	Relayed        uint64
	Acknowledged   uint64
	Dropped        uint64
	Unrecognized   uint64
	Errors         uint64
	EventsDropped  uint64
	AvgRoundTripMs float64
}

// HealthStatus indicates context health.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
