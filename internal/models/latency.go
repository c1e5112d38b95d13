package models

import "time"

// LatencySample is one round-trip measurement against the backend health
// endpoint. Immutable once recorded.
type LatencySample struct {
	MeasuredAt  time.Time `json:"measuredAt"`
	RoundTripMs int64     `json:"roundTripMs"`
	Healthy     bool      `json:"healthy"`
	Error       string    `json:"error,omitempty"`
}

// ReadinessState is the three-state operator-facing health signal.
type ReadinessState string

const (
	StateReady    ReadinessState = "READY"
	StateDegraded ReadinessState = "DEGRADED"
	StateAlert    ReadinessState = "ALERT"
)

// ReadinessSnapshot is derived, never persisted; recomputed whenever either
// upstream input changes.
type ReadinessSnapshot struct {
	State      ReadinessState `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	Context    string         `json:"context,omitempty"`
	ComputedAt time.Time      `json:"computedAt"`
}
