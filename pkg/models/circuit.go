package models

import "time"

// BreakerState is the state of a per-endpoint circuit.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitState is the persisted state of one endpoint's circuit.
// NextAttemptTime is set whenever State is open. While half-open it marks
// the end of the trial lease.
type CircuitState struct {
	Endpoint        string       `json:"endpointName"`
	FailureCount    int          `json:"failureCount"`
	LastFailureTime *time.Time   `json:"lastFailureTime"`
	State           BreakerState `json:"state"`
	NextAttemptTime *time.Time   `json:"nextAttemptTime"`
}
