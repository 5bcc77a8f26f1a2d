package types

import (
	"fmt"
	"time"
)

// Health status constants represent the operational state of a FalkorDB
// server or one of its dependencies.
const (
	// StatusHealthy indicates the server answered as expected.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the server answered but something is off,
	// such as an outdated graph module or a slow reply.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the server could not be reached or refused the check.
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the outcome of a health check.
type HealthStatus struct {
	// Status is the current health state (healthy, degraded, or unhealthy).
	Status string `json:"status" yaml:"status"`

	// Message provides a human-readable description of the health status.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Latency is the round-trip time of the check, when it made one.
	Latency time.Duration `json:"latency,omitempty" yaml:"latency,omitempty"`

	// Details contains diagnostic context such as the address checked or the
	// error returned.
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (h HealthStatus) IsHealthy() bool {
	return h.Status == StatusHealthy
}

// IsDegraded returns true if the status is StatusDegraded.
func (h HealthStatus) IsDegraded() bool {
	return h.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (h HealthStatus) IsUnhealthy() bool {
	return h.Status == StatusUnhealthy
}

// String renders the status as "status: message".
func (h HealthStatus) String() string {
	if h.Message == "" {
		return h.Status
	}
	return fmt.Sprintf("%s: %s", h.Status, h.Message)
}

// WithLatency returns a copy of h with Latency set.
func (h HealthStatus) WithLatency(d time.Duration) HealthStatus {
	h.Latency = d
	return h
}

// NewHealthyStatus creates a new healthy status with an optional message.
func NewHealthyStatus(message string) HealthStatus {
	return HealthStatus{
		Status:  StatusHealthy,
		Message: message,
	}
}

// NewDegradedStatus creates a new degraded status with a message and optional details.
func NewDegradedStatus(message string, details map[string]any) HealthStatus {
	return HealthStatus{
		Status:  StatusDegraded,
		Message: message,
		Details: details,
	}
}

// NewUnhealthyStatus creates a new unhealthy status with a message and optional details.
func NewUnhealthyStatus(message string, details map[string]any) HealthStatus {
	return HealthStatus{
		Status:  StatusUnhealthy,
		Message: message,
		Details: details,
	}
}
