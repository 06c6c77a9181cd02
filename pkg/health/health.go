// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import "time"

// CircuitState is the position of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Metrics exposes the current health state of a provider endpoint for
// monitoring and operator visibility. All fields are point-in-time snapshots
// safe to serialize to JSON.
type Metrics struct {
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	FailureCount        int64        `json:"failure_count"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
	CooldownUntil       *time.Time   `json:"cooldown_until,omitempty"`
	Available           bool         `json:"available"`
}
