// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"sync"
	"time"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/health"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

// CircuitBreaker stops calls to an endpoint after a run of consecutive
// failures. Once the cooldown has elapsed a single trial call is let
// through (half-open): success closes the circuit, failure re-opens it.
//
// Only transient failures (upstream and timeout) count toward the threshold.
// Any other outcome means the endpoint answered, which resets the run.
type CircuitBreaker struct {
	mu sync.Mutex

	name      string
	threshold int
	cooldown  time.Duration

	state         health.CircuitState
	consecutive   int
	failureCount  int64
	lastFailureAt time.Time
	openedAt      time.Time
	trialInFlight bool

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a closed breaker. Returns an error if threshold
// or cooldown is not positive.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) (*CircuitBreaker, error) {
	if threshold <= 0 {
		return nil, ariaerr.Errorf(ariaerr.CodeConfigValidateInvalidValue,
			"circuit breaker threshold must be positive, got %d", threshold)
	}
	if cooldown <= 0 {
		return nil, ariaerr.Errorf(ariaerr.CodeConfigValidateInvalidValue,
			"circuit breaker cooldown must be positive, got %s", cooldown)
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     health.CircuitClosed,
		nowFunc:   time.Now,
	}, nil
}

// Execute runs fn if the circuit admits the call, and records the outcome.
// A rejected call returns a provider.circuit.open error without invoking fn.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(ctx, err)
	return err
}

// admit decides whether a call may proceed, moving open → half-open when the
// cooldown has elapsed.
func (b *CircuitBreaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case health.CircuitClosed:
		return nil
	case health.CircuitOpen:
		if b.nowFunc().Sub(b.openedAt) < b.cooldown {
			return b.openErrLocked()
		}
		b.state = health.CircuitHalfOpen
		b.trialInFlight = true
		return nil
	case health.CircuitHalfOpen:
		if b.trialInFlight {
			return b.openErrLocked()
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

func (b *CircuitBreaker) openErrLocked() error {
	until := b.openedAt.Add(b.cooldown)
	return ariaerr.New(ariaerr.CodeProviderCircuitOpen,
		"circuit open for "+b.name,
		ariaerr.FieldProvider(b.name),
		ariaerr.Field("cooldown_until", until.Format(time.RFC3339)),
	)
}

func (b *CircuitBreaker) record(ctx context.Context, err error) {
	switch {
	case err == nil:
		b.RecordSuccess()
	case ariaerr.IsUpstreamFailure(err) || ariaerr.IsTimeout(err):
		b.RecordFailure()
	case ctx.Err() != nil:
		// The caller gave up; the endpoint's health is unknown.
		b.mu.Lock()
		b.trialInFlight = false
		b.mu.Unlock()
	default:
		b.RecordSuccess()
	}
}

// RecordSuccess closes the circuit and resets the consecutive failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	b.state = health.CircuitClosed
	b.consecutive = 0
	b.trialInFlight = false
	b.mu.Unlock()
}

// RecordFailure counts a failure, opening the circuit when the threshold is
// reached. A failed half-open trial re-opens the circuit immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	b.consecutive++
	b.failureCount++
	b.lastFailureAt = now

	if b.state == health.CircuitHalfOpen || b.consecutive >= b.threshold {
		b.state = health.CircuitOpen
		b.openedAt = now
	}
	b.trialInFlight = false
}

// State returns the current circuit state. An open circuit whose cooldown
// has elapsed reports half-open.
func (b *CircuitBreaker) State() health.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) stateLocked() health.CircuitState {
	if b.state == health.CircuitOpen && b.nowFunc().Sub(b.openedAt) >= b.cooldown {
		return health.CircuitHalfOpen
	}
	return b.state
}

// SetNowFunc overrides the time source (for testing).
func (b *CircuitBreaker) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	b.nowFunc = fn
	b.mu.Unlock()
}

// Metrics returns a point-in-time snapshot of the breaker state.
func (b *CircuitBreaker) Metrics() health.Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked()
	m := health.Metrics{
		State:               state,
		ConsecutiveFailures: b.consecutive,
		FailureCount:        b.failureCount,
		Available:           state != health.CircuitOpen && !(state == health.CircuitHalfOpen && b.trialInFlight),
	}
	if b.failureCount > 0 {
		t := b.lastFailureAt
		m.LastFailureAt = &t
	}
	if b.state == health.CircuitOpen {
		until := b.openedAt.Add(b.cooldown)
		m.CooldownUntil = &until
	}
	return m
}
