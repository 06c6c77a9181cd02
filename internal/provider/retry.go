// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
)

// RetryPolicy retries transient failures (upstream failures and timeouts)
// with exponential backoff. Invalid requests and open circuits are returned
// immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter float64

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the policy used when no overrides are configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      0.2,
	}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return ariaerr.IsUpstreamFailure(err) || ariaerr.IsTimeout(err)
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts are exhausted, or ctx is done. attempt is 1-based.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
	}
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = DefaultMaxDelay
	}
	bo.Reset()

	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil || !Retryable(err) || attempt == attempts {
			return err
		}

		delay := bo.NextBackOff()
		slog.Warn("model call failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"code", string(ariaerr.CodeOf(err)),
		)
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
