// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"time"
)

// ContextWithUser injects an AuthenticatedUser into a context for testing.
func ContextWithUser(ctx context.Context, user *AuthenticatedUser) context.Context {
	return context.WithValue(ctx, authUserKey, user)
}

// IPLimiter exposes the per-IP token bucket with a controllable clock.
type IPLimiter struct{ l *ipLimiter }

func NewIPLimiter(cfg RateLimitConfig, now func() time.Time) IPLimiter {
	l := newIPLimiter(cfg)
	l.now = now
	return IPLimiter{l: l}
}

func (i IPLimiter) Allow(ip string) bool { return i.l.allow(ip) }

func (i IPLimiter) Sweep() { i.l.sweep() }

func (i IPLimiter) Size() int { return i.l.size() }
