// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package assistant

import (
	"log/slog"
	"sync"
	"time"
)

// cooldownLimiter remembers when each key was last served and refuses keys
// still inside their cooldown.
type cooldownLimiter struct {
	mu         sync.Mutex
	lastServed map[string]time.Time
}

func newCooldownLimiter() *cooldownLimiter {
	return &cooldownLimiter{lastServed: make(map[string]time.Time)}
}

// allow admits now only if every key is outside its cooldown, and then
// marks all keys as served. Keys with a zero cooldown are not limited.
func (l *cooldownLimiter) allow(now time.Time, keys map[string]time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, cooldown := range keys {
		if cooldown <= 0 {
			continue
		}
		if last, ok := l.lastServed[key]; ok && now.Sub(last) < cooldown {
			return false
		}
	}
	for key, cooldown := range keys {
		if cooldown > 0 {
			l.lastServed[key] = now
		}
	}
	return true
}

// cleanup drops keys idle for longer than staleAfter.
func (l *cooldownLimiter) cleanup(now time.Time, staleAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, last := range l.lastServed {
		if now.Sub(last) > staleAfter {
			delete(l.lastServed, key)
		}
	}
}

func (l *cooldownLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastServed)
}

// tenantGuard auto-disables tenants whose reply generation keeps failing:
// once threshold failures fall inside the rolling window, the tenant is
// disabled until enough of them age out.
type tenantGuard struct {
	threshold int
	window    time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

func newTenantGuard(threshold int, window time.Duration) *tenantGuard {
	return &tenantGuard{
		threshold: threshold,
		window:    window,
		failures:  make(map[string][]time.Time),
	}
}

func (g *tenantGuard) recordFailure(tenantID string, now time.Time) {
	if tenantID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	recent := g.pruneLocked(tenantID, now)
	recent = append(recent, now)
	g.failures[tenantID] = recent
	if len(recent) == g.threshold {
		slog.Warn("assistant: tenant auto-disabled after repeated failures",
			"tenant_id", tenantID, "failures", len(recent), "window", g.window)
	}
}

func (g *tenantGuard) disabled(tenantID string, now time.Time) bool {
	if tenantID == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pruneLocked(tenantID, now)) >= g.threshold
}

func (g *tenantGuard) reset(tenantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, tenantID)
}

// pruneLocked drops failures outside the window and returns the rest.
func (g *tenantGuard) pruneLocked(tenantID string, now time.Time) []time.Time {
	list := g.failures[tenantID]
	keep := list[:0]
	for _, at := range list {
		if now.Sub(at) < g.window {
			keep = append(keep, at)
		}
	}
	if len(keep) == 0 {
		delete(g.failures, tenantID)
		return nil
	}
	g.failures[tenantID] = keep
	return keep
}

func (g *tenantGuard) cleanup(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for tenantID := range g.failures {
		g.pruneLocked(tenantID, now)
	}
}
