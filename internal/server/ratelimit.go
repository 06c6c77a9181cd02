// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

const (
	defaultMaxVisitors  = 10000
	visitorStaleAfter   = 10 * time.Minute
	visitorSweepEvery   = 5 * time.Minute
	rateLimitRetryAfter = "1"
)

// RateLimitConfig configures per-IP rate limiting of the admin API.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxVisitors caps how many IPs are tracked; the least recently seen
	// are evicted first. Defaults to 10000.
	MaxVisitors int
}

// Validate checks the config and applies defaults.
func (c *RateLimitConfig) Validate() error {
	switch {
	case c.RequestsPerSecond < 0:
		return ariaerr.Errorf(ariaerr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	case c.RequestsPerSecond > 0 && c.Burst <= 0:
		return ariaerr.Errorf(ariaerr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d)", c.Burst)
	case c.MaxVisitors < 0:
		return ariaerr.Errorf(ariaerr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = defaultMaxVisitors
	}
	return nil
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// ipLimiter is a token bucket per client IP.
type ipLimiter struct {
	rate        float64
	burst       float64
	maxVisitors int
	now         func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newIPLimiter(cfg RateLimitConfig) *ipLimiter {
	return &ipLimiter{
		rate:        cfg.RequestsPerSecond,
		burst:       float64(cfg.Burst),
		maxVisitors: cfg.MaxVisitors,
		now:         time.Now,
		buckets:     make(map[string]*bucket),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{tokens: l.burst, lastRefill: now}
		l.buckets[ip] = b
	}
	b.tokens = min(l.burst, b.tokens+now.Sub(b.lastRefill).Seconds()*l.rate)
	b.lastRefill = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops idle IPs, then evicts the least recently seen ones beyond
// maxVisitors.
func (l *ipLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ip, b := range l.buckets {
		if now.Sub(b.lastRefill) > visitorStaleAfter {
			delete(l.buckets, ip)
		}
	}
	excess := len(l.buckets) - l.maxVisitors
	if l.maxVisitors <= 0 || excess <= 0 {
		return
	}
	ips := make([]string, 0, len(l.buckets))
	for ip := range l.buckets {
		ips = append(ips, ip)
	}
	slices.SortFunc(ips, func(a, b string) int {
		return l.buckets[a].lastRefill.Compare(l.buckets[b].lastRefill)
	})
	for _, ip := range ips[:excess] {
		delete(l.buckets, ip)
	}
	slog.Warn("server: rate limiter visitor cap enforced", "evicted", excess, "max_visitors", l.maxVisitors)
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// rateLimitMiddleware enforces cfg per client IP. It passes everything
// through when the rate is zero. The sweeper exits when done closes.
func rateLimitMiddleware(cfg RateLimitConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newIPLimiter(cfg)

	go func() {
		ticker := time.NewTicker(visitorSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.sweep()
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.allow(ip) {
				slog.Warn("server: rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", rateLimitRetryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port so every connection from one host shares a
// bucket.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
