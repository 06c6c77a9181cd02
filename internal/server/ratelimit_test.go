// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/aria/internal/server"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     server.RateLimitConfig
		wantErr bool
	}{
		{"disabled", server.RateLimitConfig{}, false},
		{"valid", server.RateLimitConfig{RequestsPerSecond: 5, Burst: 10}, false},
		{"negative rate", server.RateLimitConfig{RequestsPerSecond: -1}, true},
		{"rate without burst", server.RateLimitConfig{RequestsPerSecond: 5}, true},
		{"negative visitors", server.RateLimitConfig{MaxVisitors: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ariaerr.HasCode(err, ariaerr.CodeServerConfigInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 10000, cfg.MaxVisitors)
		})
	}
}

func TestIPLimiter_BurstThenRefill(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := server.NewIPLimiter(server.RateLimitConfig{RequestsPerSecond: 2, Burst: 3, MaxVisitors: 10}, c.now)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "other IPs have their own bucket")

	c.advance(500 * time.Millisecond)
	assert.True(t, l.Allow("10.0.0.1"), "one token refilled")
	assert.False(t, l.Allow("10.0.0.1"))

	c.advance(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "refill is capped at burst")
	}
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestIPLimiter_SweepDropsIdleAndCaps(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := server.NewIPLimiter(server.RateLimitConfig{RequestsPerSecond: 0.01, Burst: 1, MaxVisitors: 2}, c.now)

	l.Allow("idle")
	c.advance(11 * time.Minute)
	for i := 0; i < 3; i++ {
		l.Allow(fmt.Sprintf("10.0.0.%d", i))
		c.advance(time.Second)
	}
	require.Equal(t, 4, l.Size())

	l.Sweep()
	assert.Equal(t, 2, l.Size())

	// The oldest active visitor was evicted, so it starts with a full bucket.
	assert.True(t, l.Allow("10.0.0.0"))
	assert.False(t, l.Allow("10.0.0.2"))
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		RateLimit:  server.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = fmt.Sprintf("192.0.2.1:%d", 40000+i)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
			assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
