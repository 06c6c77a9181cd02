// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"time"

	"github.com/sigil-dev/aria/pkg/types"
)

// FetchAll exposes fetchAll (for testing).
func FetchAll(ctx context.Context, f MediaFetcher, refs []types.MediaRef) []types.Part {
	return fetchAll(ctx, f, refs)
}

// SetSleep replaces the backoff sleeper (for testing).
func (p *RetryPolicy) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

// SetNowFunc overrides the client's latency clock (for testing).
func (c *Client) SetNowFunc(fn func() time.Time) {
	c.nowFunc = fn
}
