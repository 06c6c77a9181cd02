// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"sync"
	"time"

	"github.com/sigil-dev/aria/internal/provider"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// fakeBackend records every request and answers through generateFn.
type fakeBackend struct {
	name string

	mu         sync.Mutex
	calls      int
	requests   []provider.Request
	generateFn func(ctx context.Context, call int, req provider.Request) (*provider.Response, error)
	embedFn    func(ctx context.Context, model string, texts []string) ([][]float32, error)
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	fn := f.generateFn
	f.mu.Unlock()

	if fn == nil {
		return &provider.Response{Text: "ok", PromptTokens: 3, CompletionTokens: 2}, nil
	}
	return fn(ctx, call, req)
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) LastRequest() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeEmbedBackend adds embedding support to fakeBackend.
type fakeEmbedBackend struct {
	*fakeBackend
}

func (f *fakeEmbedBackend) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	fn := f.embedFn
	f.mu.Unlock()

	if fn == nil {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}
	return fn(ctx, model, texts)
}

func upstreamErr() error {
	return ariaerr.New(ariaerr.CodeProviderUpstreamFailure, "503 service unavailable")
}

func invalidErr() error {
	return ariaerr.New(ariaerr.CodeProviderRequestInvalid, "400 bad request")
}

// noSleep makes retries instantaneous and records requested delays.
type noSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *noSleep) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func fastRetry(s *noSleep, attempts int) provider.RetryPolicy {
	p := provider.RetryPolicy{MaxAttempts: attempts, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	p.SetSleep(s.sleep)
	return p
}
