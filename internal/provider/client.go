// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"errors"
	"time"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/health"
	"github.com/sigil-dev/aria/pkg/types"
)

// DefaultCallTimeout bounds a single attempt against the backend.
const DefaultCallTimeout = 30 * time.Second

// ClientConfig tunes the resilience policies around a backend.
type ClientConfig struct {
	Timeout          time.Duration
	Retry            RetryPolicy
	FailureThreshold int
	Cooldown         time.Duration
	Fetcher          MediaFetcher
}

// GenerateRequest is one conversational generation call.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	History      []types.Turn
	UserInput    string
	Sender       *types.Attribution
	MaxTokens    int
	Temperature  *float32
	Media        []types.MediaRef
	Tools        []ToolDefinition
}

// GenerateResult is the outcome of a successful generation call.
type GenerateResult struct {
	Text             string
	TokensUsed       int
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	FunctionCalls    []types.FunctionCallPart
	ModelContent     types.Turn
}

// Client wraps a single backend with a per-attempt timeout, retry on
// transient failures, and a circuit breaker around the retrying call.
type Client struct {
	backend Backend
	breaker *CircuitBreaker
	retry   RetryPolicy
	timeout time.Duration
	fetcher MediaFetcher
	nowFunc func() time.Time
}

// NewClient creates a resilient client for backend. Zero config fields fall
// back to package defaults.
func NewClient(backend Backend, cfg ClientConfig) (*Client, error) {
	if backend == nil {
		return nil, ariaerr.New(ariaerr.CodeConfigValidateInvalidValue, "backend must not be nil")
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = DefaultBreakerCooldown
	}
	breaker, err := NewCircuitBreaker(backend.Name(), threshold, cooldown)
	if err != nil {
		return nil, err
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{
		backend: backend,
		breaker: breaker,
		retry:   retry,
		timeout: timeout,
		fetcher: cfg.Fetcher,
		nowFunc: time.Now,
	}, nil
}

// Name returns the backend name.
func (c *Client) Name() string { return c.backend.Name() }

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Metrics returns the breaker snapshot for this endpoint.
func (c *Client) Metrics() health.Metrics { return c.breaker.Metrics() }

// Close releases the backend.
func (c *Client) Close() error { return c.backend.Close() }

// Generate sends history plus the new user turn to the backend. An empty user
// turn without media is omitted from the request. Media items that cannot be
// fetched are logged and dropped.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	start := c.nowFunc()

	contents := make([]types.Turn, 0, len(req.History)+1)
	contents = append(contents, req.History...)

	var userParts []types.Part
	if req.UserInput != "" {
		userParts = append(userParts, types.TextPart{Text: req.UserInput})
	}
	userParts = append(userParts, fetchAll(ctx, c.fetcher, req.Media)...)
	if len(userParts) > 0 {
		contents = append(contents, types.Turn{
			Role:      types.RoleUser,
			Parts:     userParts,
			Timestamp: start,
			Sender:    req.Sender,
		})
	}

	backendReq := Request{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Contents:     contents,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Tools:        req.Tools,
	}

	var resp *Response
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retry.Do(ctx, func(ctx context.Context, _ int) error {
			r, err := withTimeout(ctx, c.timeout, c.backend.Name(), func(ctx context.Context) (*Response, error) {
				return c.backend.Generate(ctx, backendReq)
			})
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		return nil, ariaerr.With(err, ariaerr.FieldProvider(c.backend.Name()), ariaerr.FieldModel(req.Model))
	}
	if resp == nil {
		return nil, ariaerr.New(ariaerr.CodeProviderResponseInvalid, "backend returned no response",
			ariaerr.FieldProvider(c.backend.Name()))
	}

	total := resp.TotalTokens
	if total == 0 {
		total = resp.PromptTokens + resp.CompletionTokens
	}
	content := resp.Content
	if content.Role == "" {
		content = types.Turn{Role: types.RoleAssistant, Parts: []types.Part{types.TextPart{Text: resp.Text}}}
	}

	return &GenerateResult{
		Text:             resp.Text,
		TokensUsed:       total,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          c.nowFunc().Sub(start),
		FunctionCalls:    resp.FunctionCalls,
		ModelContent:     content,
	}, nil
}

// Embed returns the embedding of text under the same timeout, retry and
// breaker policies as generation.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	embedder, ok := c.backend.(Embedder)
	if !ok {
		return nil, ariaerr.New(ariaerr.CodeProviderEmbeddingMissing,
			"provider does not support embeddings: "+c.backend.Name(),
			ariaerr.FieldProvider(c.backend.Name()))
	}

	var vec []float32
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retry.Do(ctx, func(ctx context.Context, _ int) error {
			out, err := withTimeout(ctx, c.timeout, c.backend.Name(), func(ctx context.Context) ([][]float32, error) {
				return embedder.Embed(ctx, model, []string{text})
			})
			if err != nil {
				return err
			}
			if len(out) == 0 || len(out[0]) == 0 {
				return ariaerr.New(ariaerr.CodeProviderResponseInvalid, "empty embedding returned",
					ariaerr.FieldProvider(c.backend.Name()))
			}
			vec = out[0]
			return nil
		})
	})
	if err != nil {
		return nil, ariaerr.With(err, ariaerr.FieldProvider(c.backend.Name()), ariaerr.FieldModel(model))
	}
	return vec, nil
}

// withTimeout races fn against a per-attempt deadline. Expiry yields a fresh
// provider.call.timeout error; cancellation by the caller yields
// provider.call.canceled.
func withTimeout[T any](ctx context.Context, d time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, timeoutErr(name, d)
		}
		if r.err != nil && ctx.Err() != nil {
			return zero, canceledErr(ctx, name)
		}
		return r.v, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, canceledErr(ctx, name)
		}
		return zero, timeoutErr(name, d)
	}
}

func timeoutErr(name string, d time.Duration) error {
	return ariaerr.New(ariaerr.CodeProviderCallTimeout,
		"model call exceeded "+d.String(),
		ariaerr.FieldProvider(name))
}

func canceledErr(ctx context.Context, name string) error {
	return ariaerr.Wrap(ctx.Err(), ariaerr.CodeProviderCallCanceled, "model call canceled",
		ariaerr.FieldProvider(name))
}
