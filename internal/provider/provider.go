// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"

	"github.com/sigil-dev/aria/pkg/types"
)

// Backend is a single generative-model endpoint. Implementations translate
// Request into the vendor SDK call and classify failures with the provider
// error codes (upstream failure, invalid request) so the resilience policies
// can decide whether to retry.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// Embedder is implemented by backends that can produce text embeddings.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Request is a fully assembled generation request.
type Request struct {
	Model        string
	SystemPrompt string
	Contents     []types.Turn
	MaxTokens    int
	Temperature  *float32
	Tools        []ToolDefinition
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Response is the backend-neutral result of one generation call.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FunctionCalls    []types.FunctionCallPart
	// Content is the model turn as returned, suitable for appending to history
	// when continuing a function-calling exchange.
	Content types.Turn
}
