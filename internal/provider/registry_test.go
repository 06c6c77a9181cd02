// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"testing"

	"github.com/sigil-dev/aria/internal/provider"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := provider.NewRegistry(nil)
	reg.Register(newTestClient(t, newFakeBackend("anthropic"), provider.ClientConfig{}))

	got, err := reg.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got.Name())

	_, err = reg.Get("nonexistent")
	require.Error(t, err)
	assert.True(t, ariaerr.HasCode(err, ariaerr.CodeProviderNotFound))
}

func TestRegistry_GenerateRoutesByTask(t *testing.T) {
	google := newFakeBackend("google")
	anthropic := newFakeBackend("anthropic")

	reg := provider.NewRegistry(provider.NewModelRouter(provider.Models{
		Chat:      "google/gemini-2.5-flash",
		Reasoning: "anthropic/claude-sonnet-4-5",
	}))
	reg.Register(newTestClient(t, google, provider.ClientConfig{}))
	reg.Register(newTestClient(t, anthropic, provider.ClientConfig{}))
	ctx := context.Background()

	_, err := reg.Generate(ctx, provider.TaskChat, provider.GenerateRequest{UserInput: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", google.LastRequest().Model)

	_, err = reg.Generate(ctx, provider.TaskReasoning, provider.GenerateRequest{UserInput: "think"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", anthropic.LastRequest().Model)

	_, err = reg.Generate(ctx, provider.TaskExtraction, provider.GenerateRequest{UserInput: "extract"})
	require.NoError(t, err)
	assert.Equal(t, 2, google.Calls(), "extraction falls back to the chat model")
}

func TestRegistry_UnconfiguredRoutes(t *testing.T) {
	reg := provider.NewRegistry(provider.NewModelRouter(provider.Models{Chat: "openai/gpt-4.1"}))
	assert.False(t, reg.Configured(), "openai client not registered")

	_, err := reg.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, ariaerr.IsNotFound(err))

	reg.Register(newTestClient(t, newFakeBackend("openai"), provider.ClientConfig{}))
	assert.True(t, reg.Configured())
}

func TestRegistry_EmbedUsesEmbeddingRoute(t *testing.T) {
	b := &fakeEmbedBackend{fakeBackend: newFakeBackend("google")}
	var gotModel string
	b.embedFn = func(_ context.Context, model string, texts []string) ([][]float32, error) {
		gotModel = model
		return [][]float32{{1, 2, 3}}, nil
	}
	reg := provider.NewRegistry(provider.NewModelRouter(provider.Models{
		Chat:      "google/gemini-2.5-flash",
		Embedding: "google/text-embedding-004",
	}))
	reg.Register(newTestClient(t, b, provider.ClientConfig{}))

	vec, err := reg.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, "text-embedding-004", gotModel)
}

func TestRegistry_MetricsAndNames(t *testing.T) {
	reg := provider.NewRegistry(nil)
	reg.Register(newTestClient(t, newFakeBackend("openai"), provider.ClientConfig{}))
	reg.Register(newTestClient(t, newFakeBackend("google"), provider.ClientConfig{}))

	assert.Equal(t, []string{"google", "openai"}, reg.Names())
	m := reg.Metrics()
	require.Len(t, m, 2)
	assert.True(t, m["google"].Available)
	require.NoError(t, reg.Close())
}
