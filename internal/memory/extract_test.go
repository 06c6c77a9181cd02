// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory_test

import (
	"context"
	"testing"

	"github.com/sigil-dev/aria/internal/memory"
	"github.com/sigil-dev/aria/internal/provider"
	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userTurn(id, name, text string) types.Turn {
	return types.Turn{
		Role:   types.RoleUser,
		Parts:  []types.Part{types.TextPart{Text: text}},
		Sender: &types.Attribution{ID: id, DisplayName: name},
	}
}

func botTurn(text string) types.Turn {
	return types.Turn{Role: types.RoleAssistant, Parts: []types.Part{types.TextPart{Text: text}}}
}

func window() []types.Turn {
	return []types.Turn{
		userTurn("u1", "Ann", "hi there"),
		botTurn("hello Ann"),
		userTurn("u1", "Ann", "I just adopted a cat named Miso"),
		userTurn("u2", "Bob", "nice!"),
		botTurn("congrats on Miso"),
	}
}

func TestParseFacts(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []memory.Fact
		wantErr bool
	}{
		{
			name: "plain array",
			raw:  `[{"key":"pet","value":"has a cat","importance":7,"memoryType":"user"}]`,
			want: []memory.Fact{{Key: "pet", Value: "has a cat", Importance: 7, Type: store.MemoryTypeUser}},
		},
		{
			name: "fenced with prose",
			raw:  "```json\nHere you go: [{\"key\":\"lang\",\"value\":\"Go\",\"importance\":\"4\",\"memoryType\":\"Topic\"}]\n```",
			want: []memory.Fact{{Key: "lang", Value: "Go", Importance: 4, Type: store.MemoryTypeTopic}},
		},
		{
			name: "defaults and clamping",
			raw:  `[{"key":"a","value":"b"},{"key":"c","value":"d","importance":99,"memoryType":"weird"}]`,
			want: []memory.Fact{
				{Key: "a", Value: "b", Importance: 5, Type: store.MemoryTypeUser},
				{Key: "c", Value: "d", Importance: 10, Type: store.MemoryTypeUser},
			},
		},
		{
			name: "skips incomplete and caps at three",
			raw: `[{"key":"","value":"x"},"junk",{"key":"1","value":"1"},{"key":"2","value":"2"},
				{"key":"3","value":"3"},{"key":"4","value":"4"}]`,
			want: []memory.Fact{
				{Key: "1", Value: "1", Importance: 5, Type: store.MemoryTypeUser},
				{Key: "2", Value: "2", Importance: 5, Type: store.MemoryTypeUser},
				{Key: "3", Value: "3", Importance: 5, Type: store.MemoryTypeUser},
			},
		},
		{name: "empty array", raw: `[]`},
		{name: "no array", raw: `I could not find anything.`, wantErr: true},
		{name: "broken json", raw: `[{"key": "a",]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := memory.ParseFacts(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ariaerr.HasCode(err, ariaerr.CodeMemoryExtractParseFailure))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractFacts_SkipsShortWindows(t *testing.T) {
	h := newHarness(t, memory.Config{MinTurns: 4})

	facts, err := h.svc.ExtractFacts(context.Background(), window()[:3], "u1", "")
	require.NoError(t, err)
	assert.Empty(t, facts)
	assert.Zero(t, h.model.generated)
}

func TestExtractFacts_UsesExtractionRoute(t *testing.T) {
	h := newHarness(t, memory.Config{MinTurns: 4})
	h.model.reply = `[{"key":"pet","value":"has a cat named Miso","importance":6,"memoryType":"user"}]`

	facts, err := h.svc.ExtractFacts(context.Background(), window(), "u1", "g1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "pet", facts[0].Key)

	assert.Equal(t, provider.TaskExtraction, h.model.lastTask)
	assert.Contains(t, h.model.lastPrompt.UserInput, "Ann (participant): I just adopted a cat named Miso")
	assert.Contains(t, h.model.lastPrompt.UserInput, "Bob: nice!")
	assert.Contains(t, h.model.lastPrompt.UserInput, "Assistant: congrats on Miso")
}

func TestExtractFacts_ParseFailureYieldsEmpty(t *testing.T) {
	h := newHarness(t, memory.Config{MinTurns: 1})
	h.model.reply = "sorry, no JSON today"

	facts, err := h.svc.ExtractFacts(context.Background(), window(), "u1", "")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestExtractFacts_ModelFailure(t *testing.T) {
	h := newHarness(t, memory.Config{MinTurns: 1})
	h.model.genErr = ariaerr.New(ariaerr.CodeProviderCircuitOpen, "open")

	_, err := h.svc.ExtractFacts(context.Background(), window(), "u1", "")
	require.Error(t, err)
	assert.True(t, ariaerr.IsCircuitOpen(err))
}

func TestExtractAndStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, memory.Config{MinTurns: 1})
	h.model.reply = `[{"key":"pet","value":"has a cat named Miso","importance":6,"memoryType":"user"},
		{"key":"lang","value":"writes go","importance":3,"memoryType":"topic"}]`

	n, err := h.svc.ExtractAndStore(ctx, window(), "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := h.svc.ListMemories(ctx, "u1", "g1", store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "I just adopted a cat named Miso", list[0].Context)
}

func TestTranscriptHelpers(t *testing.T) {
	assert.Equal(t, "hello", memory.LastUserSnippet([]types.Turn{userTurn("u1", "", "hello"), userTurn("u2", "", "other")}, "u1"))
	assert.Empty(t, memory.LastUserSnippet([]types.Turn{botTurn("x")}, "u1"))

	got := memory.BuildTranscript([]types.Turn{
		{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "anon"}}},
		botTurn("  "),
	}, "u1")
	assert.Equal(t, "User: anon", got)
}
