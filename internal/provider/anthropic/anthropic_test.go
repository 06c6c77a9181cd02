// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/sigil-dev/aria/internal/provider"
	"github.com/sigil-dev/aria/internal/provider/anthropic"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *anthropic.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := anthropic.New(anthropic.Config{APIKey: "sk-ant-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return b
}

func userTurn(text string) types.Turn {
	return types.Turn{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: text}}}
}

func TestNew(t *testing.T) {
	_, err := anthropic.New(anthropic.Config{})
	require.Error(t, err)
	assert.True(t, ariaerr.HasCode(err, ariaerr.CodeProviderRequestInvalid))

	b, err := anthropic.New(anthropic.Config{APIKey: "sk-ant"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", b.Name())
	assert.NoError(t, b.Close())
}

func TestBackend_Generate(t *testing.T) {
	var body map[string]any
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"stop_reason": "tool_use",
			"content": [
				{"type": "thinking", "thinking": "hmm", "signature": "s"},
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "tu_1", "name": "weather", "input": {"city": "Oslo"}}
			],
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	})

	resp, err := b.Generate(context.Background(), provider.Request{
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "sys",
		Contents:     []types.Turn{userTurn("weather?")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", resp.Text)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 5, resp.CompletionTokens)
	assert.Equal(t, 17, resp.TotalTokens)
	require.Len(t, resp.FunctionCalls, 1)
	assert.Equal(t, "tu_1", resp.FunctionCalls[0].ID)
	assert.Equal(t, "Oslo", resp.FunctionCalls[0].Args["city"])
	assert.Equal(t, types.RoleAssistant, resp.Content.Role)
	assert.Len(t, resp.Content.Parts, 2)

	assert.EqualValues(t, anthropic.DefaultMaxTokens, body["max_tokens"])
	assert.Contains(t, body, "system")
}

func TestBackend_GenerateClassifiesErrors(t *testing.T) {
	tests := []struct {
		status   int
		upstream bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			b := newTestBackend(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "api_error", "message": "nope"}}`))
			})

			_, err := b.Generate(context.Background(), provider.Request{Model: "claude-sonnet-4-5", Contents: []types.Turn{userTurn("hi")}})
			require.Error(t, err)
			assert.Equal(t, tt.upstream, ariaerr.IsUpstreamFailure(err))
			assert.Equal(t, int32(1), calls.Load(), "SDK retries are disabled")
		})
	}
}

func TestConvertTurns(t *testing.T) {
	turns := []types.Turn{
		{Role: types.RoleUser, Parts: []types.Part{
			types.TextPart{Text: "look"},
			types.InlineDataPart{MIMEType: "image/png", Data: []byte("img")},
			types.InlineDataPart{MIMEType: "audio/ogg", Data: []byte("snd")},
		}},
		{Role: types.RoleAssistant, Parts: []types.Part{types.FunctionCallPart{ID: "t1", Name: "lookup"}}},
		{Role: types.RoleUser, Parts: []types.Part{types.FunctionResultPart{ID: "t1", Name: "lookup", Response: map[string]any{"ok": true}}}},
		{Role: types.RoleAssistant, Parts: []types.Part{types.TextPart{Text: ""}}},
	}

	msgs := anthropic.ConvertTurns(turns)
	require.Len(t, msgs, 3)

	assert.Equal(t, anthropicsdk.MessageParamRoleUser, msgs[0].Role)
	require.Len(t, msgs[0].Content, 2, "unsupported media is dropped")
	require.NotNil(t, msgs[0].Content[1].OfImage)
	require.NotNil(t, msgs[0].Content[1].OfImage.Source.OfBase64)
	assert.Equal(t, "aW1n", msgs[0].Content[1].OfImage.Source.OfBase64.Data)

	assert.Equal(t, anthropicsdk.MessageParamRoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, "lookup", msgs[1].Content[0].OfToolUse.Name)

	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", msgs[2].Content[0].OfToolResult.ToolUseID)
}

func TestBuildParams(t *testing.T) {
	temp := float32(0.25)
	params := anthropic.BuildParams(provider.Request{
		Model:       "claude-haiku-4-5",
		MaxTokens:   256,
		Temperature: &temp,
		Tools: []provider.ToolDefinition{{
			Name:        "lookup",
			Description: "find things",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"q": map[string]any{"type": "string"}},
				"required":   []any{"q"},
			},
		}},
	})

	assert.Equal(t, int64(256), params.MaxTokens)
	assert.True(t, params.Temperature.Valid())
	assert.Empty(t, params.System)
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.Tools[0].OfTool)
	assert.Equal(t, "lookup", params.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"q"}, params.Tools[0].OfTool.InputSchema.Required)
}

func TestExtractSchema(t *testing.T) {
	s := anthropic.ExtractSchema(map[string]any{"required": []string{"a", "b"}})
	assert.Equal(t, []string{"a", "b"}, s.Required)
	assert.Nil(t, s.Properties)

	s = anthropic.ExtractSchema(map[string]any{"required": []any{"a", 3}})
	assert.Equal(t, []string{"a"}, s.Required)
}
