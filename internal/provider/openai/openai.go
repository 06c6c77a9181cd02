// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sigil-dev/aria/internal/provider"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

// Config holds configuration for an OpenAI-compatible endpoint.
type Config struct {
	// Name registers the backend; defaults to "openai". Use "openrouter"
	// together with the OpenRouter base URL for that service.
	Name    string
	APIKey  string
	BaseURL string
	// EmbeddingDimensions requests shortened embeddings when positive.
	EmbeddingDimensions int
}

// Backend implements provider.Backend and provider.Embedder using the
// Chat Completions and Embeddings APIs.
type Backend struct {
	client openaisdk.Client
	config Config
}

var (
	_ provider.Backend  = (*Backend)(nil)
	_ provider.Embedder = (*Backend)(nil)
)

// New creates an OpenAI-compatible backend. Returns an error if the API key
// is missing. SDK-level retries are disabled; provider.Client owns retries.
func New(cfg Config) (*Backend, error) {
	if cfg.Name == "" {
		cfg.Name = provider.ProviderOpenAI
	}
	if cfg.APIKey == "" {
		return nil, ariaerr.New(ariaerr.CodeProviderRequestInvalid, cfg.Name+": missing api_key in config", ariaerr.FieldProvider(cfg.Name))
	}
	if cfg.BaseURL == "" && cfg.Name == provider.ProviderOpenRouter {
		cfg.BaseURL = provider.DefaultEndpoint(provider.ProviderOpenRouter)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Backend{client: openaisdk.NewClient(opts...), config: cfg}, nil
}

func (b *Backend) Name() string { return b.config.Name }

func (b *Backend) Close() error { return nil }

// Generate runs a single non-streaming chat completion.
func (b *Backend) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	completion, err := b.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return nil, b.classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, ariaerr.New(ariaerr.CodeProviderResponseInvalid, b.config.Name+": response has no choices", ariaerr.FieldProvider(b.config.Name))
	}

	msg := completion.Choices[0].Message
	out := &provider.Response{
		Text:             msg.Content,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}
	content := types.Turn{Role: types.RoleAssistant}
	if msg.Content != "" {
		content.Parts = append(content.Parts, types.TextPart{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				slog.Warn("openai: tool call arguments are not a JSON object", "function", tc.Function.Name, "error", err)
			}
		}
		fc := types.FunctionCallPart{ID: tc.ID, Name: tc.Function.Name, Args: args}
		out.FunctionCalls = append(out.FunctionCalls, fc)
		content.Parts = append(content.Parts, fc)
	}
	out.Content = content
	return out, nil
}

// Embed embeds texts in one request, preserving input order.
func (b *Backend) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: model,
	}
	if b.config.EmbeddingDimensions > 0 {
		params.Dimensions = param.NewOpt(int64(b.config.EmbeddingDimensions))
	}

	resp, err := b.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, ariaerr.New(ariaerr.CodeProviderResponseInvalid, b.config.Name+": embedding count mismatch", ariaerr.FieldProvider(b.config.Name))
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}

// buildParams converts a provider.Request into ChatCompletionNewParams.
func buildParams(req provider.Request) openaisdk.ChatCompletionNewParams {
	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: convertTurns(req.Contents, req.SystemPrompt),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params
}

// convertTurns maps turns onto chat messages. The system prompt is
// prepended as a system message. Function results become tool messages and
// inline media becomes data-URL image parts.
func convertTurns(turns []types.Turn, systemPrompt string) []openaisdk.ChatCompletionMessageParamUnion {
	var result []openaisdk.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}

	for _, t := range turns {
		if t.Role == types.RoleAssistant {
			if msg, ok := assistantMessage(t); ok {
				result = append(result, msg)
			}
			continue
		}

		var (
			parts    []openaisdk.ChatCompletionContentPartUnionParam
			hasMedia bool
		)
		for _, p := range t.Parts {
			switch v := p.(type) {
			case types.TextPart:
				if v.Text != "" {
					parts = append(parts, openaisdk.TextContentPart(v.Text))
				}
			case types.InlineDataPart:
				hasMedia = true
				parts = append(parts, openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
					URL: "data:" + v.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(v.Data),
				}))
			case types.FunctionResultPart:
				payload, err := json.Marshal(v.Response)
				if err != nil {
					payload = []byte("{}")
				}
				result = append(result, openaisdk.ToolMessage(string(payload), v.ID))
			}
		}

		switch {
		case len(parts) == 0:
		case hasMedia:
			result = append(result, openaisdk.UserMessage(parts))
		default:
			result = append(result, openaisdk.UserMessage(t.Text()))
		}
	}
	return result
}

func assistantMessage(t types.Turn) (openaisdk.ChatCompletionMessageParamUnion, bool) {
	var msg openaisdk.ChatCompletionAssistantMessageParam
	if text := t.Text(); text != "" {
		msg.Content.OfString = param.NewOpt(text)
	}
	for _, p := range t.Parts {
		fc, ok := p.(types.FunctionCallPart)
		if !ok {
			continue
		}
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = []byte("{}")
		}
		msg.ToolCalls = append(msg.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
			ID: fc.ID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.Name,
				Arguments: string(args),
			},
		})
	}
	if !msg.Content.OfString.Valid() && len(msg.ToolCalls) == 0 {
		return openaisdk.ChatCompletionMessageParamUnion{}, false
	}
	return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &msg}, true
}

// convertTools transforms provider.ToolDefinition slices into OpenAI SDK tool params.
func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}

func (b *Backend) classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus(b.config.Name, apiErr.StatusCode, err)
	}
	return provider.ClassifyTransport(b.config.Name, err)
}
