// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sigil-dev/aria/internal/provider"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

// DefaultMaxTokens is sent when the request leaves MaxTokens unset; the
// Messages API requires the field.
const DefaultMaxTokens = 4096

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Backend implements provider.Backend using the Anthropic Messages API.
// Anthropic has no embeddings endpoint, so it never serves the embedding task.
type Backend struct {
	client anthropicsdk.Client
	config Config
}

var _ provider.Backend = (*Backend)(nil)

// New creates a new Anthropic backend. Returns an error if the API key is missing.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, ariaerr.New(ariaerr.CodeProviderRequestInvalid, "anthropic: missing api_key in config",
			ariaerr.FieldProvider(provider.ProviderAnthropic))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Backend{client: anthropicsdk.NewClient(opts...), config: cfg}, nil
}

func (b *Backend) Name() string { return provider.ProviderAnthropic }

func (b *Backend) Close() error { return nil }

// Generate sends one non-streaming Messages request.
func (b *Backend) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	msg, err := b.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		return nil, classify(err)
	}
	return convertResponse(msg), nil
}

// buildParams converts a provider.Request into Anthropic SDK MessageNewParams.
func buildParams(req provider.Request) anthropicsdk.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  convertTurns(req.Contents),
		MaxTokens: maxTokens,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*req.Temperature))
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params
}

// convertTurns transforms turns into Anthropic message params. Function
// results travel as tool_result blocks in a user message. Turns that end up
// without blocks are dropped.
func convertTurns(turns []types.Turn) []anthropicsdk.MessageParam {
	var result []anthropicsdk.MessageParam

	for _, t := range turns {
		var blocks []anthropicsdk.ContentBlockParamUnion
		for _, p := range t.Parts {
			switch v := p.(type) {
			case types.TextPart:
				if v.Text != "" {
					blocks = append(blocks, anthropicsdk.NewTextBlock(v.Text))
				}
			case types.InlineDataPart:
				if !strings.HasPrefix(v.MIMEType, "image/") {
					slog.Warn("anthropic: dropping unsupported media", "mime_type", v.MIMEType)
					continue
				}
				blocks = append(blocks, anthropicsdk.NewImageBlockBase64(v.MIMEType, base64.StdEncoding.EncodeToString(v.Data)))
			case types.FunctionCallPart:
				args := v.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(v.ID, args, v.Name))
			case types.FunctionResultPart:
				payload, err := json.Marshal(v.Response)
				if err != nil {
					payload = []byte("{}")
				}
				blocks = append(blocks, anthropicsdk.NewToolResultBlock(v.ID, string(payload), false))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if t.Role == types.RoleAssistant {
			result = append(result, anthropicsdk.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropicsdk.NewUserMessage(blocks...))
		}
	}

	return result
}

// convertTools transforms provider.ToolDefinition slices into Anthropic SDK tool params.
func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.Opt(t.Description),
				InputSchema: extractSchema(t.InputSchema),
			},
		})
	}
	return result
}

// extractSchema maps a full JSON Schema object into the SDK's
// ToolInputSchemaParam, which carries Properties and Required separately.
func extractSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	switch req := raw["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		strs := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				strs = append(strs, s)
			}
		}
		schema.Required = strs
	}
	return schema
}

func convertResponse(msg *anthropicsdk.Message) *provider.Response {
	out := &provider.Response{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	content := types.Turn{Role: types.RoleAssistant}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
			content.Parts = append(content.Parts, types.TextPart{Text: block.Text})
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					slog.Warn("anthropic: tool_use input is not a JSON object", "tool", block.Name, "error", err)
				}
			}
			fc := types.FunctionCallPart{ID: block.ID, Name: block.Name, Args: args}
			out.FunctionCalls = append(out.FunctionCalls, fc)
			content.Parts = append(content.Parts, fc)
		}
	}

	out.Text = text.String()
	out.Content = content
	return out
}

func classify(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus(provider.ProviderAnthropic, apiErr.StatusCode, err)
	}
	return provider.ClassifyTransport(provider.ProviderAnthropic, err)
}
