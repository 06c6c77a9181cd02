// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/sigil-dev/aria/internal/provider"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

const name = provider.ProviderGoogle

// Config holds Google provider configuration.
type Config struct {
	APIKey string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
	// EmbeddingDimensions truncates embeddings when positive.
	EmbeddingDimensions int
}

// Backend implements provider.Backend and provider.Embedder on the Gemini API.
type Backend struct {
	client *genai.Client
	config Config
}

var (
	_ provider.Backend  = (*Backend)(nil)
	_ provider.Embedder = (*Backend)(nil)
)

// New creates a Gemini backend. Returns an error if the API key is missing.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, ariaerr.New(ariaerr.CodeProviderRequestInvalid, "google: missing api_key in config", ariaerr.FieldProvider(name))
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, ariaerr.Wrapf(err, ariaerr.CodeProviderRequestInvalid, "google: creating client")
	}
	return &Backend{client: client, config: cfg}, nil
}

func (b *Backend) Name() string { return name }

func (b *Backend) Close() error { return nil }

// Generate runs a single non-streaming GenerateContent call.
func (b *Backend) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	contents := convertTurns(req.Contents)
	resp, err := b.client.Models.GenerateContent(ctx, req.Model, contents, buildConfig(req))
	if err != nil {
		return nil, classify(err)
	}
	return convertResponse(resp)
}

// Embed embeds each text with the given embedding model.
func (b *Backend) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	var cfg *genai.EmbedContentConfig
	if b.config.EmbeddingDimensions > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(b.config.EmbeddingDimensions))}
	}

	resp, err := b.client.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, ariaerr.New(ariaerr.CodeProviderResponseInvalid, "google: embedding count mismatch", ariaerr.FieldProvider(name))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, ariaerr.New(ariaerr.CodeProviderResponseInvalid, "google: nil embedding", ariaerr.FieldProvider(name))
		}
		out[i] = e.Values
	}
	return out, nil
}

// buildConfig converts a provider.Request into a genai.GenerateContentConfig.
func buildConfig(req provider.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertTools(req.Tools)
	}
	return cfg
}

// convertTurns maps conversation turns onto genai contents. Assistant turns
// use the "model" role; function results travel in user turns.
func convertTurns(turns []types.Turn) []*genai.Content {
	result := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.RoleUser
		if t.Role == types.RoleAssistant {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(t.Parts))
		for _, p := range t.Parts {
			switch v := p.(type) {
			case types.TextPart:
				if v.Text != "" {
					parts = append(parts, &genai.Part{Text: v.Text})
				}
			case types.InlineDataPart:
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: v.MIMEType, Data: v.Data}})
			case types.FunctionCallPart:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: v.ID, Name: v.Name, Args: v.Args}})
			case types.FunctionResultPart:
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: v.ID, Name: v.Name, Response: v.Response}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		result = append(result, &genai.Content{Role: role, Parts: parts})
	}
	return result
}

// convertTools transforms provider.ToolDefinition slices into genai.Tool slices.
func convertTools(tools []provider.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertResponse(resp *genai.GenerateContentResponse) (*provider.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ariaerr.New(ariaerr.CodeProviderResponseInvalid, "google: response has no candidates", ariaerr.FieldProvider(name))
	}

	out := &provider.Response{}
	content := types.Turn{Role: types.RoleAssistant}
	var text strings.Builder

	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil || part.Thought:
			continue
		case part.FunctionCall != nil:
			fc := types.FunctionCallPart{ID: part.FunctionCall.ID, Name: part.FunctionCall.Name, Args: part.FunctionCall.Args}
			out.FunctionCalls = append(out.FunctionCalls, fc)
			content.Parts = append(content.Parts, fc)
		case part.Text != "":
			text.WriteString(part.Text)
			content.Parts = append(content.Parts, types.TextPart{Text: part.Text})
		case part.InlineData != nil:
			content.Parts = append(content.Parts, types.InlineDataPart{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data})
		default:
			slog.Debug("google: skipping unsupported response part")
		}
	}

	out.Text = text.String()
	out.Content = content
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	return out, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus(name, apiErr.Code, err)
	}
	return provider.ClassifyTransport(name, err)
}
