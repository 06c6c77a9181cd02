// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"io"
	"net/http"
	"strings"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// Known provider names.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderGoogle     = "google"
	ProviderOpenRouter = "openrouter"
)

// DefaultEndpoint returns the public API base URL for a known provider.
func DefaultEndpoint(name string) string {
	switch name {
	case ProviderAnthropic:
		return "https://api.anthropic.com"
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderGoogle:
		return "https://generativelanguage.googleapis.com"
	case ProviderOpenRouter:
		return "https://openrouter.ai/api/v1"
	default:
		return ""
	}
}

// CheckKey makes a lightweight call to the provider's model listing to
// confirm the API key is accepted. endpoint overrides the default base URL.
func CheckKey(ctx context.Context, client *http.Client, name, key, endpoint string) error {
	base := strings.TrimRight(endpoint, "/")
	if base == "" {
		base = DefaultEndpoint(name)
	}

	var (
		url     string
		headers = map[string]string{}
	)
	switch name {
	case ProviderAnthropic:
		url = base + "/v1/models"
		headers["x-api-key"] = key
		headers["anthropic-version"] = "2023-06-01"
	case ProviderOpenAI, ProviderOpenRouter:
		url = base + "/models"
		headers["Authorization"] = "Bearer " + key
	case ProviderGoogle:
		url = base + "/v1beta/models"
		headers["x-goog-api-key"] = key
	default:
		return ariaerr.Errorf(ariaerr.CodeProviderKeyInvalid, "unknown provider: %s", name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ariaerr.Errorf(ariaerr.CodeProviderKeyCheckFailure, "building key check request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return ariaerr.Errorf(ariaerr.CodeProviderKeyCheckFailure, "checking %s key: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ariaerr.Errorf(ariaerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return ariaerr.Errorf(ariaerr.CodeProviderKeyCheckFailure, "%s key check failed (HTTP %d)", name, resp.StatusCode)
	}
	return nil
}
