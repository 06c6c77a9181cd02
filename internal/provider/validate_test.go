// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sigil-dev/aria/internal/provider"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckKey_SendsProviderHeaders(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		path     string
		header   string
		want     string
	}{
		{"anthropic", provider.ProviderAnthropic, "/v1/models", "x-api-key", "k1"},
		{"openai", provider.ProviderOpenAI, "/models", "Authorization", "Bearer k1"},
		{"openrouter", provider.ProviderOpenRouter, "/models", "Authorization", "Bearer k1"},
		{"google", provider.ProviderGoogle, "/v1beta/models", "x-goog-api-key", "k1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, tt.want, r.Header.Get(tt.header))
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			err := provider.CheckKey(context.Background(), srv.Client(), tt.provider, "k1", srv.URL)
			require.NoError(t, err)
		})
	}
}

func TestCheckKey_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		code   ariaerr.Code
	}{
		{http.StatusUnauthorized, ariaerr.CodeProviderKeyInvalid},
		{http.StatusForbidden, ariaerr.CodeProviderKeyInvalid},
		{http.StatusInternalServerError, ariaerr.CodeProviderKeyCheckFailure},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := provider.CheckKey(context.Background(), srv.Client(), provider.ProviderOpenAI, "bad", srv.URL)
			require.Error(t, err)
			assert.Equal(t, tt.code, ariaerr.CodeOf(err))
		})
	}
}

func TestCheckKey_UnknownProvider(t *testing.T) {
	err := provider.CheckKey(context.Background(), http.DefaultClient, "mystery", "k", "")
	require.Error(t, err)
	assert.True(t, ariaerr.HasCode(err, ariaerr.CodeProviderKeyInvalid))
}
