// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/sigil-dev/aria/internal/config"
	"github.com/sigil-dev/aria/internal/secrets"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

func init() {
	keyring.MockInit()
}

// isolate keeps the user's real config directory out of the search path.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aria.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	isolate(t)
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, "google/gemini-2.5-flash", cfg.Models.Chat)
	assert.Equal(t, 768, cfg.Models.EmbeddingDimensions)
	assert.Equal(t, 30*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 3, cfg.Client.MaxAttempts)
	assert.Equal(t, 20, cfg.Context.MaxTurns)
	assert.Equal(t, 30*time.Minute, cfg.Context.TTL)
	assert.Equal(t, 50, cfg.Memory.Capacity)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.NotEmpty(t, cfg.Storage.DataDir)
	assert.False(t, cfg.Telegram.Enabled)
	assert.Equal(t, "127.0.0.1:18790", cfg.Server.Listen)
	assert.Equal(t, "@daily", cfg.Maintenance.PruneSchedule)
	assert.Nil(t, cfg.Assistant.Temperature)
	assert.Empty(t, cfg.File)
}

func TestLoad_FromFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
providers:
  openai:
    api_key: sk-test
models:
  chat: openai/gpt-4.1
  embedding: openai/text-embedding-3-small
  embedding_dimensions: 1536
assistant:
  temperature: 0.4
  ambient_channels: ["-100123"]
storage:
  backend: chromem
  data_dir: /tmp/aria
server:
  listen: 0.0.0.0:9999
  tokens:
    ops: sk-ops
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
	assert.Equal(t, "openai/gpt-4.1", cfg.Models.Chat)
	assert.Equal(t, 1536, cfg.Models.EmbeddingDimensions)
	require.NotNil(t, cfg.Assistant.Temperature)
	assert.InDelta(t, 0.4, *cfg.Assistant.Temperature, 1e-6)
	assert.Equal(t, []string{"-100123"}, cfg.Assistant.AmbientChannels)
	assert.Equal(t, "chromem", cfg.Storage.Backend)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Listen)
	assert.Equal(t, map[string]string{"ops": "sk-ops"}, cfg.Server.Tokens)
	// Unset keys keep their defaults.
	assert.Equal(t, 20, cfg.Context.MaxTurns)
}

func TestLoad_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("ARIA_SERVER_LISTEN", "10.0.0.1:8080")
	t.Setenv("ARIA_CONTEXT_MAX_TURNS", "7")

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Server.Listen)
	assert.Equal(t, 7, cfg.Context.MaxTurns)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.True(t, ariaerr.HasCode(err, ariaerr.CodeConfigLoadReadFailure))
}

func TestLoad_ValidationRunsAtLoad(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
storage:
  backend: postgres
context:
  max_turns: 0
`)

	_, err := config.Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "context.max_turns")
	assert.True(t, ariaerr.HasCode(err, ariaerr.CodeConfigValidateInvalidValue))
}

func TestLoad_ResolvesKeyringSecrets(t *testing.T) {
	isolate(t)
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("aria-config-test", "google", "g-key"))
	require.NoError(t, ks.Store("aria-config-test", "admin", "adm"))

	path := writeConfig(t, `
providers:
  google:
    api_key: keyring://aria-config-test/google
server:
  tokens:
    admin: keyring://aria-config-test/admin
telegram:
  token: keyring://aria-config-test/missing
`)

	cfg, err := config.Load(path, ks)
	require.NoError(t, err)
	assert.Equal(t, "g-key", cfg.Providers["google"].APIKey)
	assert.Equal(t, "adm", cfg.Server.Tokens["admin"])
	require.Len(t, cfg.Unresolved, 1)
	assert.Equal(t, "telegram.token", cfg.Unresolved[0].ConfigKey)
}

func TestLoad_UnresolvedProviderKeyFails(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
providers:
  google:
    api_key: keyring://aria-config-test/absent
`)

	_, err := config.Load(path, secrets.NewKeyringStore())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.google.api_key")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults are valid", func(*config.Config) {}, ""},
		{"empty chat model", func(c *config.Config) { c.Models.Chat = "" }, "models.chat must not be empty"},
		{"model without provider", func(c *config.Config) { c.Models.Chat = "gpt-4" }, "provider/model"},
		{"unconfigured provider", func(c *config.Config) {
			c.Providers = map[string]config.ProviderConfig{"openai": {APIKey: "k"}}
		}, `references provider "google"`},
		{"zero embedding dimensions", func(c *config.Config) { c.Models.EmbeddingDimensions = 0 }, "embedding_dimensions"},
		{"max delay below base", func(c *config.Config) { c.Client.MaxDelay = time.Millisecond }, "client.max_delay"},
		{"zero attempts", func(c *config.Config) { c.Client.MaxAttempts = 0 }, "client.max_attempts"},
		{"negative debounce", func(c *config.Config) { c.Context.Debounce = -time.Second }, "context.debounce"},
		{"zero capacity", func(c *config.Config) { c.Memory.Capacity = 0 }, "memory.capacity"},
		{"importance out of range", func(c *config.Config) { c.Memory.PruneMaxImportance = 11 }, "prune_max_importance"},
		{"temperature out of range", func(c *config.Config) {
			temp := float32(3)
			c.Assistant.Temperature = &temp
		}, "assistant.temperature"},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"telegram without token", func(c *config.Config) { c.Telegram.Enabled = true }, "telegram.token is required"},
		{"telegram unresolved token", func(c *config.Config) {
			c.Telegram.Enabled = true
			c.Telegram.Token = "keyring://aria/telegram-token"
		}, "unresolved keyring secret"},
		{"telegram endpoint verbs", func(c *config.Config) { c.Telegram.APIEndpoint = "http://localhost/bot" }, "api_endpoint"},
		{"listen without port", func(c *config.Config) { c.Server.Listen = "localhost" }, "host:port"},
		{"listen port out of range", func(c *config.Config) { c.Server.Listen = "127.0.0.1:70000" }, "between 1 and 65535"},
		{"empty token", func(c *config.Config) { c.Server.Tokens = map[string]string{"ops": ""} }, "server.tokens.ops"},
		{"permissions for unknown token", func(c *config.Config) {
			c.Server.Permissions = map[string][]string{"ci": {"status.read"}}
		}, "server.permissions.ci does not name a configured token"},
		{"permission grants nothing", func(c *config.Config) {
			c.Server.Tokens = map[string]string{"ci": "sk-ci"}
			c.Server.Permissions = map[string][]string{"ci": {"plugins.read"}}
		}, "grants no known permission"},
		{"read-only token", func(c *config.Config) {
			c.Server.Tokens = map[string]string{"ci": "sk-ci"}
			c.Server.Permissions = map[string][]string{"ci": {"*.read"}}
		}, ""},
		{"rate without burst", func(c *config.Config) { c.Server.RateLimit.Burst = 0 }, "rate_limit.burst"},
		{"bad cron", func(c *config.Config) { c.Maintenance.PruneSchedule = "every day" }, "maintenance.prune_schedule"},
		{"disabled job", func(c *config.Config) { c.Maintenance.PurgeSchedule = "off" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			errs := cfg.Validate()
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			var msgs []string
			for _, err := range errs {
				msgs = append(msgs, err.Error())
				assert.True(t, ariaerr.HasCode(err, ariaerr.CodeConfigValidateInvalidValue))
			}
			assert.Contains(t, strings.Join(msgs, "\n"), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage.Backend = ""
	cfg.Server.Listen = ""
	cfg.Memory.RecallLimit = 0

	assert.Len(t, cfg.Validate(), 3)
}

func TestRedacted(t *testing.T) {
	cfg := validConfig(t)
	cfg.Providers = map[string]config.ProviderConfig{
		"google": {APIKey: "g-secret"},
		"openai": {APIKey: "keyring://aria/openai-api-key"},
	}
	cfg.Server.Tokens = map[string]string{"ops": "sk-ops"}
	cfg.Telegram.Token = "123:abc"

	out := cfg.Redacted()
	assert.Equal(t, "[redacted]", out.Providers["google"].APIKey)
	assert.Equal(t, "keyring://aria/openai-api-key", out.Providers["openai"].APIKey)
	assert.Equal(t, "[redacted]", out.Server.Tokens["ops"])
	assert.Equal(t, "[redacted]", out.Telegram.Token)

	assert.Equal(t, "g-secret", cfg.Providers["google"].APIKey, "original is untouched")
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "aria.yaml")

	require.NoError(t, config.WriteDefault(path, false))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	err = config.WriteDefault(path, false)
	require.Error(t, err, "existing files are not overwritten")
	require.NoError(t, config.WriteDefault(path, true))
}

func TestDefaultConfigYAML_Parses(t *testing.T) {
	isolate(t)
	ks := secrets.NewKeyringStore()
	for _, key := range []string{"google-api-key", "admin-token", "telegram-token"} {
		require.NoError(t, ks.Store(secrets.DefaultService, key, "value-"+key))
	}
	path := writeConfig(t, string(config.DefaultConfigYAML))

	cfg, err := config.Load(path, ks)
	require.NoError(t, err)
	assert.Equal(t, "value-google-api-key", cfg.Providers["google"].APIKey)
	assert.Equal(t, "value-admin-token", cfg.Server.Tokens["admin"])
}
