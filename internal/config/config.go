// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package config loads aria's configuration from defaults, an optional YAML
// file and ARIA_ environment variables.
package config

import (
	"errors"
	"maps"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/sigil-dev/aria/internal/secrets"
	"github.com/sigil-dev/aria/internal/server"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// Config is the top-level aria configuration.
type Config struct {
	Providers   map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Models      ModelsConfig              `mapstructure:"models" yaml:"models"`
	Client      ClientConfig              `mapstructure:"client" yaml:"client"`
	Context     ContextConfig             `mapstructure:"context" yaml:"context"`
	Memory      MemoryConfig              `mapstructure:"memory" yaml:"memory"`
	Assistant   AssistantConfig           `mapstructure:"assistant" yaml:"assistant"`
	Storage     StorageConfig             `mapstructure:"storage" yaml:"storage"`
	Telegram    TelegramConfig            `mapstructure:"telegram" yaml:"telegram"`
	Server      ServerConfig              `mapstructure:"server" yaml:"server"`
	Maintenance MaintenanceConfig         `mapstructure:"maintenance" yaml:"maintenance"`

	// File is the config file that was read, empty when running on
	// defaults and environment only.
	File string `mapstructure:"-" yaml:"-"`
	// Unresolved lists keyring references the secret store could not
	// resolve during Load.
	Unresolved []secrets.Unresolved `mapstructure:"-" yaml:"-"`
}

// ProviderConfig holds credentials and endpoint for a model provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// ModelsConfig maps tasks to "provider/model" references.
type ModelsConfig struct {
	Chat                string `mapstructure:"chat" yaml:"chat"`
	Embedding           string `mapstructure:"embedding" yaml:"embedding"`
	Extraction          string `mapstructure:"extraction" yaml:"extraction"`
	Reasoning           string `mapstructure:"reasoning" yaml:"reasoning"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions" yaml:"embedding_dimensions"`
}

// ClientConfig tunes the resilient model client.
type ClientConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	MaxMediaBytes    int64         `mapstructure:"max_media_bytes" yaml:"max_media_bytes"`
}

// ContextConfig tunes the short-term conversation cache.
type ContextConfig struct {
	MaxTurns      int           `mapstructure:"max_turns" yaml:"max_turns"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Debounce      time.Duration `mapstructure:"debounce" yaml:"debounce"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// MemoryConfig tunes long-term memory.
type MemoryConfig struct {
	Capacity           int           `mapstructure:"capacity" yaml:"capacity"`
	MinTurns           int           `mapstructure:"min_turns" yaml:"min_turns"`
	RecallLimit        int           `mapstructure:"recall_limit" yaml:"recall_limit"`
	PruneMaxAge        time.Duration `mapstructure:"prune_max_age" yaml:"prune_max_age"`
	PruneMaxImportance int           `mapstructure:"prune_max_importance" yaml:"prune_max_importance"`
	PruneMaxAccess     int           `mapstructure:"prune_max_access" yaml:"prune_max_access"`
	EmbeddingCacheSize int           `mapstructure:"embedding_cache_size" yaml:"embedding_cache_size"`
	ExtractionWindow   int           `mapstructure:"extraction_window" yaml:"extraction_window"`
}

// AssistantConfig controls when and how the assistant replies.
type AssistantConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	DMEnabled           bool          `mapstructure:"dm_enabled" yaml:"dm_enabled"`
	SystemPrompt        string        `mapstructure:"system_prompt" yaml:"system_prompt"`
	FallbackMessage     string        `mapstructure:"fallback_message" yaml:"fallback_message"`
	OptOutNotice        string        `mapstructure:"opt_out_notice" yaml:"opt_out_notice"`
	MaxTokens           int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature         *float32      `mapstructure:"temperature" yaml:"temperature,omitempty"`
	UserCooldown        time.Duration `mapstructure:"user_cooldown" yaml:"user_cooldown"`
	AmbientCooldown     time.Duration `mapstructure:"ambient_cooldown" yaml:"ambient_cooldown"`
	FailureThreshold    int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	FailureWindow       time.Duration `mapstructure:"failure_window" yaml:"failure_window"`
	AmbientChannels     []string      `mapstructure:"ambient_channels" yaml:"ambient_channels"`
	MentionOnlyChannels []string      `mapstructure:"mention_only_channels" yaml:"mention_only_channels"`
	DisabledTenants     []string      `mapstructure:"disabled_tenants" yaml:"disabled_tenants"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Token          string   `mapstructure:"token" yaml:"token"`
	APIEndpoint    string   `mapstructure:"api_endpoint" yaml:"api_endpoint"`
	MaxConcurrency int      `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	IgnoreUsers    []string `mapstructure:"ignore_users" yaml:"ignore_users"`
	DisableDMUsers []string `mapstructure:"disable_dm_users" yaml:"disable_dm_users"`
	CombineScopes  bool     `mapstructure:"combine_scopes" yaml:"combine_scopes"`
	GlobalRecall   bool     `mapstructure:"global_recall" yaml:"global_recall"`
}

// ServerConfig configures the admin API.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen" yaml:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// Tokens maps a token name to its bearer value. Values may be
	// keyring:// references.
	Tokens map[string]string `mapstructure:"tokens" yaml:"tokens"`
	// Permissions restricts a named token to the listed patterns, such as
	// "memories.read" or "*.read". Tokens without an entry may do anything.
	Permissions map[string][]string `mapstructure:"permissions" yaml:"permissions,omitempty"`
	RateLimit   RateLimitConfig     `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig is the per-IP admin API limit.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// MaintenanceConfig holds cron schedules; "off" disables a job.
type MaintenanceConfig struct {
	PruneSchedule string `mapstructure:"prune_schedule" yaml:"prune_schedule"`
	PurgeSchedule string `mapstructure:"purge_schedule" yaml:"purge_schedule"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("models.chat", "google/gemini-2.5-flash")
	v.SetDefault("models.embedding", "google/text-embedding-004")
	v.SetDefault("models.extraction", "")
	v.SetDefault("models.reasoning", "")
	v.SetDefault("models.embedding_dimensions", 768)

	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.max_attempts", 3)
	v.SetDefault("client.base_delay", time.Second)
	v.SetDefault("client.max_delay", 8*time.Second)
	v.SetDefault("client.failure_threshold", 5)
	v.SetDefault("client.cooldown", 60*time.Second)
	v.SetDefault("client.max_media_bytes", 10<<20)

	v.SetDefault("context.max_turns", 20)
	v.SetDefault("context.ttl", 30*time.Minute)
	v.SetDefault("context.debounce", 2*time.Second)
	v.SetDefault("context.sweep_interval", 5*time.Minute)

	v.SetDefault("memory.capacity", 50)
	v.SetDefault("memory.min_turns", 4)
	v.SetDefault("memory.recall_limit", 5)
	v.SetDefault("memory.prune_max_age", 90*24*time.Hour)
	v.SetDefault("memory.prune_max_importance", 3)
	v.SetDefault("memory.prune_max_access", 1)
	v.SetDefault("memory.embedding_cache_size", 1000)
	v.SetDefault("memory.extraction_window", 10)

	v.SetDefault("assistant.enabled", true)
	v.SetDefault("assistant.dm_enabled", true)
	v.SetDefault("assistant.system_prompt", "")
	v.SetDefault("assistant.fallback_message", "")
	v.SetDefault("assistant.opt_out_notice", "")
	v.SetDefault("assistant.max_tokens", 1024)
	v.SetDefault("assistant.user_cooldown", 3*time.Second)
	v.SetDefault("assistant.ambient_cooldown", 2*time.Second)
	v.SetDefault("assistant.failure_threshold", 5)
	v.SetDefault("assistant.failure_window", 10*time.Minute)
	v.SetDefault("assistant.ambient_channels", []string{})
	v.SetDefault("assistant.mention_only_channels", []string{})
	v.SetDefault("assistant.disabled_tenants", []string{})

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.data_dir", defaultDataDir())

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.max_concurrency", 8)
	v.SetDefault("telegram.ignore_users", []string{})
	v.SetDefault("telegram.disable_dm_users", []string{})
	v.SetDefault("telegram.combine_scopes", false)
	v.SetDefault("telegram.global_recall", false)

	v.SetDefault("server.listen", "127.0.0.1:18790")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit.requests_per_second", 10.0)
	v.SetDefault("server.rate_limit.burst", 20)

	v.SetDefault("maintenance.prune_schedule", "@daily")
	v.SetDefault("maintenance.purge_schedule", "@every 15m")
}

// New returns a viper instance with defaults, ARIA_ environment binding and
// the config search path applied. path overrides the search.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("ARIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aria")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "aria"))
		}
		v.AddConfigPath("/etc/aria")
	}
	return v
}

// Load reads configuration from path (or the search path), resolves
// keyring:// values through store when it is non-nil, and validates the
// result.
func Load(path string, store secrets.Store) (*Config, error) {
	v := New(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, ariaerr.Wrapf(err, ariaerr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}
	WarnInsecurePermissions(v.ConfigFileUsed())

	var unresolved []secrets.Unresolved
	if store != nil {
		unresolved = secrets.ResolveViperSecrets(v, store)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ariaerr.Wrapf(err, ariaerr.CodeConfigParseInvalidFormat, "unmarshalling config")
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Unresolved = unresolved

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ariaerr.Wrapf(errors.Join(errs...), ariaerr.CodeConfigValidateInvalidValue, "validating config")
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateClient()...)
	errs = append(errs, c.validateContext()...)
	errs = append(errs, c.validateMemory()...)
	errs = append(errs, c.validateAssistant()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateTelegram()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateMaintenance()...)

	return errs
}

func invalid(format string, args ...any) error {
	return ariaerr.Errorf(ariaerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateModels() []error {
	var errs []error

	for name, p := range c.Providers {
		if secrets.IsKeyringURI(p.APIKey) {
			errs = append(errs, invalid("providers.%s.api_key references an unresolved keyring secret", name))
		}
	}

	if c.Models.Chat == "" {
		errs = append(errs, invalid("models.chat must not be empty"))
	}
	refs := []struct{ key, ref string }{
		{"models.chat", c.Models.Chat},
		{"models.embedding", c.Models.Embedding},
		{"models.extraction", c.Models.Extraction},
		{"models.reasoning", c.Models.Reasoning},
	}
	for _, r := range refs {
		if r.ref == "" {
			continue
		}
		if !strings.Contains(r.ref, "/") {
			errs = append(errs, invalid("%s must be in \"provider/model\" format, got %q", r.key, r.ref))
			continue
		}
		// A nil map means no providers section was configured (e.g. a
		// fresh install running on defaults), which is valid.
		if c.Providers != nil {
			name := providerFromModel(r.ref)
			if _, ok := c.Providers[name]; !ok {
				errs = append(errs, invalid("%s %q references provider %q which is not configured", r.key, r.ref, name))
			}
		}
	}
	if c.Models.Embedding != "" && c.Models.EmbeddingDimensions <= 0 {
		errs = append(errs, invalid("models.embedding_dimensions must be greater than 0, got %d", c.Models.EmbeddingDimensions))
	}
	return errs
}

func (c *Config) validateClient() []error {
	var errs []error
	cl := c.Client
	if cl.Timeout <= 0 {
		errs = append(errs, invalid("client.timeout must be positive, got %s", cl.Timeout))
	}
	if cl.MaxAttempts < 1 {
		errs = append(errs, invalid("client.max_attempts must be at least 1, got %d", cl.MaxAttempts))
	}
	if cl.BaseDelay <= 0 {
		errs = append(errs, invalid("client.base_delay must be positive, got %s", cl.BaseDelay))
	}
	if cl.MaxDelay < cl.BaseDelay {
		errs = append(errs, invalid("client.max_delay (%s) must not be below client.base_delay (%s)", cl.MaxDelay, cl.BaseDelay))
	}
	if cl.FailureThreshold < 1 {
		errs = append(errs, invalid("client.failure_threshold must be at least 1, got %d", cl.FailureThreshold))
	}
	if cl.Cooldown <= 0 {
		errs = append(errs, invalid("client.cooldown must be positive, got %s", cl.Cooldown))
	}
	if cl.MaxMediaBytes <= 0 {
		errs = append(errs, invalid("client.max_media_bytes must be positive, got %d", cl.MaxMediaBytes))
	}
	return errs
}

func (c *Config) validateContext() []error {
	var errs []error
	if c.Context.MaxTurns <= 0 {
		errs = append(errs, invalid("context.max_turns must be greater than 0, got %d", c.Context.MaxTurns))
	}
	if c.Context.TTL <= 0 {
		errs = append(errs, invalid("context.ttl must be positive, got %s", c.Context.TTL))
	}
	if c.Context.Debounce < 0 {
		errs = append(errs, invalid("context.debounce must not be negative, got %s", c.Context.Debounce))
	}
	if c.Context.SweepInterval <= 0 {
		errs = append(errs, invalid("context.sweep_interval must be positive, got %s", c.Context.SweepInterval))
	}
	return errs
}

func (c *Config) validateMemory() []error {
	var errs []error
	m := c.Memory
	positive := []struct {
		key string
		val int
	}{
		{"memory.capacity", m.Capacity},
		{"memory.min_turns", m.MinTurns},
		{"memory.recall_limit", m.RecallLimit},
		{"memory.embedding_cache_size", m.EmbeddingCacheSize},
		{"memory.extraction_window", m.ExtractionWindow},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, invalid("%s must be greater than 0, got %d", p.key, p.val))
		}
	}
	if m.PruneMaxAge <= 0 {
		errs = append(errs, invalid("memory.prune_max_age must be positive, got %s", m.PruneMaxAge))
	}
	if m.PruneMaxImportance < 0 || m.PruneMaxImportance > 10 {
		errs = append(errs, invalid("memory.prune_max_importance must be between 0 and 10, got %d", m.PruneMaxImportance))
	}
	if m.PruneMaxAccess < 0 {
		errs = append(errs, invalid("memory.prune_max_access must not be negative, got %d", m.PruneMaxAccess))
	}
	return errs
}

func (c *Config) validateAssistant() []error {
	var errs []error
	a := c.Assistant
	if a.MaxTokens <= 0 {
		errs = append(errs, invalid("assistant.max_tokens must be greater than 0, got %d", a.MaxTokens))
	}
	if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
		errs = append(errs, invalid("assistant.temperature must be between 0 and 2, got %g", *a.Temperature))
	}
	if a.UserCooldown < 0 || a.AmbientCooldown < 0 {
		errs = append(errs, invalid("assistant cooldowns must not be negative"))
	}
	if a.FailureThreshold <= 0 {
		errs = append(errs, invalid("assistant.failure_threshold must be greater than 0, got %d", a.FailureThreshold))
	}
	if a.FailureWindow <= 0 {
		errs = append(errs, invalid("assistant.failure_window must be positive, got %s", a.FailureWindow))
	}
	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "chromem": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, invalid("storage.backend must be one of [sqlite, chromem], got %q", c.Storage.Backend))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, invalid("storage.data_dir must not be empty"))
	}
	return errs
}

func (c *Config) validateTelegram() []error {
	var errs []error
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			errs = append(errs, invalid("telegram.token is required when telegram.enabled is true"))
		} else if secrets.IsKeyringURI(c.Telegram.Token) {
			errs = append(errs, invalid("telegram.token references an unresolved keyring secret"))
		}
	}
	if c.Telegram.APIEndpoint != "" && strings.Count(c.Telegram.APIEndpoint, "%s") != 2 {
		errs = append(errs, invalid("telegram.api_endpoint must contain two %%s verbs (token, method), got %q", c.Telegram.APIEndpoint))
	}
	if c.Telegram.MaxConcurrency < 0 {
		errs = append(errs, invalid("telegram.max_concurrency must not be negative, got %d", c.Telegram.MaxConcurrency))
	}
	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("server.listen must not be empty"))
	} else {
		_, portStr, err := net.SplitHostPort(c.Server.Listen)
		if err != nil {
			errs = append(errs, invalid("server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
		} else if port, err := strconv.Atoi(portStr); err != nil {
			errs = append(errs, invalid("server.listen port must be a number, got %q", portStr))
		} else if port < 1 || port > 65535 {
			errs = append(errs, invalid("server.listen port must be between 1 and 65535, got %d", port))
		}
	}

	for name, token := range c.Server.Tokens {
		if token == "" {
			errs = append(errs, invalid("server.tokens.%s must not be empty", name))
		} else if secrets.IsKeyringURI(token) {
			errs = append(errs, invalid("server.tokens.%s references an unresolved keyring secret", name))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(c.Server.Permissions)) {
		if _, ok := c.Server.Tokens[name]; !ok {
			errs = append(errs, invalid("server.permissions.%s does not name a configured token", name))
		}
		for _, pattern := range c.Server.Permissions[name] {
			if !lo.SomeBy(server.KnownPermissions, func(p string) bool { return server.MatchPermission(pattern, p) }) {
				errs = append(errs, invalid("server.permissions.%s: %q grants no known permission (known: %s)",
					name, pattern, strings.Join(server.KnownPermissions, ", ")))
			}
		}
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, invalid("server.rate_limit.requests_per_second must not be negative"))
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		errs = append(errs, invalid("server.rate_limit.burst must be positive when a rate is set"))
	}
	return errs
}

func (c *Config) validateMaintenance() []error {
	var errs []error
	schedules := []struct{ key, spec string }{
		{"maintenance.prune_schedule", c.Maintenance.PruneSchedule},
		{"maintenance.purge_schedule", c.Maintenance.PurgeSchedule},
	}
	for _, s := range schedules {
		if s.spec == "" || s.spec == "off" {
			continue
		}
		if _, err := rcron.ParseStandard(s.spec); err != nil {
			errs = append(errs, invalid("%s is not a valid cron schedule %q: %w", s.key, s.spec, err))
		}
	}
	return errs
}

// providerFromModel extracts the provider prefix from a "provider/model" string.
func providerFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".local", "share", "aria")
	}
	return "data"
}

const redacted = "[redacted]"

// Redacted returns a copy of c with credentials masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" || secrets.IsKeyringURI(s) {
			return s
		}
		return redacted
	}

	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		p.APIKey = mask(p.APIKey)
		out.Providers[name] = p
	}
	out.Server.Tokens = make(map[string]string, len(c.Server.Tokens))
	for name, tok := range c.Server.Tokens {
		out.Server.Tokens[name] = mask(tok)
	}
	out.Telegram.Token = mask(c.Telegram.Token)
	return &out
}
