// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"

	"github.com/sigil-dev/aria/internal/assistant"
	"github.com/sigil-dev/aria/internal/channel/telegram"
	"github.com/sigil-dev/aria/internal/config"
	"github.com/sigil-dev/aria/internal/conversation"
	"github.com/sigil-dev/aria/internal/maintenance"
	"github.com/sigil-dev/aria/internal/memory"
	"github.com/sigil-dev/aria/internal/provider"
	anthropicprov "github.com/sigil-dev/aria/internal/provider/anthropic"
	googleprov "github.com/sigil-dev/aria/internal/provider/google"
	openaiprov "github.com/sigil-dev/aria/internal/provider/openai"
	"github.com/sigil-dev/aria/internal/server"
	"github.com/sigil-dev/aria/internal/store"
	_ "github.com/sigil-dev/aria/internal/store/chromem" // register chromem backend
	_ "github.com/sigil-dev/aria/internal/store/sqlite"  // register sqlite backend
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

const retryJitter = 0.2

// Gateway holds all wired subsystems and manages their lifecycle.
type Gateway struct {
	Providers     *provider.Registry
	Stores        *store.Stores
	Conversations *conversation.Cache
	Memory        *memory.Service
	Scheduler     *maintenance.Scheduler
	Server        *server.Server
	// Assistant and Telegram are nil when no channel is enabled.
	Assistant *assistant.Orchestrator
	Telegram  *telegram.Adapter

	closers []func() error
}

// backendFactory builds a provider backend from its config entry.
type backendFactory func(name string, pc config.ProviderConfig, dims int) (provider.Backend, error)

// builtinBackends maps provider names to their constructors.
// Declared as a variable so tests can inject fakes.
var builtinBackends = map[string]backendFactory{
	provider.ProviderAnthropic: func(_ string, pc config.ProviderConfig, _ int) (provider.Backend, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
	},
	provider.ProviderGoogle: func(_ string, pc config.ProviderConfig, dims int) (provider.Backend, error) {
		return googleprov.New(googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, EmbeddingDimensions: dims})
	},
	provider.ProviderOpenAI:     newOpenAICompatible,
	provider.ProviderOpenRouter: newOpenAICompatible,
}

func newOpenAICompatible(name string, pc config.ProviderConfig, dims int) (provider.Backend, error) {
	return openaiprov.New(openaiprov.Config{Name: name, APIKey: pc.APIKey, BaseURL: pc.Endpoint, EmbeddingDimensions: dims})
}

// telegramBotFactory is overridden in tests.
var telegramBotFactory telegram.BotFactory = telegram.DefaultBotFactory

// WireGateway creates all subsystems and wires them together. Nothing runs
// until Start.
func WireGateway(cfg *config.Config) (_ *Gateway, err error) {
	gw := &Gateway{}
	defer func() {
		if err != nil {
			_ = gw.Close()
		}
	}()

	// 1. Providers.
	gw.Providers = provider.NewRegistry(provider.NewModelRouter(provider.Models{
		Chat:       cfg.Models.Chat,
		Embedding:  cfg.Models.Embedding,
		Extraction: cfg.Models.Extraction,
		Reasoning:  cfg.Models.Reasoning,
	}))
	gw.closers = append(gw.closers, gw.Providers.Close)
	registerProviders(cfg, gw.Providers)
	if !gw.Providers.Configured() {
		slog.Warn("no usable provider for the chat model; replies will fall back", "model", cfg.Models.Chat)
	}

	// 2. Storage.
	gw.Stores, err = store.Open(&store.StorageConfig{
		Backend:          cfg.Storage.Backend,
		DataDir:          cfg.Storage.DataDir,
		VectorDimensions: cfg.Models.EmbeddingDimensions,
	})
	if err != nil {
		return nil, ariaerr.Wrapf(err, ariaerr.CodeCLISetupFailure, "opening %s storage", cfg.Storage.Backend)
	}
	gw.closers = append(gw.closers, gw.Stores.Close)

	// 3. Conversation context.
	gw.Conversations = conversation.New(gw.Stores.Conversations, conversation.Config{
		MaxTurns:      cfg.Context.MaxTurns,
		TTL:           cfg.Context.TTL,
		Debounce:      cfg.Context.Debounce,
		SweepInterval: cfg.Context.SweepInterval,
	})
	gw.closers = append(gw.closers, gw.Conversations.Close)

	// 4. Long-term memory.
	gw.Memory, err = memory.New(gw.Providers, gw.Stores.Memories, gw.Stores.Vectors, memory.Config{
		Capacity:           cfg.Memory.Capacity,
		MinTurns:           cfg.Memory.MinTurns,
		ExtractionWindow:   cfg.Memory.ExtractionWindow,
		RecallLimit:        cfg.Memory.RecallLimit,
		PruneMaxAge:        cfg.Memory.PruneMaxAge,
		PruneMaxImportance: cfg.Memory.PruneMaxImportance,
		PruneMaxAccess:     cfg.Memory.PruneMaxAccess,
		EmbeddingCacheSize: cfg.Memory.EmbeddingCacheSize,
	})
	if err != nil {
		return nil, ariaerr.Wrapf(err, ariaerr.CodeCLISetupFailure, "creating memory service")
	}
	gw.closers = append(gw.closers, gw.Memory.Close)

	// 5. Channel and assistant.
	if cfg.Telegram.Enabled {
		if err := gw.wireTelegram(cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Warn("no chat channel enabled; only the admin API will run")
	}

	// 6. Maintenance.
	gw.Scheduler, err = maintenance.New(maintenance.Config{
		PruneSchedule: cfg.Maintenance.PruneSchedule,
		PurgeSchedule: cfg.Maintenance.PurgeSchedule,
	}, gw.Memory, gw.Conversations)
	if err != nil {
		return nil, ariaerr.Wrapf(err, ariaerr.CodeCLISetupFailure, "creating maintenance scheduler")
	}

	// 7. Admin API.
	validator, err := tokenValidator(cfg.Server.Tokens, cfg.Server.Permissions)
	if err != nil {
		return nil, err
	}
	gw.Server, err = server.New(server.Config{
		ListenAddr:     cfg.Server.Listen,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TokenValidator: validator,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		},
		Version: version,
	})
	if err != nil {
		return nil, ariaerr.Wrapf(err, ariaerr.CodeCLISetupFailure, "creating server")
	}
	gw.closers = append(gw.closers, gw.Server.Close)
	gw.Server.RegisterServices(&server.Services{
		Memories:      gw.Memory,
		Conversations: gw.Conversations,
		Providers:     gw.Providers,
		Maintenance:   gw.Scheduler,
		StartedAt:     time.Now(),
	})

	return gw, nil
}

func (gw *Gateway) wireTelegram(cfg *config.Config) error {
	adapter, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		APIEndpoint:    cfg.Telegram.APIEndpoint,
		MaxConcurrency: cfg.Telegram.MaxConcurrency,
		IgnoreUsers:    cfg.Telegram.IgnoreUsers,
		DisableDMUsers: cfg.Telegram.DisableDMUsers,
		CombineScopes:  cfg.Telegram.CombineScopes,
		GlobalRecall:   cfg.Telegram.GlobalRecall,
	}, nil, telegramBotFactory)
	if err != nil {
		return ariaerr.Wrapf(err, ariaerr.CodeCLISetupFailure, "connecting to telegram")
	}
	gw.Telegram = adapter

	// Recall needs embeddings; without an embedding route the assistant
	// runs on conversation context alone.
	var mem assistant.Memory
	if cfg.Models.Embedding != "" {
		mem = gw.Memory
	}

	gw.Assistant, err = assistant.New(assistant.Config{
		Enabled:             cfg.Assistant.Enabled,
		DMEnabled:           cfg.Assistant.DMEnabled,
		SystemPrompt:        cfg.Assistant.SystemPrompt,
		FallbackMessage:     cfg.Assistant.FallbackMessage,
		OptOutNotice:        cfg.Assistant.OptOutNotice,
		MaxTokens:           cfg.Assistant.MaxTokens,
		Temperature:         cfg.Assistant.Temperature,
		UserCooldown:        cfg.Assistant.UserCooldown,
		AmbientCooldown:     cfg.Assistant.AmbientCooldown,
		FailureThreshold:    cfg.Assistant.FailureThreshold,
		FailureWindow:       cfg.Assistant.FailureWindow,
		HistoryTurns:        cfg.Context.MaxTurns,
		RecallLimit:         cfg.Memory.RecallLimit,
		ExtractionWindow:    cfg.Memory.ExtractionWindow,
		AmbientChannels:     cfg.Assistant.AmbientChannels,
		MentionOnlyChannels: cfg.Assistant.MentionOnlyChannels,
		DisabledTenants:     cfg.Assistant.DisabledTenants,
	}, gw.Providers, gw.Conversations, mem, adapter)
	if err != nil {
		return ariaerr.Wrapf(err, ariaerr.CodeCLISetupFailure, "creating assistant")
	}
	gw.closers = append(gw.closers, gw.Assistant.Close)
	return nil
}

// registerProviders registers a resilient client for every configured
// provider. Unknown names or empty API keys are logged and skipped.
func registerProviders(cfg *config.Config, reg *provider.Registry) {
	fetcher := provider.NewHTTPMediaFetcher(&http.Client{Timeout: cfg.Client.Timeout}, cfg.Client.MaxMediaBytes)

	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		pc := cfg.Providers[name]
		if pc.APIKey == "" {
			slog.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinBackends[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		backend, err := factory(name, pc, cfg.Models.EmbeddingDimensions)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		client, err := provider.NewClient(backend, provider.ClientConfig{
			Timeout: cfg.Client.Timeout,
			Retry: provider.RetryPolicy{
				MaxAttempts: cfg.Client.MaxAttempts,
				BaseDelay:   cfg.Client.BaseDelay,
				MaxDelay:    cfg.Client.MaxDelay,
				Jitter:      retryJitter,
			},
			FailureThreshold: cfg.Client.FailureThreshold,
			Cooldown:         cfg.Client.Cooldown,
			Fetcher:          fetcher,
		})
		if err != nil {
			_ = backend.Close()
			slog.Warn("failed to create provider client", "provider", name, "error", err)
			continue
		}
		reg.Register(client)
		slog.Info("registered provider", "provider", name)
	}
}

// tokenValidator builds the admin API validator from name → token pairs and
// optional per-token permissions. No tokens disables authentication.
func tokenValidator(tokens map[string]string, perms map[string][]string) (server.TokenValidator, error) {
	if len(tokens) == 0 {
		slog.Warn("admin API authentication disabled: no server.tokens configured")
		return nil, nil
	}
	entries := lo.Map(slices.Sorted(maps.Keys(tokens)), func(name string, _ int) server.Token {
		return server.Token{Name: name, Token: tokens[name], Permissions: perms[name]}
	})
	v, err := server.NewStaticTokens(entries)
	if err != nil {
		return nil, ariaerr.Wrapf(err, ariaerr.CodeCLISetupFailure, "configuring admin tokens")
	}
	return v, nil
}

// Start runs every subsystem and blocks until ctx is cancelled or one of
// them fails.
func (gw *Gateway) Start(ctx context.Context) error {
	gw.Conversations.Start()
	gw.Scheduler.Start()
	defer gw.Scheduler.Stop()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(gw.Server.Start)
	if gw.Telegram != nil {
		p.Go(func(ctx context.Context) error {
			return gw.Telegram.Run(ctx, gw.Assistant)
		})
	}
	return p.Wait()
}

// Close releases resources in reverse wiring order so in-flight work
// drains into still-open stores.
func (gw *Gateway) Close() error {
	var errs []error
	for _, c := range slices.Backward(gw.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	gw.closers = nil
	return errors.Join(errs...)
}
