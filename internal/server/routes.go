// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/samber/lo"

	"github.com/sigil-dev/aria/internal/maintenance"
	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "gateway-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Assistant status",
		Tags:        []string{"system"},
		Middlewares: huma.Middlewares{requirePermission(s.api, PermStatusRead)},
	}, s.handleStatus)

	// Memory endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-user-memories",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{userId}/memories",
		Summary:     "List a user's memories",
		Tags:        []string{"memories"},
		Middlewares: huma.Middlewares{requirePermission(s.api, PermMemoriesRead)},
	}, s.handleListMemories)

	huma.Register(s.api, huma.Operation{
		OperationID:   "forget-user-memories",
		Method:        http.MethodDelete,
		Path:          "/api/v1/users/{userId}/memories",
		Summary:       "Forget a user's memories",
		Description:   "Deletes the user's memories in one tenant, or in every scope when tenant is omitted.",
		Tags:          []string{"memories"},
		DefaultStatus: http.StatusOK,
		Middlewares:   huma.Middlewares{requirePermission(s.api, PermMemoriesWrite)},
	}, s.handleForgetMemories)

	huma.Register(s.api, huma.Operation{
		OperationID: "memory-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/memories/stats",
		Summary:     "Aggregate memory statistics",
		Tags:        []string{"memories"},
		Middlewares: huma.Middlewares{requirePermission(s.api, PermMemoriesRead)},
	}, s.handleMemoryStats)

	huma.Register(s.api, huma.Operation{
		OperationID: "prune-memories",
		Method:      http.MethodPost,
		Path:        "/api/v1/memories/prune",
		Summary:     "Prune stale memories now",
		Tags:        []string{"memories"},
		Middlewares: huma.Middlewares{requirePermission(s.api, PermMemoriesWrite)},
	}, s.handlePruneMemories)

	// Conversation endpoints
	huma.Register(s.api, huma.Operation{
		OperationID:   "clear-conversation",
		Method:        http.MethodDelete,
		Path:          "/api/v1/conversations/{key}",
		Summary:       "Clear a conversation's short-term context",
		Tags:          []string{"conversations"},
		DefaultStatus: http.StatusNoContent,
		Middlewares:   huma.Middlewares{requirePermission(s.api, PermConversationsWrite)},
	}, s.handleClearConversation)
}

// --- Request/Response types for huma ---

type statusOutput struct {
	Body struct {
		Status              string                        `json:"status" example:"ok" doc:"Overall status"`
		Version             string                        `json:"version"`
		Uptime              string                        `json:"uptime"`
		ProvidersConfigured bool                          `json:"providers_configured"`
		Providers           []ProviderHealth              `json:"providers"`
		CachedConversations int                           `json:"cached_conversations"`
		Maintenance         map[string]maintenance.Result `json:"maintenance,omitempty"`
	}
}

type listMemoriesInput struct {
	UserID string `path:"userId"`
	Tenant string `query:"tenant" doc:"Restrict to one tenant; omit for every scope"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	Offset int    `query:"offset" minimum:"0"`
}
type listMemoriesOutput struct {
	Body struct {
		Memories []MemoryView `json:"memories"`
	}
}

type forgetMemoriesInput struct {
	UserID string `path:"userId"`
	Tenant string `query:"tenant" doc:"Restrict to one tenant; omit to forget every scope"`
}

type deletedOutput struct {
	Body struct {
		Deleted int64 `json:"deleted"`
	}
}

type memoryStatsOutput struct {
	Body *store.MemoryStats
}

type conversationKeyInput struct {
	Key string `path:"key" minLength:"1"`
}

// --- Handlers ---

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{}
	out.Body.Status = "ok"
	out.Body.Version = s.cfg.Version
	if !s.services.StartedAt.IsZero() {
		out.Body.Uptime = time.Since(s.services.StartedAt).Round(time.Second).String()
	}

	if p := s.services.Providers; p != nil {
		out.Body.ProvidersConfigured = p.Configured()
		metrics := p.Metrics()
		names := p.Names()
		sort.Strings(names)
		out.Body.Providers = lo.Map(names, func(name string, _ int) ProviderHealth {
			return ProviderHealth{Name: name, Metrics: metrics[name]}
		})
		if !out.Body.ProvidersConfigured {
			out.Body.Status = "degraded"
		}
	}
	if s.services.Conversations != nil {
		out.Body.CachedConversations = s.services.Conversations.Len()
	}
	if s.services.Maintenance != nil {
		out.Body.Maintenance = s.services.Maintenance.Results()
	}
	return out, nil
}

func (s *Server) handleListMemories(ctx context.Context, input *listMemoriesInput) (*listMemoriesOutput, error) {
	recs, err := s.services.Memories.ListMemories(ctx, input.UserID, input.Tenant,
		store.ListOpts{Limit: input.Limit, Offset: input.Offset})
	if err != nil {
		return nil, toHumaError(err, "listing memories")
	}
	out := &listMemoriesOutput{}
	out.Body.Memories = lo.Map(recs, func(r *store.MemoryRecord, _ int) MemoryView { return memoryView(r) })
	return out, nil
}

func (s *Server) handleForgetMemories(ctx context.Context, input *forgetMemoriesInput) (*deletedOutput, error) {
	n, err := s.services.Memories.ForgetUser(ctx, input.UserID, input.Tenant)
	if err != nil {
		return nil, toHumaError(err, "forgetting memories")
	}
	slog.Info("server: forgot user memories", "user_id", input.UserID, "tenant_id", input.Tenant,
		"deleted", n, "actor", actorID(ctx))
	out := &deletedOutput{}
	out.Body.Deleted = n
	return out, nil
}

func (s *Server) handleMemoryStats(ctx context.Context, _ *struct{}) (*memoryStatsOutput, error) {
	stats, err := s.services.Memories.Stats(ctx)
	if err != nil {
		return nil, toHumaError(err, "aggregating memories")
	}
	return &memoryStatsOutput{Body: stats}, nil
}

func (s *Server) handlePruneMemories(ctx context.Context, _ *struct{}) (*deletedOutput, error) {
	n, err := s.services.Memories.PruneStale(ctx)
	if err != nil {
		return nil, toHumaError(err, "pruning memories")
	}
	out := &deletedOutput{}
	out.Body.Deleted = n
	return out, nil
}

func (s *Server) handleClearConversation(ctx context.Context, input *conversationKeyInput) (*struct{}, error) {
	if err := s.services.Conversations.Clear(ctx, input.Key); err != nil {
		return nil, toHumaError(err, "clearing conversation")
	}
	slog.Info("server: cleared conversation", "key", input.Key, "actor", actorID(ctx))
	return &struct{}{}, nil
}

// toHumaError maps a coded error onto the matching HTTP status.
func toHumaError(err error, msg string) error {
	status := ariaerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("server: "+msg, "error", err)
	}
	return huma.NewError(status, msg, err)
}

func actorID(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}
