// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"time"

	"github.com/sigil-dev/aria/internal/maintenance"
	"github.com/sigil-dev/aria/internal/store"
	"github.com/sigil-dev/aria/pkg/health"
)

// MemoryService is the memory administration surface. Satisfied by
// memory.Service.
type MemoryService interface {
	ListMemories(ctx context.Context, userID, tenantID string, opts store.ListOpts) ([]*store.MemoryRecord, error)
	ForgetUser(ctx context.Context, userID, tenantID string) (int64, error)
	Stats(ctx context.Context) (*store.MemoryStats, error)
	PruneStale(ctx context.Context) (int64, error)
}

// ConversationService is satisfied by conversation.Cache.
type ConversationService interface {
	Clear(ctx context.Context, key string) error
	Len() int
}

// ProviderService reports model backend health. Satisfied by
// provider.Registry.
type ProviderService interface {
	Configured() bool
	Names() []string
	Metrics() map[string]health.Metrics
}

// MaintenanceService is satisfied by maintenance.Scheduler.
type MaintenanceService interface {
	Results() map[string]maintenance.Result
}

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
// Maintenance may be nil.
type Services struct {
	Memories      MemoryService
	Conversations ConversationService
	Providers     ProviderService
	Maintenance   MaintenanceService
	StartedAt     time.Time
}

// MemoryView is the API form of a stored memory.
type MemoryView struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	TenantID       string    `json:"tenant_id,omitempty" doc:"Empty for memories learned in direct messages"`
	Key            string    `json:"key"`
	Value          string    `json:"value"`
	Importance     int       `json:"importance" minimum:"1" maximum:"10"`
	Type           string    `json:"type" enum:"user,guild,topic"`
	Context        string    `json:"context,omitempty"`
	AccessCount    int       `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func memoryView(r *store.MemoryRecord) MemoryView {
	return MemoryView{
		ID:             r.ID,
		UserID:         r.UserID,
		TenantID:       r.TenantID,
		Key:            r.Key,
		Value:          r.Value,
		Importance:     r.Importance,
		Type:           string(r.Type),
		Context:        r.Context,
		AccessCount:    r.AccessCount,
		LastAccessedAt: r.LastAccessedAt,
		CreatedAt:      r.CreatedAt,
	}
}

// ProviderHealth is one backend's circuit state.
type ProviderHealth struct {
	Name string `json:"name"`
	health.Metrics
}
