// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"time"
)

// ConversationStore persists conversation entries keyed by conversation key.
// The backend has no native TTL; callers emulate expiry by passing the
// oldest acceptable last-activity time to LoadConversation and by calling
// PurgeConversations periodically.
type ConversationStore interface {
	// LoadConversation returns ErrNotFound when the key is absent or its
	// last activity is before notBefore.
	LoadConversation(ctx context.Context, key string, notBefore time.Time) (*ConversationRecord, error)
	// SaveConversation upserts the full entry (last write wins).
	SaveConversation(ctx context.Context, rec *ConversationRecord) error
	DeleteConversation(ctx context.Context, key string) error
	PurgeConversations(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// MemoryRecordStore persists StoredMemory metadata rows.
type MemoryRecordStore interface {
	CreateMemory(ctx context.Context, rec *MemoryRecord) error
	GetMemory(ctx context.Context, id string) (*MemoryRecord, error)
	// ListMemories orders by importance descending, then newest first.
	ListMemories(ctx context.Context, scope Scope, opts ListOpts) ([]*MemoryRecord, error)
	CountMemories(ctx context.Context, scope Scope) (int, error)
	// EvictionCandidates returns up to n records in eviction order:
	// lowest importance first, oldest first within equal importance.
	EvictionCandidates(ctx context.Context, scope Scope, n int) ([]*MemoryRecord, error)
	DeleteMemories(ctx context.Context, ids []string) (int64, error)
	DeleteScope(ctx context.Context, scope Scope) (int64, error)
	// TouchMemories bumps access_count and sets last_accessed_at.
	TouchMemories(ctx context.Context, ids []string, at time.Time) error
	StaleMemories(ctx context.Context, q StaleQuery) ([]*MemoryRecord, error)
	MemoryStats(ctx context.Context, topUsers int) (*MemoryStats, error)
	Close() error
}

// VectorStore manages embedding storage and similarity search. Every
// vector belongs to exactly one user; searches never cross users.
type VectorStore interface {
	Store(ctx context.Context, id, userID string, embedding []float32, metadata map[string]string) error
	// Search returns up to k nearest vectors owned by userID, most similar first.
	Search(ctx context.Context, userID string, query []float32, k int) ([]VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}
