// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"time"

	"github.com/sigil-dev/aria/pkg/types"
)

// --- Conversation types ---

// ConversationRecord is the durable form of a conversation entry. Turns are
// stored as-is; readers normalize them.
type ConversationRecord struct {
	Key            string
	Turns          []types.Turn
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// --- Memory types ---

// MemoryType classifies what a memory is about.
type MemoryType string

const (
	MemoryTypeUser  MemoryType = "user"
	MemoryTypeGuild MemoryType = "guild"
	MemoryTypeTopic MemoryType = "topic"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeUser, MemoryTypeGuild, MemoryTypeTopic:
		return true
	}
	return false
}

// MemoryRecord is the persisted metadata of one long-term memory.
// An empty TenantID means the memory was learned in a direct message.
type MemoryRecord struct {
	ID             string
	UserID         string
	TenantID       string
	Key            string
	Value          string
	Importance     int
	Type           MemoryType
	Context        string
	VectorID       string
	AccessCount    int
	LastAccessedAt time.Time
	CreatedAt      time.Time
}

// Scope selects the memories of one user. With AnyTenant set every scope
// matches; otherwise only TenantID matches ("" is the direct-message scope).
// An empty UserID with AnyTenant selects all users.
type Scope struct {
	UserID    string
	TenantID  string
	AnyTenant bool
}

// UserScope matches every memory of userID.
func UserScope(userID string) Scope {
	return Scope{UserID: userID, AnyTenant: true}
}

// TenantScope matches the memories of userID in one tenant, or in direct
// messages when tenantID is empty.
func TenantScope(userID, tenantID string) Scope {
	return Scope{UserID: userID, TenantID: tenantID}
}

// ListOpts controls pagination.
type ListOpts struct {
	Limit  int
	Offset int
}

// StaleQuery selects prune candidates: created before Before, with
// importance at or under MaxImportance and access count at or under
// MaxAccessCount.
type StaleQuery struct {
	Before         time.Time
	MaxImportance  int
	MaxAccessCount int
}

// UserCount pairs a user with their memory count.
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// MemoryStats aggregates the memory table.
type MemoryStats struct {
	Total             int                `json:"total"`
	ByType            map[MemoryType]int `json:"by_type"`
	TopUsers          []UserCount        `json:"top_users"`
	AverageImportance float64            `json:"average_importance"`
	TotalAccessCount  int                `json:"total_access_count"`
}

// --- Vector types ---

// VectorResult is a single similarity-search hit. Similarity is cosine
// similarity: 1 is identical.
type VectorResult struct {
	ID         string
	Similarity float64
	Metadata   map[string]string
}
