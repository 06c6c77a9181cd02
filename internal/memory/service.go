// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package memory implements long-term, per-user semantic memory: facts are
// extracted from conversation windows, embedded into a vector index and
// persisted as metadata rows, then recalled by similarity under a strict
// scoping policy.
package memory

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/sigil-dev/aria/internal/provider"
	"github.com/sigil-dev/aria/internal/security/scanner"
	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// Defaults applied by New for unset Config fields. A zero PruneMaxAccess
// is kept: it prunes only memories that were never recalled.
const (
	DefaultCapacity           = 50
	DefaultMinTurns           = 4
	DefaultRecallLimit        = 5
	DefaultPruneMaxAge        = 90 * 24 * time.Hour
	DefaultPruneMaxImportance = 3
	DefaultPruneMaxAccess     = 1
	DefaultEmbeddingCacheSize = 1000
	DefaultExtractionWindow   = 10

	// candidateFactor widens the nearest-neighbour query so enough
	// candidates survive the scoping filter.
	candidateFactor = 3
	topUsers        = 10
)

// Vector metadata keys.
const (
	metaUserID     = "user_id"
	metaTenantID   = "tenant_id"
	metaKey        = "key"
	metaValue      = "value"
	metaImportance = "importance"
	metaType       = "type"
	metaContext    = "context"
)

// Model is the subset of the provider registry the memory service needs.
type Model interface {
	Generate(ctx context.Context, task provider.TaskType, req provider.GenerateRequest) (*provider.GenerateResult, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the memory service.
type Config struct {
	// Capacity bounds stored memories per (user, tenant scope).
	Capacity int
	// MinTurns is the smallest window ExtractFacts will look at.
	MinTurns int
	// ExtractionWindow is how many recent turns callers feed to ExtractFacts.
	ExtractionWindow   int
	RecallLimit        int
	PruneMaxAge        time.Duration
	PruneMaxImportance int
	PruneMaxAccess     int
	EmbeddingCacheSize int
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MinTurns <= 0 {
		c.MinTurns = DefaultMinTurns
	}
	if c.ExtractionWindow <= 0 {
		c.ExtractionWindow = DefaultExtractionWindow
	}
	if c.RecallLimit <= 0 {
		c.RecallLimit = DefaultRecallLimit
	}
	if c.PruneMaxAge <= 0 {
		c.PruneMaxAge = DefaultPruneMaxAge
	}
	if c.PruneMaxImportance <= 0 {
		c.PruneMaxImportance = DefaultPruneMaxImportance
	}
	if c.PruneMaxAccess < 0 {
		c.PruneMaxAccess = DefaultPruneMaxAccess
	}
	if c.EmbeddingCacheSize <= 0 {
		c.EmbeddingCacheSize = DefaultEmbeddingCacheSize
	}
}

// Fact is a candidate memory produced by extraction.
type Fact struct {
	Key        string           `json:"key"`
	Value      string           `json:"value"`
	Importance int              `json:"importance"`
	Type       store.MemoryType `json:"memoryType"`
}

// Service is the memory store. It is safe for concurrent use.
type Service struct {
	model   Model
	records store.MemoryRecordStore
	vectors store.VectorStore
	cfg     Config
	embeds  *embeddingCache
	nowFunc func() time.Time
}

// New creates a memory service over the given stores.
func New(model Model, records store.MemoryRecordStore, vectors store.VectorStore, cfg Config) (*Service, error) {
	if model == nil || records == nil || vectors == nil {
		return nil, ariaerr.New(ariaerr.CodeMemoryInvalidInput, "model, record store and vector store are required")
	}
	cfg.applyDefaults()
	cache, err := newEmbeddingCache(cfg.EmbeddingCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		model:   model,
		records: records,
		vectors: vectors,
		cfg:     cfg,
		embeds:  cache,
		nowFunc: time.Now,
	}, nil
}

// SetNowFunc overrides the clock. For tests.
func (s *Service) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Close releases the embedding cache. The stores are owned by the caller.
func (s *Service) Close() error {
	s.embeds.Close()
	return nil
}

// StoreMemory embeds and persists fact for userID in tenantID ("" for the
// direct-message scope), then evicts the lowest-priority memories of that
// scope while it is over capacity. Evicted vectors are deleted before their
// rows.
func (s *Service) StoreMemory(ctx context.Context, fact Fact, userID, tenantID, snippet string) (*store.MemoryRecord, error) {
	fact, err := normalizeFact(fact)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ariaerr.New(ariaerr.CodeMemoryInvalidInput, "user id is required")
	}
	fact, snippet, err = scrubCredentials(fact, snippet, userID)
	if err != nil {
		return nil, err
	}

	embedding, err := s.embed(ctx, fact.Key+": "+fact.Value)
	if err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "embedding memory", ariaerr.FieldUserID(userID))
	}

	now := s.nowFunc()
	id := uuid.NewString()
	rec := &store.MemoryRecord{
		ID:         id,
		UserID:     userID,
		TenantID:   tenantID,
		Key:        fact.Key,
		Value:      fact.Value,
		Importance: fact.Importance,
		Type:       fact.Type,
		Context:    snippet,
		VectorID:   id,
		CreatedAt:  now,
	}

	if err := s.vectors.Store(ctx, rec.VectorID, userID, embedding, vectorMetadata(rec)); err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "upserting memory vector", ariaerr.FieldUserID(userID))
	}
	if err := s.records.CreateMemory(ctx, rec); err != nil {
		if derr := s.vectors.Delete(ctx, []string{rec.VectorID}); derr != nil {
			slog.Warn("memory: removing vector after failed insert", "memory_id", id, "error", derr)
		}
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "persisting memory", ariaerr.FieldUserID(userID))
	}

	if err := s.enforceCapacity(ctx, store.TenantScope(userID, tenantID)); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *Service) enforceCapacity(ctx context.Context, scope store.Scope) error {
	n, err := s.records.CountMemories(ctx, scope)
	if err != nil {
		return ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "counting memories", ariaerr.FieldUserID(scope.UserID))
	}
	excess := n - s.cfg.Capacity
	if excess <= 0 {
		return nil
	}
	victims, err := s.records.EvictionCandidates(ctx, scope, excess)
	if err != nil {
		return ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "selecting eviction candidates", ariaerr.FieldUserID(scope.UserID))
	}
	if _, err := s.deleteRecords(ctx, victims); err != nil {
		return err
	}
	slog.Debug("memory: evicted over-capacity memories",
		"user_id", scope.UserID, "tenant_id", scope.TenantID, "evicted", len(victims))
	return nil
}

// deleteRecords removes the vectors of recs, then the rows.
func (s *Service) deleteRecords(ctx context.Context, recs []*store.MemoryRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	vectorIDs := lo.FilterMap(recs, func(r *store.MemoryRecord, _ int) (string, bool) {
		return r.VectorID, r.VectorID != ""
	})
	if err := s.vectors.Delete(ctx, vectorIDs); err != nil {
		return 0, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "deleting memory vectors")
	}
	ids := lo.Map(recs, func(r *store.MemoryRecord, _ int) string { return r.ID })
	n, err := s.records.DeleteMemories(ctx, ids)
	if err != nil {
		return 0, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "deleting memory rows")
	}
	return n, nil
}

// ForgetUser deletes the memories of userID in tenantID, or in every scope
// when tenantID is empty. Vectors go first; a failed row delete afterwards
// leaves rows without vectors, never vectors without rows.
func (s *Service) ForgetUser(ctx context.Context, userID, tenantID string) (int64, error) {
	if userID == "" {
		return 0, ariaerr.New(ariaerr.CodeMemoryInvalidInput, "user id is required")
	}
	scope := store.UserScope(userID)
	if tenantID != "" {
		scope = store.TenantScope(userID, tenantID)
	}

	recs, err := s.records.ListMemories(ctx, scope, store.ListOpts{})
	if err != nil {
		return 0, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "listing memories to forget", ariaerr.FieldUserID(userID))
	}
	vectorIDs := lo.FilterMap(recs, func(r *store.MemoryRecord, _ int) (string, bool) {
		return r.VectorID, r.VectorID != ""
	})
	if err := s.vectors.Delete(ctx, vectorIDs); err != nil {
		return 0, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "deleting memory vectors", ariaerr.FieldUserID(userID))
	}
	n, err := s.records.DeleteScope(ctx, scope)
	if err != nil {
		return 0, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "deleting memory rows", ariaerr.FieldUserID(userID))
	}
	slog.Info("memory: forgot user", "user_id", userID, "tenant_id", tenantID, "deleted", n)
	return n, nil
}

// PruneStale deletes memories older than the configured age whose
// importance and access count are both at or under their ceilings.
func (s *Service) PruneStale(ctx context.Context) (int64, error) {
	stale, err := s.records.StaleMemories(ctx, store.StaleQuery{
		Before:         s.nowFunc().Add(-s.cfg.PruneMaxAge),
		MaxImportance:  s.cfg.PruneMaxImportance,
		MaxAccessCount: s.cfg.PruneMaxAccess,
	})
	if err != nil {
		return 0, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "selecting stale memories")
	}
	n, err := s.deleteRecords(ctx, stale)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("memory: pruned stale memories", "deleted", n)
	}
	return n, nil
}

// Stats aggregates the memory table.
func (s *Service) Stats(ctx context.Context) (*store.MemoryStats, error) {
	stats, err := s.records.MemoryStats(ctx, topUsers)
	if err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "aggregating memories")
	}
	return stats, nil
}

// ListMemories returns the memories of userID, most important first. An
// empty tenantID lists every scope.
func (s *Service) ListMemories(ctx context.Context, userID, tenantID string, opts store.ListOpts) ([]*store.MemoryRecord, error) {
	if userID == "" {
		return nil, ariaerr.New(ariaerr.CodeMemoryInvalidInput, "user id is required")
	}
	scope := store.UserScope(userID)
	if tenantID != "" {
		scope = store.TenantScope(userID, tenantID)
	}
	recs, err := s.records.ListMemories(ctx, scope, opts)
	if err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryStoreFailure, "listing memories", ariaerr.FieldUserID(userID))
	}
	return recs, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.embeds.Get(text); ok {
		return v, nil
	}
	v, err := s.model.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, ariaerr.New(ariaerr.CodeProviderEmbeddingMissing, "embedding is empty")
	}
	s.embeds.Set(text, v)
	return v, nil
}

func normalizeFact(f Fact) (Fact, error) {
	f.Key = strings.TrimSpace(f.Key)
	f.Value = strings.TrimSpace(f.Value)
	if f.Key == "" || f.Value == "" {
		return f, ariaerr.New(ariaerr.CodeMemoryInvalidInput, "memory key and value are required")
	}
	f.Importance = max(1, min(10, f.Importance))
	if !f.Type.Valid() {
		f.Type = store.MemoryTypeUser
	}
	return f, nil
}

// scrubCredentials redacts API keys and tokens from a fact and its snippet.
// A fact whose value is nothing but a credential is rejected.
func scrubCredentials(f Fact, snippet, userID string) (Fact, string, error) {
	var rules []string
	for _, field := range []*string{&f.Key, &f.Value, &snippet} {
		out, res := scanner.Default().Redact(*field)
		if res.Found() {
			*field = out
			rules = append(rules, res.Rules()...)
		}
	}
	if len(rules) == 0 {
		return f, snippet, nil
	}
	slog.Warn("memory: redacted credentials", "user_id", userID, "rules", lo.Uniq(rules))
	if scanner.OnlyPlaceholders(f.Value) {
		return f, snippet, ariaerr.New(ariaerr.CodeMemoryInvalidInput, "memory value is a credential", ariaerr.FieldUserID(userID))
	}
	return f, snippet, nil
}

func vectorMetadata(rec *store.MemoryRecord) map[string]string {
	return map[string]string{
		metaUserID:     rec.UserID,
		metaTenantID:   rec.TenantID,
		metaKey:        rec.Key,
		metaValue:      rec.Value,
		metaImportance: strconv.Itoa(rec.Importance),
		metaType:       string(rec.Type),
		metaContext:    rec.Context,
	}
}
