// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// Preferences are a user's recall privacy settings.
type Preferences struct {
	// CombineScopes lets direct-message and tenant memories mix in one recall.
	CombineScopes bool
	// GlobalRecall lets tenant memories from other tenants be recalled.
	GlobalRecall bool
}

// Recalled is one memory returned by RecallMemories.
type Recalled struct {
	ID         string  `json:"id"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Similarity float64 `json:"similarity"`
	Context    string  `json:"context,omitempty"`
	TenantID   string  `json:"tenant_id,omitempty"`
}

// RecallMemories returns up to limit memories of userID most similar to
// query, filtered by the scoping policy for a query made in tenantID (""
// for a direct message). Returned memories have their access tracking
// bumped on a best-effort basis.
func (s *Service) RecallMemories(ctx context.Context, query, userID, tenantID string, limit int, prefs Preferences) ([]Recalled, error) {
	if userID == "" {
		return nil, ariaerr.New(ariaerr.CodeMemoryInvalidInput, "user id is required")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.cfg.RecallLimit
	}

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryRecallFailure, "embedding recall query", ariaerr.FieldUserID(userID))
	}
	hits, err := s.vectors.Search(ctx, userID, embedding, limit*candidateFactor)
	if err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryRecallFailure, "searching memories", ariaerr.FieldUserID(userID))
	}

	out := make([]Recalled, 0, limit)
	for _, h := range hits {
		if h.Metadata[metaUserID] != userID {
			continue
		}
		memTenant := h.Metadata[metaTenantID]
		if !Eligible(memTenant, tenantID, prefs) {
			continue
		}
		out = append(out, Recalled{
			ID:         h.ID,
			Key:        h.Metadata[metaKey],
			Value:      h.Metadata[metaValue],
			Similarity: h.Similarity,
			Context:    h.Metadata[metaContext],
			TenantID:   memTenant,
		})
		if len(out) == limit {
			break
		}
	}

	if len(out) > 0 {
		ids := lo.Map(out, func(r Recalled, _ int) string { return r.ID })
		if err := s.records.TouchMemories(ctx, ids, s.nowFunc()); err != nil {
			slog.Warn("memory: access tracking failed", "user_id", userID, "error", err)
		}
	}
	return out, nil
}

// Eligible reports whether a memory stored in memTenant ("" for the
// direct-message scope) may be recalled by a query made in queryTenant.
//
//   - tenant query, no combining: tenant memories only; without global
//     recall only those of the same tenant.
//   - tenant query, combining: direct-message memories always; tenant
//     memories as above.
//   - direct-message query, no combining: direct-message memories only.
//   - direct-message query, combining: everything.
func Eligible(memTenant, queryTenant string, prefs Preferences) bool {
	memIsDM := memTenant == ""
	if queryTenant != "" {
		if memIsDM {
			return prefs.CombineScopes
		}
		return prefs.GlobalRecall || memTenant == queryTenant
	}
	if prefs.CombineScopes {
		return true
	}
	return memIsDM
}
