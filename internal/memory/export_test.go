// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import "github.com/sigil-dev/aria/pkg/types"

// WaitEmbeddingCache blocks until pending embedding cache writes land.
func (s *Service) WaitEmbeddingCache() { s.embeds.Wait() }

var BuildTranscript = buildTranscript

func LastUserSnippet(turns []types.Turn, userID string) string {
	return lastUserSnippet(turns, userID)
}
