// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

// StorageConfig controls which backend the store factory uses.
type StorageConfig struct {
	Backend          string // "sqlite" (default) or "chromem".
	DataDir          string // Directory holding the database files; required.
	VectorDimensions int    // Embedding dimensions; 0 uses the default (768).
}
