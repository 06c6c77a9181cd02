// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// BackendName is the name this package registers with the store factory.
const BackendName = "sqlite"

func init() {
	store.RegisterBackend(BackendName, newStores)
}

func newStores(dataDir string, vectorDims int) (*store.Stores, error) {
	rs, err := OpenRecordStores(dataDir)
	if err != nil {
		return nil, err
	}

	vs, err := NewVectorStore(filepath.Join(dataDir, "vectors.db"), vectorDims)
	if err != nil {
		_ = rs.Close()
		return nil, err
	}
	rs.Vectors = vs
	return rs, nil
}

// OpenRecordStores opens the conversation and memory-record stores in
// dataDir/aria.db. Vectors is left nil for the caller to fill; the chromem
// backend reuses this for its metadata side.
func OpenRecordStores(dataDir string) (*store.Stores, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeStoreDatabaseFailure, "creating data dir", ariaerr.Field("path", dataDir))
	}
	dbPath := filepath.Join(dataDir, "aria.db")

	cs, err := NewConversationStore(dbPath)
	if err != nil {
		return nil, err
	}

	ms, err := NewMemoryStore(dbPath)
	if err != nil {
		_ = cs.Close()
		return nil, err
	}

	return &store.Stores{Conversations: cs, Memories: ms}, nil
}
