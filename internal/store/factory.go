// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"errors"
	"sync"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// DefaultBackend is used when StorageConfig.Backend is empty.
const DefaultBackend = "sqlite"

// defaultVectorDimensions matches Gemini text-embedding-004.
const defaultVectorDimensions = 768

// Stores bundles the three durable stores the core depends on.
type Stores struct {
	Conversations ConversationStore
	Memories      MemoryRecordStore
	Vectors       VectorStore
}

// Close closes every non-nil store and joins the errors.
func (s *Stores) Close() error {
	var errs []error
	if s.Vectors != nil {
		if err := s.Vectors.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Memories != nil {
		if err := s.Memories.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Conversations != nil {
		if err := s.Conversations.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BackendFactory opens all stores for a data directory.
type BackendFactory func(dataDir string, vectorDims int) (*Stores, error)

var (
	factories   = map[string]BackendFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f BackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// resolveBackend returns the effective backend name.
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return DefaultBackend
	}
	return cfg.Backend
}

// Open creates all stores using the configured backend.
func Open(cfg *StorageConfig) (*Stores, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, ariaerr.New(ariaerr.CodeStoreBackendUnsupported, "unsupported storage backend: "+backend,
			ariaerr.Field("backend", backend))
	}
	if cfg.DataDir == "" {
		return nil, ariaerr.Wrap(ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "storage data_dir is required")
	}

	dims := defaultVectorDimensions
	if cfg.VectorDimensions > 0 {
		dims = cfg.VectorDimensions
	}

	return factory(cfg.DataDir, dims)
}
