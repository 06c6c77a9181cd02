// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package chromem provides a pure-Go vector store on chromem-go. Each user
// gets a collection of their own, so a search never sees another user's
// vectors.
package chromem

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/sigil-dev/aria/internal/store"
	"github.com/sigil-dev/aria/internal/store/sqlite"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// BackendName is the name this package registers with the store factory.
const BackendName = "chromem"

func init() {
	store.RegisterBackend(BackendName, newStores)
}

func newStores(dataDir string, vectorDims int) (*store.Stores, error) {
	rs, err := sqlite.OpenRecordStores(dataDir)
	if err != nil {
		return nil, err
	}

	vs, err := NewPersistent(filepath.Join(dataDir, "vectors"), vectorDims)
	if err != nil {
		_ = rs.Close()
		return nil, err
	}
	rs.Vectors = vs
	return rs, nil
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// VectorStore implements store.VectorStore on chromem-go.
type VectorStore struct {
	db          *chromemgo.DB
	dimensions  int
	mu          sync.RWMutex
	collections map[string]*chromemgo.Collection // by user id
}

const collectionPrefix = "user_"

// New creates an in-memory store. dimensions of 0 skips length checks.
func New(dimensions int) *VectorStore {
	return newStore(chromemgo.NewDB(), dimensions)
}

// NewPersistent creates a store persisted under dir (gob files, compressed).
// Existing collections are reloaded.
func NewPersistent(dir string, dimensions int) (*VectorStore, error) {
	db, err := chromemgo.NewPersistentDB(dir, true)
	if err != nil {
		return nil, vecErr(err, "opening chromem db")
	}
	s := newStore(db, dimensions)
	for name, col := range db.ListCollections() {
		if userID, ok := strings.CutPrefix(name, collectionPrefix); ok {
			s.collections[userID] = col
		}
	}
	return s, nil
}

func newStore(db *chromemgo.DB, dimensions int) *VectorStore {
	return &VectorStore{
		db:          db,
		dimensions:  dimensions,
		collections: make(map[string]*chromemgo.Collection),
	}
}

// collection returns the collection for a user, creating it on demand.
func (s *VectorStore) collection(userID string, create bool) (*chromemgo.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	// Embeddings are always supplied, so the collection never embeds.
	col, err := s.db.GetOrCreateCollection(collectionPrefix+userID, map[string]string{"user_id": userID}, nil)
	if err != nil {
		return nil, vecErr(err, "creating collection")
	}
	s.collections[userID] = col
	return col, nil
}

func (s *VectorStore) Store(ctx context.Context, id, userID string, embedding []float32, metadata map[string]string) error {
	if id == "" || userID == "" {
		return ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "vector id and user id are required")
	}
	if len(embedding) == 0 || (s.dimensions > 0 && len(embedding) != s.dimensions) {
		return ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "embedding dimension mismatch",
			ariaerr.Field("expected", s.dimensions), ariaerr.Field("actual", len(embedding)))
	}

	col, err := s.collection(userID, true)
	if err != nil {
		return err
	}

	doc := chromemgo.Document{
		ID:        id,
		Metadata:  metadata,
		Embedding: append([]float32(nil), embedding...),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return vecErr(err, "adding document "+id)
	}
	return nil
}

func (s *VectorStore) Search(ctx context.Context, userID string, query []float32, k int) ([]store.VectorResult, error) {
	if k <= 0 {
		return nil, nil
	}
	col, err := s.collection(userID, false)
	if err != nil || col == nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	res, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, vecErr(err, "querying collection")
	}

	out := make([]store.VectorResult, 0, len(res))
	for _, r := range res {
		out = append(out, store.VectorResult{
			ID:         r.ID,
			Similarity: float64(r.Similarity),
			Metadata:   r.Metadata,
		})
	}
	return out, nil
}

// Delete removes ids from every collection; chromem ignores unknown ids.
func (s *VectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.RLock()
	cols := make([]*chromemgo.Collection, 0, len(s.collections))
	for _, col := range s.collections {
		cols = append(cols, col)
	}
	s.mu.RUnlock()

	var errs []error
	for _, col := range cols {
		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			errs = append(errs, vecErr(err, "deleting documents"))
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; persistent collections are written on every change.
func (s *VectorStore) Close() error { return nil }

// Len reports the number of stored vectors across all users.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, col := range s.collections {
		n += col.Count()
	}
	return n
}

func vecErr(err error, msg string) error {
	return ariaerr.Wrap(errors.Join(store.ErrDatabase, err), ariaerr.CodeStoreVectorFailure, msg)
}
