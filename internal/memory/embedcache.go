// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"github.com/dgraph-io/ristretto"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// embeddingCache memoizes text embeddings. Entries are admitted
// asynchronously, so a Set may not be visible to an immediate Get.
type embeddingCache struct {
	c *ristretto.Cache
}

func newEmbeddingCache(size int) (*embeddingCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(size) * 10,
		MaxCost:            int64(size),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, ariaerr.Wrap(err, ariaerr.CodeMemoryInvalidInput, "creating embedding cache")
	}
	return &embeddingCache{c: c}, nil
}

// Get returns a copy of the cached embedding for text.
func (e *embeddingCache) Get(text string) ([]float32, bool) {
	v, ok := e.c.Get(text)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

func (e *embeddingCache) Set(text string, vec []float32) {
	e.c.Set(text, append([]float32(nil), vec...), 1)
}

// Wait blocks until buffered Sets are applied.
func (e *embeddingCache) Wait() { e.c.Wait() }

func (e *embeddingCache) Close() { e.c.Close() }
