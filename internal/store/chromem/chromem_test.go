// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package chromem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sigil-dev/aria/internal/store"
	"github.com/sigil-dev/aria/internal/store/chromem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorStore_SearchIsPerUser(t *testing.T) {
	ctx := context.Background()
	vs := chromem.New(2)

	require.NoError(t, vs.Store(ctx, "a", "u1", []float32{1, 0}, map[string]string{"key": "food"}))
	require.NoError(t, vs.Store(ctx, "b", "u1", []float32{0, 1}, nil))
	require.NoError(t, vs.Store(ctx, "c", "u2", []float32{1, 0}, nil))
	assert.Equal(t, 3, vs.Len())

	results, err := vs.Search(ctx, "u1", []float32{1, 0.1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "k is clamped to the collection size")
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "food", results[0].Metadata["key"])

	none, err := vs.Search(ctx, "nobody", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVectorStore_Delete(t *testing.T) {
	ctx := context.Background()
	vs := chromem.New(2)

	require.NoError(t, vs.Store(ctx, "a", "u1", []float32{1, 0}, nil))
	require.NoError(t, vs.Store(ctx, "b", "u2", []float32{0, 1}, nil))
	require.NoError(t, vs.Delete(ctx, []string{"a", "b", "missing"}))
	assert.Equal(t, 0, vs.Len())

	results, err := vs.Search(ctx, "u1", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorStore_Validation(t *testing.T) {
	ctx := context.Background()
	vs := chromem.New(2)

	assert.True(t, errors.Is(vs.Store(ctx, "", "u1", []float32{1, 0}, nil), store.ErrInvalidInput))
	assert.True(t, errors.Is(vs.Store(ctx, "a", "u1", []float32{1, 0, 0}, nil), store.ErrInvalidInput))
}

func TestNewPersistent_Reload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	vs, err := chromem.NewPersistent(dir, 2)
	require.NoError(t, err)
	require.NoError(t, vs.Store(ctx, "a", "u1", []float32{1, 0}, map[string]string{"k": "v"}))
	require.NoError(t, vs.Close())

	reopened, err := chromem.NewPersistent(dir, 2)
	require.NoError(t, err)
	results, err := reopened.Search(ctx, "u1", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v", results[0].Metadata["k"])

	require.NoError(t, reopened.Delete(ctx, []string{"a"}))
	assert.Equal(t, 0, reopened.Len())
}
