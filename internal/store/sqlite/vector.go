// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// VectorStore implements store.VectorStore backed by SQLite with sqlite-vec.
// Vectors are partitioned by user so a KNN query only scans one user.
type VectorStore struct {
	db         *sql.DB
	dimensions int
}

// NewVectorStore opens (or creates) a SQLite database at dbPath and
// initialises the vec0 virtual table and companion metadata table.
func NewVectorStore(dbPath string, dimensions int) (*VectorStore, error) {
	if dimensions <= 0 {
		return nil, ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "vector dimensions must be positive")
	}

	ddl := fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(
	id TEXT PRIMARY KEY,
	user_id TEXT PARTITION KEY,
	embedding float[%d] distance_metric=cosine
);

CREATE TABLE IF NOT EXISTS vector_metadata (
	id       TEXT PRIMARY KEY,
	metadata TEXT NOT NULL DEFAULT '{}'
);
`, dimensions)

	db, err := openDB(dbPath, ddl)
	if err != nil {
		return nil, err
	}
	return &VectorStore{db: db, dimensions: dimensions}, nil
}

// Store inserts or replaces a vector and its metadata.
func (v *VectorStore) Store(ctx context.Context, id, userID string, embedding []float32, metadata map[string]string) error {
	if id == "" || userID == "" {
		return ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "vector id and user id are required")
	}
	if len(embedding) != v.dimensions {
		return ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "embedding dimension mismatch",
			ariaerr.Field("expected", v.dimensions), ariaerr.Field("actual", len(embedding)))
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return vecErr(err, "serializing embedding")
	}

	metaJSON := []byte("{}")
	if len(metadata) > 0 {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return vecErr(err, "marshalling metadata")
		}
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return vecErr(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// vec0 does not support ON CONFLICT; delete first for upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return vecErr(err, "deleting existing vector "+id)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors(id, user_id, embedding) VALUES (?, ?, ?)`, id, userID, blob); err != nil {
		return vecErr(err, "inserting vector "+id)
	}

	const metaQ = `INSERT INTO vector_metadata(id, metadata) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET metadata = excluded.metadata`
	if _, err := tx.ExecContext(ctx, metaQ, id, string(metaJSON)); err != nil {
		return vecErr(err, "upserting vector metadata "+id)
	}

	if err := tx.Commit(); err != nil {
		return vecErr(err, "committing vector store")
	}
	return nil
}

// Search performs a k-nearest-neighbor search within one user's partition.
// Similarity is 1 - cosine distance.
func (v *VectorStore) Search(ctx context.Context, userID string, query []float32, k int) ([]store.VectorResult, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != v.dimensions {
		return nil, ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "query dimension mismatch",
			ariaerr.Field("expected", v.dimensions), ariaerr.Field("actual", len(query)))
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, vecErr(err, "serializing query vector")
	}

	const q = `SELECT v.id, v.distance, COALESCE(m.metadata, '{}')
FROM vectors v
LEFT JOIN vector_metadata m ON m.id = v.id
WHERE v.embedding MATCH ? AND k = ? AND v.user_id = ?
ORDER BY v.distance`

	rows, err := v.db.QueryContext(ctx, q, blob, k, userID)
	if err != nil {
		return nil, vecErr(err, "searching vectors")
	}
	defer func() { _ = rows.Close() }()

	var results []store.VectorResult
	for rows.Next() {
		var (
			r        store.VectorResult
			distance float64
			metaStr  string
		)
		if err := rows.Scan(&r.ID, &distance, &metaStr); err != nil {
			return nil, vecErr(err, "scanning vector result")
		}
		r.Similarity = 1 - distance

		if metaStr != "" && metaStr != "{}" {
			if err := json.Unmarshal([]byte(metaStr), &r.Metadata); err != nil {
				return nil, vecErr(err, "unmarshalling vector metadata")
			}
		}

		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, vecErr(err, "iterating vector results")
	}

	return results, nil
}

// Delete removes vectors and their metadata by ID.
func (v *VectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return vecErr(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	ph, args := placeholders(ids)

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id IN (`+ph+`)`, args...); err != nil {
		return vecErr(err, "deleting vectors")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_metadata WHERE id IN (`+ph+`)`, args...); err != nil {
		return vecErr(err, "deleting vector metadata")
	}

	if err := tx.Commit(); err != nil {
		return vecErr(err, "committing vector delete")
	}
	return nil
}

// Close closes the underlying database connection.
func (v *VectorStore) Close() error {
	return v.db.Close()
}

func vecErr(err error, msg string) error {
	return ariaerr.Wrap(errors.Join(store.ErrDatabase, err), ariaerr.CodeStoreVectorFailure, msg)
}
