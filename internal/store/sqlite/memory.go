// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// Compile-time interface check.
var _ store.MemoryRecordStore = (*MemoryStore)(nil)

// MemoryStore implements store.MemoryRecordStore backed by SQLite.
type MemoryStore struct {
	db *sql.DB
}

const memoryDDL = `
CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	tenant_id        TEXT NOT NULL DEFAULT '',
	key              TEXT NOT NULL,
	value            TEXT NOT NULL,
	importance       INTEGER NOT NULL,
	type             TEXT NOT NULL,
	context          TEXT NOT NULL DEFAULT '',
	vector_id        TEXT NOT NULL DEFAULT '',
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(user_id, tenant_id);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
`

const memoryColumns = `id, user_id, tenant_id, key, value, importance, type, context, vector_id, access_count, last_accessed_at, created_at`

// NewMemoryStore opens (or creates) a SQLite database at dbPath and
// initialises the memories table.
func NewMemoryStore(dbPath string) (*MemoryStore, error) {
	db, err := openDB(dbPath, memoryDDL)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

func (s *MemoryStore) CreateMemory(ctx context.Context, rec *store.MemoryRecord) error {
	if rec == nil || rec.ID == "" || rec.UserID == "" {
		return ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "memory id and user id are required")
	}
	if !rec.Type.Valid() {
		return ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "unknown memory type",
			ariaerr.Field("type", string(rec.Type)))
	}

	const q = `INSERT INTO memories (` + memoryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.UserID,
		rec.TenantID,
		rec.Key,
		rec.Value,
		rec.Importance,
		string(rec.Type),
		rec.Context,
		rec.VectorID,
		rec.AccessCount,
		toMillis(rec.LastAccessedAt),
		toMillis(rec.CreatedAt),
	)
	if err != nil {
		return dbErr(err, "creating memory "+rec.ID)
	}
	return nil
}

func (s *MemoryStore) GetMemory(ctx context.Context, id string) (*store.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ariaerr.Wrap(store.ErrNotFound, ariaerr.CodeStoreMemoryNotFound, "memory not found", ariaerr.Field("memory_id", id))
	}
	if err != nil {
		return nil, dbErr(err, "getting memory "+id)
	}
	return rec, nil
}

func (s *MemoryStore) ListMemories(ctx context.Context, scope store.Scope, opts store.ListOpts) ([]*store.MemoryRecord, error) {
	where, args := scopeClause(scope)
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + where + ` ORDER BY importance DESC, created_at DESC`
	if opts.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}
	return s.query(ctx, q, args...)
}

func (s *MemoryStore) CountMemories(ctx context.Context, scope store.Scope) (int, error) {
	where, args := scopeClause(scope)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE `+where, args...).Scan(&n); err != nil {
		return 0, dbErr(err, "counting memories")
	}
	return n, nil
}

func (s *MemoryStore) EvictionCandidates(ctx context.Context, scope store.Scope, n int) ([]*store.MemoryRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	where, args := scopeClause(scope)
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + where + ` ORDER BY importance ASC, created_at ASC, id ASC LIMIT ?`
	return s.query(ctx, q, append(args, n)...)
}

func (s *MemoryStore) DeleteMemories(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph, args := placeholders(ids)
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id IN (`+ph+`)`, args...)
	if err != nil {
		return 0, dbErr(err, "deleting memories")
	}
	return rowsAffected(res)
}

func (s *MemoryStore) DeleteScope(ctx context.Context, scope store.Scope) (int64, error) {
	if scope.UserID == "" {
		return 0, ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "user id is required to delete memories")
	}
	where, args := scopeClause(scope)
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE `+where, args...)
	if err != nil {
		return 0, dbErr(err, "deleting memory scope")
	}
	return rowsAffected(res)
}

func (s *MemoryStore) TouchMemories(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ph, args := placeholders(ids)
	q := `UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id IN (` + ph + `)`
	if _, err := s.db.ExecContext(ctx, q, append([]any{toMillis(at)}, args...)...); err != nil {
		return dbErr(err, "touching memories")
	}
	return nil
}

func (s *MemoryStore) StaleMemories(ctx context.Context, q store.StaleQuery) ([]*store.MemoryRecord, error) {
	const sel = `SELECT ` + memoryColumns + ` FROM memories
WHERE created_at < ? AND importance <= ? AND access_count <= ?
ORDER BY created_at ASC`
	return s.query(ctx, sel, toMillis(q.Before), q.MaxImportance, q.MaxAccessCount)
}

func (s *MemoryStore) MemoryStats(ctx context.Context, topUsers int) (*store.MemoryStats, error) {
	stats := &store.MemoryStats{ByType: map[store.MemoryType]int{}}

	const totals = `SELECT COUNT(*), COALESCE(AVG(importance), 0), COALESCE(SUM(access_count), 0) FROM memories`
	if err := s.db.QueryRowContext(ctx, totals).Scan(&stats.Total, &stats.AverageImportance, &stats.TotalAccessCount); err != nil {
		return nil, dbErr(err, "aggregating memories")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM memories GROUP BY type`)
	if err != nil {
		return nil, dbErr(err, "counting memories by type")
	}
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			_ = rows.Close()
			return nil, dbErr(err, "scanning type count")
		}
		stats.ByType[store.MemoryType(t)] = n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating type counts")
	}

	if topUsers <= 0 {
		return stats, nil
	}
	rows, err = s.db.QueryContext(ctx, `SELECT user_id, COUNT(*) AS n FROM memories GROUP BY user_id ORDER BY n DESC, user_id ASC LIMIT ?`, topUsers)
	if err != nil {
		return nil, dbErr(err, "counting memories by user")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var uc store.UserCount
		if err := rows.Scan(&uc.UserID, &uc.Count); err != nil {
			return nil, dbErr(err, "scanning user count")
		}
		stats.TopUsers = append(stats.TopUsers, uc)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating user counts")
	}
	return stats, nil
}

func (s *MemoryStore) query(ctx context.Context, q string, args ...any) ([]*store.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbErr(err, "querying memories")
	}
	defer func() { _ = rows.Close() }()

	var out []*store.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, dbErr(err, "scanning memory")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating memories")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*store.MemoryRecord, error) {
	var (
		rec                   store.MemoryRecord
		typ                   string
		lastAccessed, created int64
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.TenantID,
		&rec.Key,
		&rec.Value,
		&rec.Importance,
		&typ,
		&rec.Context,
		&rec.VectorID,
		&rec.AccessCount,
		&lastAccessed,
		&created,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = store.MemoryType(typ)
	rec.LastAccessedAt = fromMillis(lastAccessed)
	rec.CreatedAt = fromMillis(created)
	return &rec, nil
}

func scopeClause(scope store.Scope) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if scope.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, scope.UserID)
	}
	if !scope.AnyTenant {
		conds = append(conds, "tenant_id = ?")
		args = append(args, scope.TenantID)
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr(err, "reading affected rows")
	}
	return n, nil
}
