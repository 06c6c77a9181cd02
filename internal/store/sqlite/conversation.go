// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

// Compile-time interface check.
var _ store.ConversationStore = (*ConversationStore)(nil)

// ConversationStore implements store.ConversationStore backed by SQLite.
// Turns are kept as one JSON document per conversation.
type ConversationStore struct {
	db *sql.DB
}

const conversationDDL = `
CREATE TABLE IF NOT EXISTS conversations (
	key              TEXT PRIMARY KEY,
	turns            TEXT NOT NULL DEFAULT '[]',
	created_at       INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_activity_at);
`

// NewConversationStore opens (or creates) a SQLite database at dbPath and
// initialises the conversations table.
func NewConversationStore(dbPath string) (*ConversationStore, error) {
	db, err := openDB(dbPath, conversationDDL)
	if err != nil {
		return nil, err
	}
	return &ConversationStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

func (s *ConversationStore) LoadConversation(ctx context.Context, key string, notBefore time.Time) (*store.ConversationRecord, error) {
	const q = `SELECT turns, created_at, last_activity_at FROM conversations WHERE key = ? AND last_activity_at >= ?`

	var (
		raw               string
		created, activity int64
	)
	err := s.db.QueryRowContext(ctx, q, key, toMillis(notBefore)).Scan(&raw, &created, &activity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ariaerr.Wrap(store.ErrNotFound, ariaerr.CodeStoreConversationNotFound, "conversation not found",
			ariaerr.FieldConversationKey(key))
	}
	if err != nil {
		return nil, dbErr(err, "loading conversation")
	}

	rec := &store.ConversationRecord{
		Key:            key,
		CreatedAt:      fromMillis(created),
		LastActivityAt: fromMillis(activity),
	}
	if err := json.Unmarshal([]byte(raw), &rec.Turns); err != nil {
		return nil, dbErr(err, "decoding conversation turns")
	}
	return rec, nil
}

func (s *ConversationStore) SaveConversation(ctx context.Context, rec *store.ConversationRecord) error {
	if rec == nil || rec.Key == "" {
		return ariaerr.Wrap(store.ErrInvalidInput, ariaerr.CodeStoreInvalidInput, "conversation key is required")
	}

	turns := rec.Turns
	if turns == nil {
		turns = []types.Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return ariaerr.Wrap(errors.Join(store.ErrInvalidInput, err), ariaerr.CodeStoreInvalidInput, "encoding conversation turns")
	}

	const q = `INSERT INTO conversations (key, turns, created_at, last_activity_at) VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET turns = excluded.turns, last_activity_at = excluded.last_activity_at`

	if _, err := s.db.ExecContext(ctx, q, rec.Key, string(raw), toMillis(rec.CreatedAt), toMillis(rec.LastActivityAt)); err != nil {
		return dbErr(err, "saving conversation")
	}
	return nil
}

func (s *ConversationStore) DeleteConversation(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE key = ?`, key); err != nil {
		return dbErr(err, "deleting conversation")
	}
	return nil
}

func (s *ConversationStore) PurgeConversations(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE last_activity_at < ?`, toMillis(olderThan))
	if err != nil {
		return 0, dbErr(err, "purging conversations")
	}
	return rowsAffected(res)
}
