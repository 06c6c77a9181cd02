// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000"

// openDB opens (or creates) a SQLite database at dbPath and runs ddl.
func openDB(dbPath, ddl string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, dbErr(err, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, dbErr(err, "pinging sqlite db")
	}

	if ddl != "" {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, dbErr(err, "migrating sqlite db")
		}
	}
	return db, nil
}

func dbErr(err error, msg string) error {
	return ariaerr.Wrap(errors.Join(store.ErrDatabase, err), ariaerr.CodeStoreDatabaseFailure, msg)
}

// toMillis stores times as unix milliseconds so range comparisons are numeric.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// placeholders returns "?,?,?" for n arguments plus the argument slice.
func placeholders(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
