// Package storagetest opens throwaway in-memory stores for tests.
package storagetest

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	_ "modernc.org/sqlite"
)

var seq atomic.Int64

// New returns a schema-initialized store backed by a private in-memory SQLite
// database with foreign keys enforced. The pool is limited to one connection
// so every caller sees the same database.
func New(t testing.TB) *storage.PostgresStorage {
	t.Helper()

	dsn := fmt.Sprintf("file:recovery-%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", seq.Add(1))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := storage.NewStorageFromDB(db)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return s
}

// Count returns the number of rows in table matching the optional where clause
func Count(t testing.TB, s *storage.PostgresStorage, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := s.DB().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
