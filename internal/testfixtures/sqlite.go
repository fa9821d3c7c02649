package testfixtures

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/example/activity-planner/internal/persistence/sqlite"
	"github.com/example/activity-planner/internal/storage"
)

// SQLiteHarness provides application stores backed by a temporary, migrated
// SQLite database for integration-style tests.
type SQLiteHarness struct {
	DB         *sql.DB
	Store      *storage.Store
	UnitOfWork *storage.UnitOfWork

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a file database in a temporary directory and seeds
// it with users. Callers may invoke Close, but the helper also registers a
// cleanup callback with tb.
func NewSQLiteHarness(tb testing.TB, users ...UserFixture) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "planner.db")
	db, err := sqlite.Open(context.Background(), sqlite.DefaultConfig(path), nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	store := storage.NewStore(sqlite.NewStore(db))
	for _, u := range users {
		if err := store.UpsertUser(context.Background(), u.Application()); err != nil {
			_ = db.Close()
			tb.Fatalf("failed to seed user %s: %v", u.Username, err)
		}
	}

	harness := &SQLiteHarness{
		DB:         db,
		Store:      store,
		UnitOfWork: storage.NewUnitOfWork(db),
		cleanup: func() {
			_ = db.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
