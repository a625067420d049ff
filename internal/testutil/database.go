package testutil

import (
	"testing"
	"time"

	"idem/internal/database"
	"idem/internal/index"
)

// NewTestStore creates a new in-memory index store with the schema
// applied. The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	return NewTestStoreWithClock(t, nil)
}

// NewTestStoreWithClock is NewTestStore with an explicit clock for
// tests that assert on bookkeeping timestamps. clock may be nil for
// the real clock.
func NewTestStoreWithClock(t *testing.T, clock index.Clock) *database.SQLiteStore {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if _, err := sqlDB.Exec(database.Schema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	store := database.NewSQLiteStoreFromDB(sqlDB, clock)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// FixedClock always returns the same instant.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time { return c.Instant }
