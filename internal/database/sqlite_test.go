package database

import (
	"os"
	"path/filepath"
	"testing"

	"idem/internal/index"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	store := NewSQLiteStoreFromDB(db, nil)
	t.Cleanup(func() { store.Close() })
	return store
}

func testStat(size int64) index.StatSnapshot {
	return index.StatSnapshot{
		Identity:  index.Identity{Device: 42, Inode: 7},
		SizeBytes: size,
		MTimeNS:   1700000000000000000,
	}
}

// seedHashed drives a fresh record through the full pending -> hashing
// -> hashed sequence.
func seedHashed(t *testing.T, store *SQLiteStore, key index.Key, stat index.StatSnapshot, generation int64, hash string) {
	t.Helper()

	if _, err := store.UpsertSeen(key, stat, generation, false); err != nil {
		t.Fatalf("UpsertSeen() error = %v", err)
	}
	claimed, err := store.BeginHashing(key)
	if err != nil {
		t.Fatalf("BeginHashing() error = %v", err)
	}
	if !claimed {
		t.Fatalf("BeginHashing() = false, want claim")
	}
	if err := store.CommitHashed(key, hash); err != nil {
		t.Fatalf("CommitHashed() error = %v", err)
	}
}

func TestOpenSQLiteStore(t *testing.T) {
	t.Run("missing index file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.db")
		if _, err := OpenSQLiteStore(path, nil); err == nil {
			t.Error("OpenSQLiteStore() expected error for missing index")
		}
		if _, err := os.Stat(path); err == nil {
			t.Error("OpenSQLiteStore() created the index file on a read path")
		}
	})

	t.Run("migrated index opens read-only clean", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.db")

		created, err := NewSQLiteStore(path, nil)
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		if _, err := created.RegisterRoot("/data"); err != nil {
			t.Fatalf("RegisterRoot() error = %v", err)
		}
		if err := created.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		opened, err := OpenSQLiteStore(path, nil)
		if err != nil {
			t.Fatalf("OpenSQLiteStore() error = %v", err)
		}
		defer opened.Close()

		roots, err := opened.ListRoots()
		if err != nil {
			t.Fatalf("ListRoots() error = %v", err)
		}
		if len(roots) != 1 || roots[0].Path != "/data" {
			t.Errorf("ListRoots() = %v, want the registered root", roots)
		}
	})

	t.Run("unmigrated index fails the schema check", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.db")

		db, err := OpenConnection(path)
		if err != nil {
			t.Fatalf("OpenConnection() error = %v", err)
		}
		if _, err := db.Exec(`CREATE TABLE stray (id INTEGER)`); err != nil {
			t.Fatalf("creating table: %v", err)
		}
		if err := db.Close(); err != nil {
			t.Fatalf("closing connection: %v", err)
		}

		if _, err := OpenSQLiteStore(path, nil); err == nil {
			t.Error("OpenSQLiteStore() expected error for unmigrated index")
		}
	})
}

func TestRegisterRoot(t *testing.T) {
	store := newTestStore(t)

	first, err := store.RegisterRoot("/data/photos")
	if err != nil {
		t.Fatalf("RegisterRoot() error = %v", err)
	}
	if first.ID == "" {
		t.Error("RegisterRoot() returned empty ID")
	}
	if first.Generation != 0 {
		t.Errorf("new root generation = %d, want 0", first.Generation)
	}

	second, err := store.RegisterRoot("/data/photos")
	if err != nil {
		t.Fatalf("RegisterRoot() second call error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-registering returned ID %s, want %s", second.ID, first.ID)
	}

	other, err := store.RegisterRoot("/data/music")
	if err != nil {
		t.Fatalf("RegisterRoot() error = %v", err)
	}
	if other.ID == first.ID {
		t.Error("distinct paths share a root ID")
	}
}

func TestBeginScan(t *testing.T) {
	store := newTestStore(t)

	root, err := store.RegisterRoot("/data")
	if err != nil {
		t.Fatalf("RegisterRoot() error = %v", err)
	}

	gen1, err := store.BeginScan(root.ID)
	if err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	if gen1 != 1 {
		t.Errorf("first BeginScan() = %d, want 1", gen1)
	}

	gen2, err := store.BeginScan(root.ID)
	if err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	if gen2 != 2 {
		t.Errorf("second BeginScan() = %d, want 2", gen2)
	}

	if _, err := store.BeginScan("no-such-root"); err == nil {
		t.Error("BeginScan() expected error for unknown root")
	}
}

func TestUpsertSeen(t *testing.T) {
	newKey := func(t *testing.T, store *SQLiteStore) index.Key {
		t.Helper()
		root, err := store.RegisterRoot("/data")
		if err != nil {
			t.Fatalf("RegisterRoot() error = %v", err)
		}
		return index.Key{RootID: root.ID, RelativePath: "a/b.txt"}
	}

	t.Run("new record enters pending", func(t *testing.T) {
		store := newTestStore(t)
		key := newKey(t, store)

		status, err := store.UpsertSeen(key, testStat(100), 1, false)
		if err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if status != index.StatusPending {
			t.Errorf("status = %s, want %s", status, index.StatusPending)
		}

		record, err := store.GetFile(key)
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if record == nil {
			t.Fatal("GetFile() = nil, want record")
		}
		if record.Generation != 1 {
			t.Errorf("generation = %d, want 1", record.Generation)
		}
		if record.ContentHash != "" {
			t.Errorf("content hash = %q, want empty", record.ContentHash)
		}
	})

	t.Run("unchanged hashed record keeps its hash", func(t *testing.T) {
		store := newTestStore(t)
		key := newKey(t, store)
		stat := testStat(100)
		seedHashed(t, store, key, stat, 1, "abc123")

		status, err := store.UpsertSeen(key, stat, 2, false)
		if err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if status != index.StatusHashed {
			t.Errorf("status = %s, want %s", status, index.StatusHashed)
		}

		record, _ := store.GetFile(key)
		if record.ContentHash != "abc123" {
			t.Errorf("content hash = %q, want %q", record.ContentHash, "abc123")
		}
		if record.Generation != 2 {
			t.Errorf("generation = %d, want 2 (scan bookkeeping must be stamped)", record.Generation)
		}
	})

	t.Run("changed stat re-enters pending and clears the hash", func(t *testing.T) {
		store := newTestStore(t)
		key := newKey(t, store)
		seedHashed(t, store, key, testStat(100), 1, "abc123")

		changed := testStat(100)
		changed.MTimeNS += 5

		status, err := store.UpsertSeen(key, changed, 2, false)
		if err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if status != index.StatusPending {
			t.Errorf("status = %s, want %s", status, index.StatusPending)
		}

		record, _ := store.GetFile(key)
		if record.ContentHash != "" {
			t.Errorf("content hash = %q, want cleared", record.ContentHash)
		}
		if record.Stat.MTimeNS != changed.MTimeNS {
			t.Errorf("mtime_ns = %d, want %d", record.Stat.MTimeNS, changed.MTimeNS)
		}
	})

	t.Run("force re-enters pending even when unchanged", func(t *testing.T) {
		store := newTestStore(t)
		key := newKey(t, store)
		stat := testStat(100)
		seedHashed(t, store, key, stat, 1, "abc123")

		status, err := store.UpsertSeen(key, stat, 2, true)
		if err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if status != index.StatusPending {
			t.Errorf("status = %s, want %s", status, index.StatusPending)
		}

		record, _ := store.GetFile(key)
		if record.ContentHash != "" {
			t.Errorf("content hash = %q, want cleared", record.ContentHash)
		}
	})

	t.Run("vanished record seen again re-enters pending", func(t *testing.T) {
		store := newTestStore(t)
		key := newKey(t, store)
		stat := testStat(100)
		seedHashed(t, store, key, stat, 1, "abc123")
		if err := store.MarkVanished(key); err != nil {
			t.Fatalf("MarkVanished() error = %v", err)
		}

		status, err := store.UpsertSeen(key, stat, 2, false)
		if err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if status != index.StatusPending {
			t.Errorf("status = %s, want %s", status, index.StatusPending)
		}
	})

	t.Run("stale hashing claim re-enters pending", func(t *testing.T) {
		store := newTestStore(t)
		key := newKey(t, store)
		stat := testStat(100)
		if _, err := store.UpsertSeen(key, stat, 1, false); err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if _, err := store.BeginHashing(key); err != nil {
			t.Fatalf("BeginHashing() error = %v", err)
		}
		// Simulates a crash between claim and commit. The next scan's
		// UpsertSeen must recover the record.

		status, err := store.UpsertSeen(key, stat, 2, false)
		if err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if status != index.StatusPending {
			t.Errorf("status = %s, want %s", status, index.StatusPending)
		}
	})
}

func TestMarkSeenWithError(t *testing.T) {
	store := newTestStore(t)
	root, err := store.RegisterRoot("/data")
	if err != nil {
		t.Fatalf("RegisterRoot() error = %v", err)
	}
	key := index.Key{RootID: root.ID, RelativePath: "locked.txt"}

	if err := store.MarkSeenWithError(key, 1, "permission denied"); err != nil {
		t.Fatalf("MarkSeenWithError() error = %v", err)
	}

	record, err := store.GetFile(key)
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if record.Status != index.StatusError {
		t.Errorf("status = %s, want %s", record.Status, index.StatusError)
	}
	if record.LastError != "permission denied" {
		t.Errorf("last error = %q, want %q", record.LastError, "permission denied")
	}

	// The upsert path must also override an existing record.
	seedHashed(t, store, key, testStat(10), 2, "abc123")
	if err := store.MarkSeenWithError(key, 3, "gone bad"); err != nil {
		t.Fatalf("MarkSeenWithError() on existing record error = %v", err)
	}
	record, _ = store.GetFile(key)
	if record.Status != index.StatusError {
		t.Errorf("status = %s, want %s", record.Status, index.StatusError)
	}
	if record.ContentHash != "" {
		t.Errorf("content hash = %q, want cleared", record.ContentHash)
	}
	if record.Generation != 3 {
		t.Errorf("generation = %d, want 3", record.Generation)
	}
}

func TestBeginHashing(t *testing.T) {
	store := newTestStore(t)
	root, _ := store.RegisterRoot("/data")
	key := index.Key{RootID: root.ID, RelativePath: "a.txt"}

	if _, err := store.UpsertSeen(key, testStat(1), 1, false); err != nil {
		t.Fatalf("UpsertSeen() error = %v", err)
	}

	claimed, err := store.BeginHashing(key)
	if err != nil {
		t.Fatalf("BeginHashing() error = %v", err)
	}
	if !claimed {
		t.Error("first BeginHashing() = false, want true")
	}

	claimed, err = store.BeginHashing(key)
	if err != nil {
		t.Fatalf("BeginHashing() error = %v", err)
	}
	if claimed {
		t.Error("second BeginHashing() = true, want false (already claimed)")
	}

	missing := index.Key{RootID: root.ID, RelativePath: "no-such-file"}
	claimed, err = store.BeginHashing(missing)
	if err != nil {
		t.Fatalf("BeginHashing() error = %v", err)
	}
	if claimed {
		t.Error("BeginHashing() on missing record = true, want false")
	}
}

func TestCommitHashed(t *testing.T) {
	store := newTestStore(t)
	root, _ := store.RegisterRoot("/data")
	key := index.Key{RootID: root.ID, RelativePath: "a.txt"}

	if _, err := store.UpsertSeen(key, testStat(1), 1, false); err != nil {
		t.Fatalf("UpsertSeen() error = %v", err)
	}

	// Committing without a claim must fail.
	if err := store.CommitHashed(key, "abc123"); err == nil {
		t.Error("CommitHashed() without claim expected error")
	}

	if _, err := store.BeginHashing(key); err != nil {
		t.Fatalf("BeginHashing() error = %v", err)
	}
	if err := store.CommitHashed(key, "abc123"); err != nil {
		t.Fatalf("CommitHashed() error = %v", err)
	}

	record, _ := store.GetFile(key)
	if record.Status != index.StatusHashed {
		t.Errorf("status = %s, want %s", record.Status, index.StatusHashed)
	}
	if record.ContentHash != "abc123" {
		t.Errorf("content hash = %q, want %q", record.ContentHash, "abc123")
	}
}

func TestCommitError(t *testing.T) {
	store := newTestStore(t)
	root, _ := store.RegisterRoot("/data")

	t.Run("from hashing", func(t *testing.T) {
		key := index.Key{RootID: root.ID, RelativePath: "a.txt"}
		if _, err := store.UpsertSeen(key, testStat(1), 1, false); err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if _, err := store.BeginHashing(key); err != nil {
			t.Fatalf("BeginHashing() error = %v", err)
		}

		if err := store.CommitError(key, "read failed"); err != nil {
			t.Fatalf("CommitError() error = %v", err)
		}

		record, _ := store.GetFile(key)
		if record.Status != index.StatusError {
			t.Errorf("status = %s, want %s", record.Status, index.StatusError)
		}
		if record.LastError != "read failed" {
			t.Errorf("last error = %q, want %q", record.LastError, "read failed")
		}
	})

	t.Run("from pending", func(t *testing.T) {
		key := index.Key{RootID: root.ID, RelativePath: "b.txt"}
		if _, err := store.UpsertSeen(key, testStat(1), 1, false); err != nil {
			t.Fatalf("UpsertSeen() error = %v", err)
		}
		if err := store.CommitError(key, "vanished before claim"); err != nil {
			t.Fatalf("CommitError() error = %v", err)
		}
	})

	t.Run("rejected from hashed", func(t *testing.T) {
		key := index.Key{RootID: root.ID, RelativePath: "c.txt"}
		seedHashed(t, store, key, testStat(1), 1, "abc123")
		if err := store.CommitError(key, "nope"); err == nil {
			t.Error("CommitError() on hashed record expected error")
		}
	})
}

func TestMarkVanished(t *testing.T) {
	store := newTestStore(t)
	root, _ := store.RegisterRoot("/data")
	key := index.Key{RootID: root.ID, RelativePath: "a.txt"}
	seedHashed(t, store, key, testStat(1), 1, "abc123")

	if err := store.MarkVanished(key); err != nil {
		t.Fatalf("MarkVanished() error = %v", err)
	}

	record, _ := store.GetFile(key)
	if record.Status != index.StatusVanished {
		t.Errorf("status = %s, want %s", record.Status, index.StatusVanished)
	}
	if record.ContentHash != "" {
		t.Errorf("content hash = %q, want cleared", record.ContentHash)
	}
}

func TestReconcileUnseen(t *testing.T) {
	store := newTestStore(t)
	root, _ := store.RegisterRoot("/data")

	stale := index.Key{RootID: root.ID, RelativePath: "stale.txt"}
	fresh := index.Key{RootID: root.ID, RelativePath: "fresh.txt"}
	gone := index.Key{RootID: root.ID, RelativePath: "gone.txt"}

	seedHashed(t, store, stale, testStat(1), 1, "aaa")
	seedHashed(t, store, gone, testStat(2), 1, "bbb")
	if err := store.MarkVanished(gone); err != nil {
		t.Fatalf("MarkVanished() error = %v", err)
	}
	seedHashed(t, store, fresh, testStat(3), 2, "ccc")

	n, err := store.ReconcileUnseen(root.ID, 2)
	if err != nil {
		t.Fatalf("ReconcileUnseen() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ReconcileUnseen() = %d transitions, want 1 (already-vanished records are not recounted)", n)
	}

	record, _ := store.GetFile(stale)
	if record.Status != index.StatusVanished {
		t.Errorf("stale record status = %s, want %s", record.Status, index.StatusVanished)
	}
	record, _ = store.GetFile(fresh)
	if record.Status != index.StatusHashed {
		t.Errorf("fresh record status = %s, want %s", record.Status, index.StatusHashed)
	}

	// Reconciling against a root with no older records is a no-op.
	n, err = store.ReconcileUnseen(root.ID, 2)
	if err != nil {
		t.Fatalf("ReconcileUnseen() second call error = %v", err)
	}
	if n != 0 {
		t.Errorf("ReconcileUnseen() second call = %d, want 0", n)
	}
}

func TestCountsByStatus(t *testing.T) {
	store := newTestStore(t)
	root, _ := store.RegisterRoot("/data")

	seedHashed(t, store, index.Key{RootID: root.ID, RelativePath: "a.txt"}, testStat(1), 1, "aaa")
	seedHashed(t, store, index.Key{RootID: root.ID, RelativePath: "b.txt"}, testStat(2), 1, "bbb")
	if _, err := store.UpsertSeen(index.Key{RootID: root.ID, RelativePath: "c.txt"}, testStat(3), 1, false); err != nil {
		t.Fatalf("UpsertSeen() error = %v", err)
	}

	counts, err := store.CountsByStatus(root.ID)
	if err != nil {
		t.Fatalf("CountsByStatus() error = %v", err)
	}
	if counts[index.StatusHashed] != 2 {
		t.Errorf("hashed count = %d, want 2", counts[index.StatusHashed])
	}
	if counts[index.StatusPending] != 1 {
		t.Errorf("pending count = %d, want 1", counts[index.StatusPending])
	}
}

func TestSnapshot(t *testing.T) {
	store := newTestStore(t)
	root, _ := store.RegisterRoot("/data")

	// Two files share a hash, a third stands alone, a fourth is still
	// pending and must not count toward content statistics.
	seedHashed(t, store, index.Key{RootID: root.ID, RelativePath: "a.txt"}, testStat(10), 1, "dup")
	seedHashed(t, store, index.Key{RootID: root.ID, RelativePath: "b.txt"}, testStat(10), 1, "dup")
	seedHashed(t, store, index.Key{RootID: root.ID, RelativePath: "c.txt"}, testStat(5), 1, "unique")
	if _, err := store.UpsertSeen(index.Key{RootID: root.ID, RelativePath: "d.txt"}, testStat(99), 1, false); err != nil {
		t.Fatalf("UpsertSeen() error = %v", err)
	}

	s, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	if len(s.Roots) != 1 {
		t.Errorf("len(Roots) = %d, want 1", len(s.Roots))
	}
	if s.TotalFiles != 4 {
		t.Errorf("TotalFiles = %d, want 4", s.TotalFiles)
	}
	if s.CountsByStatus[index.StatusHashed] != 3 {
		t.Errorf("hashed count = %d, want 3", s.CountsByStatus[index.StatusHashed])
	}
	if s.HashedBytes != 25 {
		t.Errorf("HashedBytes = %d, want 25", s.HashedBytes)
	}
	if s.UniqueHashes != 2 {
		t.Errorf("UniqueHashes = %d, want 2", s.UniqueHashes)
	}
	if s.DuplicateGroups != 1 {
		t.Errorf("DuplicateGroups = %d, want 1", s.DuplicateGroups)
	}
	if s.DuplicateFiles != 2 {
		t.Errorf("DuplicateFiles = %d, want 2", s.DuplicateFiles)
	}
}
