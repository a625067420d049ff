package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"idem/internal/database/migrations"
	"idem/internal/index"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements index.Store on an embedded SQLite database.
// Every mutation is a single short transaction (or a single statement,
// which SQLite makes atomic), so a crash never leaves a half-written
// record: a hash without its status flip cannot exist.
type SQLiteStore struct {
	db    *sql.DB
	clock index.Clock
	path  string
}

// NewSQLiteStore opens (or creates) the index at path and brings the
// schema up to date. path can be ":memory:" for an in-memory index.
func NewSQLiteStore(path string, clock index.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating index schema: %w", err)
	}

	return NewSQLiteStoreFromDB(db, clock), nil
}

// OpenSQLiteStore opens an existing index at path for reading. The
// schema is verified against the embedded migrations but never
// migrated, so read paths cannot mutate the index.
func OpenSQLiteStore(path string, clock index.Clock) (*SQLiteStore, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("index store %s: %w (run 'idem index' to create it)", path, err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.CheckDBMigrationStatus(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("index schema check: %w", err)
	}

	return NewSQLiteStoreFromDB(db, clock), nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for the connection being configured and migrated.
func NewSQLiteStoreFromDB(db *sql.DB, clock index.Clock) *SQLiteStore {
	if clock == nil {
		clock = index.RealClock{}
	}
	return &SQLiteStore{db: db, clock: clock}
}

// OpenConnection opens and configures a SQLite connection with the
// pragmas the index relies on. Exported for tools and tests that need
// a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}

	// A single connection serializes all transactions. Mutations are
	// short by design, and it keeps in-memory databases coherent
	// (every :memory: connection is its own database).
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Root operations

func (s *SQLiteStore) RegisterRoot(path string) (*index.Root, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	root, err := scanRoot(tx.QueryRow(
		`SELECT id, path, generation, created_at FROM roots WHERE path = ?`, path))
	if err == nil {
		return root, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("finding root by path: %w", err)
	}

	root = &index.Root{
		ID:        uuid.New().String(),
		Path:      path,
		CreatedAt: s.clock.Now(),
	}
	_, err = tx.Exec(
		`INSERT INTO roots (id, path, generation, created_at) VALUES (?, ?, 0, ?)`,
		root.ID, root.Path, root.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting root: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return root, nil
}

func (s *SQLiteStore) BeginScan(rootID string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE roots SET generation = generation + 1 WHERE id = ?`, rootID)
	if err != nil {
		return 0, fmt.Errorf("advancing scan generation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("unknown root: %s", rootID)
	}

	var generation int64
	if err := tx.QueryRow(`SELECT generation FROM roots WHERE id = ?`, rootID).Scan(&generation); err != nil {
		return 0, fmt.Errorf("reading scan generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return generation, nil
}

func (s *SQLiteStore) ListRoots() ([]*index.Root, error) {
	rows, err := s.db.Query(`SELECT id, path, generation, created_at FROM roots ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	defer rows.Close()

	var roots []*index.Root
	for rows.Next() {
		root, err := scanRoot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning root: %w", err)
		}
		roots = append(roots, root)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roots: %w", err)
	}
	return roots, nil
}

// File operations

func (s *SQLiteStore) UpsertSeen(key index.Key, stat index.StatSnapshot, generation int64, force bool) (index.Status, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.clock.Now()

	existing, err := getFile(tx, key)
	if err != nil {
		return "", err
	}

	if existing == nil {
		_, err := tx.Exec(`
			INSERT INTO files (root_id, relative_path, device_id, inode, size_bytes,
			                   mtime_ns, status, content_hash, generation, last_seen_at, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, NULL)`,
			key.RootID, key.RelativePath,
			int64(stat.Identity.Device), int64(stat.Identity.Inode),
			stat.SizeBytes, stat.MTimeNS, string(index.StatusPending), generation, now)
		if err != nil {
			return "", fmt.Errorf("inserting file record: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("committing transaction: %w", err)
		}
		return index.StatusPending, nil
	}

	status := rescanStatus(existing, stat, force)

	if status == index.StatusHashed {
		// Short-circuit: identity, size and mtime are unchanged, the
		// prior hash stands. Only stamp the scan bookkeeping.
		_, err := tx.Exec(`
			UPDATE files SET generation = ?, last_seen_at = ?
			WHERE root_id = ? AND relative_path = ?`,
			generation, now, key.RootID, key.RelativePath)
		if err != nil {
			return "", fmt.Errorf("stamping file record: %w", err)
		}
	} else {
		_, err := tx.Exec(`
			UPDATE files SET device_id = ?, inode = ?, size_bytes = ?, mtime_ns = ?,
			                 status = ?, content_hash = NULL, generation = ?,
			                 last_seen_at = ?, last_error = NULL
			WHERE root_id = ? AND relative_path = ?`,
			int64(stat.Identity.Device), int64(stat.Identity.Inode),
			stat.SizeBytes, stat.MTimeNS, string(status), generation, now,
			key.RootID, key.RelativePath)
		if err != nil {
			return "", fmt.Errorf("updating file record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}
	return status, nil
}

// rescanStatus applies the transition table for a record seen again.
func rescanStatus(existing *index.FileRecord, stat index.StatSnapshot, force bool) index.Status {
	if force {
		return index.StatusPending
	}
	if existing.Status == index.StatusHashed && existing.Stat == stat {
		return index.StatusHashed
	}
	// Changed content oracle, a stale hashing claim from a crashed
	// run, a prior error, or a vanished record seen again: all
	// re-enter pending.
	return index.StatusPending
}

func (s *SQLiteStore) MarkSeenWithError(key index.Key, generation int64, reason string) error {
	now := s.clock.Now()
	_, err := s.db.Exec(`
		INSERT INTO files (root_id, relative_path, device_id, inode, size_bytes,
		                   mtime_ns, status, content_hash, generation, last_seen_at, last_error)
		VALUES (?, ?, 0, 0, 0, 0, ?, NULL, ?, ?, ?)
		ON CONFLICT(root_id, relative_path) DO UPDATE SET
			status = excluded.status,
			content_hash = NULL,
			generation = excluded.generation,
			last_seen_at = excluded.last_seen_at,
			last_error = excluded.last_error`,
		key.RootID, key.RelativePath, string(index.StatusError), generation, now, reason)
	if err != nil {
		return fmt.Errorf("recording file error: %w", err)
	}
	return nil
}

func (s *SQLiteStore) BeginHashing(key index.Key) (bool, error) {
	// A single conditional UPDATE is the atomic claim: exactly one
	// caller can move pending to hashing.
	res, err := s.db.Exec(`
		UPDATE files SET status = ?
		WHERE root_id = ? AND relative_path = ? AND status = ?`,
		string(index.StatusHashing), key.RootID, key.RelativePath, string(index.StatusPending))
	if err != nil {
		return false, fmt.Errorf("claiming file record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) CommitHashed(key index.Key, hash string) error {
	res, err := s.db.Exec(`
		UPDATE files SET status = ?, content_hash = ?, last_error = NULL
		WHERE root_id = ? AND relative_path = ? AND status = ?`,
		string(index.StatusHashed), hash,
		key.RootID, key.RelativePath, string(index.StatusHashing))
	if err != nil {
		return fmt.Errorf("committing hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record not claimed for hashing: %s/%s", key.RootID, key.RelativePath)
	}
	return nil
}

func (s *SQLiteStore) CommitError(key index.Key, reason string) error {
	res, err := s.db.Exec(`
		UPDATE files SET status = ?, content_hash = NULL, last_error = ?
		WHERE root_id = ? AND relative_path = ? AND status IN (?, ?)`,
		string(index.StatusError), reason,
		key.RootID, key.RelativePath,
		string(index.StatusPending), string(index.StatusHashing))
	if err != nil {
		return fmt.Errorf("committing error state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record not pending or hashing: %s/%s", key.RootID, key.RelativePath)
	}
	return nil
}

func (s *SQLiteStore) MarkVanished(key index.Key) error {
	_, err := s.db.Exec(`
		UPDATE files SET status = ?, content_hash = NULL
		WHERE root_id = ? AND relative_path = ?`,
		string(index.StatusVanished), key.RootID, key.RelativePath)
	if err != nil {
		return fmt.Errorf("marking record vanished: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReconcileUnseen(rootID string, generation int64) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE files SET status = ?, content_hash = NULL
		WHERE root_id = ? AND generation < ? AND status != ?`,
		string(index.StatusVanished), rootID, generation, string(index.StatusVanished))
	if err != nil {
		return 0, fmt.Errorf("reconciling unseen records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetFile(key index.Key) (*index.FileRecord, error) {
	record, err := getFile(s.db, key)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *SQLiteStore) CountsByStatus(rootID string) (map[index.Status]int64, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM files WHERE root_id = ? GROUP BY status`, rootID)
	if err != nil {
		return nil, fmt.Errorf("counting records by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[index.Status]int64)
	for rows.Next() {
		var raw string
		var n int64
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		status, err := index.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}
	return counts, nil
}

func (s *SQLiteStore) Snapshot() (*index.StoreSnapshot, error) {
	snapshot := &index.StoreSnapshot{
		CountsByStatus: make(map[index.Status]int64),
	}

	roots, err := s.ListRoots()
	if err != nil {
		return nil, err
	}
	snapshot.Roots = roots

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		var n int64
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		status, err := index.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		snapshot.CountsByStatus[status] = n
		snapshot.TotalFiles += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}

	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(size_bytes), 0), COUNT(DISTINCT content_hash)
		FROM files WHERE status = ?`, string(index.StatusHashed)).
		Scan(&snapshot.HashedBytes, &snapshot.UniqueHashes)
	if err != nil {
		return nil, fmt.Errorf("aggregating hashed records: %w", err)
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(n), 0) FROM (
			SELECT COUNT(*) AS n FROM files
			WHERE status = ? GROUP BY content_hash HAVING COUNT(*) > 1
		)`, string(index.StatusHashed)).
		Scan(&snapshot.DuplicateGroups, &snapshot.DuplicateFiles)
	if err != nil {
		return nil, fmt.Errorf("aggregating duplicate groups: %w", err)
	}

	return snapshot, nil
}

// CheckMigrations verifies the index schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the underlying connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// row scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoot(row rowScanner) (*index.Root, error) {
	var root index.Root
	if err := row.Scan(&root.ID, &root.Path, &root.Generation, &root.CreatedAt); err != nil {
		return nil, err
	}
	return &root, nil
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getFile(q queryer, key index.Key) (*index.FileRecord, error) {
	row := q.QueryRow(`
		SELECT root_id, relative_path, device_id, inode, size_bytes, mtime_ns,
		       status, content_hash, generation, last_seen_at, last_error
		FROM files WHERE root_id = ? AND relative_path = ?`,
		key.RootID, key.RelativePath)

	var record index.FileRecord
	var device, inode int64
	var rawStatus string
	var hash, lastError sql.NullString
	var lastSeen time.Time

	err := row.Scan(&record.Key.RootID, &record.Key.RelativePath,
		&device, &inode, &record.Stat.SizeBytes, &record.Stat.MTimeNS,
		&rawStatus, &hash, &record.Generation, &lastSeen, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning file record: %w", err)
	}

	record.Stat.Identity = index.Identity{Device: uint64(device), Inode: uint64(inode)}
	record.Status, err = index.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	record.ContentHash = hash.String
	record.LastSeenAt = lastSeen
	record.LastError = lastError.String

	return &record, nil
}

// Compile-time check that SQLiteStore implements index.Store.
var _ index.Store = (*SQLiteStore)(nil)
