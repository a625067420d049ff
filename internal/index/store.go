package index

// Store is the durable, transactional record of every file ever
// observed and its indexing state. It is the only shared mutable
// resource in the engine: all coordination between the walker, the
// scheduler and the hashing workers flows through its atomic
// operations. Every mutation is a short single-record (or small-batch)
// transaction, so a crash between operations leaves the store
// consistent with "some prefix of work completed".
type Store interface {
	// RegisterRoot finds or creates the root for an absolute path and
	// returns it with its stable ID.
	RegisterRoot(path string) (*Root, error)

	// BeginScan increments the root's scan generation and returns the
	// new value. Records touched during the scan are stamped with it.
	BeginScan(rootID string) (int64, error)

	// UpsertSeen records that a path was observed with the given stat
	// snapshot. New paths are created pending. Existing records follow
	// the transition table: hashed stays hashed when identity, size
	// and mtime are unchanged (the short-circuit); any change, a stale
	// hashing claim, a vanished record being seen again, or force all
	// yield pending with the hash cleared. The record is stamped with
	// the generation. Returns the post-transition status.
	UpsertSeen(key Key, stat StatSnapshot, generation int64, force bool) (Status, error)

	// MarkSeenWithError records a path that was observed but could not
	// be stat'd (e.g. permission denied). The record lands in error
	// with the reason and stays eligible for a future run.
	MarkSeenWithError(key Key, generation int64, reason string) error

	// BeginHashing atomically claims a pending record for hashing.
	// It returns false when the record is not pending (already
	// claimed, already hashed, or errored). This claim is the sole
	// source of the at-most-once-hashing-per-run guarantee.
	BeginHashing(key Key) (bool, error)

	// CommitHashed moves a claimed record to hashed with its digest.
	// The hash and the status flip are one atomic write.
	CommitHashed(key Key, hash string) error

	// CommitError moves a pending or claimed record to error with a
	// diagnostic reason. The record stays eligible for re-hashing on a
	// future run.
	CommitError(key Key, reason string) error

	// MarkVanished retires a single record. Nothing is ever deleted;
	// vanished records are re-entered as pending if seen again.
	MarkVanished(key Key) error

	// ReconcileUnseen marks every non-vanished record of the root from
	// a generation older than the given one as vanished, and returns
	// how many records it transitioned.
	ReconcileUnseen(rootID string, generation int64) (int64, error)

	// GetFile returns the record for a key, or nil when none exists.
	GetFile(key Key) (*FileRecord, error)

	// CountsByStatus returns per-status record counts for one root.
	CountsByStatus(rootID string) (map[Status]int64, error)

	// Snapshot returns aggregate statistics for status reporting.
	Snapshot() (*StoreSnapshot, error)

	// Close releases the underlying store.
	Close() error
}
