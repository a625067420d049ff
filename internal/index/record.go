package index

import "time"

// Root is a configured top-level directory. The ID is a UUID assigned
// when the root is first registered; it is deliberately independent of
// the path so the index survives a root being relocated between runs.
type Root struct {
	ID         string // UUID
	Path       string // Absolute path on host
	Generation int64  // Scan generation counter, incremented per run
	CreatedAt  time.Time
}

// Identity is the filesystem identity of a file: device plus inode.
// Hard links share an identity; distinct files never do (on one host,
// at one point in time).
type Identity struct {
	Device uint64
	Inode  uint64
}

// Key addresses a file record. Paths, not inodes, are the primary key
// because paths are what a human reviews when acting on duplicates.
type Key struct {
	RootID       string
	RelativePath string
}

// StatSnapshot is the cheap "did content possibly change" oracle stored
// with every record. A content change that preserves size and mtime is
// undetectable by design.
type StatSnapshot struct {
	Identity  Identity
	SizeBytes int64
	MTimeNS   int64 // modification time, nanoseconds since epoch
}

// FileRecord is one row per observed filesystem entry.
type FileRecord struct {
	Key         Key
	Stat        StatSnapshot
	Status      Status
	ContentHash string // hex digest, set iff Status == StatusHashed
	Generation  int64  // last scan generation that touched this record
	LastSeenAt  time.Time
	LastError   string
}

// Summary reports the outcome of one indexing run across all roots.
type Summary struct {
	Roots          int
	Discovered     int64 // entries produced by the walker
	Hashed         int64 // files hashed this run
	UpToDate       int64 // short-circuited: hashed with unchanged size/mtime
	Errors         int64 // per-file errors committed this run
	SkippedMissing int64 // vanished between enumeration and stat
	Vanished       int64 // records reconciled to vanished
	Cancelled      bool
}

// StoreSnapshot is an aggregate view of the index for status reporting.
type StoreSnapshot struct {
	Roots           []*Root
	CountsByStatus  map[Status]int64
	TotalFiles      int64
	HashedBytes     int64 // total size of hashed files
	UniqueHashes    int64
	DuplicateGroups int64 // distinct hashes shared by more than one record
	DuplicateFiles  int64 // records belonging to a duplicate group
}
