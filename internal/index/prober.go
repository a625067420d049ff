package index

import (
	"errors"
	"time"
)

// Kind classifies a filesystem entry.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	KindOther // sockets, devices, fifos
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// Expected filesystem races, returned (wrapped) by Prober and Hasher
// implementations. They are per-file conditions and never abort a run.
var (
	// ErrNotFound means the path vanished between enumeration and stat.
	ErrNotFound = errors.New("path not found")

	// ErrPermission means the path exists but cannot be accessed.
	ErrPermission = errors.New("permission denied")
)

// StatInfo is the probe result for a path.
type StatInfo struct {
	Kind     Kind
	Identity Identity
	Size     int64
	ModTime  time.Time
}

// Snapshot converts the probe result into the form stored on a record.
func (si *StatInfo) Snapshot() StatSnapshot {
	return StatSnapshot{
		Identity:  si.Identity,
		SizeBytes: si.Size,
		MTimeNS:   si.ModTime.UnixNano(),
	}
}

// Prober stats paths and reports identity, size, mtime and kind.
// Expected races (vanished or inaccessible paths) surface as errors
// matching ErrNotFound / ErrPermission via errors.Is.
type Prober interface {
	// Probe stats the path itself; symlinks are reported as
	// KindSymlink, never dereferenced.
	Probe(path string) (*StatInfo, error)

	// Resolve stats through exactly the path's own link, classifying
	// what a symlink points at. For non-symlinks it is equivalent to
	// Probe.
	Resolve(path string) (*StatInfo, error)
}
