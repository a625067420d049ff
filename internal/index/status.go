package index

import "fmt"

// Status is the indexing state of a file record.
//
// Transitions are driven exclusively by the scheduler and the scan
// reconciliation:
//
//	pending --BeginHashing--> hashing --CommitHashed--> hashed
//	pending/hashing --CommitError--> error
//	any non-vanished --(unseen this scan)--> vanished
//	hashed --(size/mtime unchanged on rescan)--> hashed
//	hashed --(size/mtime changed on rescan)--> pending
//	vanished --(seen again)--> pending
//
// hashed and vanished are terminal only within a run; both are
// re-enterable across runs.
type Status string

const (
	StatusPending  Status = "pending"
	StatusHashing  Status = "hashing"
	StatusHashed   Status = "hashed"
	StatusError    Status = "error"
	StatusVanished Status = "vanished"
)

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusHashing, StatusHashed, StatusError, StatusVanished:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown file status: %q", s)
}

// Terminal reports whether the status is a per-run terminal state.
// A record left in hashing after a crash is not terminal and is
// reclaimed as pending on the next scan.
func (s Status) Terminal() bool {
	switch s {
	case StatusHashed, StatusError, StatusVanished:
		return true
	}
	return false
}
