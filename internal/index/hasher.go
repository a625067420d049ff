package index

import (
	"context"
	"errors"
)

// ErrContentChanged means the file found at open time did not match the
// identity and size observed at stat time: it was replaced or rewritten
// between enumeration and hashing. The record is committed as error and
// re-examined on the next run.
var ErrContentChanged = errors.New("content changed between stat and open")

// Expectation is what the hasher re-verifies immediately after opening
// a file, defending against swap races.
type Expectation struct {
	Identity Identity
	Size     int64
}

// Hasher streams a file's bytes into a 256-bit content digest with
// memory bounded by the chunk size, not the file size.
type Hasher interface {
	// Hash returns the hex digest of the file's full contents, or an
	// error matching ErrContentChanged, ErrNotFound or ErrPermission
	// for the expected races, or the underlying read error for a
	// mid-stream failure.
	Hash(ctx context.Context, path string, expect Expectation) (string, error)
}
