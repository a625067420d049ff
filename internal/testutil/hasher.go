package testutil

import (
	"context"
	"sync/atomic"

	"idem/internal/index"
)

// CountingHasher wraps a real hasher and counts how many files were
// actually read. Used to prove size/mtime short-circuits: a second run
// over an unchanged tree must perform zero hashing operations.
type CountingHasher struct {
	Inner index.Hasher
	calls atomic.Int64
}

func NewCountingHasher(inner index.Hasher) *CountingHasher {
	return &CountingHasher{Inner: inner}
}

func (h *CountingHasher) Hash(ctx context.Context, path string, expect index.Expectation) (string, error) {
	h.calls.Add(1)
	return h.Inner.Hash(ctx, path, expect)
}

// Calls returns how many times Hash was invoked.
func (h *CountingHasher) Calls() int64 {
	return h.calls.Load()
}

// Reset zeroes the call counter.
func (h *CountingHasher) Reset() {
	h.calls.Store(0)
}

var _ index.Hasher = (*CountingHasher)(nil)
