package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"idem/internal/index"
)

// DefaultChunkSize is the read buffer size used when none is
// configured: large enough to keep sequential reads efficient, small
// enough that memory stays proportional to concurrency.
const DefaultChunkSize = 128 * 1024

// ChunkHasher streams file contents through SHA-256 in fixed-size
// chunks. Memory use is O(chunk size) regardless of file size.
type ChunkHasher struct {
	chunkSize int
}

// NewChunkHasher creates a hasher with the given chunk size.
// Non-positive sizes fall back to DefaultChunkSize.
func NewChunkHasher(chunkSize int) *ChunkHasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkHasher{chunkSize: chunkSize}
}

// Hash opens the file, re-verifies identity and size against what the
// caller observed at stat time, and folds the contents into a SHA-256
// digest. A mismatch after open means the file was swapped between
// stat and open and yields index.ErrContentChanged instead of a hash.
//
// Cancellation stops new files from being hashed, not files already in
// flight: once Hash starts it runs to completion so the claim it was
// dispatched under can commit. ctx is accepted for the interface.
func (h *ChunkHasher) Hash(ctx context.Context, path string, expect index.Expectation) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", wrapOpenError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat open file %s: %w", path, err)
	}

	identity, err := identityFromInfo(info)
	if err != nil {
		return "", err
	}

	if identity != expect.Identity || info.Size() != expect.Size {
		return "", fmt.Errorf("%s: %w", path, index.ErrContentChanged)
	}

	digest := sha256.New()
	buf := make([]byte, h.chunkSize)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

func wrapOpenError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("open %s: %w", path, index.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("open %s: %w", path, index.ErrPermission)
	default:
		return fmt.Errorf("open %s: %w", path, err)
	}
}

// Compile-time check that ChunkHasher implements index.Hasher.
var _ index.Hasher = (*ChunkHasher)(nil)
