package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"idem/internal/index"
)

// OSProber is the real filesystem implementation of index.Prober.
type OSProber struct{}

// NewOSProber creates a prober that stats the real filesystem.
func NewOSProber() *OSProber {
	return &OSProber{}
}

// Probe lstats the path: symlinks are reported as their own kind,
// never dereferenced.
func (p *OSProber) Probe(path string) (*index.StatInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, wrapStatError(path, err)
	}
	return statInfoFrom(info)
}

// Resolve stats the path, following its own symlink (one level of
// resolution as seen by the kernel). Used to classify what a symlink
// points at.
func (p *OSProber) Resolve(path string) (*index.StatInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, wrapStatError(path, err)
	}
	return statInfoFrom(info)
}

// statInfoFrom converts a FileInfo into the typed probe result.
func statInfoFrom(info fs.FileInfo) (*index.StatInfo, error) {
	identity, err := identityFromInfo(info)
	if err != nil {
		return nil, err
	}

	return &index.StatInfo{
		Kind:     kindOf(info.Mode()),
		Identity: identity,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

func kindOf(mode fs.FileMode) index.Kind {
	switch {
	case mode.IsRegular():
		return index.KindFile
	case mode.IsDir():
		return index.KindDir
	case mode&fs.ModeSymlink != 0:
		return index.KindSymlink
	default:
		return index.KindOther
	}
}

// wrapStatError maps the expected filesystem races onto the engine's
// typed sentinels so callers can match with errors.Is.
func wrapStatError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat %s: %w", path, index.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("stat %s: %w", path, index.ErrPermission)
	default:
		return fmt.Errorf("stat %s: %w", path, err)
	}
}

// Compile-time check that OSProber implements index.Prober.
var _ index.Prober = (*OSProber)(nil)
