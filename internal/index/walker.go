package index

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Entry is one candidate file produced by the walker.
type Entry struct {
	Root         *Root
	RelativePath string
}

// AbsPath returns the absolute path of the entry on disk.
func (e Entry) AbsPath() string {
	return filepath.Join(e.Root.Path, e.RelativePath)
}

// Key returns the store key for the entry.
func (e Entry) Key() Key {
	return Key{RootID: e.Root.ID, RelativePath: e.RelativePath}
}

// Matcher filters relative paths out of the walk (ignore rules).
type Matcher interface {
	Match(relativePath string) bool
}

// Walker enumerates candidate files under a root in deterministic
// order: lexicographic, depth-first. It never holds more than one
// directory listing in memory plus the traversal stack, so memory is
// bounded independent of tree size; the bounded output channel is what
// throttles production when hashing falls behind.
type Walker struct {
	prober Prober
	ignore Matcher // may be nil
	logger Logger
}

// NewWalker creates a Walker. ignore may be nil to disable filtering.
func NewWalker(prober Prober, ignore Matcher, logger Logger) *Walker {
	return &Walker{prober: prober, ignore: ignore, logger: logger}
}

// workItem is one pending node on the explicit traversal stack. The
// stack replaces call recursion so pathologically deep trees cannot
// overflow, and so a full output channel cleanly suspends the walk.
type workItem struct {
	rel  string
	kind Kind
}

// Walk enumerates the root and sends entries to out until the tree is
// exhausted or ctx is cancelled. The caller owns out and closes it
// after Walk returns.
//
// Per entry: regular files are emitted; directories are descended
// into; a symlink is emitted only when one level of resolution reaches
// a regular file. Symlinks to directories are never followed, which
// rules out traversal cycles by construction. Sockets, devices and
// fifos are skipped. A directory that disappears mid-walk loses its
// subtree without aborting the walk.
func (w *Walker) Walk(ctx context.Context, root *Root, out chan<- Entry) error {
	stack := []workItem{{rel: ".", kind: KindDir}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch item.kind {
		case KindDir:
			children, ok := w.listDir(root, item.rel)
			if !ok {
				continue
			}
			// Push in reverse so the stack pops lexicographically.
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}

		case KindFile:
			if err := w.emit(ctx, root, item.rel, out); err != nil {
				return err
			}

		case KindSymlink:
			abs := filepath.Join(root.Path, item.rel)
			target, err := w.prober.Resolve(abs)
			if err != nil {
				w.logger.Debug("skipping unresolvable symlink", "path", abs, "error", err)
				continue
			}
			if target.Kind != KindFile {
				w.logger.Debug("skipping symlink", "path", abs, "target_kind", target.Kind.String())
				continue
			}
			if err := w.emit(ctx, root, item.rel, out); err != nil {
				return err
			}
		}
	}

	return nil
}

// listDir reads one directory and classifies its entries into work
// items. Returns ok=false when the directory could not be read; the
// subtree is lost but the walk continues (TOCTOU races and permission
// problems are partial, non-fatal conditions).
func (w *Walker) listDir(root *Root, rel string) ([]workItem, bool) {
	abs := filepath.Join(root.Path, rel)

	entries, err := os.ReadDir(abs)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			w.logger.Debug("directory vanished during walk", "path", abs)
		case errors.Is(err, fs.ErrPermission):
			w.logger.Warn("directory not readable, subtree skipped", "path", abs)
		default:
			w.logger.Warn("directory unreadable, subtree skipped", "path", abs, "error", err)
		}
		return nil, false
	}

	// os.ReadDir returns entries sorted by name.
	items := make([]workItem, 0, len(entries))
	for _, ent := range entries {
		childRel := ent.Name()
		if rel != "." {
			childRel = filepath.Join(rel, ent.Name())
		}

		if w.ignore != nil && w.ignore.Match(childRel) {
			w.logger.Debug("ignoring entry", "path", childRel)
			continue
		}

		t := ent.Type()
		switch {
		case t.IsDir():
			items = append(items, workItem{rel: childRel, kind: KindDir})
		case t.IsRegular():
			items = append(items, workItem{rel: childRel, kind: KindFile})
		case t&fs.ModeSymlink != 0:
			items = append(items, workItem{rel: childRel, kind: KindSymlink})
		default:
			w.logger.Debug("skipping special file", "path", childRel, "mode", t.String())
		}
	}

	return items, true
}

func (w *Walker) emit(ctx context.Context, root *Root, rel string, out chan<- Entry) error {
	select {
	case out <- Entry{Root: root, RelativePath: rel}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
