package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Options configure one indexing run.
type Options struct {
	// Concurrency is the maximum number of simultaneous hashing
	// operations. Values below 1 mean 1.
	Concurrency int

	// QueueSize caps the in-memory backlog between the walker and the
	// scheduler; the walker blocks when it is full. Values below 1
	// mean 1.
	QueueSize int

	// Force re-hashes every file, ignoring size/mtime short-circuits.
	Force bool
}

// Service orchestrates one indexing run: root validation, scan-
// generation bookkeeping, walking, scheduling and reconciliation.
type Service struct {
	store  Store
	prober Prober
	hasher Hasher
	ignore Matcher // may be nil
	logger Logger
}

// NewService creates a Service. ignore may be nil.
func NewService(store Store, prober Prober, hasher Hasher, ignore Matcher, logger Logger) *Service {
	return &Service{
		store:  store,
		prober: prober,
		hasher: hasher,
		ignore: ignore,
		logger: logger,
	}
}

// Index runs the engine over the given root directories and returns a
// summary of terminal states. Structural problems (a missing root,
// nested roots, store failures around a scan) abort the run; per-file
// conditions never do. A cancelled context stops enumeration, lets
// in-flight hashes commit, and returns a summary with Cancelled set.
func (s *Service) Index(ctx context.Context, rootPaths []string, opts Options) (*Summary, error) {
	paths, err := validateRoots(rootPaths)
	if err != nil {
		return nil, err
	}

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}

	summary := &Summary{Roots: len(paths)}
	stats := &runStats{}

	walker := NewWalker(s.prober, s.ignore, s.logger)
	scheduler := NewScheduler(s.store, s.prober, s.hasher, s.logger, opts.Concurrency)

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}

		root, err := s.store.RegisterRoot(path)
		if err != nil {
			return nil, fmt.Errorf("registering root %s: %w", path, err)
		}

		gen, err := s.beginScan(root)
		if err != nil {
			return nil, fmt.Errorf("opening scan for root %s: %w", path, err)
		}

		s.logger.Info("indexing root", "path", path, "generation", gen,
			"concurrency", opts.Concurrency, "force", opts.Force)

		entries := make(chan Entry, opts.QueueSize)
		walkErr := make(chan error, 1)
		go func() {
			walkErr <- walker.Walk(ctx, root, entries)
			close(entries)
		}()

		scheduler.Run(ctx, entries, gen, opts.Force, stats)

		if err := <-walkErr; err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("walking root %s: %w", path, err)
		}

		vanished, err := s.reconcile(ctx, root, gen)
		if err != nil {
			return nil, fmt.Errorf("reconciling root %s: %w", path, err)
		}
		summary.Vanished += vanished
	}

	summary.Discovered = stats.discovered.Load()
	summary.Hashed = stats.hashed.Load()
	summary.UpToDate = stats.upToDate.Load()
	summary.Errors = stats.errors.Load()
	summary.SkippedMissing = stats.skippedMissing.Load()
	summary.Cancelled = ctx.Err() != nil

	s.logger.Info("run complete",
		"discovered", summary.Discovered,
		"hashed", summary.Hashed,
		"up_to_date", summary.UpToDate,
		"errors", summary.Errors,
		"vanished", summary.Vanished,
		"cancelled", summary.Cancelled)

	return summary, nil
}

// validateRoots resolves root paths to absolute form and rejects the
// structural errors that must abort before any work starts: a root
// that does not exist or is not a directory, duplicate roots, and
// nested roots (overlap would silently double-index every file in the
// inner root).
func validateRoots(rootPaths []string) ([]string, error) {
	if len(rootPaths) == 0 {
		return nil, fmt.Errorf("no root directories given")
	}

	seen := make(map[string]bool, len(rootPaths))
	paths := make([]string, 0, len(rootPaths))

	for _, raw := range rootPaths {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", raw, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("root directory %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root is not a directory: %s", abs)
		}

		if seen[abs] {
			continue
		}
		seen[abs] = true
		paths = append(paths, abs)
	}

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		parent := sorted[i-1]
		child := sorted[i]
		if strings.HasPrefix(child, parent+string(filepath.Separator)) {
			return nil, fmt.Errorf("overlapping roots: %s contains %s", parent, child)
		}
	}

	return paths, nil
}
