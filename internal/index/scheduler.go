package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// runStats are the live counters for one scheduling run. They are
// atomic because workers update them concurrently.
type runStats struct {
	discovered     atomic.Int64
	hashed         atomic.Int64
	upToDate       atomic.Int64
	errors         atomic.Int64
	skippedMissing atomic.Int64
}

// Scheduler drains the walker's entry stream, decides via the store
// whether hashing is needed, and fans work out to a bounded pool of
// hashing workers. All synchronization between workers goes through
// the store's atomic claim (BeginHashing): a worker claims a record
// before touching the file, so the same record is never hashed twice
// in one run even if it were dispatched twice.
type Scheduler struct {
	store   Store
	prober  Prober
	hasher  Hasher
	logger  Logger
	workers int
}

// NewScheduler creates a Scheduler with the given concurrency bound.
// workers values below 1 are treated as 1.
func NewScheduler(store Store, prober Prober, hasher Hasher, logger Logger, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:   store,
		prober:  prober,
		hasher:  hasher,
		logger:  logger,
		workers: workers,
	}
}

// task is one claimed-candidate handed to a hashing worker.
type task struct {
	entry Entry
	stat  *StatInfo
}

// Run consumes entries until the channel is closed, dispatching files
// that need hashing to the worker pool. Per-file conditions are
// converted to committed record states and never abort the run. On
// cancellation the loop stops pulling new entries but in-flight hashes
// run to completion and commit.
func (s *Scheduler) Run(ctx context.Context, entries <-chan Entry, generation int64, force bool, stats *runStats) {
	tasks := make(chan task)
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				s.hashOne(ctx, t, stats)
			}
		}()
	}

	for entry := range entries {
		stats.discovered.Add(1)
		s.dispatch(ctx, entry, generation, force, tasks, stats)
	}

	close(tasks)
	wg.Wait()
}

// dispatch stats one entry, records it as seen, and hands it to the
// pool when the post-transition status is pending.
func (s *Scheduler) dispatch(ctx context.Context, entry Entry, generation int64, force bool, tasks chan<- task, stats *runStats) {
	abs := entry.AbsPath()

	stat, err := s.prober.Probe(abs)
	switch {
	case err == nil:
		// fall through
	case errors.Is(err, ErrNotFound):
		// Vanished between enumeration and stat. Any existing record
		// is picked up by reconciliation.
		stats.skippedMissing.Add(1)
		s.logger.Debug("file vanished before stat", "path", abs)
		return
	case errors.Is(err, ErrPermission):
		stats.errors.Add(1)
		if serr := s.store.MarkSeenWithError(entry.Key(), generation, "permission denied"); serr != nil {
			s.logger.Error("recording permission error", "path", abs, "error", serr)
		}
		return
	default:
		stats.errors.Add(1)
		if serr := s.store.MarkSeenWithError(entry.Key(), generation, err.Error()); serr != nil {
			s.logger.Error("recording stat error", "path", abs, "error", serr)
		}
		return
	}

	if stat.Kind == KindSymlink {
		// The walker emits a symlink only when one level of resolution
		// reached a regular file. Stat the target: its identity is what
		// the hasher sees after following the link on open.
		stat, err = s.prober.Resolve(abs)
		switch {
		case err == nil:
			// fall through
		case errors.Is(err, ErrNotFound):
			stats.skippedMissing.Add(1)
			s.logger.Debug("symlink target vanished before stat", "path", abs)
			return
		case errors.Is(err, ErrPermission):
			stats.errors.Add(1)
			if serr := s.store.MarkSeenWithError(entry.Key(), generation, "permission denied"); serr != nil {
				s.logger.Error("recording permission error", "path", abs, "error", serr)
			}
			return
		default:
			stats.errors.Add(1)
			if serr := s.store.MarkSeenWithError(entry.Key(), generation, err.Error()); serr != nil {
				s.logger.Error("recording symlink stat error", "path", abs, "error", serr)
			}
			return
		}
	}

	if stat.Kind != KindFile {
		// A kind change between the walker's classification and this
		// stat is a race; the entry is treated as gone.
		stats.skippedMissing.Add(1)
		s.logger.Debug("entry no longer a regular file", "path", abs, "kind", stat.Kind.String())
		return
	}

	status, err := s.store.UpsertSeen(entry.Key(), stat.Snapshot(), generation, force)
	if err != nil {
		stats.errors.Add(1)
		s.logger.Error("recording observed file", "path", abs, "error", err)
		return
	}

	if status == StatusHashed {
		stats.upToDate.Add(1)
		return
	}
	if status != StatusPending {
		return
	}

	select {
	case tasks <- task{entry: entry, stat: stat}:
	case <-ctx.Done():
		// Stop feeding the pool; the record stays pending and the next
		// run resumes it.
	}
}

// hashOne claims, hashes and commits a single file. Claim-then-work:
// the store claim happens before the file is opened.
func (s *Scheduler) hashOne(ctx context.Context, t task, stats *runStats) {
	key := t.entry.Key()
	abs := t.entry.AbsPath()

	claimed, err := s.store.BeginHashing(key)
	if err != nil {
		stats.errors.Add(1)
		s.logger.Error("claiming record", "path", abs, "error", err)
		return
	}
	if !claimed {
		// Another worker got there first, or the record advanced.
		return
	}

	hash, err := s.hasher.Hash(ctx, abs, Expectation{Identity: t.stat.Identity, Size: t.stat.Size})
	if err != nil {
		stats.errors.Add(1)
		reason := err.Error()
		switch {
		case errors.Is(err, ErrContentChanged):
			reason = "content changed during read"
		case errors.Is(err, ErrNotFound):
			reason = "file vanished during hashing"
		case errors.Is(err, ErrPermission):
			reason = "permission denied"
		}
		s.logger.Warn("hashing failed", "path", abs, "reason", reason)
		if cerr := s.store.CommitError(key, reason); cerr != nil {
			s.logger.Error("committing error state", "path", abs, "error", cerr)
		}
		return
	}

	if err := s.store.CommitHashed(key, hash); err != nil {
		stats.errors.Add(1)
		s.logger.Error("committing hash", "path", abs, "error", err)
		return
	}

	stats.hashed.Add(1)
	s.logger.Debug("file hashed", "path", abs, "hash", hash)
}
