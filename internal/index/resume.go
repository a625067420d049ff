package index

import "context"

// Scan-cycle bookkeeping. Each run over a root opens a new scan
// generation before the walker starts and reconciles unseen records
// after it finishes. This is how deletions (and renames, which look
// like a deletion plus a new file) are detected without diffing full
// directory snapshots: any record the run never touched carries an
// older generation.

// beginScan bumps the root's generation counter and returns it.
func (s *Service) beginScan(root *Root) (int64, error) {
	gen, err := s.store.BeginScan(root.ID)
	if err != nil {
		return 0, err
	}
	root.Generation = gen
	s.logger.Debug("scan generation opened", "root", root.Path, "generation", gen)
	return gen, nil
}

// reconcile marks every record of the root not touched by this
// generation as vanished. It is skipped on cancellation: a partial
// walk must not retire records it simply never reached.
func (s *Service) reconcile(ctx context.Context, root *Root, generation int64) (int64, error) {
	if ctx.Err() != nil {
		s.logger.Info("run cancelled, skipping reconciliation", "root", root.Path)
		return 0, nil
	}

	n, err := s.store.ReconcileUnseen(root.ID, generation)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("records reconciled to vanished", "root", root.Path, "count", n)
	}
	return n, nil
}
