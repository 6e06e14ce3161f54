package stacc

import (
	"context"
	"fmt"
)

// Materialize folds the owner's entries up to the newest one into its
// snapshot. It is idempotent: with nothing new it changes nothing.
//
// The newest id is read only after the snapshot row is locked, so two
// concurrent calls never fold the same entries twice.
func (s *StaccService) Materialize(ctx context.Context, owner Owner) error {
	if _, err := s.resolveOwner(ctx, owner); err != nil {
		return err
	}

	var folded int64
	var cursor string
	err := s.database.WithSnapshotLock(ctx, owner, func(tx SnapshotTx, snap *Snapshot) error {
		latest, err := tx.MaxEntryID(ctx)
		if err != nil {
			return fmt.Errorf("reading newest entry: %w", err)
		}
		if latest == "" || latest == snap.LastEntryID {
			return nil
		}
		if latest < snap.LastEntryID {
			return fmt.Errorf("%w: %s has cursor %s, newest entry %s", ErrCursorAhead, owner, snap.LastEntryID, latest)
		}

		sum, err := tx.SumDeltas(ctx, snap.LastEntryID, latest)
		if err != nil {
			return fmt.Errorf("summing entries: %w", err)
		}
		if err := tx.SaveSnapshot(ctx, snap.BytesStored+sum, latest); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		folded, cursor = sum, latest
		return nil
	})
	if err != nil {
		return fmt.Errorf("materializing %s: %w", owner, err)
	}

	if cursor != "" {
		s.logger.Debug("snapshot materialized", "owner", owner.String(), "delta", folded, "cursor", cursor)
	}
	return nil
}
