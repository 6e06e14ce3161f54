package stacc

import (
	"context"
	"fmt"
)

// BytesUsed returns the owner's materialized usage. It reads only the
// snapshot and returns 0 when none exists yet, so it may lag behind the
// ledger until the next materialization.
func (s *StaccService) BytesUsed(ctx context.Context, owner Owner) (int64, error) {
	if err := owner.Validate(); err != nil {
		return 0, err
	}
	snap, err := s.database.FindSnapshot(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("finding snapshot for %s: %w", owner, err)
	}
	if snap == nil {
		return 0, nil
	}
	return snap.BytesStored, nil
}

// BytesUsedExact returns the snapshot plus every entry appended after its
// cursor. The snapshot is created if the owner has none.
func (s *StaccService) BytesUsedExact(ctx context.Context, owner Owner) (int64, error) {
	if _, err := s.resolveOwner(ctx, owner); err != nil {
		return 0, err
	}
	snap, err := s.database.FindOrCreateSnapshot(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("loading snapshot for %s: %w", owner, err)
	}
	pending, err := s.database.SumDeltas(ctx, owner, snap.LastEntryID, "")
	if err != nil {
		return 0, fmt.Errorf("summing pending entries for %s: %w", owner, err)
	}
	return snap.CurrentUsage(pending), nil
}

// PendingEntries returns the owner's entries not yet folded into its
// snapshot, oldest first. limit <= 0 returns all of them.
func (s *StaccService) PendingEntries(ctx context.Context, owner Owner, limit int) ([]*Entry, error) {
	if _, err := s.resolveOwner(ctx, owner); err != nil {
		return nil, err
	}
	snap, err := s.database.FindSnapshot(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("finding snapshot for %s: %w", owner, err)
	}
	cursor := ""
	if snap != nil {
		cursor = snap.LastEntryID
	}
	entries, err := s.database.ListEntries(ctx, owner, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending entries for %s: %w", owner, err)
	}
	return entries, nil
}

// Usage reports the approximate usage, and the exact usage when exact is set.
func (s *StaccService) Usage(ctx context.Context, owner Owner, exact bool) (*UsageReport, error) {
	if _, err := s.resolveOwner(ctx, owner); err != nil {
		return nil, err
	}

	report := &UsageReport{Owner: owner}
	snap, err := s.database.FindSnapshot(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("finding snapshot for %s: %w", owner, err)
	}
	if snap != nil {
		report.BytesUsed = snap.BytesStored
		report.LastEntryID = snap.LastEntryID
	}

	report.PendingCount, err = s.database.CountEntries(ctx, owner, report.LastEntryID)
	if err != nil {
		return nil, fmt.Errorf("counting pending entries for %s: %w", owner, err)
	}

	if exact {
		n, err := s.BytesUsedExact(ctx, owner)
		if err != nil {
			return nil, err
		}
		report.Exact = &n
	}
	return report, nil
}
