package stacc

import (
	"context"
	"fmt"
)

// Append writes one entry to the ledger and schedules materialization for
// the owners it touches.
//
// A zero delta writes nothing and returns (nil, nil). Entries are only ever
// inserted. The id is assigned under the database's append lock, which is
// held only for the insert; snapshot locks are never taken.
func (s *StaccService) Append(ctx context.Context, p AppendParams) (*Entry, error) {
	if p.Delta == 0 {
		return nil, nil
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	entry, err := s.insertEntry(ctx, p)
	if err != nil {
		return nil, err
	}

	for _, owner := range entry.Owners() {
		s.scheduleMaterialize(ctx, owner)
	}
	return entry, nil
}

func (s *StaccService) insertEntry(ctx context.Context, p AppendParams) (*Entry, error) {
	entry := &Entry{
		TenantID:    p.TenantID,
		ContainerID: p.ContainerID,
		Recordable:  p.Recordable,
		BlobID:      p.BlobID,
		Delta:       p.Delta,
		Operation:   p.Operation,
		ActorID:     p.Audit.ActorID,
		RequestID:   p.Audit.RequestID,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.database.AppendEntry(ctx, entry, s.idgen.New); err != nil {
		return nil, fmt.Errorf("inserting storage entry: %w", err)
	}
	s.logger.Debug("storage entry appended",
		"entry", entry.ID, "tenant", entry.TenantID, "container", entry.ContainerID,
		"operation", string(entry.Operation), "delta", entry.Delta)
	return entry, nil
}

// scheduleMaterialize looks the owner up first so that an owner destroyed
// in the same cascade as the entry is skipped instead of failing.
func (s *StaccService) scheduleMaterialize(ctx context.Context, owner Owner) {
	info, err := s.catalog.ResolveOwner(ctx, owner)
	if err != nil {
		s.logger.Warn("skipping materialize schedule", "owner", owner.String(), "error", err)
		return
	}
	if info == nil {
		s.logger.Debug("owner gone, not scheduling materialize", "owner", owner.String())
		return
	}
	s.scheduler.ScheduleMaterialize(owner)
}
