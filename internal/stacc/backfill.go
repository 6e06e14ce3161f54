package stacc

import (
	"context"
	"fmt"
)

// BackfillResult counts what a backfill run did.
type BackfillResult struct {
	Created                int `json:"created"`
	Skipped                int `json:"skipped"`
	ContainersMaterialized int `json:"containers_materialized"`
	TenantsMaterialized    int `json:"tenants_materialized"`
}

// Backfill seeds the ledger with an attach entry for every existing
// attachment whose blob has no entry yet, then materializes every owner.
// Running it again creates nothing new.
func (s *StaccService) Backfill(ctx context.Context, audit Audit) (*BackfillResult, error) {
	result := &BackfillResult{}

	after := ""
	for {
		page, err := s.catalog.ListAttachments(ctx, after, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("listing attachments after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		for _, att := range page {
			created, err := s.backfillAttachment(ctx, audit, att)
			if err != nil {
				return nil, err
			}
			if created {
				result.Created++
			} else {
				result.Skipped++
			}
		}
		after = page[len(page)-1].ID
	}

	tenants, err := s.catalog.TenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	for _, tenantID := range tenants {
		containers, err := s.catalog.ContainerIDs(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("listing containers of tenant %s: %w", tenantID, err)
		}
		for _, id := range containers {
			if err := s.Materialize(ctx, ContainerOwner(id)); err != nil {
				return nil, err
			}
			result.ContainersMaterialized++
		}
		if err := s.Materialize(ctx, TenantOwner(tenantID)); err != nil {
			return nil, err
		}
		result.TenantsMaterialized++
	}

	s.logger.Info("storage ledger backfilled", "created", result.Created, "skipped", result.Skipped,
		"containers", result.ContainersMaterialized, "tenants", result.TenantsMaterialized)
	return result, nil
}

// backfillAttachment inserts the entry directly; materialization happens
// once at the end of the run instead of per entry.
func (s *StaccService) backfillAttachment(ctx context.Context, audit Audit, att *Attachment) (bool, error) {
	exists, err := s.database.EntryExistsForBlob(ctx, att.BlobID)
	if err != nil {
		return false, fmt.Errorf("checking entries for blob %s: %w", att.BlobID, err)
	}
	if exists {
		return false, nil
	}

	snap, err := s.capture(ctx, att)
	if err != nil {
		return false, err
	}
	if snap == nil || snap.ByteSize == 0 {
		return false, nil
	}

	_, err = s.insertEntry(ctx, AppendParams{
		TenantID:    snap.TenantID,
		ContainerID: snap.ContainerID,
		Recordable:  snap.Recordable,
		BlobID:      snap.BlobID,
		Delta:       snap.ByteSize,
		Operation:   OpAttach,
		Audit:       audit,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
