package stacc

import (
	"context"
	"fmt"
)

// DetachSnapshot is what an attachment contributed to usage, captured before
// the attachment or anything it resolves through is destroyed. Recording a
// detach uses only these values.
type DetachSnapshot struct {
	TenantID    string
	ContainerID string
	Recordable  RecordRef
	BlobID      string
	ByteSize    int64
}

// RecordAttach appends a positive entry for a newly created attachment.
// Attachments that do not resolve to a tracked record are ignored.
func (s *StaccService) RecordAttach(ctx context.Context, audit Audit, att *Attachment) (*Entry, error) {
	snap, err := s.capture(ctx, att)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	return s.Append(ctx, AppendParams{
		TenantID:    snap.TenantID,
		ContainerID: snap.ContainerID,
		Recordable:  snap.Recordable,
		BlobID:      snap.BlobID,
		Delta:       snap.ByteSize,
		Operation:   OpAttach,
		Audit:       audit,
	})
}

// CaptureDetach resolves everything a later detach entry needs while the
// attachment and its record are still present. It returns nil for
// attachments that are not tracked.
func (s *StaccService) CaptureDetach(ctx context.Context, att *Attachment) (*DetachSnapshot, error) {
	return s.capture(ctx, att)
}

func (s *StaccService) capture(ctx context.Context, att *Attachment) (*DetachSnapshot, error) {
	rec, err := s.catalog.TrackedRecordFor(ctx, att.Attachable)
	if err != nil {
		return nil, fmt.Errorf("resolving tracked record for attachment %s: %w", att.ID, err)
	}
	if rec == nil || rec.TenantID == "" {
		return nil, nil
	}
	size, err := s.blobBytes(ctx, []string{att.BlobID})
	if err != nil {
		return nil, err
	}
	return &DetachSnapshot{
		TenantID:    rec.TenantID,
		ContainerID: rec.ContainerID,
		Recordable:  rec.Ref,
		BlobID:      att.BlobID,
		ByteSize:    size,
	}, nil
}

// RecordDetach appends the negative entry for a captured attachment.
func (s *StaccService) RecordDetach(ctx context.Context, audit Audit, snap *DetachSnapshot) (*Entry, error) {
	if snap == nil {
		return nil, nil
	}
	return s.Append(ctx, AppendParams{
		TenantID:    snap.TenantID,
		ContainerID: snap.ContainerID,
		Recordable:  snap.Recordable,
		BlobID:      snap.BlobID,
		Delta:       -snap.ByteSize,
		Operation:   OpDetach,
		Audit:       audit,
	})
}

// RecordTransfer moves a record's bytes from its previous container to
// newContainerID. before must describe the record as it was prior to the
// move. Both entries are written under the same tenant so the tenant total
// is unchanged; nothing is written when the container did not change or the
// record holds no bytes.
func (s *StaccService) RecordTransfer(ctx context.Context, audit Audit, before *TrackedRecord, newContainerID string) ([]*Entry, error) {
	if before == nil || before.ContainerID == newContainerID {
		return nil, nil
	}
	if newContainerID == "" {
		return nil, fmt.Errorf("%w: %s needs a container", ErrNotMovable, before.Ref)
	}
	bytes, err := s.StorageBytes(ctx, before.Ref)
	if err != nil {
		return nil, err
	}
	if bytes <= 0 {
		return nil, nil
	}

	out, err := s.Append(ctx, AppendParams{
		TenantID:    before.TenantID,
		ContainerID: before.ContainerID,
		Recordable:  before.Ref,
		Delta:       -bytes,
		Operation:   OpTransferOut,
		Audit:       audit,
	})
	if err != nil {
		return nil, fmt.Errorf("recording transfer out of %q: %w", before.ContainerID, err)
	}
	in, err := s.Append(ctx, AppendParams{
		TenantID:    before.TenantID,
		ContainerID: newContainerID,
		Recordable:  before.Ref,
		Delta:       bytes,
		Operation:   OpTransferIn,
		Audit:       audit,
	})
	if err != nil {
		return nil, fmt.Errorf("recording transfer into %q: %w", newContainerID, err)
	}

	s.logger.Info("record transferred", "record", before.Ref.String(),
		"from", before.ContainerID, "to", newContainerID, "bytes", bytes)
	return []*Entry{out, in}, nil
}

// StorageBytes returns the bytes currently charged to a record: the sum of
// every attachment within it.
func (s *StaccService) StorageBytes(ctx context.Context, ref RecordRef) (int64, error) {
	atts, err := s.catalog.AttachmentsWithin(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("listing attachments of %s: %w", ref, err)
	}
	blobIDs := make([]string, 0, len(atts))
	for _, a := range atts {
		blobIDs = append(blobIDs, a.BlobID)
	}
	return s.blobBytes(ctx, blobIDs)
}
