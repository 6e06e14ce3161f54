package stacc

import (
	"context"
	"errors"
	"fmt"
)

// Attach stores a new attachment and records its bytes.
func (s *StaccService) Attach(ctx context.Context, audit Audit, att *Attachment) (*Entry, error) {
	if err := att.Attachable.Validate(); err != nil {
		return nil, err
	}
	if err := s.catalog.CreateAttachment(ctx, att); err != nil {
		return nil, fmt.Errorf("creating attachment: %w", err)
	}
	entry, err := s.RecordAttach(ctx, audit, att)
	if err != nil {
		return nil, fmt.Errorf("recording attach of %s: %w", att.ID, err)
	}
	s.logger.Info("attachment created", "attachment", att.ID, "blob", att.BlobID)
	return entry, nil
}

// Detach removes an attachment and records the bytes it released.
func (s *StaccService) Detach(ctx context.Context, audit Audit, attachmentID string) (*Entry, error) {
	att, err := s.catalog.FindAttachment(ctx, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("finding attachment: %w", err)
	}
	if att == nil {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
	}

	snap, err := s.CaptureDetach(ctx, att)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.DeleteAttachment(ctx, att.ID); err != nil {
		return nil, fmt.Errorf("deleting attachment: %w", err)
	}
	entry, err := s.RecordDetach(ctx, audit, snap)
	if err != nil {
		return nil, fmt.Errorf("recording detach of %s: %w", att.ID, err)
	}
	s.logger.Info("attachment removed", "attachment", att.ID, "blob", att.BlobID)
	return entry, nil
}

// ReplaceAttachment swaps the blob behind a named attachment: the old
// attachment is detached and a new one with the same name is attached.
func (s *StaccService) ReplaceAttachment(ctx context.Context, audit Audit, attachmentID string, replacement *Attachment) ([]*Entry, error) {
	old, err := s.catalog.FindAttachment(ctx, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("finding attachment: %w", err)
	}
	if old == nil {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, attachmentID)
	}
	replacement.Attachable = old.Attachable
	if replacement.Name == "" {
		replacement.Name = old.Name
	}

	var entries []*Entry
	detached, err := s.Detach(ctx, audit, old.ID)
	if err != nil {
		return nil, err
	}
	if detached != nil {
		entries = append(entries, detached)
	}
	attached, err := s.Attach(ctx, audit, replacement)
	if err != nil {
		return nil, err
	}
	if attached != nil {
		entries = append(entries, attached)
	}
	return entries, nil
}

// MoveRecord moves a card, with everything attached within it, to another
// container of the same tenant.
func (s *StaccService) MoveRecord(ctx context.Context, audit Audit, ref RecordRef, containerID string) ([]*Entry, error) {
	if ref.Kind != RecordCard {
		return nil, fmt.Errorf("%w: %s", ErrNotMovable, ref)
	}
	before, err := s.findRecord(ctx, ref)
	if err != nil {
		return nil, err
	}

	target, err := s.resolveOwner(ctx, ContainerOwner(containerID))
	if err != nil {
		return nil, err
	}
	if target.TenantID != before.TenantID {
		return nil, fmt.Errorf("%w: container %s belongs to another tenant", ErrNotMovable, containerID)
	}

	if err := s.catalog.MoveRecord(ctx, ref, containerID); err != nil {
		return nil, fmt.Errorf("moving %s: %w", ref, err)
	}
	return s.RecordTransfer(ctx, audit, before, containerID)
}

// DestroyRecord deletes a record and everything attached within it.
func (s *StaccService) DestroyRecord(ctx context.Context, audit Audit, ref RecordRef) ([]*Entry, error) {
	if ref.Kind == RecordContainer {
		return s.DestroyContainer(ctx, audit, ref.ID)
	}
	if _, err := s.findRecord(ctx, ref); err != nil {
		return nil, err
	}

	atts, err := s.catalog.AttachmentsWithin(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("listing attachments of %s: %w", ref, err)
	}
	snaps, err := s.captureAll(ctx, atts)
	if err != nil {
		return nil, err
	}

	if err := s.catalog.DeleteRecord(ctx, ref); err != nil {
		return nil, fmt.Errorf("deleting %s: %w", ref, err)
	}
	s.logger.Info("record destroyed", "record", ref.String(), "attachments", len(atts))
	return s.detachAll(ctx, audit, snaps)
}

// DestroyContainer deletes a container with its records and attachments,
// and drops its usage snapshot. Detach entries still name the container;
// they only count toward the tenant from then on.
func (s *StaccService) DestroyContainer(ctx context.Context, audit Audit, containerID string) ([]*Entry, error) {
	owner := ContainerOwner(containerID)
	if _, err := s.resolveOwner(ctx, owner); err != nil {
		return nil, err
	}

	atts, err := s.catalog.AttachmentsInContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments in %s: %w", owner, err)
	}
	snaps, err := s.captureAll(ctx, atts)
	if err != nil {
		return nil, err
	}

	if err := s.catalog.DeleteContainer(ctx, containerID); err != nil {
		return nil, fmt.Errorf("deleting %s: %w", owner, err)
	}
	if err := s.database.DeleteSnapshot(ctx, owner); err != nil {
		return nil, fmt.Errorf("deleting snapshot of %s: %w", owner, err)
	}
	s.logger.Info("container destroyed", "container", containerID, "attachments", len(atts))
	return s.detachAll(ctx, audit, snaps)
}

// DestroyTenant deletes a tenant with everything in it and drops the usage
// snapshots of the tenant and its containers. The ledger keeps its entries;
// no owner they count toward exists any more.
func (s *StaccService) DestroyTenant(ctx context.Context, tenantID string) error {
	owner := TenantOwner(tenantID)
	if _, err := s.resolveOwner(ctx, owner); err != nil {
		return err
	}
	if err := s.catalog.DeleteTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("deleting %s: %w", owner, err)
	}
	s.logger.Info("tenant destroyed", "tenant", tenantID)
	return nil
}

func (s *StaccService) findRecord(ctx context.Context, ref RecordRef) (*TrackedRecord, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.catalog.FindTrackedRecord(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", ref, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, ref)
	}
	return rec, nil
}

func (s *StaccService) captureAll(ctx context.Context, atts []*Attachment) ([]*DetachSnapshot, error) {
	snaps := make([]*DetachSnapshot, 0, len(atts))
	for _, att := range atts {
		snap, err := s.CaptureDetach(ctx, att)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			snaps = append(snaps, snap)
		}
	}
	return snaps, nil
}

// detachAll records every captured detach. A failed append does not stop
// the remaining ones; all failures are returned joined.
func (s *StaccService) detachAll(ctx context.Context, audit Audit, snaps []*DetachSnapshot) ([]*Entry, error) {
	var entries []*Entry
	var errs []error
	for _, snap := range snaps {
		entry, err := s.RecordDetach(ctx, audit, snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	if len(errs) > 0 {
		return entries, fmt.Errorf("recording detaches: %w", errors.Join(errs...))
	}
	return entries, nil
}
