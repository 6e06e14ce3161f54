package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"stacc-go/internal/stacc"
)

const attachmentColumns = `a.id, a.attachable_kind, a.attachable_id, a.name, a.blob_id, a.created_at`

type attachmentRow struct {
	ID             string    `db:"id"`
	AttachableKind string    `db:"attachable_kind"`
	AttachableID   string    `db:"attachable_id"`
	Name           string    `db:"name"`
	BlobID         string    `db:"blob_id"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r *attachmentRow) toAttachment() *stacc.Attachment {
	return &stacc.Attachment{
		ID:         r.ID,
		Attachable: stacc.Attachable{Kind: stacc.AttachableKind(r.AttachableKind), ID: r.AttachableID},
		Name:       r.Name,
		BlobID:     r.BlobID,
		CreatedAt:  r.CreatedAt,
	}
}

// Attachments charged to a record (first ? pair: kind, id), its rich text
// (kind, id) and the comments beneath it, with their rich text (id twice).
const withinRecordWhere = `
	(a.attachable_kind = ? AND a.attachable_id = ?)
	OR (a.attachable_kind = 'rich_text' AND a.attachable_id IN (
		SELECT rt.id FROM rich_texts rt WHERE rt.record_kind = ? AND rt.record_id = ?))
	OR (a.attachable_kind = 'comment' AND a.attachable_id IN (
		SELECT c.id FROM records c WHERE c.kind = 'comment' AND c.parent_id = ?))
	OR (a.attachable_kind = 'rich_text' AND a.attachable_id IN (
		SELECT rt.id FROM rich_texts rt JOIN records c ON c.id = rt.record_id
		WHERE rt.record_kind = 'comment' AND c.kind = 'comment' AND c.parent_id = ?))`

// Attachments charged to a container (container id four times).
const inContainerWhere = `
	EXISTS (SELECT 1 FROM records r
		WHERE r.id = a.attachable_id AND r.kind = a.attachable_kind AND r.container_id = ?)
	OR (a.attachable_kind = 'container' AND a.attachable_id = ?)
	OR (a.attachable_kind = 'rich_text' AND EXISTS (
		SELECT 1 FROM rich_texts rt JOIN records r ON r.id = rt.record_id AND r.kind = rt.record_kind
		WHERE rt.id = a.attachable_id AND r.container_id = ?))
	OR (a.attachable_kind = 'rich_text' AND EXISTS (
		SELECT 1 FROM rich_texts rt
		WHERE rt.id = a.attachable_id AND rt.record_kind = 'container' AND rt.record_id = ?))`

func withinRecordArgs(ref stacc.RecordRef) []any {
	return []any{string(ref.Kind), ref.ID, string(ref.Kind), ref.ID, ref.ID, ref.ID}
}

func (s *SQLDatabase) ResolveOwner(ctx context.Context, owner stacc.Owner) (*stacc.OwnerInfo, error) {
	var query string
	switch owner.Kind {
	case stacc.OwnerTenant:
		query = `SELECT id FROM tenants WHERE id = ?`
	case stacc.OwnerContainer:
		query = `SELECT tenant_id FROM containers WHERE id = ?`
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", stacc.ErrInvalidOwner, owner.Kind)
	}

	var tenantID string
	if err := s.db.GetContext(ctx, &tenantID, s.db.Rebind(query), owner.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving owner: %w", err)
	}
	return &stacc.OwnerInfo{Owner: owner, TenantID: tenantID}, nil
}

func (s *SQLDatabase) FindTrackedRecord(ctx context.Context, ref stacc.RecordRef) (*stacc.TrackedRecord, error) {
	var query string
	switch ref.Kind {
	case stacc.RecordCard, stacc.RecordComment:
		query = `SELECT tenant_id, container_id FROM records WHERE id = ? AND kind = '` + string(ref.Kind) + `'`
	case stacc.RecordContainer:
		query = `SELECT tenant_id, id AS container_id FROM containers WHERE id = ?`
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", stacc.ErrInvalidRecord, ref.Kind)
	}

	var row struct {
		TenantID    string         `db:"tenant_id"`
		ContainerID sql.NullString `db:"container_id"`
	}
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), ref.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding record: %w", err)
	}
	return &stacc.TrackedRecord{Ref: ref, TenantID: row.TenantID, ContainerID: row.ContainerID.String}, nil
}

func (s *SQLDatabase) TrackedRecordFor(ctx context.Context, attachable stacc.Attachable) (*stacc.TrackedRecord, error) {
	if attachable.Kind != stacc.AttachableRichText {
		return s.FindTrackedRecord(ctx, stacc.RecordRef{Kind: stacc.RecordKind(attachable.Kind), ID: attachable.ID})
	}

	var owner struct {
		Kind string `db:"record_kind"`
		ID   string `db:"record_id"`
	}
	query := s.db.Rebind(`SELECT record_kind, record_id FROM rich_texts WHERE id = ?`)
	if err := s.db.GetContext(ctx, &owner, query, attachable.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding rich text: %w", err)
	}
	return s.FindTrackedRecord(ctx, stacc.RecordRef{Kind: stacc.RecordKind(owner.Kind), ID: owner.ID})
}

func (s *SQLDatabase) FindAttachment(ctx context.Context, id string) (*stacc.Attachment, error) {
	var row attachmentRow
	query := s.db.Rebind(`SELECT ` + attachmentColumns + ` FROM attachments a WHERE a.id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding attachment: %w", err)
	}
	return row.toAttachment(), nil
}

func (s *SQLDatabase) AttachmentsWithin(ctx context.Context, ref stacc.RecordRef) ([]*stacc.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments a WHERE ` + withinRecordWhere + ` ORDER BY a.id`
	return s.selectAttachments(ctx, query, withinRecordArgs(ref)...)
}

func (s *SQLDatabase) AttachmentsInContainer(ctx context.Context, containerID string) ([]*stacc.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments a WHERE ` + inContainerWhere + ` ORDER BY a.id`
	return s.selectAttachments(ctx, query, containerID, containerID, containerID, containerID)
}

func (s *SQLDatabase) ListAttachments(ctx context.Context, afterID string, limit int) ([]*stacc.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments a WHERE a.id > ? ORDER BY a.id`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectAttachments(ctx, query, args...)
}

func (s *SQLDatabase) selectAttachments(ctx context.Context, query string, args ...any) ([]*stacc.Attachment, error) {
	var rows []attachmentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	atts := make([]*stacc.Attachment, len(rows))
	for i := range rows {
		atts[i] = rows[i].toAttachment()
	}
	return atts, nil
}

func (s *SQLDatabase) TenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM tenants ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	return ids, nil
}

func (s *SQLDatabase) ContainerIDs(ctx context.Context, tenantID string) ([]string, error) {
	var ids []string
	query := s.db.Rebind(`SELECT id FROM containers WHERE tenant_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &ids, query, tenantID); err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	return ids, nil
}

func (s *SQLDatabase) RecordIDs(ctx context.Context, containerID string, kind stacc.RecordKind) ([]string, error) {
	var query string
	var args []any
	switch kind {
	case stacc.RecordCard, stacc.RecordComment:
		query = `SELECT id FROM records WHERE container_id = ? AND kind = ? ORDER BY id`
		args = []any{containerID, string(kind)}
	case stacc.RecordContainer:
		query = `SELECT id FROM containers WHERE id = ?`
		args = []any{containerID}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", stacc.ErrInvalidRecord, kind)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing %s records: %w", kind, err)
	}
	return ids, nil
}

func (s *SQLDatabase) RichTextIDs(ctx context.Context, kind stacc.RecordKind, recordIDs []string) ([]string, error) {
	var ids []string
	for _, chunk := range chunks(recordIDs, maxParams) {
		query, args, err := in(s.db, `SELECT id FROM rich_texts WHERE record_kind = ? AND record_id IN (?) ORDER BY id`,
			string(kind), chunk)
		if err != nil {
			return nil, err
		}
		var page []string
		if err := s.db.SelectContext(ctx, &page, query, args...); err != nil {
			return nil, fmt.Errorf("listing rich texts: %w", err)
		}
		ids = append(ids, page...)
	}
	return ids, nil
}

func (s *SQLDatabase) AttachedBlobIDs(ctx context.Context, kind stacc.AttachableKind, attachableIDs []string) ([]string, error) {
	var ids []string
	for _, chunk := range chunks(attachableIDs, maxParams) {
		query, args, err := in(s.db, `SELECT blob_id FROM attachments WHERE attachable_kind = ? AND attachable_id IN (?) ORDER BY id`,
			string(kind), chunk)
		if err != nil {
			return nil, err
		}
		var page []string
		if err := s.db.SelectContext(ctx, &page, query, args...); err != nil {
			return nil, fmt.Errorf("listing attached blobs: %w", err)
		}
		ids = append(ids, page...)
	}
	return ids, nil
}

func (s *SQLDatabase) CreateAttachment(ctx context.Context, att *stacc.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.Must(uuid.NewV7()).String()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`INSERT INTO attachments (id, attachable_kind, attachable_id, name, blob_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, att.ID, string(att.Attachable.Kind), att.Attachable.ID,
		att.Name, att.BlobID, att.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting attachment: %w", err)
	}
	return nil
}

func (s *SQLDatabase) DeleteAttachment(ctx context.Context, id string) error {
	query := s.db.Rebind(`DELETE FROM attachments WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}
	return nil
}

// MoveRecord moves a card and the comments that follow it.
func (s *SQLDatabase) MoveRecord(ctx context.Context, ref stacc.RecordRef, containerID string) error {
	if ref.Kind != stacc.RecordCard {
		return fmt.Errorf("%w: %s", stacc.ErrNotMovable, ref)
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE records SET container_id = ? WHERE id = ? AND kind = 'card'`),
			containerID, ref.ID)
		if err != nil {
			return fmt.Errorf("moving card: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", stacc.ErrRecordNotFound, ref)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE records SET container_id = ? WHERE parent_id = ? AND kind = 'comment'`),
			containerID, ref.ID)
		if err != nil {
			return fmt.Errorf("moving comments: %w", err)
		}
		return nil
	})
}

func (s *SQLDatabase) DeleteRecord(ctx context.Context, ref stacc.RecordRef) error {
	if ref.Kind == stacc.RecordContainer {
		return s.DeleteContainer(ctx, ref.ID)
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM attachments WHERE id IN (
			SELECT a.id FROM attachments a WHERE `+withinRecordWhere+`)`), withinRecordArgs(ref)...)
		if err != nil {
			return fmt.Errorf("deleting attachments: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM rich_texts
			WHERE (record_kind = ? AND record_id = ?)
			OR (record_kind = 'comment' AND record_id IN (SELECT id FROM records WHERE parent_id = ?))`),
			string(ref.Kind), ref.ID, ref.ID)
		if err != nil {
			return fmt.Errorf("deleting rich texts: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM records WHERE parent_id = ? OR (id = ? AND kind = ?)`),
			ref.ID, ref.ID, string(ref.Kind))
		if err != nil {
			return fmt.Errorf("deleting record: %w", err)
		}
		return nil
	})
}

func (s *SQLDatabase) DeleteContainer(ctx context.Context, containerID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM attachments WHERE id IN (
			SELECT a.id FROM attachments a WHERE `+inContainerWhere+`)`),
			containerID, containerID, containerID, containerID)
		if err != nil {
			return fmt.Errorf("deleting attachments: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM rich_texts
			WHERE (record_kind = 'container' AND record_id = ?)
			OR EXISTS (SELECT 1 FROM records r
				WHERE r.id = rich_texts.record_id AND r.kind = rich_texts.record_kind AND r.container_id = ?)`),
			containerID, containerID)
		if err != nil {
			return fmt.Errorf("deleting rich texts: %w", err)
		}
		// Records cascade from the container.
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM containers WHERE id = ?`), containerID); err != nil {
			return fmt.Errorf("deleting container: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM storage_totals WHERE owner_kind = 'container' AND owner_id = ?`),
			containerID)
		if err != nil {
			return fmt.Errorf("deleting snapshot: %w", err)
		}
		return nil
	})
}

// Attachments charged to anything in a tenant (tenant id four times).
const inTenantWhere = `
	EXISTS (SELECT 1 FROM records r
		WHERE r.id = a.attachable_id AND r.kind = a.attachable_kind AND r.tenant_id = ?)
	OR (a.attachable_kind = 'container' AND a.attachable_id IN (SELECT id FROM containers WHERE tenant_id = ?))
	OR (a.attachable_kind = 'rich_text' AND a.attachable_id IN (
		SELECT rt.id FROM rich_texts rt JOIN records r ON r.id = rt.record_id AND r.kind = rt.record_kind
		WHERE r.tenant_id = ?))
	OR (a.attachable_kind = 'rich_text' AND a.attachable_id IN (
		SELECT rt.id FROM rich_texts rt JOIN containers c ON c.id = rt.record_id
		WHERE rt.record_kind = 'container' AND c.tenant_id = ?))`

// DeleteTenant removes a tenant with its containers, records, attachments
// and every usage snapshot under it.
func (s *SQLDatabase) DeleteTenant(ctx context.Context, tenantID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM attachments WHERE id IN (
			SELECT a.id FROM attachments a WHERE `+inTenantWhere+`)`),
			tenantID, tenantID, tenantID, tenantID)
		if err != nil {
			return fmt.Errorf("deleting attachments: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM rich_texts
			WHERE (record_kind = 'container' AND record_id IN (SELECT id FROM containers WHERE tenant_id = ?))
			OR EXISTS (SELECT 1 FROM records r
				WHERE r.id = rich_texts.record_id AND r.kind = rich_texts.record_kind AND r.tenant_id = ?)`),
			tenantID, tenantID)
		if err != nil {
			return fmt.Errorf("deleting rich texts: %w", err)
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM storage_totals
			WHERE (owner_kind = 'tenant' AND owner_id = ?)
			OR (owner_kind = 'container' AND owner_id IN (SELECT id FROM containers WHERE tenant_id = ?))`),
			tenantID, tenantID)
		if err != nil {
			return fmt.Errorf("deleting snapshots: %w", err)
		}
		// Containers and records cascade from the tenant.
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tenants WHERE id = ?`), tenantID); err != nil {
			return fmt.Errorf("deleting tenant: %w", err)
		}
		return nil
	})
}

// Domain writes used by the CLI and test fixtures.

func (s *SQLDatabase) CreateTenant(ctx context.Context, id, name string) error {
	query := s.db.Rebind(`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, id, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

func (s *SQLDatabase) CreateContainer(ctx context.Context, id, tenantID, name string) error {
	query := s.db.Rebind(`INSERT INTO containers (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, id, tenantID, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("inserting container: %w", err)
	}
	return nil
}

// CreateCard inserts a card into a container of the tenant.
func (s *SQLDatabase) CreateCard(ctx context.Context, id, tenantID, containerID, title string) error {
	if containerID == "" {
		return fmt.Errorf("%w: card %s needs a container", stacc.ErrInvalidRecord, id)
	}
	query := s.db.Rebind(`INSERT INTO records (id, kind, tenant_id, container_id, title, created_at)
		SELECT ?, 'card', tenant_id, id, ?, ? FROM containers WHERE id = ? AND tenant_id = ?`)
	res, err := s.db.ExecContext(ctx, query, id, title, time.Now().UTC(), containerID, tenantID)
	if err != nil {
		return fmt.Errorf("inserting card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: container %s in tenant %s", stacc.ErrOwnerNotFound, containerID, tenantID)
	}
	return nil
}

// CreateComment inserts a comment on a card; it shares the card's tenant and container.
func (s *SQLDatabase) CreateComment(ctx context.Context, id, cardID string) error {
	query := s.db.Rebind(`INSERT INTO records (id, kind, tenant_id, container_id, parent_id, created_at)
		SELECT ?, 'comment', tenant_id, container_id, id, ? FROM records WHERE id = ? AND kind = 'card'`)
	res, err := s.db.ExecContext(ctx, query, id, time.Now().UTC(), cardID)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: card %s", stacc.ErrRecordNotFound, cardID)
	}
	return nil
}

func (s *SQLDatabase) CreateRichText(ctx context.Context, id string, ref stacc.RecordRef, name, body string) error {
	query := s.db.Rebind(`INSERT INTO rich_texts (id, record_kind, record_id, name, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, id, string(ref.Kind), ref.ID, name, body, time.Now().UTC()); err != nil {
		return fmt.Errorf("inserting rich text: %w", err)
	}
	return nil
}
