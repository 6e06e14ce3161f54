package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stacc-go/internal/database/migrations"
	"stacc-go/internal/stacc"
)

const entryColumns = `id, tenant_id, container_id, recordable_kind, recordable_id, blob_id,
	delta, operation, actor_id, request_id, created_at`

type entryRow struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	ContainerID    sql.NullString `db:"container_id"`
	RecordableKind sql.NullString `db:"recordable_kind"`
	RecordableID   sql.NullString `db:"recordable_id"`
	BlobID         sql.NullString `db:"blob_id"`
	Delta          int64          `db:"delta"`
	Operation      string         `db:"operation"`
	ActorID        sql.NullString `db:"actor_id"`
	RequestID      sql.NullString `db:"request_id"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *entryRow) toEntry() *stacc.Entry {
	return &stacc.Entry{
		ID:          r.ID,
		TenantID:    r.TenantID,
		ContainerID: r.ContainerID.String,
		Recordable: stacc.RecordRef{
			Kind: stacc.RecordKind(r.RecordableKind.String),
			ID:   r.RecordableID.String,
		},
		BlobID:    r.BlobID.String,
		Delta:     r.Delta,
		Operation: stacc.Operation(r.Operation),
		ActorID:   r.ActorID.String,
		RequestID: r.RequestID.String,
		CreatedAt: r.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ownerColumn is the storage_entries column that attributes an entry to owner.
func ownerColumn(owner stacc.Owner) (string, error) {
	switch owner.Kind {
	case stacc.OwnerTenant:
		return "tenant_id", nil
	case stacc.OwnerContainer:
		return "container_id", nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", stacc.ErrInvalidOwner, owner.Kind)
}

// appendLockKey is the PostgreSQL advisory lock serializing ledger appends.
const appendLockKey int64 = 0x73746163636c6764

func (s *SQLDatabase) AppendEntry(ctx context.Context, e *stacc.Entry, newID func() string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		// SQLite transactions begin IMMEDIATE and already hold the write lock.
		if s.dialect == migrations.Postgres {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
				return fmt.Errorf("taking append lock: %w", err)
			}
		}
		e.ID = newID()
		return insertEntry(ctx, tx, e)
	})
}

// InsertEntry stores an entry with the id it already carries, outside the
// append lock. Tests use it to place entries at chosen ids.
func (s *SQLDatabase) InsertEntry(ctx context.Context, e *stacc.Entry) error {
	return insertEntry(ctx, s.db, e)
}

func insertEntry(ctx context.Context, q sqlx.ExtContext, e *stacc.Entry) error {
	query := q.Rebind(`INSERT INTO storage_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.TenantID,
		nullString(e.ContainerID),
		nullString(string(e.Recordable.Kind)),
		nullString(e.Recordable.ID),
		nullString(e.BlobID),
		e.Delta,
		string(e.Operation),
		nullString(e.ActorID),
		nullString(e.RequestID),
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting storage entry: %w", err)
	}
	return nil
}

func (s *SQLDatabase) MaxEntryID(ctx context.Context, owner stacc.Owner) (string, error) {
	return maxEntryID(ctx, s.db, owner)
}

func (s *SQLDatabase) SumDeltas(ctx context.Context, owner stacc.Owner, afterID, upToID string) (int64, error) {
	return sumDeltas(ctx, s.db, owner, afterID, upToID)
}

func (s *SQLDatabase) ListEntries(ctx context.Context, owner stacc.Owner, afterID string, limit int) ([]*stacc.Entry, error) {
	col, err := ownerColumn(owner)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + entryColumns + ` FROM storage_entries WHERE ` + col + ` = ? AND id > ? ORDER BY id`
	args := []any{owner.ID, afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectEntries(ctx, query, args...)
}

func (s *SQLDatabase) CountEntries(ctx context.Context, owner stacc.Owner, afterID string) (int, error) {
	col, err := ownerColumn(owner)
	if err != nil {
		return 0, err
	}
	var n int
	query := s.db.Rebind(`SELECT COUNT(*) FROM storage_entries WHERE ` + col + ` = ? AND id > ?`)
	if err := s.db.GetContext(ctx, &n, query, owner.ID, afterID); err != nil {
		return 0, fmt.Errorf("counting storage entries: %w", err)
	}
	return n, nil
}

func (s *SQLDatabase) ScanEntries(ctx context.Context, afterID string, limit int) ([]*stacc.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM storage_entries WHERE id > ? ORDER BY id`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectEntries(ctx, query, args...)
}

func (s *SQLDatabase) EntryExistsForBlob(ctx context.Context, blobID string) (bool, error) {
	var exists bool
	query := s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM storage_entries WHERE blob_id = ?)`)
	if err := s.db.GetContext(ctx, &exists, query, blobID); err != nil {
		return false, fmt.Errorf("checking entries for blob: %w", err)
	}
	return exists, nil
}

func (s *SQLDatabase) selectEntries(ctx context.Context, query string, args ...any) ([]*stacc.Entry, error) {
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing storage entries: %w", err)
	}
	entries := make([]*stacc.Entry, len(rows))
	for i := range rows {
		entries[i] = rows[i].toEntry()
	}
	return entries, nil
}

func maxEntryID(ctx context.Context, q sqlx.ExtContext, owner stacc.Owner) (string, error) {
	col, err := ownerColumn(owner)
	if err != nil {
		return "", err
	}
	var id sql.NullString
	query := q.Rebind(`SELECT MAX(id) FROM storage_entries WHERE ` + col + ` = ?`)
	if err := sqlx.GetContext(ctx, q, &id, query, owner.ID); err != nil {
		return "", fmt.Errorf("reading max entry id: %w", err)
	}
	return id.String, nil
}

func sumDeltas(ctx context.Context, q sqlx.ExtContext, owner stacc.Owner, afterID, upToID string) (int64, error) {
	col, err := ownerColumn(owner)
	if err != nil {
		return 0, err
	}
	query := `SELECT COALESCE(SUM(delta), 0) FROM storage_entries WHERE ` + col + ` = ? AND id > ?`
	args := []any{owner.ID, afterID}
	if upToID != "" {
		query += ` AND id <= ?`
		args = append(args, upToID)
	}
	var sum int64
	if err := sqlx.GetContext(ctx, q, &sum, q.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("summing deltas: %w", err)
	}
	return sum, nil
}
