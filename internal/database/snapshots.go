package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stacc-go/internal/stacc"
)

const snapshotColumns = `owner_kind, owner_id, bytes_stored, last_entry_id, created_at, updated_at`

type snapshotRow struct {
	OwnerKind   string         `db:"owner_kind"`
	OwnerID     string         `db:"owner_id"`
	BytesStored int64          `db:"bytes_stored"`
	LastEntryID sql.NullString `db:"last_entry_id"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *snapshotRow) toSnapshot() *stacc.Snapshot {
	return &stacc.Snapshot{
		Owner:       stacc.Owner{Kind: stacc.OwnerKind(r.OwnerKind), ID: r.OwnerID},
		BytesStored: r.BytesStored,
		LastEntryID: r.LastEntryID.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (s *SQLDatabase) FindSnapshot(ctx context.Context, owner stacc.Owner) (*stacc.Snapshot, error) {
	return findSnapshot(ctx, s.db, owner, "")
}

func (s *SQLDatabase) FindOrCreateSnapshot(ctx context.Context, owner stacc.Owner) (*stacc.Snapshot, error) {
	if err := ensureSnapshot(ctx, s.db, owner); err != nil {
		return nil, err
	}
	snap, err := findSnapshot(ctx, s.db, owner, "")
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot for %s missing after create", owner)
	}
	return snap, nil
}

func (s *SQLDatabase) WithSnapshotLock(ctx context.Context, owner stacc.Owner, fn func(tx stacc.SnapshotTx, snap *stacc.Snapshot) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensureSnapshot(ctx, tx, owner); err != nil {
			return err
		}
		snap, err := findSnapshot(ctx, tx, owner, s.lockClause())
		if err != nil {
			return err
		}
		if snap == nil {
			return fmt.Errorf("snapshot for %s missing after create", owner)
		}
		return fn(&snapshotTx{tx: tx, owner: owner}, snap)
	})
}

func (s *SQLDatabase) DeleteSnapshot(ctx context.Context, owner stacc.Owner) error {
	query := s.db.Rebind(`DELETE FROM storage_totals WHERE owner_kind = ? AND owner_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, string(owner.Kind), owner.ID); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

// ensureSnapshot inserts an empty snapshot unless one exists. Concurrent
// callers race safely on the unique owner index.
func ensureSnapshot(ctx context.Context, q sqlx.ExtContext, owner stacc.Owner) error {
	now := time.Now().UTC()
	query := q.Rebind(`INSERT INTO storage_totals (owner_kind, owner_id, bytes_stored, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT (owner_kind, owner_id) DO NOTHING`)
	if _, err := q.ExecContext(ctx, query, string(owner.Kind), owner.ID, now, now); err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	return nil
}

func findSnapshot(ctx context.Context, q sqlx.ExtContext, owner stacc.Owner, lock string) (*stacc.Snapshot, error) {
	var row snapshotRow
	query := q.Rebind(`SELECT ` + snapshotColumns + ` FROM storage_totals
		WHERE owner_kind = ? AND owner_id = ?` + lock)
	err := sqlx.GetContext(ctx, q, &row, query, string(owner.Kind), owner.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	return row.toSnapshot(), nil
}

// snapshotTx scopes ledger reads and the snapshot update to one owner
// inside the locking transaction.
type snapshotTx struct {
	tx    *sqlx.Tx
	owner stacc.Owner
}

func (t *snapshotTx) MaxEntryID(ctx context.Context) (string, error) {
	return maxEntryID(ctx, t.tx, t.owner)
}

func (t *snapshotTx) SumDeltas(ctx context.Context, afterID, upToID string) (int64, error) {
	return sumDeltas(ctx, t.tx, t.owner, afterID, upToID)
}

func (t *snapshotTx) SaveSnapshot(ctx context.Context, bytesStored int64, lastEntryID string) error {
	query := t.tx.Rebind(`UPDATE storage_totals SET bytes_stored = ?, last_entry_id = ?, updated_at = ?
		WHERE owner_kind = ? AND owner_id = ?`)
	_, err := t.tx.ExecContext(ctx, query, bytesStored, nullString(lastEntryID), time.Now().UTC(),
		string(t.owner.Kind), t.owner.ID)
	if err != nil {
		return fmt.Errorf("updating snapshot: %w", err)
	}
	return nil
}
