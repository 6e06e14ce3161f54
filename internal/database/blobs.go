package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stacc-go/internal/stacc"
)

type blobRow struct {
	ID          string    `db:"id"`
	Key         string    `db:"storage_key"`
	ByteSize    int64     `db:"byte_size"`
	ContentType string    `db:"content_type"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *SQLDatabase) CreateBlob(ctx context.Context, blob *stacc.Blob) error {
	if blob.Key == "" {
		blob.Key = blob.ID
	}
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`INSERT INTO blobs (id, storage_key, byte_size, content_type, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, blob.ID, blob.Key, blob.ByteSize, blob.ContentType, blob.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting blob: %w", err)
	}
	return nil
}

func (s *SQLDatabase) FindBlob(ctx context.Context, id string) (*stacc.Blob, error) {
	var row blobRow
	query := s.db.Rebind(`SELECT id, storage_key, byte_size, content_type, created_at FROM blobs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding blob: %w", err)
	}
	return &stacc.Blob{ID: row.ID, Key: row.Key, ByteSize: row.ByteSize, ContentType: row.ContentType, CreatedAt: row.CreatedAt}, nil
}

// ByteSizes reads sizes recorded in the blobs table.
func (s *SQLDatabase) ByteSizes(ctx context.Context, blobIDs []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(blobIDs))
	for _, chunk := range chunks(blobIDs, maxParams) {
		query, args, err := in(s.db, `SELECT id, byte_size FROM blobs WHERE id IN (?)`, chunk)
		if err != nil {
			return nil, err
		}
		var rows []struct {
			ID       string `db:"id"`
			ByteSize int64  `db:"byte_size"`
		}
		if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return nil, fmt.Errorf("reading blob sizes: %w", err)
		}
		for _, r := range rows {
			sizes[r.ID] = r.ByteSize
		}
	}
	return sizes, nil
}
