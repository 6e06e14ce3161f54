// Package export writes the storage ledger as age-encrypted JSON lines.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"filippo.io/age"

	"stacc-go/internal/stacc"
)

const DefaultPageSize = 1000

// EntrySource pages through the ledger in id order.
type EntrySource interface {
	ScanEntries(ctx context.Context, afterID string, limit int) ([]*stacc.Entry, error)
}

// Record is one exported ledger line.
type Record struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ContainerID string    `json:"container_id,omitempty"`
	Recordable  string    `json:"recordable,omitempty"`
	BlobID      string    `json:"blob_id,omitempty"`
	Delta       int64     `json:"delta"`
	Operation   string    `json:"operation"`
	ActorID     string    `json:"actor_id,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func recordFor(e *stacc.Entry) Record {
	r := Record{
		ID:          e.ID,
		TenantID:    e.TenantID,
		ContainerID: e.ContainerID,
		BlobID:      e.BlobID,
		Delta:       e.Delta,
		Operation:   string(e.Operation),
		ActorID:     e.ActorID,
		RequestID:   e.RequestID,
		CreatedAt:   e.CreatedAt,
	}
	if !e.Recordable.IsZero() {
		r.Recordable = e.Recordable.String()
	}
	return r
}

// Result summarizes a finished export.
type Result struct {
	Entries     int
	LastEntryID string
}

// Export streams every ledger entry to w, encrypted to recipients.
// Entries appended while the export runs are included if their ids sort
// after the page being read.
func Export(ctx context.Context, w io.Writer, src EntrySource, recipients []age.Recipient, pageSize int) (*Result, error) {
	if len(recipients) == 0 {
		return nil, errors.New("export requires at least one recipient")
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	encWriter, err := age.Encrypt(w, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}

	buf := bufio.NewWriter(encWriter)
	enc := json.NewEncoder(buf)
	result := &Result{}

	for {
		page, err := src.ScanEntries(ctx, result.LastEntryID, pageSize)
		if err != nil {
			return nil, fmt.Errorf("reading entries after %q: %w", result.LastEntryID, err)
		}
		for _, e := range page {
			if err := enc.Encode(recordFor(e)); err != nil {
				return nil, fmt.Errorf("encoding entry %s: %w", e.ID, err)
			}
			result.LastEntryID = e.ID
			result.Entries++
		}
		if len(page) < pageSize {
			break
		}
	}

	if err := buf.Flush(); err != nil {
		return nil, fmt.Errorf("flushing export: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return result, nil
}

// Read decrypts an export and calls fn for each record in order.
func Read(r io.Reader, identities []age.Identity, fn func(Record) error) error {
	decReader, err := age.Decrypt(r, identities...)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}

	dec := json.NewDecoder(decReader)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding export: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
