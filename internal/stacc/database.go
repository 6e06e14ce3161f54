package stacc

import "context"

// Database persists the ledger and the per-owner snapshots.
// Lookups that find nothing return (nil, nil) rather than an error.
type Database interface {
	// AppendEntry sets entry.ID from newID and stores the entry in one write
	// transaction holding the ledger's append lock, so entries commit in id
	// order and a cursor never passes an entry that is still uncommitted.
	AppendEntry(ctx context.Context, entry *Entry, newID func() string) error

	// MaxEntryID returns the greatest entry id counting toward owner,
	// or "" when the owner has no entries.
	MaxEntryID(ctx context.Context, owner Owner) (string, error)

	// SumDeltas sums deltas for owner over entries with afterID < id <= upToID.
	// An empty afterID means no lower bound; an empty upToID means no upper bound.
	SumDeltas(ctx context.Context, owner Owner, afterID, upToID string) (int64, error)

	// ListEntries returns entries for owner with id > afterID in id order.
	// limit <= 0 returns all of them.
	ListEntries(ctx context.Context, owner Owner, afterID string, limit int) ([]*Entry, error)

	// CountEntries counts entries for owner with id > afterID.
	CountEntries(ctx context.Context, owner Owner, afterID string) (int, error)

	// ScanEntries returns entries across all owners with id > afterID in id order.
	ScanEntries(ctx context.Context, afterID string, limit int) ([]*Entry, error)

	// EntryExistsForBlob reports whether any entry references blobID.
	EntryExistsForBlob(ctx context.Context, blobID string) (bool, error)

	// FindSnapshot returns the owner's snapshot, or nil if none exists.
	FindSnapshot(ctx context.Context, owner Owner) (*Snapshot, error)

	// FindOrCreateSnapshot returns the owner's snapshot, creating an empty one if needed.
	FindOrCreateSnapshot(ctx context.Context, owner Owner) (*Snapshot, error)

	// WithSnapshotLock creates the owner's snapshot if absent, locks its row for
	// the duration of fn, and commits when fn returns nil. Concurrent callers
	// for the same owner are serialized.
	WithSnapshotLock(ctx context.Context, owner Owner, fn func(tx SnapshotTx, snap *Snapshot) error) error

	// DeleteSnapshot removes the owner's snapshot. Missing snapshots are not an error.
	DeleteSnapshot(ctx context.Context, owner Owner) error

	Close() error
}

// SnapshotTx is the view of the database available while a snapshot row is
// locked. Every call runs inside the locking transaction.
type SnapshotTx interface {
	MaxEntryID(ctx context.Context) (string, error)
	SumDeltas(ctx context.Context, afterID, upToID string) (int64, error)
	SaveSnapshot(ctx context.Context, bytesStored int64, lastEntryID string) error
}
