package stacc

import "time"

// Snapshot is the materialized usage of one owner. BytesStored is the sum of
// every entry for the owner with id <= LastEntryID. An empty LastEntryID
// means nothing has been folded in yet.
type Snapshot struct {
	Owner       Owner
	BytesStored int64
	LastEntryID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CurrentUsage returns the exact usage given the sum of the pending deltas.
func (s *Snapshot) CurrentUsage(pendingSum int64) int64 {
	return s.BytesStored + pendingSum
}

// UsageReport summarizes an owner's usage for display.
type UsageReport struct {
	Owner        Owner  `json:"owner"`
	BytesUsed    int64  `json:"bytes_used"`
	Exact        *int64 `json:"bytes_used_exact,omitempty"`
	PendingCount int    `json:"pending_entries"`
	LastEntryID  string `json:"last_entry_id,omitempty"`
}
