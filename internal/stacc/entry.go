package stacc

import (
	"fmt"
	"time"
)

// Operation records why a ledger entry was written.
type Operation string

const (
	OpAttach      Operation = "attach"
	OpDetach      Operation = "detach"
	OpTransferIn  Operation = "transfer_in"
	OpTransferOut Operation = "transfer_out"
	OpReconcile   Operation = "reconcile"
)

func (op Operation) Validate() error {
	switch op {
	case OpAttach, OpDetach, OpTransferIn, OpTransferOut, OpReconcile:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidOperation, op)
}

// Audit identifies who caused a ledger change. Both fields are optional.
type Audit struct {
	ActorID   string
	RequestID string
}

// Entry is one immutable signed change to stored bytes.
//
// IDs are time-ordered (UUIDv7) strings: comparing two IDs lexically gives
// their creation order, which is what snapshot cursors rely on.
type Entry struct {
	ID          string
	TenantID    string
	ContainerID string
	Recordable  RecordRef
	BlobID      string
	Delta       int64
	Operation   Operation
	ActorID     string
	RequestID   string
	CreatedAt   time.Time
}

// Owners returns the owners whose usage this entry counts toward.
func (e *Entry) Owners() []Owner {
	owners := []Owner{TenantOwner(e.TenantID)}
	if e.ContainerID != "" {
		owners = append(owners, ContainerOwner(e.ContainerID))
	}
	return owners
}

// AppendParams describes a ledger entry to append.
type AppendParams struct {
	TenantID    string
	ContainerID string
	Recordable  RecordRef
	BlobID      string
	Delta       int64
	Operation   Operation
	Audit       Audit
}

func (p AppendParams) validate() error {
	if p.TenantID == "" {
		return ErrMissingTenant
	}
	if err := p.Operation.Validate(); err != nil {
		return err
	}
	if !p.Recordable.IsZero() {
		if err := p.Recordable.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SumDeltas adds up the deltas of the given entries.
func SumDeltas(entries []*Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Delta
	}
	return total
}
