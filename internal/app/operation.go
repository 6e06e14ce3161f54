package app

import (
	"github.com/google/uuid"

	"stacc-go/internal/stacc"
)

// Operation is one CLI invocation. Its ID is the request id stamped on every
// ledger entry the invocation appends, and on every log line it writes.
type Operation struct {
	ID      string
	Name    string
	ActorID string
	Status  string // "success" or "error"
}

func NewOperation(name, actorID string) *Operation {
	return &Operation{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Name:    name,
		ActorID: actorID,
		Status:  "success",
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Audit returns the audit context for entries appended by this operation.
func (op *Operation) Audit() stacc.Audit {
	return stacc.Audit{ActorID: op.ActorID, RequestID: op.ID}
}
