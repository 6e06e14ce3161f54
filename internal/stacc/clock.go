package stacc

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces entry ids. Ids from one generator must sort lexically
// in creation order.
type IDGenerator interface {
	New() string
}

// UUIDv7Generator produces time-ordered UUIDs.
type UUIDv7Generator struct{}

func (UUIDv7Generator) New() string { return uuid.Must(uuid.NewV7()).String() }
