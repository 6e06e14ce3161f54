package testutil

import (
	"path/filepath"
	"testing"

	"stacc-go/internal/database"
	"stacc-go/internal/stacc"
)

// TestService bundles a StaccService with the fakes it was built from.
type TestService struct {
	*stacc.StaccService
	DB        *database.SQLDatabase
	Scheduler *RecordingScheduler
	Clock     *StubClock
	Fixture   *Fixture
}

// NewTestService wires a StaccService to a fresh in-memory database that
// also serves blob sizes, with a recording scheduler and stub clock and ids.
func NewTestService(t *testing.T) *TestService {
	t.Helper()

	db := NewTestDatabase(t)
	sched := NewRecordingScheduler()
	clock := FixedClock()
	svc := stacc.NewStaccService(db, db, db, sched, stacc.NewNopLogger(), clock, NewPrefixedIDGenerator("entry"))

	return &TestService{
		StaccService: svc,
		DB:           db,
		Scheduler:    sched,
		Clock:        clock,
		Fixture:      NewFixture(t, db),
	}
}

// NewFileTestService is NewTestService on a SQLite file in a temp dir, with
// the real clock and UUIDv7 ids. Unlike :memory:, the file database hands
// out several connections, so concurrent callers contend for its locks.
func NewFileTestService(t *testing.T) *TestService {
	t.Helper()

	db, err := database.NewSQLiteDatabase(filepath.Join(t.TempDir(), "stacc.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	sched := NewRecordingScheduler()
	svc := stacc.NewStaccService(db, db, db, sched, stacc.NewNopLogger(), stacc.RealClock{}, stacc.UUIDv7Generator{})
	return &TestService{
		StaccService: svc,
		DB:           db,
		Scheduler:    sched,
		Clock:        FixedClock(),
		Fixture:      NewFixture(t, db),
	}
}
