package testutil

import (
	"sync"

	"stacc-go/internal/stacc"
)

// RecordingScheduler remembers every request instead of running it.
type RecordingScheduler struct {
	mu          sync.Mutex
	materialize []stacc.Owner
	reconcile   []stacc.Owner
}

func NewRecordingScheduler() *RecordingScheduler {
	return &RecordingScheduler{}
}

func (s *RecordingScheduler) ScheduleMaterialize(owner stacc.Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materialize = append(s.materialize, owner)
}

func (s *RecordingScheduler) ScheduleReconcile(owner stacc.Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcile = append(s.reconcile, owner)
}

// Materialized returns the owners materialization was requested for, in order.
func (s *RecordingScheduler) Materialized() []stacc.Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stacc.Owner(nil), s.materialize...)
}

// Reconciled returns the owners reconciliation was requested for, in order.
func (s *RecordingScheduler) Reconciled() []stacc.Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stacc.Owner(nil), s.reconcile...)
}

// Reset forgets all recorded requests.
func (s *RecordingScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materialize = nil
	s.reconcile = nil
}
