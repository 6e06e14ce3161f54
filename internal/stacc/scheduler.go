package stacc

// Scheduler queues background work for an owner. Implementations coalesce
// duplicate requests and never run two tasks of the same kind for one owner
// at once.
type Scheduler interface {
	ScheduleMaterialize(owner Owner)
	ScheduleReconcile(owner Owner)
}

// NopScheduler drops every request. Use it for one-shot tools that
// materialize explicitly.
type NopScheduler struct{}

func (NopScheduler) ScheduleMaterialize(Owner) {}
func (NopScheduler) ScheduleReconcile(Owner)   {}
