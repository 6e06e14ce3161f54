package stacc

import "context"

// RequestMaterialize queues a materialization for an existing owner.
func (s *StaccService) RequestMaterialize(ctx context.Context, owner Owner) error {
	if _, err := s.resolveOwner(ctx, owner); err != nil {
		return err
	}
	s.scheduler.ScheduleMaterialize(owner)
	return nil
}

// RequestReconcile queues a reconciliation for an existing owner.
func (s *StaccService) RequestReconcile(ctx context.Context, owner Owner) error {
	if _, err := s.resolveOwner(ctx, owner); err != nil {
		return err
	}
	s.scheduler.ScheduleReconcile(owner)
	return nil
}
