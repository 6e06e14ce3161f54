package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"stacc-go/internal/stacc"
)

// ReconcileAller enqueues reconciliation for every tenant.
type ReconcileAller interface {
	ScheduleReconcileAll(ctx context.Context) error
}

// Schedule triggers a full reconciliation pass on a cron expression.
type Schedule struct {
	cron   *cron.Cron
	target ReconcileAller
	logger stacc.Logger
}

// NewSchedule parses expr (standard five-field cron or a descriptor like
// "@daily") and binds it to target.
func NewSchedule(ctx context.Context, expr string, target ReconcileAller, logger stacc.Logger) (*Schedule, error) {
	if logger == nil {
		logger = stacc.NewNopLogger()
	}
	s := &Schedule{cron: cron.New(), target: target, logger: logger}
	if _, err := s.cron.AddFunc(expr, func() { s.trigger(ctx) }); err != nil {
		return nil, fmt.Errorf("parsing reconcile schedule %q: %w", expr, err)
	}
	return s, nil
}

func (s *Schedule) trigger(ctx context.Context) {
	s.logger.Info("scheduled reconciliation starting")
	if err := s.target.ScheduleReconcileAll(ctx); err != nil {
		s.logger.Error("scheduled reconciliation failed", "error", err)
	}
}

func (s *Schedule) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running trigger to finish.
func (s *Schedule) Stop() {
	<-s.cron.Stop().Done()
}
