package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"stacc-go/internal/stacc"
)

type TaskKind string

const (
	KindMaterialize TaskKind = "materialize"
	KindReconcile   TaskKind = "reconcile"
)

// Task is the queue key. Two tasks are the same job when kind and owner match.
type Task struct {
	Kind  TaskKind
	Owner stacc.Owner
}

func (t Task) String() string {
	return fmt.Sprintf("%s %s", t.Kind, t.Owner)
}

// Runner executes tasks. *stacc.StaccService satisfies it.
type Runner interface {
	Materialize(ctx context.Context, owner stacc.Owner) error
	Reconcile(ctx context.Context, owner stacc.Owner) (*stacc.ReconcileResult, error)
}

// Options configures a Queue. Zero values pick the defaults.
type Options struct {
	Workers              int
	RetryMaxElapsed      time.Duration
	RetryInitialInterval time.Duration
	Registerer           prometheus.Registerer
}

const (
	defaultWorkers         = 4
	defaultRetryMaxElapsed = time.Minute
)

// Queue runs materialize and reconcile tasks on a pool of workers. It
// implements stacc.Scheduler, so it can be handed to the service before
// Start is called; tasks enqueued early wait for the workers.
type Queue struct {
	logger  stacc.Logger
	opts    Options
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	work   *workQ[Task]

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

func NewQueue(logger stacc.Logger, opts Options) (*Queue, error) {
	if logger == nil {
		logger = stacc.NewNopLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = defaultRetryMaxElapsed
	}

	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("registering job metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		logger:  logger,
		opts:    opts,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		work:    newWorkQ[Task](ctx),
	}, nil
}

func (q *Queue) ScheduleMaterialize(owner stacc.Owner) {
	q.enqueue(Task{Kind: KindMaterialize, Owner: owner})
}

func (q *Queue) ScheduleReconcile(owner stacc.Owner) {
	q.enqueue(Task{Kind: KindReconcile, Owner: owner})
}

func (q *Queue) enqueue(task Task) {
	if q.ctx.Err() != nil {
		q.logger.Warn("queue stopped, dropping task", "task", task.String())
		return
	}
	if q.work.enqueue(task) {
		q.metrics.recordEnqueued(task.Kind)
		q.logger.Debug("task enqueued", "task", task.String())
	}
	q.metrics.setPending(q.work.pendingLen())
}

// Start launches the workers. Tasks run with ctx; canceling it or calling
// Stop ends the workers.
func (q *Queue) Start(ctx context.Context, runner Runner) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	context.AfterFunc(ctx, q.cancel)
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, runner)
	}
	q.logger.Info("job workers started", "workers", q.opts.Workers)
	return nil
}

// Drain blocks until no task is pending or running.
func (q *Queue) Drain(ctx context.Context) error {
	return q.work.waitIdle(ctx)
}

// Stop cancels the workers and waits for running tasks to return.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, runner Runner) {
	defer q.wg.Done()
	for {
		task, err := q.work.acquire()
		if err != nil {
			// context expired
			return
		}
		q.metrics.setPending(q.work.pendingLen())
		q.run(ctx, runner, task)
		q.work.done(task)
	}
}

func (q *Queue) run(ctx context.Context, runner Runner, task Task) {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = q.opts.RetryMaxElapsed
	if q.opts.RetryInitialInterval > 0 {
		eb.InitialInterval = q.opts.RetryInitialInterval
	}
	bkoff := backoff.WithContext(eb, ctx)

	err := backoff.RetryNotify(func() error {
		err := q.execute(ctx, runner, task)
		if errors.Is(err, stacc.ErrOwnerNotFound) || errors.Is(err, stacc.ErrInvalidOwner) {
			return backoff.Permanent(err)
		}
		return err
	}, bkoff, func(err error, wait time.Duration) {
		q.logger.Warn("task failed, retrying", "task", task.String(), "error", err, "wait", wait)
	})

	switch {
	case err == nil:
		q.metrics.recordCompleted(task.Kind, ResultSuccess)
	case errors.Is(err, stacc.ErrOwnerNotFound), errors.Is(err, stacc.ErrInvalidOwner):
		q.metrics.recordCompleted(task.Kind, ResultDiscarded)
		q.logger.Warn("discarding task", "task", task.String(), "error", err)
	default:
		q.metrics.recordCompleted(task.Kind, ResultFailed)
		q.logger.Error("task failed", "task", task.String(), "error", err)
	}
}

func (q *Queue) execute(ctx context.Context, runner Runner, task Task) error {
	switch task.Kind {
	case KindMaterialize:
		return runner.Materialize(ctx, task.Owner)
	case KindReconcile:
		_, err := runner.Reconcile(ctx, task.Owner)
		return err
	default:
		return backoff.Permanent(fmt.Errorf("unknown task kind %q", task.Kind))
	}
}

var _ stacc.Scheduler = (*Queue)(nil)
