package jobs

import (
	"context"
	"sync"
)

// workQ schedules work by key. Enqueue requests for a key that is already
// pending are coalesced, and only one in-progress job per key is handed out.
// A key enqueued while it is in progress becomes pending again and is handed
// out once the running job calls done.
type workQ[K comparable] struct {
	ctx context.Context

	cond       *sync.Cond
	pending    []K
	inProgress map[K]bool
}

func newWorkQ[K comparable](ctx context.Context) *workQ[K] {
	q := &workQ[K]{
		ctx:        ctx,
		cond:       sync.NewCond(&sync.Mutex{}),
		inProgress: make(map[K]bool),
	}
	// wake up all waiting workers when context is done
	context.AfterFunc(ctx, q.broadcast)
	return q
}

func (q *workQ[K]) broadcast() {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	q.cond.Broadcast()
}

// enqueue adds the key unless it is already pending. Reports whether the key was added.
func (q *workQ[K]) enqueue(key K) bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for _, k := range q.pending {
		if k == key {
			return false
		}
	}
	q.pending = append(q.pending, key)
	q.cond.Broadcast()
	return true
}

// acquire blocks until a key is available and marks it in progress. The
// caller MUST call done with the same key. An error is returned once the
// queue context is canceled.
func (q *workQ[K]) acquire() (key K, err error) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for !q.workAvailable() && q.ctx.Err() == nil {
		q.cond.Wait()
	}
	if q.ctx.Err() != nil {
		return key, q.ctx.Err()
	}
	for i, k := range q.pending {
		if !q.inProgress[k] {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.inProgress[k] = true
			return k, nil
		}
	}
	panic("woke with no work available")
}

// workAvailable must be called while holding q.cond.L.
func (q *workQ[K]) workAvailable() bool {
	for _, k := range q.pending {
		if !q.inProgress[k] {
			return true
		}
	}
	return false
}

// done marks the key completed.
func (q *workQ[K]) done(key K) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	delete(q.inProgress, key)
	q.cond.Broadcast()
}

func (q *workQ[K]) pendingLen() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.pending)
}

// waitIdle blocks until nothing is pending or in progress, or ctx is done.
func (q *workQ[K]) waitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, q.broadcast)
	defer stop()

	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for len(q.pending) > 0 || len(q.inProgress) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}
