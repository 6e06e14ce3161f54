package stacc

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// tenantFanout bounds how many containers are measured at once.
const tenantFanout = 4

// ReconcileResult describes one reconciliation run. A tenant run carries the
// results of its containers, which are reconciled first.
type ReconcileResult struct {
	Owner       Owner              `json:"owner"`
	Cursor      string             `json:"cursor,omitempty"`
	RealBytes   int64              `json:"real_bytes"`
	LedgerBytes int64              `json:"ledger_bytes"`
	Diff        int64              `json:"diff"`
	Entry       *Entry             `json:"-"`
	Containers  []*ReconcileResult `json:"containers,omitempty"`
}

// Reconcile compares the ledger with the bytes actually attached and, when
// they differ, appends a reconcile entry for the difference.
//
// Reconciling a tenant reconciles each of its containers first, one at a
// time, so drift inside a container is corrected on the container and the
// tenant only corrects what remains. Runs within one tenant are serialized.
func (s *StaccService) Reconcile(ctx context.Context, owner Owner) (*ReconcileResult, error) {
	info, err := s.resolveOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	unlock := s.reconcileLocks.lock(info.TenantID)
	defer unlock()

	if owner.Kind == OwnerContainer {
		return s.reconcileOwner(ctx, owner, info.TenantID)
	}

	containers, err := s.catalog.ContainerIDs(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("listing containers of %s: %w", owner, err)
	}
	results := make([]*ReconcileResult, 0, len(containers))
	for _, id := range containers {
		r, err := s.reconcileOwner(ctx, ContainerOwner(id), info.TenantID)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	result, err := s.reconcileOwner(ctx, owner, info.TenantID)
	if err != nil {
		return nil, err
	}
	result.Containers = results
	return result, nil
}

// reconcileOwner corrects a single owner. The ledger cursor is captured
// before measuring. Entries appended while measuring have ids above the
// cursor, so they are excluded from the ledger side and not double counted
// by the correction.
func (s *StaccService) reconcileOwner(ctx context.Context, owner Owner, tenantID string) (*ReconcileResult, error) {
	cursor, err := s.database.MaxEntryID(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("capturing ledger cursor for %s: %w", owner, err)
	}

	actual, err := s.realBytes(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("measuring %s: %w", owner, err)
	}

	var ledger int64
	if cursor != "" {
		ledger, err = s.database.SumDeltas(ctx, owner, "", cursor)
		if err != nil {
			return nil, fmt.Errorf("summing ledger for %s: %w", owner, err)
		}
	}

	result := &ReconcileResult{
		Owner:       owner,
		Cursor:      cursor,
		RealBytes:   actual,
		LedgerBytes: ledger,
		Diff:        actual - ledger,
	}
	if result.Diff == 0 {
		return result, nil
	}

	p := AppendParams{
		TenantID:  tenantID,
		Delta:     result.Diff,
		Operation: OpReconcile,
	}
	if owner.Kind == OwnerContainer {
		p.ContainerID = owner.ID
	}
	result.Entry, err = s.Append(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("appending reconcile entry for %s: %w", owner, err)
	}

	s.logger.Warn("storage ledger drift corrected", "owner", owner.String(),
		"real", actual, "ledger", ledger, "diff", result.Diff)
	return result, nil
}

// ScheduleReconcileAll queues reconciliation for every tenant. Each tenant
// task reconciles the tenant's containers before the tenant.
func (s *StaccService) ScheduleReconcileAll(ctx context.Context) error {
	tenants, err := s.catalog.TenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	for _, tenantID := range tenants {
		s.scheduler.ScheduleReconcile(TenantOwner(tenantID))
	}
	s.logger.Info("reconciliation scheduled", "tenants", len(tenants))
	return nil
}

// keyedLocks hands out one mutex per key and forgets it once unused.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (l *keyedLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*keyedLock)
	}
	k, ok := l.locks[key]
	if !ok {
		k = &keyedLock{}
		l.locks[key] = k
	}
	k.refs++
	l.mu.Unlock()

	k.Lock()
	return func() {
		k.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (s *StaccService) realBytes(ctx context.Context, owner Owner) (int64, error) {
	if owner.Kind == OwnerContainer {
		return s.containerBytes(ctx, owner.ID)
	}

	containers, err := s.catalog.ContainerIDs(ctx, owner.ID)
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}

	sizes := make([]int64, len(containers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tenantFanout)
	for i, id := range containers {
		g.Go(func() error {
			n, err := s.containerBytes(gctx, id)
			if err != nil {
				return fmt.Errorf("container %s: %w", id, err)
			}
			sizes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, n := range sizes {
		total += n
	}
	return total, nil
}

// containerBytes walks every record kind in the container in batches,
// adding the blobs attached directly to the records and to their rich text.
func (s *StaccService) containerBytes(ctx context.Context, containerID string) (int64, error) {
	var total int64
	for _, kind := range RecordKinds {
		ids, err := s.catalog.RecordIDs(ctx, containerID, kind)
		if err != nil {
			return 0, fmt.Errorf("listing %s records: %w", kind, err)
		}
		for start := 0; start < len(ids); start += s.batchSize {
			end := min(start+s.batchSize, len(ids))
			n, err := s.batchBytes(ctx, kind, ids[start:end])
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	return total, nil
}

func (s *StaccService) batchBytes(ctx context.Context, kind RecordKind, ids []string) (int64, error) {
	blobIDs, err := s.catalog.AttachedBlobIDs(ctx, AttachableKind(kind), ids)
	if err != nil {
		return 0, fmt.Errorf("listing %s attachments: %w", kind, err)
	}

	richTexts, err := s.catalog.RichTextIDs(ctx, kind, ids)
	if err != nil {
		return 0, fmt.Errorf("listing %s rich text: %w", kind, err)
	}
	if len(richTexts) > 0 {
		embeds, err := s.catalog.AttachedBlobIDs(ctx, AttachableRichText, richTexts)
		if err != nil {
			return 0, fmt.Errorf("listing %s embeds: %w", kind, err)
		}
		blobIDs = append(blobIDs, embeds...)
	}
	return s.blobBytes(ctx, blobIDs)
}
