package stacc_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"stacc-go/internal/stacc"
	"stacc-go/internal/testutil"
)

// probeCatalog records the batches reconciliation asks for and can run a
// hook the first time record ids are listed.
type probeCatalog struct {
	stacc.Catalog

	mu        sync.Mutex
	batches   map[stacc.AttachableKind][]int
	onListing func()
}

func (c *probeCatalog) RecordIDs(ctx context.Context, containerID string, kind stacc.RecordKind) ([]string, error) {
	c.mu.Lock()
	hook := c.onListing
	c.onListing = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.Catalog.RecordIDs(ctx, containerID, kind)
}

func (c *probeCatalog) AttachedBlobIDs(ctx context.Context, kind stacc.AttachableKind, ids []string) ([]string, error) {
	c.mu.Lock()
	if c.batches == nil {
		c.batches = make(map[stacc.AttachableKind][]int)
	}
	c.batches[kind] = append(c.batches[kind], len(ids))
	c.mu.Unlock()
	return c.Catalog.AttachedBlobIDs(ctx, kind, ids)
}

func newProbedService(ts *testutil.TestService, cat *probeCatalog, blobs stacc.BlobStore) *stacc.StaccService {
	cat.Catalog = ts.DB
	if blobs == nil {
		blobs = ts.DB
	}
	return stacc.NewStaccService(ts.DB, cat, blobs, ts.Scheduler, stacc.NewNopLogger(), ts.Clock, testutil.NewPrefixedIDGenerator("fix"))
}

func TestStaccService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("no drift writes nothing", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, container, card := seed(t, ts)
		attach(t, ts, "a1", stacc.AttachableFor(card), 100)
		last := attach(t, ts, "a2", ts.Fixture.RichText("rt-1", card), 25)

		for _, owner := range []stacc.Owner{container, tenant} {
			result, err := ts.Reconcile(ctx, owner)
			if err != nil {
				t.Fatalf("Reconcile(%s) error = %v", owner, err)
			}
			if result.Diff != 0 || result.Entry != nil {
				t.Errorf("Reconcile(%s) = %+v, want no drift", owner, result)
			}
			if result.RealBytes != 125 || result.LedgerBytes != 125 {
				t.Errorf("Reconcile(%s) real/ledger = %d/%d, want 125/125", owner, result.RealBytes, result.LedgerBytes)
			}
			if result.Cursor != last.ID {
				t.Errorf("Cursor = %q, want %q", result.Cursor, last.ID)
			}
		}
	})

	t.Run("corrects untracked bytes", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, container, card := seed(t, ts)
		blob := ts.Fixture.Blob("legacy", 400)
		ts.Fixture.Attachment("legacy-att", stacc.AttachableFor(card), blob.ID)

		result, err := ts.Reconcile(ctx, container)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if result.Diff != 400 || result.Entry == nil {
			t.Fatalf("Reconcile() = %+v, want +400 correction", result)
		}
		e := result.Entry
		if e.Operation != stacc.OpReconcile || e.ContainerID != "c1" || e.TenantID != "t1" || !e.Recordable.IsZero() {
			t.Errorf("reconcile entry = %+v", e)
		}

		// The container entry already counts toward the tenant.
		result, err = ts.Reconcile(ctx, tenant)
		if err != nil {
			t.Fatalf("Reconcile(tenant) error = %v", err)
		}
		if result.Diff != 0 {
			t.Errorf("tenant Diff = %d, want 0", result.Diff)
		}

		again, err := ts.Reconcile(ctx, container)
		if err != nil {
			t.Fatalf("second Reconcile() error = %v", err)
		}
		if again.Diff != 0 || again.Entry != nil {
			t.Errorf("second Reconcile() = %+v, want no drift", again)
		}
	})

	t.Run("tenant corrects container drift on the container first", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, container, card := seed(t, ts)
		attach(t, ts, "a1", stacc.AttachableFor(card), 100)
		if _, err := ts.DB.DB().Exec(`DELETE FROM attachments WHERE id = 'a1'`); err != nil {
			t.Fatalf("deleting attachment: %v", err)
		}

		result, err := ts.Reconcile(ctx, tenant)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if len(result.Containers) != 1 {
			t.Fatalf("Containers = %v, want one result", result.Containers)
		}
		inner := result.Containers[0]
		if inner.Owner != container || inner.Diff != -100 || inner.Entry.ContainerID != "c1" {
			t.Errorf("container result = %+v, want -100 on c1", inner)
		}
		if result.Diff != 0 || result.Entry != nil {
			t.Errorf("tenant result = %+v, want no drift left", result)
		}

		materialize(t, ts, tenant, container)
		if got := bytesUsed(t, ts, tenant); got != 0 {
			t.Errorf("tenant BytesUsed = %d, want 0", got)
		}
		if got := bytesUsed(t, ts, container); got != 0 {
			t.Errorf("container BytesUsed = %d, want 0", got)
		}
	})

	t.Run("tenant correction carries no container", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, _, card := seed(t, ts)
		attach(t, ts, "a1", stacc.AttachableFor(card), 100)
		// Tenant-only bytes that no container accounts for.
		if err := ts.DB.InsertEntry(ctx, &stacc.Entry{
			ID: "entry-999999", TenantID: "t1", Delta: 30, Operation: stacc.OpAttach, CreatedAt: ts.Clock.Now(),
		}); err != nil {
			t.Fatalf("InsertEntry() error = %v", err)
		}

		result, err := ts.Reconcile(ctx, tenant)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if result.Diff != -30 {
			t.Fatalf("Diff = %d, want -30", result.Diff)
		}
		if result.Entry.ContainerID != "" {
			t.Errorf("tenant correction ContainerID = %q, want empty", result.Entry.ContainerID)
		}
		materialize(t, ts, tenant)
		if got := bytesUsed(t, ts, tenant); got != 100 {
			t.Errorf("tenant BytesUsed = %d, want 100", got)
		}
	})

	t.Run("sums every container of a tenant", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, _, card := seed(t, ts)
		ts.Fixture.Container("c2", "t1")
		ts.Fixture.Container("c3", "t1")
		card2 := ts.Fixture.Card("card-2", "t1", "c2")
		blobs := []*stacc.Blob{ts.Fixture.Blob("b1", 1), ts.Fixture.Blob("b2", 2), ts.Fixture.Blob("b3", 4)}
		ts.Fixture.Attachment("x1", stacc.AttachableFor(card), blobs[0].ID)
		ts.Fixture.Attachment("x2", stacc.AttachableFor(card2), blobs[1].ID)
		ts.Fixture.Attachment("x3", stacc.Attachable{Kind: stacc.AttachableContainer, ID: "c3"}, blobs[2].ID)

		result, err := ts.Reconcile(ctx, tenant)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if result.RealBytes != 7 || result.LedgerBytes != 7 || result.Diff != 0 {
			t.Errorf("Reconcile() = %+v, want real 7 ledger 7 diff 0", result)
		}
		var corrected int64
		for _, r := range result.Containers {
			corrected += r.Diff
		}
		if len(result.Containers) != 3 || corrected != 7 {
			t.Errorf("container corrections = %d over %d containers, want 7 over 3", corrected, len(result.Containers))
		}
		if got := ledgerSum(t, ts, tenant); got != 7 {
			t.Errorf("tenant ledger = %d, want 7", got)
		}
	})

	t.Run("container run waits for its tenant's run", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, container, card := seed(t, ts)
		attach(t, ts, "a1", stacc.AttachableFor(card), 100)
		blob := ts.Fixture.Blob("untracked", 50)
		ts.Fixture.Attachment("untracked-att", stacc.AttachableFor(card), blob.ID)

		cat := &probeCatalog{}
		svc := newProbedService(ts, cat, nil)
		done := make(chan error, 1)
		cat.onListing = func() {
			go func() {
				_, err := svc.Reconcile(ctx, container)
				done <- err
			}()
		}

		result, err := svc.Reconcile(ctx, tenant)
		if err != nil {
			t.Fatalf("Reconcile(tenant) error = %v", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("Reconcile(container) error = %v", err)
		}
		if result.Diff != 0 || result.Containers[0].Diff != 50 {
			t.Errorf("tenant diff = %d, container diff = %d, want 0 and 50", result.Diff, result.Containers[0].Diff)
		}
		for _, owner := range []stacc.Owner{tenant, container} {
			if got := bytesUsedExact(t, ts, owner); got != 150 {
				t.Errorf("BytesUsedExact(%s) = %d, want 150", owner, got)
			}
		}
	})

	t.Run("entries appended while measuring are not corrected", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		_, container, card := seed(t, ts)
		first := attach(t, ts, "a1", stacc.AttachableFor(card), 50)

		cat := &probeCatalog{}
		cat.onListing = func() {
			// Lands after the cursor was captured.
			err := ts.DB.InsertEntry(ctx, &stacc.Entry{
				ID: "entry-999999", TenantID: "t1", ContainerID: "c1",
				Delta: 75, Operation: stacc.OpAttach, CreatedAt: ts.Clock.Now(),
			})
			if err != nil {
				t.Errorf("InsertEntry() error = %v", err)
			}
		}
		svc := newProbedService(ts, cat, nil)

		result, err := svc.Reconcile(ctx, container)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if result.Cursor != first.ID {
			t.Errorf("Cursor = %q, want %q", result.Cursor, first.ID)
		}
		if result.LedgerBytes != 50 || result.Diff != 0 || result.Entry != nil {
			t.Errorf("Reconcile() = %+v, want ledger 50 and no correction", result)
		}
	})

	t.Run("measures records in batches", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		_, container, _ := seed(t, ts)
		for i := 2; i <= 5; i++ {
			ts.Fixture.Card(fmt.Sprintf("card-%d", i), "t1", "c1")
		}

		cat := &probeCatalog{}
		svc := newProbedService(ts, cat, nil)
		svc.SetBatchSize(2)

		if _, err := svc.Reconcile(ctx, container); err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		cards := cat.batches[stacc.AttachableCard]
		if len(cards) != 3 {
			t.Fatalf("card batches = %v, want 3 batches", cards)
		}
		for _, n := range cards {
			if n > 2 {
				t.Errorf("batch of %d ids exceeds batch size 2", n)
			}
		}
	})

	t.Run("blob store failure", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		_, container, card := seed(t, ts)
		blob := ts.Fixture.Blob("b1", 10)
		ts.Fixture.Attachment("x1", stacc.AttachableFor(card), blob.ID)

		svc := newProbedService(ts, &probeCatalog{}, testutil.FailingBlobStore{})
		if _, err := svc.Reconcile(ctx, container); !errors.Is(err, testutil.ErrBlobStoreDown) {
			t.Errorf("Reconcile() error = %v, want ErrBlobStoreDown", err)
		}
	})

	t.Run("unknown owner", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		if _, err := ts.Reconcile(ctx, stacc.TenantOwner("ghost")); !errors.Is(err, stacc.ErrOwnerNotFound) {
			t.Errorf("Reconcile() error = %v, want ErrOwnerNotFound", err)
		}
	})
}
