package stacc_test

import (
	"context"
	"errors"
	"testing"

	"stacc-go/internal/stacc"
	"stacc-go/internal/testutil"
)

func TestStaccService_Detach(t *testing.T) {
	ctx := context.Background()

	t.Run("removes attachment and records negative entry", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, container, card := seed(t, ts)
		attach(t, ts, "a1", stacc.AttachableFor(card), 100)
		attach(t, ts, "a2", stacc.AttachableFor(card), 30)

		entry, err := ts.Detach(ctx, stacc.Audit{ActorID: "bob"}, "a1")
		if err != nil {
			t.Fatalf("Detach() error = %v", err)
		}
		if entry.Delta != -100 || entry.Operation != stacc.OpDetach || entry.BlobID != "blob-a1" {
			t.Errorf("Detach() entry = %+v", entry)
		}
		if entry.ActorID != "bob" {
			t.Errorf("ActorID = %q, want bob", entry.ActorID)
		}

		att, err := ts.DB.FindAttachment(ctx, "a1")
		if err != nil {
			t.Fatalf("FindAttachment() error = %v", err)
		}
		if att != nil {
			t.Error("attachment still exists after Detach()")
		}

		materialize(t, ts, tenant, container)
		if got := bytesUsed(t, ts, container); got != 30 {
			t.Errorf("container BytesUsed = %d, want 30", got)
		}
	})

	t.Run("unknown attachment", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		if _, err := ts.Detach(ctx, noAudit, "missing"); !errors.Is(err, stacc.ErrAttachmentNotFound) {
			t.Errorf("Detach() error = %v, want ErrAttachmentNotFound", err)
		}
	})
}

func TestStaccService_Attach_InvalidAttachable(t *testing.T) {
	ts := testutil.NewTestService(t)
	_, err := ts.Attach(context.Background(), noAudit, &stacc.Attachment{
		ID:         "a1",
		Attachable: stacc.Attachable{Kind: "tenant", ID: "t1"},
		BlobID:     "b",
	})
	if !errors.Is(err, stacc.ErrInvalidRecord) {
		t.Errorf("Attach() error = %v, want ErrInvalidRecord", err)
	}
}

func TestStaccService_ReplaceAttachment(t *testing.T) {
	ctx := context.Background()
	ts := testutil.NewTestService(t)
	_, container, card := seed(t, ts)
	attach(t, ts, "old", stacc.AttachableFor(card), 100)
	blob := ts.Fixture.Blob("blob-new", 250)

	replacement := &stacc.Attachment{ID: "new", BlobID: blob.ID}
	entries, err := ts.ReplaceAttachment(ctx, noAudit, "old", replacement)
	if err != nil {
		t.Fatalf("ReplaceAttachment() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Delta != -100 || entries[1].Delta != 250 {
		t.Fatalf("ReplaceAttachment() entries = %v", entries)
	}
	if replacement.Attachable != stacc.AttachableFor(card) || replacement.Name != "file-old" {
		t.Errorf("replacement = %+v, want attachable and name of the old attachment", replacement)
	}
	if got := ledgerSum(t, ts, container); got != 250 {
		t.Errorf("container ledger = %d, want 250", got)
	}
}

func TestStaccService_MoveRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("transfers card bytes with its comments", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, c1, card := seed(t, ts)
		c2 := ts.Fixture.Container("c2", "t1")
		comment := ts.Fixture.Comment("cm-1", card.ID)
		attach(t, ts, "a1", stacc.AttachableFor(card), 100)
		attach(t, ts, "a2", stacc.AttachableFor(comment), 30)
		materialize(t, ts, tenant, c1, c2)

		entries, err := ts.MoveRecord(ctx, noAudit, card, "c2")
		if err != nil {
			t.Fatalf("MoveRecord() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("MoveRecord() entries = %d, want 2", len(entries))
		}

		rec, err := ts.DB.FindTrackedRecord(ctx, comment)
		if err != nil {
			t.Fatalf("FindTrackedRecord() error = %v", err)
		}
		if rec.ContainerID != "c2" {
			t.Errorf("comment container = %q, want c2", rec.ContainerID)
		}

		materialize(t, ts, tenant, c1, c2)
		if got := bytesUsed(t, ts, c1); got != 0 {
			t.Errorf("c1 BytesUsed = %d, want 0", got)
		}
		if got := bytesUsed(t, ts, c2); got != 130 {
			t.Errorf("c2 BytesUsed = %d, want 130", got)
		}
		if got := bytesUsed(t, ts, tenant); got != 130 {
			t.Errorf("tenant BytesUsed = %d, want 130", got)
		}

		// A later detach is charged to the new container.
		if _, err := ts.Detach(ctx, noAudit, "a2"); err != nil {
			t.Fatalf("Detach() error = %v", err)
		}
		if got := ledgerSum(t, ts, c2); got != 100 {
			t.Errorf("c2 ledger after detach = %d, want 100", got)
		}
	})

	t.Run("rejects non-card records", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		_, _, card := seed(t, ts)
		comment := ts.Fixture.Comment("cm-1", card.ID)
		ts.Fixture.Container("c2", "t1")

		if _, err := ts.MoveRecord(ctx, noAudit, comment, "c2"); !errors.Is(err, stacc.ErrNotMovable) {
			t.Errorf("MoveRecord(comment) error = %v, want ErrNotMovable", err)
		}
	})

	t.Run("rejects another tenant's container", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		_, _, card := seed(t, ts)
		ts.Fixture.Tenant("t2")
		ts.Fixture.Container("foreign", "t2")

		if _, err := ts.MoveRecord(ctx, noAudit, card, "foreign"); !errors.Is(err, stacc.ErrNotMovable) {
			t.Errorf("MoveRecord() error = %v, want ErrNotMovable", err)
		}
	})

	t.Run("unknown target container", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		_, _, card := seed(t, ts)

		if _, err := ts.MoveRecord(ctx, noAudit, card, "nowhere"); !errors.Is(err, stacc.ErrOwnerNotFound) {
			t.Errorf("MoveRecord() error = %v, want ErrOwnerNotFound", err)
		}
	})

	t.Run("unknown card", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		seed(t, ts)

		ref := stacc.RecordRef{Kind: stacc.RecordCard, ID: "ghost"}
		if _, err := ts.MoveRecord(ctx, noAudit, ref, "c1"); !errors.Is(err, stacc.ErrRecordNotFound) {
			t.Errorf("MoveRecord() error = %v, want ErrRecordNotFound", err)
		}
	})
}

func TestStaccService_DestroyRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("detaches everything within the card", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		tenant, container, card := seed(t, ts)
		comment := ts.Fixture.Comment("cm-1", card.ID)
		rt := ts.Fixture.RichText("rt-1", card)
		attach(t, ts, "direct", stacc.AttachableFor(card), 100)
		attach(t, ts, "on-comment", stacc.AttachableFor(comment), 30)
		attach(t, ts, "embed", rt, 20)

		keep := ts.Fixture.Card("card-2", "t1", "c1")
		attach(t, ts, "kept", stacc.AttachableFor(keep), 7)

		entries, err := ts.DestroyRecord(ctx, noAudit, card)
		if err != nil {
			t.Fatalf("DestroyRecord() error = %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("DestroyRecord() entries = %d, want 3", len(entries))
		}
		if got := stacc.SumDeltas(entries); got != -150 {
			t.Errorf("sum of detach deltas = %d, want -150", got)
		}
		for _, e := range entries {
			if e.Recordable != card && e.Recordable != comment {
				t.Errorf("entry %s charged to %v", e.ID, e.Recordable)
			}
		}

		rec, err := ts.DB.FindTrackedRecord(ctx, comment)
		if err != nil {
			t.Fatalf("FindTrackedRecord() error = %v", err)
		}
		if rec != nil {
			t.Error("comment survived its card")
		}

		materialize(t, ts, tenant, container)
		if got := bytesUsed(t, ts, container); got != 7 {
			t.Errorf("container BytesUsed = %d, want 7", got)
		}
	})

	t.Run("unknown record", func(t *testing.T) {
		ts := testutil.NewTestService(t)
		ref := stacc.RecordRef{Kind: stacc.RecordComment, ID: "ghost"}
		if _, err := ts.DestroyRecord(ctx, noAudit, ref); !errors.Is(err, stacc.ErrRecordNotFound) {
			t.Errorf("DestroyRecord() error = %v, want ErrRecordNotFound", err)
		}
	})
}

func TestStaccService_DestroyContainer(t *testing.T) {
	ctx := context.Background()
	ts := testutil.NewTestService(t)
	tenant, container, card := seed(t, ts)
	other := ts.Fixture.Container("c2", "t1")
	otherCard := ts.Fixture.Card("card-2", "t1", "c2")

	attach(t, ts, "a1", stacc.AttachableFor(card), 100)
	attach(t, ts, "a2", ts.Fixture.RichText("rt-c1", stacc.RecordRef{Kind: stacc.RecordContainer, ID: "c1"}), 10)
	attach(t, ts, "a3", stacc.AttachableFor(otherCard), 5)
	materialize(t, ts, tenant, container, other)
	ts.Scheduler.Reset()

	entries, err := ts.DestroyRecord(ctx, noAudit, stacc.RecordRef{Kind: stacc.RecordContainer, ID: "c1"})
	if err != nil {
		t.Fatalf("DestroyRecord(container) error = %v", err)
	}
	if got := stacc.SumDeltas(entries); got != -110 {
		t.Errorf("sum of detach deltas = %d, want -110", got)
	}
	for _, e := range entries {
		if e.ContainerID != "c1" {
			t.Errorf("detach entry container = %q, want c1", e.ContainerID)
		}
	}

	snap, err := ts.DB.FindSnapshot(ctx, container)
	if err != nil {
		t.Fatalf("FindSnapshot() error = %v", err)
	}
	if snap != nil {
		t.Error("container snapshot survived the container")
	}
	for _, o := range ts.Scheduler.Materialized() {
		if o == container {
			t.Error("materialization scheduled for destroyed container")
		}
	}

	materialize(t, ts, tenant)
	if got := bytesUsed(t, ts, tenant); got != 5 {
		t.Errorf("tenant BytesUsed = %d, want 5", got)
	}
	if _, err := ts.DestroyContainer(ctx, noAudit, "c1"); !errors.Is(err, stacc.ErrOwnerNotFound) {
		t.Errorf("second DestroyContainer() error = %v, want ErrOwnerNotFound", err)
	}
}

func TestStaccService_DestroyTenant(t *testing.T) {
	ctx := context.Background()
	ts := testutil.NewTestService(t)
	tenant, container, card := seed(t, ts)
	attach(t, ts, "a1", stacc.AttachableFor(card), 100)
	materialize(t, ts, tenant, container)

	if err := ts.DestroyTenant(ctx, "t1"); err != nil {
		t.Fatalf("DestroyTenant() error = %v", err)
	}
	for _, owner := range []stacc.Owner{tenant, container} {
		snap, err := ts.DB.FindSnapshot(ctx, owner)
		if err != nil {
			t.Fatalf("FindSnapshot(%s) error = %v", owner, err)
		}
		if snap != nil {
			t.Errorf("snapshot of %s survived the tenant", owner)
		}
		if err := ts.Materialize(ctx, owner); !errors.Is(err, stacc.ErrOwnerNotFound) {
			t.Errorf("Materialize(%s) error = %v, want ErrOwnerNotFound", owner, err)
		}
	}
	if err := ts.DestroyTenant(ctx, "t1"); !errors.Is(err, stacc.ErrOwnerNotFound) {
		t.Errorf("second DestroyTenant() error = %v, want ErrOwnerNotFound", err)
	}
}
