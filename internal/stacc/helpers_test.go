package stacc_test

import (
	"context"
	"testing"

	"stacc-go/internal/stacc"
	"stacc-go/internal/testutil"
)

var noAudit = stacc.Audit{}

// attach creates a blob of size bytes and attaches it through the service.
func attach(t *testing.T, ts *testutil.TestService, id string, on stacc.Attachable, size int64) *stacc.Entry {
	t.Helper()
	blob := ts.Fixture.Blob("blob-"+id, size)
	entry, err := ts.Attach(context.Background(), noAudit, &stacc.Attachment{
		ID:         id,
		Attachable: on,
		Name:       "file-" + id,
		BlobID:     blob.ID,
	})
	if err != nil {
		t.Fatalf("Attach(%s) error = %v", id, err)
	}
	return entry
}

func materialize(t *testing.T, ts *testutil.TestService, owners ...stacc.Owner) {
	t.Helper()
	for _, o := range owners {
		if err := ts.Materialize(context.Background(), o); err != nil {
			t.Fatalf("Materialize(%s) error = %v", o, err)
		}
	}
}

func bytesUsed(t *testing.T, ts *testutil.TestService, owner stacc.Owner) int64 {
	t.Helper()
	n, err := ts.BytesUsed(context.Background(), owner)
	if err != nil {
		t.Fatalf("BytesUsed(%s) error = %v", owner, err)
	}
	return n
}

func bytesUsedExact(t *testing.T, ts *testutil.TestService, owner stacc.Owner) int64 {
	t.Helper()
	n, err := ts.BytesUsedExact(context.Background(), owner)
	if err != nil {
		t.Fatalf("BytesUsedExact(%s) error = %v", owner, err)
	}
	return n
}

func ledgerSum(t *testing.T, ts *testutil.TestService, owner stacc.Owner) int64 {
	t.Helper()
	n, err := ts.DB.SumDeltas(context.Background(), owner, "", "")
	if err != nil {
		t.Fatalf("SumDeltas(%s) error = %v", owner, err)
	}
	return n
}

// seed creates tenant t1 with container c1 holding card card-1.
func seed(t *testing.T, ts *testutil.TestService) (tenant, container stacc.Owner, card stacc.RecordRef) {
	t.Helper()
	tenant = ts.Fixture.Tenant("t1")
	container = ts.Fixture.Container("c1", "t1")
	card = ts.Fixture.Card("card-1", "t1", "c1")
	return tenant, container, card
}
