package testutil

import (
	"context"
	"testing"

	"stacc-go/internal/database"
	"stacc-go/internal/stacc"
)

// Fixture seeds catalog rows directly, without touching the ledger.
type Fixture struct {
	t  *testing.T
	DB *database.SQLDatabase
}

func NewFixture(t *testing.T, db *database.SQLDatabase) *Fixture {
	return &Fixture{t: t, DB: db}
}

func (f *Fixture) Tenant(id string) stacc.Owner {
	f.t.Helper()
	if err := f.DB.CreateTenant(context.Background(), id, "Tenant "+id); err != nil {
		f.t.Fatalf("CreateTenant(%s) error = %v", id, err)
	}
	return stacc.TenantOwner(id)
}

func (f *Fixture) Container(id, tenantID string) stacc.Owner {
	f.t.Helper()
	if err := f.DB.CreateContainer(context.Background(), id, tenantID, "Container "+id); err != nil {
		f.t.Fatalf("CreateContainer(%s) error = %v", id, err)
	}
	return stacc.ContainerOwner(id)
}

func (f *Fixture) Card(id, tenantID, containerID string) stacc.RecordRef {
	f.t.Helper()
	if err := f.DB.CreateCard(context.Background(), id, tenantID, containerID, "Card "+id); err != nil {
		f.t.Fatalf("CreateCard(%s) error = %v", id, err)
	}
	return stacc.RecordRef{Kind: stacc.RecordCard, ID: id}
}

func (f *Fixture) Comment(id, cardID string) stacc.RecordRef {
	f.t.Helper()
	if err := f.DB.CreateComment(context.Background(), id, cardID); err != nil {
		f.t.Fatalf("CreateComment(%s) error = %v", id, err)
	}
	return stacc.RecordRef{Kind: stacc.RecordComment, ID: id}
}

// RichText creates the rich text body named "description" owned by ref.
func (f *Fixture) RichText(id string, ref stacc.RecordRef) stacc.Attachable {
	f.t.Helper()
	if err := f.DB.CreateRichText(context.Background(), id, ref, "description", "<p>body</p>"); err != nil {
		f.t.Fatalf("CreateRichText(%s) error = %v", id, err)
	}
	return stacc.Attachable{Kind: stacc.AttachableRichText, ID: id}
}

func (f *Fixture) Blob(id string, size int64) *stacc.Blob {
	f.t.Helper()
	blob := &stacc.Blob{ID: id, ByteSize: size, ContentType: "application/octet-stream"}
	if err := f.DB.CreateBlob(context.Background(), blob); err != nil {
		f.t.Fatalf("CreateBlob(%s) error = %v", id, err)
	}
	return blob
}

// Attachment inserts an attachment row only; no ledger entry is written.
func (f *Fixture) Attachment(id string, on stacc.Attachable, blobID string) *stacc.Attachment {
	f.t.Helper()
	att := &stacc.Attachment{ID: id, Attachable: on, Name: "file", BlobID: blobID}
	if err := f.DB.CreateAttachment(context.Background(), att); err != nil {
		f.t.Fatalf("CreateAttachment(%s) error = %v", id, err)
	}
	return att
}
