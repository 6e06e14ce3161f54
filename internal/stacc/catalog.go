package stacc

import (
	"context"
	"time"
)

// Blob is stored content. Only its size matters for accounting.
type Blob struct {
	ID          string
	Key         string
	ByteSize    int64
	ContentType string
	CreatedAt   time.Time
}

// Attachment joins a blob to the thing it is attached to.
type Attachment struct {
	ID         string
	Attachable Attachable
	Name       string
	BlobID     string
	CreatedAt  time.Time
}

// OwnerInfo is a resolved owner. TenantID equals Owner.ID for tenants.
type OwnerInfo struct {
	Owner    Owner
	TenantID string
}

// Catalog is the domain model the accounting code reads owners, records and
// attachments from. Lookups that find nothing return (nil, nil).
type Catalog interface {
	// ResolveOwner returns the owner if it still exists.
	ResolveOwner(ctx context.Context, owner Owner) (*OwnerInfo, error)

	// FindTrackedRecord resolves a record to its tenant and current container.
	FindTrackedRecord(ctx context.Context, ref RecordRef) (*TrackedRecord, error)

	// TrackedRecordFor resolves the record an attachable's bytes are charged to.
	// Rich text resolves through the record that owns it.
	TrackedRecordFor(ctx context.Context, attachable Attachable) (*TrackedRecord, error)

	FindAttachment(ctx context.Context, id string) (*Attachment, error)

	// AttachmentsWithin returns every attachment whose bytes are charged to
	// ref or to a record beneath it: direct attachments, rich text embeds,
	// and those of descendant records (a card's comments).
	AttachmentsWithin(ctx context.Context, ref RecordRef) ([]*Attachment, error)

	// AttachmentsInContainer returns every attachment charged to the container.
	AttachmentsInContainer(ctx context.Context, containerID string) ([]*Attachment, error)

	// ListAttachments pages through all attachments in id order.
	ListAttachments(ctx context.Context, afterID string, limit int) ([]*Attachment, error)

	TenantIDs(ctx context.Context) ([]string, error)
	ContainerIDs(ctx context.Context, tenantID string) ([]string, error)

	// RecordIDs returns ids of records of kind whose bytes land in containerID.
	// For RecordContainer that is the container itself.
	RecordIDs(ctx context.Context, containerID string, kind RecordKind) ([]string, error)

	// RichTextIDs returns rich text ids owned by the given records.
	RichTextIDs(ctx context.Context, kind RecordKind, recordIDs []string) ([]string, error)

	// AttachedBlobIDs returns blob ids attached to the given attachables,
	// one per attachment.
	AttachedBlobIDs(ctx context.Context, kind AttachableKind, attachableIDs []string) ([]string, error)

	CreateBlob(ctx context.Context, blob *Blob) error
	CreateAttachment(ctx context.Context, attachment *Attachment) error
	DeleteAttachment(ctx context.Context, id string) error

	// MoveRecord changes the container of a card.
	MoveRecord(ctx context.Context, ref RecordRef, containerID string) error

	// DeleteRecord removes a record with its rich texts, attachments and
	// descendant records.
	DeleteRecord(ctx context.Context, ref RecordRef) error

	// DeleteContainer removes a container and everything in it, including
	// its usage snapshot.
	DeleteContainer(ctx context.Context, containerID string) error

	// DeleteTenant removes a tenant and everything in it, including the
	// usage snapshots of the tenant and its containers.
	DeleteTenant(ctx context.Context, tenantID string) error
}

// BlobStore reports blob sizes. Unknown blobs are absent from the result.
type BlobStore interface {
	ByteSizes(ctx context.Context, blobIDs []string) (map[string]int64, error)
}
