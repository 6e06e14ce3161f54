package stacc

import (
	"fmt"
	"strings"
)

// OwnerKind identifies what an Owner is. The set is closed.
type OwnerKind string

const (
	OwnerTenant    OwnerKind = "tenant"
	OwnerContainer OwnerKind = "container"
)

// Owner is an entity that has a storage usage figure: a tenant or a container.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// TenantOwner returns the Owner for a tenant.
func TenantOwner(id string) Owner { return Owner{Kind: OwnerTenant, ID: id} }

// ContainerOwner returns the Owner for a container.
func ContainerOwner(id string) Owner { return Owner{Kind: OwnerContainer, ID: id} }

// Validate reports whether the owner has a known kind and a non-empty id.
func (o Owner) Validate() error {
	switch o.Kind {
	case OwnerTenant, OwnerContainer:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOwner, o.Kind)
	}
	if o.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidOwner)
	}
	return nil
}

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID }

// ParseOwner parses the "kind:id" form produced by Owner.String.
func ParseOwner(s string) (Owner, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Owner{}, fmt.Errorf("%w: %q is not kind:id", ErrInvalidOwner, s)
	}
	o := Owner{Kind: OwnerKind(kind), ID: id}
	if err := o.Validate(); err != nil {
		return Owner{}, err
	}
	return o, nil
}

// RecordKind identifies a domain record that storage bytes are attributed to.
type RecordKind string

const (
	RecordCard      RecordKind = "card"
	RecordComment   RecordKind = "comment"
	RecordContainer RecordKind = "container" // a container's own rich content
)

// RecordKinds lists every record kind, in the order reconciliation walks them.
var RecordKinds = []RecordKind{RecordCard, RecordComment, RecordContainer}

// RecordRef points at a domain record. The zero value means "no record".
type RecordRef struct {
	Kind RecordKind
	ID   string
}

func (r RecordRef) IsZero() bool { return r.Kind == "" && r.ID == "" }

func (r RecordRef) Validate() error {
	switch r.Kind {
	case RecordCard, RecordComment, RecordContainer:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	return nil
}

func (r RecordRef) String() string { return string(r.Kind) + ":" + r.ID }

// ParseRecordRef parses the "kind:id" form produced by RecordRef.String.
func ParseRecordRef(s string) (RecordRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return RecordRef{}, fmt.Errorf("%w: %q is not kind:id", ErrInvalidRecord, s)
	}
	r := RecordRef{Kind: RecordKind(kind), ID: id}
	if err := r.Validate(); err != nil {
		return RecordRef{}, err
	}
	return r, nil
}

// AttachableKind identifies what an attachment physically hangs off.
// Every RecordKind is attachable; rich text bodies are attachable too.
type AttachableKind string

const (
	AttachableCard      AttachableKind = AttachableKind(RecordCard)
	AttachableComment   AttachableKind = AttachableKind(RecordComment)
	AttachableContainer AttachableKind = AttachableKind(RecordContainer)
	AttachableRichText  AttachableKind = "rich_text"
)

// Attachable is the thing an attachment belongs to.
type Attachable struct {
	Kind AttachableKind
	ID   string
}

// AttachableFor returns the Attachable for a record's direct attachments.
func AttachableFor(ref RecordRef) Attachable {
	return Attachable{Kind: AttachableKind(ref.Kind), ID: ref.ID}
}

func (a Attachable) Validate() error {
	switch a.Kind {
	case AttachableCard, AttachableComment, AttachableContainer, AttachableRichText:
	default:
		return fmt.Errorf("%w: unknown attachable kind %q", ErrInvalidRecord, a.Kind)
	}
	if a.ID == "" {
		return fmt.Errorf("%w: empty attachable id", ErrInvalidRecord)
	}
	return nil
}

func (a Attachable) String() string { return string(a.Kind) + ":" + a.ID }

// ParseAttachable parses "kind:id", where kind is a record kind or rich_text.
func ParseAttachable(s string) (Attachable, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Attachable{}, fmt.Errorf("%w: %q is not kind:id", ErrInvalidRecord, s)
	}
	a := Attachable{Kind: AttachableKind(kind), ID: id}
	if err := a.Validate(); err != nil {
		return Attachable{}, err
	}
	return a, nil
}

// TrackedRecord is the record an attachment's bytes are charged to, with the
// owners it resolves to at the time of lookup.
type TrackedRecord struct {
	Ref         RecordRef
	TenantID    string
	ContainerID string
}

// Owners returns the owners this record's usage counts toward.
func (r *TrackedRecord) Owners() []Owner {
	owners := []Owner{TenantOwner(r.TenantID)}
	if r.ContainerID != "" {
		owners = append(owners, ContainerOwner(r.ContainerID))
	}
	return owners
}
