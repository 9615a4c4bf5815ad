package store

import (
	"context"

	"github.com/fairshare-app/fairshare/internal/versioning"
)

// Record is the shape the session tracks: any domain entity that can name
// its registered entity type, identify itself and expose its tracked field
// values.
type Record interface {
	EntityName() string
	EntityKey() versioning.Key
	FieldValues() map[string]any
}

// AssociationEdit is one pending membership change on a many-to-many
// collection owned by a tracked record. Owner carries the owning record so
// the flush can version it even when none of its scalars changed.
type AssociationEdit struct {
	Entity       string
	Relationship string
	LocalID      any
	RemoteID     any
	Added        bool
	Owner        Record
}

// FlushContext is handed to flush hooks with the classified pending changes
// of the current transaction.
type FlushContext struct {
	Inserts      []Record
	Updates      []Record
	Deletes      []Record
	Associations []AssociationEdit
}

// FlushHook runs inside the flush, on the same database transaction as the
// live writes. A pre-flush hook error aborts the commit.
type FlushHook func(ctx context.Context, fc *FlushContext) error
