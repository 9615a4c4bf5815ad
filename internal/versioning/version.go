package versioning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/guregu/null/v5"
)

// OperationType classifies what happened to an entity in one transaction.
type OperationType int16

const (
	OpInsert OperationType = 0
	OpUpdate OperationType = 1
	OpDelete OperationType = 2
)

func (o OperationType) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("operation(%d)", int16(o))
}

// Key identifies one entity instance by its primary key values.
type Key map[string]any

// canonical renders the key in descriptor primary-key order so it can be
// used as a map key.
func (k Key) canonical(d *EntityDescriptor) string {
	parts := make([]string, 0, len(k))
	for _, pk := range d.PrimaryKey() {
		parts = append(parts, fmt.Sprintf("%v", k[pk]))
	}
	return strings.Join(parts, "/")
}

// Version is an immutable snapshot of one entity instance as of one
// transaction. Fields holds the tracked columns; bookkeeping columns are
// surfaced as typed attributes.
type Version struct {
	Entity        string
	Key           Key
	TransactionID int64
	EndTxID       null.Int // validity strategy only
	Operation     OperationType
	Fields        map[string]any
	Mods          map[string]bool // property-mod tracking, when enabled
}

// Field returns the value of one tracked field on this version.
func (v *Version) Field(name string) any {
	return v.Fields[name]
}

// FieldNames returns the tracked field names in sorted order.
func (v *Version) FieldNames() []string {
	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// versionFromRow assembles a Version from a generic column/value map as
// scanned from a shadow table row.
func versionFromRow(d *EntityDescriptor, row map[string]any) *Version {
	v := &Version{
		Entity: d.Name,
		Key:    Key{},
		Fields: map[string]any{},
	}
	for _, pk := range d.PrimaryKey() {
		v.Key[pk] = row[pk]
	}
	for name, value := range row {
		switch name {
		case TransactionColumn:
			v.TransactionID = asInt64(value)
		case EndTransactionColumn:
			if value != nil {
				v.EndTxID = null.IntFrom(asInt64(value))
			}
		case OperationTypeColumn:
			v.Operation = OperationType(asInt64(value))
		default:
			if strings.HasSuffix(name, ModColumnSuffix) && d.TrackPropertyMods {
				base := strings.TrimSuffix(name, ModColumnSuffix)
				if _, ok := d.field(base); ok {
					if v.Mods == nil {
						v.Mods = map[string]bool{}
					}
					mod, _ := value.(bool)
					v.Mods[base] = mod
					continue
				}
			}
			v.Fields[name] = value
		}
	}
	return v
}

func asInt64(value any) int64 {
	switch n := value.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case int:
		return int64(n)
	case uint32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
