package versioning

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/hashicorp/go-set/v2"
)

// MembershipChange lists the association partners added to and removed from
// a collection during one transaction.
type MembershipChange struct {
	Added   []int64
	Removed []int64
}

// Changeset describes what one version changed relative to its predecessor:
// per-field old/new pairs plus membership deltas for many-to-many
// collections.
type Changeset struct {
	Fields      map[string]FieldChange
	Memberships map[string]MembershipChange
}

// Empty reports whether the changeset carries no field or membership change.
func (c *Changeset) Empty() bool {
	return len(c.Fields) == 0 && len(c.Memberships) == 0
}

// ChangedFieldNames returns the changed field names in sorted order.
func (c *Changeset) ChangedFieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Processor rewrites a computed changeset before it is returned. Processors
// run in registration order.
type Processor func(d *EntityDescriptor, cs *Changeset)

// CollapseDerived drops a derived field's change when it mirrors its source
// field's change exactly; the derived change carries no extra information
// then.
func CollapseDerived(d *EntityDescriptor, cs *Changeset) {
	for _, der := range d.Derived {
		derived, ok := cs.Fields[der.Field]
		if !ok {
			continue
		}
		source, ok := cs.Fields[der.From]
		if !ok {
			continue
		}
		if valueEqual(derived.Old, source.Old) && valueEqual(derived.New, source.New) {
			delete(cs.Fields, der.Field)
		}
	}
}

// RedactFields blanks the values of redacted fields while keeping the fact
// that they changed.
func RedactFields(d *EntityDescriptor, cs *Changeset) {
	for name := range cs.Fields {
		if f, ok := d.field(name); ok && f.Redacted {
			cs.Fields[name] = FieldChange{}
		}
	}
}

// ChangesetBuilder computes changesets for version rows.
type ChangesetBuilder struct {
	reg        *Registry
	processors []Processor
}

func NewChangesetBuilder(reg *Registry, processors ...Processor) *ChangesetBuilder {
	return &ChangesetBuilder{reg: reg, processors: processors}
}

// Changeset diffs a version against its chronological predecessor. An INSERT
// version diffs against nothing, so every field appears with a nil old
// value. When property-mod tracking is enabled only fields flagged as
// modified are diffed; otherwise all tracked fields are compared by value.
func (b *ChangesetBuilder) Changeset(ctx context.Context, exec Executor, v *Version) (*Changeset, error) {
	d, err := b.reg.Descriptor(v.Entity)
	if err != nil {
		return nil, err
	}
	prev, err := FetcherFor(b.reg, d).Previous(ctx, exec, v)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch predecessor of %s version: %w", d.Name, err)
	}

	cs := &Changeset{Fields: map[string]FieldChange{}}
	for _, f := range d.TrackedFields() {
		if f.PrimaryKey {
			continue
		}
		if v.Mods != nil && !v.Mods[f.Name] {
			continue
		}
		var old any
		if prev != nil {
			old = prev.Fields[f.Name]
		}
		cur := v.Fields[f.Name]
		if v.Mods == nil && valueEqual(old, cur) {
			continue
		}
		cs.Fields[f.Name] = FieldChange{Old: old, New: cur}
	}

	for _, rel := range d.Relationships {
		if rel.Kind != ManyToMany {
			continue
		}
		mc, err := b.membershipChange(ctx, exec, d, rel, v)
		if err != nil {
			return nil, err
		}
		if len(mc.Added) == 0 && len(mc.Removed) == 0 {
			continue
		}
		if cs.Memberships == nil {
			cs.Memberships = map[string]MembershipChange{}
		}
		cs.Memberships[rel.Name] = mc
	}

	for _, process := range b.processors {
		process(d, cs)
	}
	return cs, nil
}

// membershipChange reads the association shadow rows written by this
// version's transaction and splits them into additions and removals.
func (b *ChangesetBuilder) membershipChange(ctx context.Context, exec Executor, d *EntityDescriptor, rel Relationship, v *Version) (MembershipChange, error) {
	query := NewQueryBuilder().
		Select(rel.RemoteAssocColumn, OperationTypeColumn).
		From(rel.AssociationTable + "_versions").
		Where(sq.Eq{
			rel.LocalAssocColumn: v.Key[d.PrimaryKey()[0]],
			TransactionColumn:    v.TransactionID,
		})
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return MembershipChange{}, fmt.Errorf("failed to build membership query: %w", err)
	}
	rows, err := exec.Query(ctx, sqlStr, args...)
	if err != nil {
		return MembershipChange{}, fmt.Errorf("failed to query %s membership changes: %w", rel.Name, err)
	}
	defer rows.Close()

	added := set.New[int64](0)
	removed := set.New[int64](0)
	for rows.Next() {
		var remote int64
		var op int16
		if err := rows.Scan(&remote, &op); err != nil {
			return MembershipChange{}, fmt.Errorf("failed to scan %s membership row: %w", rel.Name, err)
		}
		if OperationType(op) == OpDelete {
			removed.Insert(remote)
		} else {
			added.Insert(remote)
		}
	}
	if err := rows.Err(); err != nil {
		return MembershipChange{}, fmt.Errorf("failed to iterate %s membership rows: %w", rel.Name, err)
	}

	// A partner both removed and re-added in one transaction is a no-op.
	churned := added.Intersect(removed)
	mc := MembershipChange{
		Added:   added.Difference(churned).Slice(),
		Removed: removed.Difference(churned).Slice(),
	}
	sort.Slice(mc.Added, func(i, j int) bool { return mc.Added[i] < mc.Added[j] })
	sort.Slice(mc.Removed, func(i, j int) bool { return mc.Removed[i] < mc.Removed[j] })
	return mc, nil
}

func valueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
