package versioning

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Reverter writes a historical version back onto the live table.
type Reverter struct {
	reg *Registry
	nav *Navigator
}

func NewReverter(reg *Registry) *Reverter {
	return &Reverter{reg: reg, nav: NewNavigator(reg)}
}

// Revert restores the live row to the state captured by v. Reverting a
// DELETE version removes the live row; anything else upserts it. Relation
// names, optionally dotted for nesting, restore associated rows to their
// state as of v's transaction.
//
// Run inside the caller's transaction so the engine records the revert as a
// regular write and history stays append-only.
func (r *Reverter) Revert(ctx context.Context, exec Executor, v *Version, relations ...string) error {
	d, err := r.reg.Descriptor(v.Entity)
	if err != nil {
		return err
	}

	if v.Operation == OpDelete {
		if err := r.deleteLive(ctx, exec, d, v); err != nil {
			return err
		}
	} else if err := r.upsertLive(ctx, exec, d, v); err != nil {
		return err
	}

	for _, path := range relations {
		if err := r.revertRelation(ctx, exec, d, v, path); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reverter) deleteLive(ctx context.Context, exec Executor, d *EntityDescriptor, v *Version) error {
	query := NewQueryBuilder().Delete(d.Table).Where(identityEq("", d, v.Key))
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build revert delete: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to revert delete of %s: %w", d.Name, err)
	}
	return nil
}

func (r *Reverter) upsertLive(ctx context.Context, exec Executor, d *EntityDescriptor, v *Version) error {
	cols := make([]string, 0, len(d.TrackedFields()))
	vals := make([]any, 0, len(d.TrackedFields()))
	var updates []string
	for _, f := range d.TrackedFields() {
		value, ok := v.Fields[f.Name]
		if f.PrimaryKey {
			value, ok = v.Key[f.Name], true
		}
		if !ok {
			continue
		}
		cols = append(cols, f.Name)
		vals = append(vals, value)
		if !f.PrimaryKey {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", f.Name, f.Name))
		}
	}
	query := NewQueryBuilder().
		Insert(d.Table).
		Columns(cols...).
		Values(vals...).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(d.PrimaryKey(), ", "), strings.Join(updates, ", ")))
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build revert upsert: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to revert %s: %w", d.Name, err)
	}
	return nil
}

func (r *Reverter) revertRelation(ctx context.Context, exec Executor, d *EntityDescriptor, v *Version, path string) error {
	name, rest, _ := strings.Cut(path, ".")
	rel, ok := d.relationship(name)
	if !ok {
		return fmt.Errorf("entity %q has no relationship %q", d.Name, name)
	}
	related, err := r.nav.Related(ctx, exec, v, name)
	if err != nil {
		return err
	}

	if rel.Kind == ManyToMany {
		if err := r.restoreAssociation(ctx, exec, d, rel, v, related); err != nil {
			return err
		}
	}
	for _, rv := range related {
		var nested []string
		if rest != "" {
			nested = []string{rest}
		}
		if err := r.Revert(ctx, exec, rv, nested...); err != nil {
			return err
		}
	}
	return nil
}

// restoreAssociation rewrites the live join table to exactly the membership
// current as of the reverted version.
func (r *Reverter) restoreAssociation(ctx context.Context, exec Executor, d *EntityDescriptor, rel Relationship, v *Version, related []*Version) error {
	localID := v.Key[d.PrimaryKey()[0]]
	del := NewQueryBuilder().Delete(rel.AssociationTable).Where(sq.Eq{rel.LocalAssocColumn: localID})
	sqlStr, args, err := del.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build association reset: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to reset %s membership: %w", rel.Name, err)
	}

	target, err := r.reg.Descriptor(rel.Target)
	if err != nil {
		return err
	}
	for _, rv := range related {
		ins := NewQueryBuilder().
			Insert(rel.AssociationTable).
			Columns(rel.LocalAssocColumn, rel.RemoteAssocColumn).
			Values(localID, rv.Key[target.PrimaryKey()[0]])
		sqlStr, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build association restore: %w", err)
		}
		if _, err := exec.Exec(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("failed to restore %s membership: %w", rel.Name, err)
		}
	}
	return nil
}
