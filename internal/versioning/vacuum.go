package versioning

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Vacuum deletes futile version rows of one entity: rows whose tracked
// fields are identical to their predecessor's. Such rows appear after
// structural changes, for example when a previously tracked column becomes
// excluded and old versions now only differ in the dropped column.
func Vacuum(ctx context.Context, exec Executor, reg *Registry, entity string) (int, error) {
	d, err := reg.Descriptor(entity)
	if err != nil {
		return 0, err
	}
	orderBy := append(d.PrimaryKey(), TransactionColumn)
	query := NewQueryBuilder().
		Select("*").
		From(d.VersionTable()).
		OrderBy(orderBy...)
	versions, err := selectVersionRows(ctx, exec, d, query)
	if err != nil {
		return 0, err
	}

	removed := 0
	var prev *Version
	for _, v := range versions {
		sameIdentity := prev != nil && prev.Key.canonical(d) == v.Key.canonical(d)
		if sameIdentity && v.Operation == OpUpdate && sameFields(d, prev, v) {
			if err := deleteVersionRow(ctx, exec, d, v); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		prev = v
	}
	return removed, nil
}

func sameFields(d *EntityDescriptor, a, b *Version) bool {
	for _, f := range d.TrackedFields() {
		if f.PrimaryKey {
			continue
		}
		if !valueEqual(a.Fields[f.Name], b.Fields[f.Name]) {
			return false
		}
	}
	return true
}

func deleteVersionRow(ctx context.Context, exec Executor, d *EntityDescriptor, v *Version) error {
	query := NewQueryBuilder().
		Delete(d.VersionTable()).
		Where(identityEq("", d, v.Key)).
		Where(sq.Eq{TransactionColumn: v.TransactionID})
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build vacuum delete: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to vacuum %s versions: %w", d.Name, err)
	}
	return nil
}
