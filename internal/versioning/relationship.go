package versioning

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Reflector resolves an entity's relationships against the shadow schema,
// answering "what did this association look like as of transaction T" rather
// than "what does it look like now".
type Reflector struct {
	reg *Registry
}

func NewReflector(reg *Registry) *Reflector {
	return &Reflector{reg: reg}
}

// Related resolves a named relationship on a version row.
// Many-to-one returns at most one version, the others return the full
// collection as of the version's transaction.
func (r *Reflector) Related(ctx context.Context, exec Executor, v *Version, name string) ([]*Version, error) {
	d, err := r.reg.Descriptor(v.Entity)
	if err != nil {
		return nil, err
	}
	rel, ok := d.relationship(name)
	if !ok {
		return nil, fmt.Errorf("entity %q has no relationship %q", v.Entity, name)
	}
	target, err := r.reg.Descriptor(rel.Target)
	if err != nil {
		return nil, err
	}
	switch rel.Kind {
	case ManyToOne:
		one, err := r.manyToOne(ctx, exec, target, rel, v)
		if err != nil || one == nil {
			return nil, err
		}
		return []*Version{one}, nil
	case OneToMany:
		return r.oneToMany(ctx, exec, d, target, rel, v)
	case ManyToMany:
		return r.manyToMany(ctx, exec, d, target, rel, v)
	}
	return nil, fmt.Errorf("relationship %q: unknown kind", name)
}

// currentAsOf restricts a shadow table select to the version of each row
// current as of transaction tx, per the target's strategy, with delete
// versions filtered out.
func (r *Reflector) currentAsOf(target *EntityDescriptor, prefix string, tx int64) (sq.Sqlizer, sq.Sqlizer) {
	if target.Strategy == StrategyValidity {
		window := sq.And{
			sq.LtOrEq{prefix + TransactionColumn: tx},
			sq.Or{
				sq.Eq{prefix + EndTransactionColumn: nil},
				sq.Gt{prefix + EndTransactionColumn: tx},
			},
		}
		return window, sq.NotEq{prefix + OperationTypeColumn: int16(OpDelete)}
	}
	// Correlated grouped max: the newest version per identity at or before tx.
	sub := fmt.Sprintf("SELECT max(%s) FROM %s v2 WHERE v2.%s <= ?",
		TransactionColumn, target.VersionTable(), TransactionColumn)
	for _, pk := range target.PrimaryKey() {
		sub += fmt.Sprintf(" AND v2.%s = %s%s", pk, orDefault(prefix, target.VersionTable()+"."), pk)
	}
	window := sq.Expr(fmt.Sprintf("%s%s = (%s)", prefix, TransactionColumn, sub), tx)
	return window, sq.NotEq{prefix + OperationTypeColumn: int16(OpDelete)}
}

func orDefault(prefix, fallback string) string {
	if prefix != "" {
		return prefix
	}
	return fallback
}

// manyToOne resolves the owning side of a foreign key: the target version
// current when this version was written.
func (r *Reflector) manyToOne(ctx context.Context, exec Executor, target *EntityDescriptor, rel Relationship, v *Version) (*Version, error) {
	fkValue := v.Fields[rel.LocalColumn]
	if fkValue == nil {
		return nil, nil
	}
	base, prefix := versionSelect(r.reg, target)
	window, live := r.currentAsOf(target, prefix, v.TransactionID)
	query := base.
		Where(sq.Eq{prefix + rel.RemoteColumn: fkValue}).
		Where(window).
		Where(live)
	return selectOneVersion(ctx, exec, target, query)
}

// oneToMany resolves the collection side of a foreign key: every target
// identity pointing at this entity, each at its version current as of this
// version's transaction.
func (r *Reflector) oneToMany(ctx context.Context, exec Executor, d, target *EntityDescriptor, rel Relationship, v *Version) ([]*Version, error) {
	remote := rel.RemoteColumn
	if remote == "" {
		remote = d.PrimaryKey()[0]
	}
	base, prefix := versionSelect(r.reg, target)
	window, live := r.currentAsOf(target, prefix, v.TransactionID)
	query := base.
		Where(sq.Eq{prefix + rel.LocalColumn: v.Key[remote]}).
		Where(window).
		Where(live)
	return selectVersionRows(ctx, exec, target, query)
}

// manyToMany resolves a collection through the association shadow table:
// pick, per partner, the association row current as of this version's
// transaction, keep the live ones, then fetch the partner versions current
// at the same point. The inner max-subquery filters on the local identity
// too; without it a partner shared with another local row leaks that row's
// membership changes into this history.
func (r *Reflector) manyToMany(ctx context.Context, exec Executor, d, target *EntityDescriptor, rel Relationship, v *Version) ([]*Version, error) {
	assocTable := rel.AssociationTable + "_versions"
	localID := v.Key[d.PrimaryKey()[0]]

	inner := fmt.Sprintf(
		"SELECT max(%s) FROM %s a2 WHERE a2.%s <= ? AND a2.%s = ? AND a2.%s = a.%s",
		TransactionColumn, assocTable, TransactionColumn,
		rel.LocalAssocColumn, rel.RemoteAssocColumn, rel.RemoteAssocColumn)
	membership := fmt.Sprintf(
		"SELECT a.%s FROM %s a WHERE a.%s = ? AND a.%s = (%s) AND a.%s != ?",
		rel.RemoteAssocColumn, assocTable, rel.LocalAssocColumn,
		TransactionColumn, inner, OperationTypeColumn)

	base, prefix := versionSelect(r.reg, target)
	window, live := r.currentAsOf(target, prefix, v.TransactionID)
	targetPK := target.PrimaryKey()[0]
	query := base.
		Where(sq.Expr(fmt.Sprintf("%s%s IN (%s)", prefix, targetPK, membership),
			localID, v.TransactionID, localID, int16(OpDelete))).
		Where(window).
		Where(live)
	return selectVersionRows(ctx, exec, target, query)
}
