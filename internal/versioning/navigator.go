package versioning

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Navigator is the read-side entry point over the shadow schema: list an
// identity's versions, walk between neighbours, compute changesets and
// resolve time-correct associations.
type Navigator struct {
	registry  *Registry
	changes   *ChangesetBuilder
	reflector *Reflector
}

func NewNavigator(reg *Registry, processors ...Processor) *Navigator {
	return &Navigator{
		registry:  reg,
		changes:   NewChangesetBuilder(reg, processors...),
		reflector: NewReflector(reg),
	}
}

// Versions lists every version of one identity in transaction order.
func (n *Navigator) Versions(ctx context.Context, exec Executor, entity string, key Key) ([]*Version, error) {
	d, err := n.registry.Descriptor(entity)
	if err != nil {
		return nil, err
	}
	base, prefix := versionSelect(n.registry, d)
	query := base.
		Where(identityEq(prefix, d, key)).
		OrderBy(prefix + TransactionColumn)
	return selectVersionRows(ctx, exec, d, query)
}

// VersionAt returns the version of an identity current as of a transaction,
// or nil when the identity did not exist then.
func (n *Navigator) VersionAt(ctx context.Context, exec Executor, entity string, key Key, txID int64) (*Version, error) {
	d, err := n.registry.Descriptor(entity)
	if err != nil {
		return nil, err
	}
	base, prefix := versionSelect(n.registry, d)
	query := base.Where(identityEq(prefix, d, key))
	if d.Strategy == StrategyValidity {
		endPrefix := prefix
		if prefix != "" {
			endPrefix = "p."
		}
		query = query.
			Where(sq.LtOrEq{prefix + TransactionColumn: txID}).
			Where(sq.Or{
				sq.Eq{endPrefix + EndTransactionColumn: nil},
				sq.Gt{endPrefix + EndTransactionColumn: txID},
			})
	} else {
		sub := fmt.Sprintf("SELECT max(%s) FROM %s v2 WHERE v2.%s <= ?",
			TransactionColumn, d.VersionTable(), TransactionColumn)
		args := []any{txID}
		for _, pk := range d.PrimaryKey() {
			sub += fmt.Sprintf(" AND v2.%s = ?", pk)
			args = append(args, key[pk])
		}
		query = query.Where(fmt.Sprintf("%s%s = (%s)", prefix, TransactionColumn, sub), args...)
	}
	v, err := selectOneVersion(ctx, exec, d, query)
	if err != nil {
		return nil, err
	}
	if v != nil && v.Operation == OpDelete {
		return nil, nil
	}
	return v, nil
}

// Previous returns the version preceding v, nil at the start of history.
func (n *Navigator) Previous(ctx context.Context, exec Executor, v *Version) (*Version, error) {
	d, err := n.registry.Descriptor(v.Entity)
	if err != nil {
		return nil, err
	}
	return FetcherFor(n.registry, d).Previous(ctx, exec, v)
}

// Next returns the version following v, nil at the end of history.
func (n *Navigator) Next(ctx context.Context, exec Executor, v *Version) (*Version, error) {
	d, err := n.registry.Descriptor(v.Entity)
	if err != nil {
		return nil, err
	}
	return FetcherFor(n.registry, d).Next(ctx, exec, v)
}

// Index returns v's zero-based position in its identity's history.
func (n *Navigator) Index(ctx context.Context, exec Executor, v *Version) (int, error) {
	d, err := n.registry.Descriptor(v.Entity)
	if err != nil {
		return 0, err
	}
	return FetcherFor(n.registry, d).Index(ctx, exec, v)
}

// Changeset diffs v against its predecessor.
func (n *Navigator) Changeset(ctx context.Context, exec Executor, v *Version) (*Changeset, error) {
	return n.changes.Changeset(ctx, exec, v)
}

// Related resolves a named relationship as of v's transaction.
func (n *Navigator) Related(ctx context.Context, exec Executor, v *Version, name string) ([]*Version, error) {
	return n.reflector.Related(ctx, exec, v, name)
}
