package versioning

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Fetcher locates the chronological neighbours of a version row.
type Fetcher interface {
	Previous(ctx context.Context, exec Executor, v *Version) (*Version, error)
	Next(ctx context.Context, exec Executor, v *Version) (*Version, error)
	Index(ctx context.Context, exec Executor, v *Version) (int, error)
}

// FetcherFor returns the fetcher matching the entity's strategy.
func FetcherFor(reg *Registry, d *EntityDescriptor) Fetcher {
	if d.Strategy == StrategyValidity {
		return &validityFetcher{reg: reg}
	}
	return &subqueryFetcher{reg: reg}
}

// subqueryFetcher walks the history with min/max aggregate subqueries over
// the same entity identity.
type subqueryFetcher struct {
	reg *Registry
}

func (f *subqueryFetcher) neighbour(ctx context.Context, exec Executor, v *Version, next bool) (*Version, error) {
	d, err := f.reg.Descriptor(v.Entity)
	if err != nil {
		return nil, err
	}
	agg, op := "max", "<"
	if next {
		agg, op = "min", ">"
	}
	sub := fmt.Sprintf("SELECT %s(%s) FROM %s v2 WHERE v2.%s %s ?",
		agg, TransactionColumn, d.VersionTable(), TransactionColumn, op)
	args := []any{v.TransactionID}
	for _, pk := range d.PrimaryKey() {
		sub += fmt.Sprintf(" AND v2.%s = ?", pk)
		args = append(args, v.Key[pk])
	}
	base, prefix := versionSelect(f.reg, d)
	query := base.
		Where(identityEq(prefix, d, v.Key)).
		Where(fmt.Sprintf("%s%s = (%s)", prefix, TransactionColumn, sub), args...)
	return selectOneVersion(ctx, exec, d, query)
}

func (f *subqueryFetcher) Previous(ctx context.Context, exec Executor, v *Version) (*Version, error) {
	return f.neighbour(ctx, exec, v, false)
}

func (f *subqueryFetcher) Next(ctx context.Context, exec Executor, v *Version) (*Version, error) {
	return f.neighbour(ctx, exec, v, true)
}

func (f *subqueryFetcher) Index(ctx context.Context, exec Executor, v *Version) (int, error) {
	d, err := f.reg.Descriptor(v.Entity)
	if err != nil {
		return 0, err
	}
	query := NewQueryBuilder().
		Select("count(*)").
		From(d.VersionTable()).
		Where(identityEq("", d, v.Key)).
		Where(sq.Lt{TransactionColumn: v.TransactionID})
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build index query: %w", err)
	}
	var index int
	if err := exec.QueryRow(ctx, sqlStr, args...).Scan(&index); err != nil {
		return 0, fmt.Errorf("failed to fetch version index of %s: %w", d.Name, err)
	}
	return index, nil
}

// validityFetcher walks the history through the stored validity intervals:
// the previous version is the one this version's transaction closed, the
// next one starts where this version's interval ends.
type validityFetcher struct {
	reg *Registry
}

func (f *validityFetcher) Previous(ctx context.Context, exec Executor, v *Version) (*Version, error) {
	d, err := f.reg.Descriptor(v.Entity)
	if err != nil {
		return nil, err
	}
	base, prefix := versionSelect(f.reg, d)
	endPrefix := prefix
	if prefix != "" {
		// For joined-table children the interval lives on the root table.
		endPrefix = "p."
	}
	query := base.
		Where(identityEq(prefix, d, v.Key)).
		Where(sq.Eq{endPrefix + EndTransactionColumn: v.TransactionID})
	return selectOneVersion(ctx, exec, d, query)
}

func (f *validityFetcher) Next(ctx context.Context, exec Executor, v *Version) (*Version, error) {
	if !v.EndTxID.Valid {
		return nil, nil
	}
	d, err := f.reg.Descriptor(v.Entity)
	if err != nil {
		return nil, err
	}
	base, prefix := versionSelect(f.reg, d)
	query := base.
		Where(identityEq(prefix, d, v.Key)).
		Where(sq.Eq{prefix + TransactionColumn: v.EndTxID.Int64})
	return selectOneVersion(ctx, exec, d, query)
}

func (f *validityFetcher) Index(ctx context.Context, exec Executor, v *Version) (int, error) {
	return (&subqueryFetcher{reg: f.reg}).Index(ctx, exec, v)
}
