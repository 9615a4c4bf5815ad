package versioning

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor abstracts the database handle the engine writes and reads
// through. Both *pgxpool.Pool and pgx.Tx satisfy it, so all engine work can
// ride on the caller's transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewQueryBuilder returns a statement builder using PostgreSQL placeholders.
func NewQueryBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// selectVersionRows runs a select against a shadow table and scans each row
// into a generic column map; shadow tables are registry-derived so the
// column set is only known at run time.
func selectVersionRows(ctx context.Context, exec Executor, d *EntityDescriptor, query sq.SelectBuilder) ([]*Version, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build version query: %w", err)
	}
	rows, err := exec.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions of %s: %w", d.Name, err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read version row of %s: %w", d.Name, err)
		}
		row := make(map[string]any, len(values))
		for i, fd := range rows.FieldDescriptions() {
			row[string(fd.Name)] = values[i]
		}
		versions = append(versions, versionFromRow(d, row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions of %s: %w", d.Name, err)
	}
	return versions, nil
}

func selectOneVersion(ctx context.Context, exec Executor, d *EntityDescriptor, query sq.SelectBuilder) (*Version, error) {
	versions, err := selectVersionRows(ctx, exec, d, query)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return versions[0], nil
}

// versionSelect returns the base select for an entity's shadow table plus
// the column prefix callers must use in criteria. For joined-table children
// the bookkeeping columns live on the root shadow table and are pulled in
// through a join, so the child table gets an alias.
func versionSelect(reg *Registry, d *EntityDescriptor) (sq.SelectBuilder, string) {
	if d.Inheritance != InheritanceJoined {
		return NewQueryBuilder().Select("*").From(d.VersionTable()), ""
	}
	parent := reg.Parent(d)
	join := fmt.Sprintf("%s p ON p.%s = c.%s", parent.VersionTable(), TransactionColumn, TransactionColumn)
	for _, pk := range parent.PrimaryKey() {
		join += fmt.Sprintf(" AND p.%s = c.%s", pk, pk)
	}
	cols := []string{"c.*", "p." + OperationTypeColumn}
	if d.Strategy == StrategyValidity {
		cols = append(cols, "p."+EndTransactionColumn)
	}
	return NewQueryBuilder().
		Select(cols...).
		From(d.VersionTable() + " c").
		Join(join), "c."
}

func identityEq(prefix string, d *EntityDescriptor, key Key) sq.Eq {
	eq := sq.Eq{}
	for _, pk := range d.PrimaryKey() {
		eq[prefix+pk] = key[pk]
	}
	return eq
}
