package versioning

import (
	"fmt"
	"strings"
)

// ColumnDef is one column of a generated shadow table.
type ColumnDef struct {
	Name    string
	Type    string
	NotNull bool
	Default string
	Index   bool
}

// ForeignKeyDef links a joined-table child shadow table to its parent.
type ForeignKeyDef struct {
	Columns    []string
	RefTable   string
	RefColumns []string
}

// TableDef is a generated shadow table definition, renderable as DDL.
type TableDef struct {
	Name       string
	Columns    []ColumnDef
	PrimaryKey []string
	ForeignKey *ForeignKeyDef
}

func (t *TableDef) column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// CreateSQL renders the table and its secondary indexes. The statements are
// idempotent so migrations can be re-run.
func (t *TableDef) CreateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for i, c := range t.Columns {
		fmt.Fprintf(&b, "    %s %s", c.Name, c.Type)
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.Default != "" {
			fmt.Fprintf(&b, " DEFAULT %s", c.Default)
		}
		if i < len(t.Columns)-1 || len(t.PrimaryKey) > 0 || t.ForeignKey != nil {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "    PRIMARY KEY (%s)", strings.Join(t.PrimaryKey, ", "))
		if t.ForeignKey != nil {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if fk := t.ForeignKey; fk != nil {
		fmt.Fprintf(&b, "    FOREIGN KEY (%s) REFERENCES %s (%s)\n",
			strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", "))
	}
	b.WriteString(");\n")
	for _, c := range t.Columns {
		if c.Index {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS ix_%s_%s ON %s (%s);\n",
				t.Name, c.Name, t.Name, c.Name)
		}
	}
	return b.String()
}

// DropSQL renders the matching teardown statement.
func (t *TableDef) DropSQL() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;\n", t.Name)
}

// SchemaBuilder derives shadow table definitions from entity descriptors.
type SchemaBuilder struct {
	reg *Registry
}

func NewSchemaBuilder(reg *Registry) *SchemaBuilder {
	return &SchemaBuilder{reg: reg}
}

// versionColumnType maps a live column type to its shadow counterpart:
// auto-generating serial types collapse to their plain integer forms.
func versionColumnType(sqlType string) string {
	switch strings.ToLower(sqlType) {
	case "bigserial":
		return "bigint"
	case "serial":
		return "integer"
	case "smallserial":
		return "smallint"
	}
	return sqlType
}

// VersionTable builds the shadow table definition for one entity. For
// single-table inheritance the child's extra fields are merged into the
// parent's shadow table; for joined-table inheritance the child gets its own
// table whose primary key doubles as a foreign key into the parent's shadow
// table, and the bookkeeping columns stay on the root table only.
func (b *SchemaBuilder) VersionTable(entity string) (*TableDef, error) {
	d, err := b.reg.Descriptor(entity)
	if err != nil {
		return nil, err
	}
	if d.Inheritance == InheritanceSingle {
		// The parent's shadow table already carries the shared columns;
		// re-derive it with the child's fields folded in.
		return b.singleTableMerged(d)
	}

	t := &TableDef{Name: d.VersionTable()}
	b.appendFieldColumns(t, d)
	t.Columns = append(t.Columns, ColumnDef{Name: TransactionColumn, Type: "bigint", NotNull: true, Index: true})
	t.PrimaryKey = append(d.PrimaryKey(), TransactionColumn)

	if d.Inheritance == InheritanceJoined {
		parent := b.reg.Parent(d)
		t.ForeignKey = &ForeignKeyDef{
			Columns:    t.PrimaryKey,
			RefTable:   parent.VersionTable(),
			RefColumns: append(parent.PrimaryKey(), TransactionColumn),
		}
		// operation_type and end_transaction_id are read through the parent
		// row; duplicating them would let the two drift apart.
		return t, nil
	}

	t.Columns = append(t.Columns, ColumnDef{Name: OperationTypeColumn, Type: "smallint", NotNull: true, Index: true})
	if d.Strategy == StrategyValidity {
		t.Columns = append(t.Columns, ColumnDef{Name: EndTransactionColumn, Type: "bigint", Index: true})
	}
	if d.TrackPropertyMods {
		b.appendModColumns(t, d)
	}
	return t, nil
}

func (b *SchemaBuilder) singleTableMerged(d *EntityDescriptor) (*TableDef, error) {
	root := b.reg.Root(d)
	t, err := b.VersionTable(root.Name)
	if err != nil {
		return nil, err
	}
	for _, f := range d.TrackedFields() {
		if _, ok := t.column(f.Name); ok {
			continue
		}
		col := b.reflectField(d, f)
		t.Columns = append(t.Columns, col)
		if d.TrackPropertyMods && !f.PrimaryKey {
			t.Columns = append(t.Columns, modColumn(f))
		}
	}
	return t, nil
}

func (b *SchemaBuilder) appendFieldColumns(t *TableDef, d *EntityDescriptor) {
	for _, f := range d.TrackedFields() {
		t.Columns = append(t.Columns, b.reflectField(d, f))
	}
}

// reflectField copies a live column into the shadow table: everything becomes
// nullable except primary key parts, and unique constraints are dropped so a
// deleted entity's versions can coexist with its successor's.
func (b *SchemaBuilder) reflectField(d *EntityDescriptor, f Field) ColumnDef {
	return ColumnDef{
		Name:    f.Name,
		Type:    versionColumnType(f.Type),
		NotNull: f.PrimaryKey,
	}
}

func modColumn(f Field) ColumnDef {
	return ColumnDef{
		Name:    f.Name + ModColumnSuffix,
		Type:    "boolean",
		NotNull: true,
		Default: "false",
	}
}

func (b *SchemaBuilder) appendModColumns(t *TableDef, d *EntityDescriptor) {
	for _, f := range d.TrackedFields() {
		if f.PrimaryKey {
			continue
		}
		t.Columns = append(t.Columns, modColumn(f))
	}
}

// AssociationVersionTable builds the shadow table for a many-to-many
// association. Association rows carry no payload beyond the join columns, so
// no property-mod columns are generated.
func (b *SchemaBuilder) AssociationVersionTable(entity, relationship string) (*TableDef, error) {
	d, err := b.reg.Descriptor(entity)
	if err != nil {
		return nil, err
	}
	rel, ok := d.relationship(relationship)
	if !ok || rel.Kind != ManyToMany {
		return nil, fmt.Errorf("entity %q has no many-to-many relationship %q", entity, relationship)
	}
	t := &TableDef{Name: rel.AssociationTable + "_versions"}
	t.Columns = append(t.Columns,
		ColumnDef{Name: rel.LocalAssocColumn, Type: "bigint", NotNull: true},
		ColumnDef{Name: rel.RemoteAssocColumn, Type: "bigint", NotNull: true},
		ColumnDef{Name: TransactionColumn, Type: "bigint", NotNull: true, Index: true},
		ColumnDef{Name: OperationTypeColumn, Type: "smallint", NotNull: true},
	)
	if d.Strategy == StrategyValidity {
		t.Columns = append(t.Columns, ColumnDef{Name: EndTransactionColumn, Type: "bigint", Index: true})
	}
	t.PrimaryKey = []string{rel.LocalAssocColumn, rel.RemoteAssocColumn, TransactionColumn}
	return t, nil
}

// TransactionTables returns the ledger tables shared by all entities.
func (b *SchemaBuilder) TransactionTables() []*TableDef {
	transactions := &TableDef{
		Name: "transactions",
		Columns: []ColumnDef{
			{Name: "id", Type: "bigserial", NotNull: true},
			{Name: "issued_at", Type: "timestamptz", NotNull: true, Default: "now()"},
			{Name: "remote_addr", Type: "varchar(50)"},
			{Name: "actor_id", Type: "uuid", Index: true},
		},
		PrimaryKey: []string{"id"},
	}
	meta := &TableDef{
		Name: "transaction_meta",
		Columns: []ColumnDef{
			{Name: TransactionColumn, Type: "bigint", NotNull: true},
			{Name: "key", Type: "varchar(255)", NotNull: true},
			{Name: "value", Type: "text"},
		},
		PrimaryKey: []string{TransactionColumn, "key"},
		ForeignKey: &ForeignKeyDef{Columns: []string{TransactionColumn}, RefTable: "transactions", RefColumns: []string{"id"}},
	}
	changes := &TableDef{
		Name: "transaction_changes",
		Columns: []ColumnDef{
			{Name: TransactionColumn, Type: "bigint", NotNull: true},
			{Name: "entity_name", Type: "varchar(255)", NotNull: true},
		},
		PrimaryKey: []string{TransactionColumn, "entity_name"},
		ForeignKey: &ForeignKeyDef{Columns: []string{TransactionColumn}, RefTable: "transactions", RefColumns: []string{"id"}},
	}
	return []*TableDef{transactions, meta, changes}
}

// All derives every shadow table for the registry: the ledger tables, one
// table per entity (inherited entities folded per their mode) and one per
// many-to-many association, deduplicated by name.
func (b *SchemaBuilder) All() ([]*TableDef, error) {
	var defs []*TableDef
	defs = append(defs, b.TransactionTables()...)
	seen := map[string]bool{}
	for _, name := range b.reg.Entities() {
		d, err := b.reg.Descriptor(name)
		if err != nil {
			return nil, err
		}
		t, err := b.VersionTable(name)
		if err != nil {
			return nil, err
		}
		if !seen[t.Name] {
			seen[t.Name] = true
			defs = append(defs, t)
		} else if d.Inheritance == InheritanceSingle {
			// Re-derived with the child's columns; replace the earlier def.
			for i, existing := range defs {
				if existing.Name == t.Name {
					defs[i] = t
				}
			}
		}
		for _, rel := range d.Relationships {
			if rel.Kind != ManyToMany {
				continue
			}
			at, err := b.AssociationVersionTable(name, rel.Name)
			if err != nil {
				return nil, err
			}
			if !seen[at.Name] {
				seen[at.Name] = true
				defs = append(defs, at)
			}
		}
	}
	return defs, nil
}
