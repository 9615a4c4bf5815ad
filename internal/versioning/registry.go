package versioning

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Strategy selects how historical versions are located.
type Strategy string

const (
	// StrategySubquery locates the version current as of a transaction with a
	// grouped max-aggregate subquery. No extra bookkeeping columns are needed.
	StrategySubquery Strategy = "subquery"
	// StrategyValidity stores an explicit [transaction_id, end_transaction_id)
	// interval on every version row.
	StrategyValidity Strategy = "validity"
)

// Inheritance describes how a child entity shares tables with its parent.
type Inheritance string

const (
	InheritanceNone   Inheritance = ""
	InheritanceSingle Inheritance = "single"
	InheritanceJoined Inheritance = "joined"
)

const (
	TransactionColumn    = "transaction_id"
	EndTransactionColumn = "end_transaction_id"
	OperationTypeColumn  = "operation_type"
	ModColumnSuffix      = "_mod"
)

// Field describes one tracked column of an entity.
type Field struct {
	Name       string
	Type       string // SQL type, e.g. "bigint", "text", "float8", "date"
	PrimaryKey bool
	Excluded   bool // present on the live table but never versioned
	Redacted   bool // always overwritten, never meaningfully diffable
}

// RelationshipKind enumerates the supported association shapes.
type RelationshipKind int

const (
	ManyToOne RelationshipKind = iota
	OneToMany
	ManyToMany
)

// Relationship declares an association between two registered entities.
// The reflector uses it to build time-correct accessors on version rows.
type Relationship struct {
	Name   string
	Kind   RelationshipKind
	Target string

	// LocalColumn/RemoteColumn describe the join for many-to-one (fk on the
	// local table) and one-to-many (fk on the target table).
	LocalColumn  string
	RemoteColumn string

	// Association* describe the join table for many-to-many.
	AssociationTable  string
	LocalAssocColumn  string
	RemoteAssocColumn string
}

// DerivedField marks a field whose value is a pure re-derivation of another
// field; the changeset engine drops it when both changed identically.
type DerivedField struct {
	Field string
	From  string
}

// EntityDescriptor declares one trackable entity. Descriptors are plain data:
// the registry validates and freezes them at build time, replacing the
// runtime introspection the engine would otherwise need.
type EntityDescriptor struct {
	Name          string
	Table         string // derived from Name when empty
	Fields        []Field
	Relationships []Relationship
	Strategy      Strategy
	Derived       []DerivedField

	// TrackPropertyMods adds one boolean <field>_mod column per non-key field.
	TrackPropertyMods bool
	// NullDelete stores NULL for every non-key field on DELETE versions.
	NullDelete bool

	// Extends names the parent entity for inherited mappings.
	Extends     string
	Inheritance Inheritance
}

// VersionTable returns the shadow table name for this entity.
func (d *EntityDescriptor) VersionTable() string {
	return d.Table + "_versions"
}

// PrimaryKey returns the primary key column names in declaration order.
func (d *EntityDescriptor) PrimaryKey() []string {
	var pks []string
	for _, f := range d.Fields {
		if f.PrimaryKey {
			pks = append(pks, f.Name)
		}
	}
	return pks
}

// TrackedFields returns all non-excluded fields in declaration order.
func (d *EntityDescriptor) TrackedFields() []Field {
	var out []Field
	for _, f := range d.Fields {
		if !f.Excluded {
			out = append(out, f)
		}
	}
	return out
}

func (d *EntityDescriptor) field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (d *EntityDescriptor) relationship(name string) (Relationship, bool) {
	for _, r := range d.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// Options carry registry-wide settings.
type Options struct {
	// DefaultStrategy applies to descriptors that do not set one.
	DefaultStrategy Strategy
	// NativeVersioning delegates version-row writes to compiled database
	// triggers; the unit of work then only maintains the transaction ledger.
	NativeVersioning bool
}

// Registry holds all entity descriptors, immutable after Build. It is the
// explicit context object shared by the schema builder, unit of work,
// fetchers and reflectors.
type Registry struct {
	opts     Options
	entities map[string]*EntityDescriptor
	order    []string
	built    bool
}

func NewRegistry(opts Options) *Registry {
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = StrategySubquery
	}
	return &Registry{
		opts:     opts,
		entities: make(map[string]*EntityDescriptor),
	}
}

func (r *Registry) Options() Options { return r.opts }

// Register adds a descriptor. Must be called before Build.
func (r *Registry) Register(d EntityDescriptor) error {
	if r.built {
		return fmt.Errorf("registry already built, cannot register %q", d.Name)
	}
	if d.Name == "" {
		return &ConfigError{Entity: d.Name, Reason: "entity name is required"}
	}
	if _, ok := r.entities[d.Name]; ok {
		return &ConfigError{Entity: d.Name, Reason: "entity registered twice"}
	}
	if d.Table == "" {
		d.Table = inflection.Plural(snakeCase(d.Name))
	}
	if d.Strategy == "" {
		d.Strategy = r.opts.DefaultStrategy
	}
	cp := d
	r.entities[d.Name] = &cp
	r.order = append(r.order, d.Name)
	return nil
}

// Build validates every descriptor and freezes the registry. All
// configuration errors are reported here, before any writes are attempted.
func (r *Registry) Build() error {
	for _, name := range r.order {
		d := r.entities[name]
		if len(d.PrimaryKey()) == 0 {
			return &ConfigError{Entity: name, Reason: "no primary key field declared"}
		}
		if d.Strategy != StrategySubquery && d.Strategy != StrategyValidity {
			return &ConfigError{Entity: name, Reason: fmt.Sprintf("unknown strategy %q", d.Strategy)}
		}
		if err := r.validateInheritance(d); err != nil {
			return err
		}
		for _, rel := range d.Relationships {
			if err := r.validateRelationship(d, rel); err != nil {
				return err
			}
		}
		for _, der := range d.Derived {
			if _, ok := d.field(der.Field); !ok {
				return &ConfigError{Entity: name, Reason: fmt.Sprintf("derived field %q does not exist", der.Field)}
			}
			if _, ok := d.field(der.From); !ok {
				return &ConfigError{Entity: name, Reason: fmt.Sprintf("derived field %q references unknown field %q", der.Field, der.From)}
			}
		}
	}
	r.built = true
	return nil
}

func (r *Registry) validateInheritance(d *EntityDescriptor) error {
	if d.Extends == "" {
		if d.Inheritance != InheritanceNone {
			return &ConfigError{Entity: d.Name, Reason: "inheritance mode set without a parent entity"}
		}
		return nil
	}
	parent, ok := r.entities[d.Extends]
	if !ok {
		return &ConfigError{Entity: d.Name, Reason: fmt.Sprintf("parent entity %q is not registered", d.Extends)}
	}
	if d.Inheritance != InheritanceSingle && d.Inheritance != InheritanceJoined {
		return &ConfigError{Entity: d.Name, Reason: "parent entity set without an inheritance mode"}
	}
	if parent.Strategy != d.Strategy {
		return &ConfigError{Entity: d.Name, Reason: "inherited entities must share the parent's strategy"}
	}
	if d.Inheritance == InheritanceSingle && d.Table != parent.Table {
		return &ConfigError{Entity: d.Name, Reason: "single-table inheritance requires the parent's table"}
	}
	return nil
}

func (r *Registry) validateRelationship(d *EntityDescriptor, rel Relationship) error {
	if rel.Name == "" {
		return &ConfigError{Entity: d.Name, Reason: "relationship without a name"}
	}
	target, ok := r.entities[rel.Target]
	if !ok {
		return &ConfigError{
			Entity: d.Name,
			Reason: fmt.Sprintf("relationship %q references unversioned entity %q", rel.Name, rel.Target),
		}
	}
	switch rel.Kind {
	case ManyToOne:
		if _, ok := d.field(rel.LocalColumn); !ok {
			return &ConfigError{Entity: d.Name, Reason: fmt.Sprintf("relationship %q: local column %q does not exist", rel.Name, rel.LocalColumn)}
		}
		if _, ok := target.field(rel.RemoteColumn); !ok {
			return &ConfigError{Entity: d.Name, Reason: fmt.Sprintf("relationship %q: remote column %q does not exist on %q", rel.Name, rel.RemoteColumn, rel.Target)}
		}
	case OneToMany:
		if _, ok := target.field(rel.LocalColumn); !ok {
			return &ConfigError{Entity: d.Name, Reason: fmt.Sprintf("relationship %q: foreign key %q does not exist on %q", rel.Name, rel.LocalColumn, rel.Target)}
		}
	case ManyToMany:
		if rel.AssociationTable == "" || rel.LocalAssocColumn == "" || rel.RemoteAssocColumn == "" {
			return &ConfigError{Entity: d.Name, Reason: fmt.Sprintf("relationship %q: many-to-many requires association table and columns", rel.Name)}
		}
	default:
		return &ConfigError{Entity: d.Name, Reason: fmt.Sprintf("relationship %q: unknown kind", rel.Name)}
	}
	return nil
}

// Descriptor returns the descriptor for the named entity, or ErrNotVersioned.
func (r *Registry) Descriptor(name string) (*EntityDescriptor, error) {
	d, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotVersioned, name)
	}
	return d, nil
}

// Entities returns all registered entity names in registration order.
func (r *Registry) Entities() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Parent returns the parent descriptor for an inherited entity, nil otherwise.
func (r *Registry) Parent(d *EntityDescriptor) *EntityDescriptor {
	if d.Extends == "" {
		return nil
	}
	return r.entities[d.Extends]
}

// Root walks the inheritance chain up to the topmost ancestor.
func (r *Registry) Root(d *EntityDescriptor) *EntityDescriptor {
	for d.Extends != "" {
		parent := r.entities[d.Extends]
		if parent == nil {
			break
		}
		d = parent
	}
	return d
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, ch := range name {
		if unicode.IsUpper(ch) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(ch))
		} else {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
