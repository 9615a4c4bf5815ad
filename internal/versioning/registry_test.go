package versioning

import (
	"errors"
	"strings"
	"testing"
)

func buildTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	reg := NewRegistry(opts)

	if err := reg.Register(EntityDescriptor{
		Name: "Project",
		Fields: []Field{
			{Name: "id", Type: "varchar(64)", PrimaryKey: true},
			{Name: "name", Type: "text"},
			{Name: "password", Type: "varchar(128)", Redacted: true},
		},
	}); err != nil {
		t.Fatalf("failed to register Project: %v", err)
	}
	if err := reg.Register(EntityDescriptor{
		Name: "Member",
		Fields: []Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "project_id", Type: "varchar(64)"},
			{Name: "name", Type: "text"},
		},
		Relationships: []Relationship{
			{Name: "project", Kind: ManyToOne, Target: "Project", LocalColumn: "project_id", RemoteColumn: "id"},
		},
	}); err != nil {
		t.Fatalf("failed to register Member: %v", err)
	}
	if err := reg.Register(EntityDescriptor{
		Name: "Bill",
		Fields: []Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "payer_id", Type: "bigint"},
			{Name: "amount", Type: "float8"},
			{Name: "converted_amount", Type: "float8"},
			{Name: "what", Type: "text"},
		},
		Relationships: []Relationship{
			{Name: "payer", Kind: ManyToOne, Target: "Member", LocalColumn: "payer_id", RemoteColumn: "id"},
			{Name: "owers", Kind: ManyToMany, Target: "Member", AssociationTable: "bill_owers", LocalAssocColumn: "bill_id", RemoteAssocColumn: "member_id"},
		},
		Derived: []DerivedField{{Field: "converted_amount", From: "amount"}},
	}); err != nil {
		t.Fatalf("failed to register Bill: %v", err)
	}
	if err := reg.Build(); err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return reg
}

func TestRegistryTableDerivation(t *testing.T) {
	reg := buildTestRegistry(t, Options{})
	d, err := reg.Descriptor("Project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Table != "projects" {
		t.Errorf("expected table projects, got %q", d.Table)
	}
	if d.VersionTable() != "projects_versions" {
		t.Errorf("expected version table projects_versions, got %q", d.VersionTable())
	}
	if d.Strategy != StrategySubquery {
		t.Errorf("expected default subquery strategy, got %q", d.Strategy)
	}
}

func TestRegistryCamelCaseTableDerivation(t *testing.T) {
	reg := NewRegistry(Options{})
	if err := reg.Register(EntityDescriptor{
		Name:   "BillOwer",
		Fields: []Field{{Name: "id", Type: "bigserial", PrimaryKey: true}},
	}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	d, _ := reg.Descriptor("BillOwer")
	if d.Table != "bill_owers" {
		t.Errorf("expected table bill_owers, got %q", d.Table)
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	reg := NewRegistry(Options{})
	d := EntityDescriptor{Name: "Project", Fields: []Field{{Name: "id", PrimaryKey: true}}}
	if err := reg.Register(d); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	err := reg.Register(d)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestRegistryBuildFailures(t *testing.T) {
	tests := []struct {
		name   string
		entity EntityDescriptor
		reason string
	}{
		{
			name:   "missing primary key",
			entity: EntityDescriptor{Name: "Thing", Fields: []Field{{Name: "name", Type: "text"}}},
			reason: "no primary key",
		},
		{
			name: "unknown relationship target",
			entity: EntityDescriptor{
				Name:          "Thing",
				Fields:        []Field{{Name: "id", PrimaryKey: true}, {Name: "other_id", Type: "bigint"}},
				Relationships: []Relationship{{Name: "other", Kind: ManyToOne, Target: "Missing", LocalColumn: "other_id", RemoteColumn: "id"}},
			},
			reason: "unversioned entity",
		},
		{
			name: "many-to-many without association table",
			entity: EntityDescriptor{
				Name:          "Thing",
				Fields:        []Field{{Name: "id", PrimaryKey: true}},
				Relationships: []Relationship{{Name: "others", Kind: ManyToMany, Target: "Thing"}},
			},
			reason: "association table",
		},
		{
			name: "derived field references unknown source",
			entity: EntityDescriptor{
				Name:    "Thing",
				Fields:  []Field{{Name: "id", PrimaryKey: true}, {Name: "total", Type: "float8"}},
				Derived: []DerivedField{{Field: "total", From: "missing"}},
			},
			reason: "unknown field",
		},
		{
			name: "inheritance mode without parent",
			entity: EntityDescriptor{
				Name:        "Thing",
				Fields:      []Field{{Name: "id", PrimaryKey: true}},
				Inheritance: InheritanceJoined,
			},
			reason: "without a parent",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry(Options{})
			if err := reg.Register(tc.entity); err != nil {
				t.Fatalf("registration failed: %v", err)
			}
			err := reg.Build()
			if err == nil {
				t.Fatalf("expected build to fail")
			}
			if !strings.Contains(err.Error(), tc.reason) {
				t.Errorf("expected error mentioning %q, got %v", tc.reason, err)
			}
		})
	}
}

func TestRegistryInheritanceChain(t *testing.T) {
	reg := NewRegistry(Options{})
	if err := reg.Register(EntityDescriptor{
		Name:   "Account",
		Fields: []Field{{Name: "id", Type: "bigserial", PrimaryKey: true}, {Name: "name", Type: "text"}},
	}); err != nil {
		t.Fatalf("failed to register Account: %v", err)
	}
	if err := reg.Register(EntityDescriptor{
		Name:        "AdminAccount",
		Fields:      []Field{{Name: "id", Type: "bigint", PrimaryKey: true}, {Name: "scope", Type: "text"}},
		Extends:     "Account",
		Inheritance: InheritanceJoined,
	}); err != nil {
		t.Fatalf("failed to register AdminAccount: %v", err)
	}
	if err := reg.Build(); err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	child, _ := reg.Descriptor("AdminAccount")
	parent := reg.Parent(child)
	if parent == nil || parent.Name != "Account" {
		t.Fatalf("expected Account parent, got %+v", parent)
	}
	if root := reg.Root(child); root.Name != "Account" {
		t.Errorf("expected Account root, got %q", root.Name)
	}
}

func TestRegistryDescriptorNotVersioned(t *testing.T) {
	reg := buildTestRegistry(t, Options{})
	_, err := reg.Descriptor("Ghost")
	if !errors.Is(err, ErrNotVersioned) {
		t.Errorf("expected ErrNotVersioned, got %v", err)
	}
}
