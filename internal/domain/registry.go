package domain

import (
	"github.com/fairshare-app/fairshare/internal/versioning"
)

// NewRegistry declares the tracked entities and freezes the result. The
// password field is redacted from changesets; converted_amount collapses
// out of a changeset whenever amount changed with it.
func NewRegistry(opts versioning.Options) (*versioning.Registry, error) {
	reg := versioning.NewRegistry(opts)

	err := reg.Register(versioning.EntityDescriptor{
		Name: "Project",
		Fields: []versioning.Field{
			{Name: "id", Type: "varchar(64)", PrimaryKey: true},
			{Name: "name", Type: "text"},
			{Name: "password", Type: "varchar(128)", Redacted: true},
			{Name: "contact_email", Type: "varchar(128)"},
			{Name: "default_currency", Type: "varchar(3)"},
			{Name: "logging_preference", Type: "smallint"},
		},
		Relationships: []versioning.Relationship{
			{Name: "members", Kind: versioning.OneToMany, Target: "Member", LocalColumn: "project_id", RemoteColumn: "id"},
		},
	})
	if err != nil {
		return nil, err
	}

	err = reg.Register(versioning.EntityDescriptor{
		Name: "Member",
		Fields: []versioning.Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "project_id", Type: "varchar(64)"},
			{Name: "name", Type: "text"},
			{Name: "weight", Type: "float8"},
			{Name: "activated", Type: "boolean"},
		},
		Relationships: []versioning.Relationship{
			{Name: "project", Kind: versioning.ManyToOne, Target: "Project", LocalColumn: "project_id", RemoteColumn: "id"},
			{Name: "bills", Kind: versioning.OneToMany, Target: "Bill", LocalColumn: "payer_id", RemoteColumn: "id"},
		},
	})
	if err != nil {
		return nil, err
	}

	err = reg.Register(versioning.EntityDescriptor{
		Name: "Bill",
		Fields: []versioning.Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "payer_id", Type: "bigint"},
			{Name: "amount", Type: "float8"},
			{Name: "date", Type: "date"},
			{Name: "creation_date", Type: "date"},
			{Name: "what", Type: "text"},
			{Name: "external_link", Type: "text"},
			{Name: "original_currency", Type: "varchar(3)"},
			{Name: "converted_amount", Type: "float8"},
		},
		Relationships: []versioning.Relationship{
			{Name: "payer", Kind: versioning.ManyToOne, Target: "Member", LocalColumn: "payer_id", RemoteColumn: "id"},
			{
				Name:              "owers",
				Kind:              versioning.ManyToMany,
				Target:            "Member",
				AssociationTable:  "bill_owers",
				LocalAssocColumn:  "bill_id",
				RemoteAssocColumn: "member_id",
			},
		},
		Derived: []versioning.DerivedField{
			{Field: "converted_amount", From: "amount"},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := reg.Build(); err != nil {
		return nil, err
	}
	return reg, nil
}
