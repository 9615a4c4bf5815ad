package versioning

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestCollapseDerivedDropsMirroredChange(t *testing.T) {
	reg := buildTestRegistry(t, Options{})
	d, _ := reg.Descriptor("Bill")

	cs := &Changeset{Fields: map[string]FieldChange{
		"amount":           {Old: 10.0, New: 25.0},
		"converted_amount": {Old: 10.0, New: 25.0},
		"what":             {Old: "beer", New: "wine"},
	}}
	CollapseDerived(d, cs)

	if _, ok := cs.Fields["converted_amount"]; ok {
		t.Errorf("expected converted_amount to collapse into the amount change")
	}
	if _, ok := cs.Fields["amount"]; !ok {
		t.Errorf("amount change must survive")
	}
	if _, ok := cs.Fields["what"]; !ok {
		t.Errorf("unrelated changes must survive")
	}
}

func TestCollapseDerivedKeepsIndependentChange(t *testing.T) {
	reg := buildTestRegistry(t, Options{})
	d, _ := reg.Descriptor("Bill")

	// Currency conversion moved the derived value differently.
	cs := &Changeset{Fields: map[string]FieldChange{
		"amount":           {Old: 10.0, New: 25.0},
		"converted_amount": {Old: 11.2, New: 28.0},
	}}
	CollapseDerived(d, cs)

	if _, ok := cs.Fields["converted_amount"]; !ok {
		t.Errorf("a diverging derived change must be kept")
	}
}

func TestCollapseDerivedWithoutSourceChange(t *testing.T) {
	reg := buildTestRegistry(t, Options{})
	d, _ := reg.Descriptor("Bill")

	cs := &Changeset{Fields: map[string]FieldChange{
		"converted_amount": {Old: 11.2, New: 28.0},
	}}
	CollapseDerived(d, cs)

	if _, ok := cs.Fields["converted_amount"]; !ok {
		t.Errorf("derived change without a source change must be kept")
	}
}

func TestRedactFieldsBlanksValues(t *testing.T) {
	reg := buildTestRegistry(t, Options{})
	d, _ := reg.Descriptor("Project")

	cs := &Changeset{Fields: map[string]FieldChange{
		"password": {Old: "hash-a", New: "hash-b"},
		"name":     {Old: "trip", New: "holiday"},
	}}
	RedactFields(d, cs)

	pw, ok := cs.Fields["password"]
	if !ok {
		t.Fatalf("the fact of the password change must be kept")
	}
	if pw.Old != nil || pw.New != nil {
		t.Errorf("password values must be blanked, got %+v", pw)
	}
	if name := cs.Fields["name"]; name.Old != "trip" || name.New != "holiday" {
		t.Errorf("non-redacted fields must keep their values, got %+v", name)
	}
}

func TestChangesetEmptyAndNames(t *testing.T) {
	cs := &Changeset{Fields: map[string]FieldChange{}}
	if !cs.Empty() {
		t.Errorf("expected empty changeset")
	}

	cs.Fields["what"] = FieldChange{Old: "a", New: "b"}
	cs.Fields["amount"] = FieldChange{Old: 1.0, New: 2.0}
	if cs.Empty() {
		t.Errorf("expected non-empty changeset")
	}
	names := cs.ChangedFieldNames()
	if len(names) != 2 || names[0] != "amount" || names[1] != "what" {
		t.Errorf("expected sorted names, got %v", names)
	}

	membership := &Changeset{Memberships: map[string]MembershipChange{"owers": {Added: []int64{1}}}}
	if membership.Empty() {
		t.Errorf("a membership-only changeset is not empty")
	}
}

func TestChangesetBuilderDiffsAgainstPredecessor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := buildTestRegistry(t, Options{})
	builder := NewChangesetBuilder(reg, CollapseDerived)

	v := &Version{
		Entity:        "Bill",
		Key:           Key{"id": int64(3)},
		TransactionID: 20,
		Operation:     OpUpdate,
		Fields: map[string]any{
			"payer_id": int64(7), "amount": 55.0, "converted_amount": 55.0, "what": "dinner",
		},
	}

	// The predecessor carries the old values; the membership rows of this
	// transaction split into additions and removals, with churned partners
	// cancelling out.
	mock.ExpectQuery(`SELECT \* FROM bills_versions WHERE id = \$1 AND transaction_id = \(SELECT max\(transaction_id\)`).
		WithArgs(int64(3), int64(20), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "payer_id", "amount", "converted_amount", "what", "transaction_id", "operation_type"}).
			AddRow(int64(3), int64(7), 40.0, 40.0, "dinner", int64(12), int16(OpInsert)))
	mock.ExpectQuery(`SELECT member_id, operation_type FROM bill_owers_versions WHERE bill_id = \$1 AND transaction_id = \$2`).
		WithArgs(int64(3), int64(20)).
		WillReturnRows(pgxmock.NewRows([]string{"member_id", "operation_type"}).
			AddRow(int64(8), int16(OpInsert)).
			AddRow(int64(9), int16(OpDelete)).
			AddRow(int64(10), int16(OpInsert)).
			AddRow(int64(10), int16(OpDelete)))

	cs, err := builder.Changeset(context.Background(), mock, v)
	require.NoError(t, err)

	// Mirrored derived change collapses into its source.
	require.Equal(t, []string{"amount"}, cs.ChangedFieldNames())
	require.Equal(t, FieldChange{Old: 40.0, New: 55.0}, cs.Fields["amount"])

	mc := cs.Memberships["owers"]
	require.Equal(t, []int64{8}, mc.Added)
	require.Equal(t, []int64{9}, mc.Removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangesetBuilderInsertDiffsAgainstNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := buildTestRegistry(t, Options{})
	builder := NewChangesetBuilder(reg)

	v := &Version{
		Entity:        "Member",
		Key:           Key{"id": int64(5)},
		TransactionID: 12,
		Operation:     OpInsert,
		Fields:        map[string]any{"project_id": "trip", "name": "zoe"},
	}

	mock.ExpectQuery(`SELECT \* FROM members_versions WHERE id = \$1 AND transaction_id = \(SELECT max\(transaction_id\)`).
		WithArgs(int64(5), int64(12), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "name", "transaction_id", "operation_type"}))

	cs, err := builder.Changeset(context.Background(), mock, v)
	require.NoError(t, err)
	require.Equal(t, []string{"name", "project_id"}, cs.ChangedFieldNames())
	require.Equal(t, FieldChange{Old: nil, New: "zoe"}, cs.Fields["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}
