package versioning

import (
	"testing"
)

func TestVersionFromRowBookkeeping(t *testing.T) {
	reg := buildTestRegistry(t, Options{DefaultStrategy: StrategyValidity})
	d, _ := reg.Descriptor("Bill")

	v := versionFromRow(d, map[string]any{
		"id":                 int64(7),
		"what":               "beer",
		"amount":             12.5,
		"transaction_id":     int64(42),
		"end_transaction_id": int64(50),
		"operation_type":     int16(1),
	})

	if v.Entity != "Bill" {
		t.Errorf("unexpected entity %q", v.Entity)
	}
	if v.Key["id"] != int64(7) {
		t.Errorf("unexpected key: %v", v.Key)
	}
	if v.TransactionID != 42 {
		t.Errorf("expected transaction 42, got %d", v.TransactionID)
	}
	if !v.EndTxID.Valid || v.EndTxID.Int64 != 50 {
		t.Errorf("expected closed interval at 50, got %+v", v.EndTxID)
	}
	if v.Operation != OpUpdate {
		t.Errorf("expected update, got %s", v.Operation)
	}
	if _, ok := v.Fields["transaction_id"]; ok {
		t.Errorf("bookkeeping columns must not leak into Fields")
	}
	if v.Fields["what"] != "beer" {
		t.Errorf("unexpected field value: %v", v.Fields["what"])
	}
}

func TestVersionFromRowOpenInterval(t *testing.T) {
	reg := buildTestRegistry(t, Options{DefaultStrategy: StrategyValidity})
	d, _ := reg.Descriptor("Bill")

	v := versionFromRow(d, map[string]any{
		"id":                 int64(7),
		"transaction_id":     int64(42),
		"end_transaction_id": nil,
		"operation_type":     int16(0),
	})
	if v.EndTxID.Valid {
		t.Errorf("open interval must have a null end transaction")
	}
}

func TestVersionFromRowModColumns(t *testing.T) {
	reg := NewRegistry(Options{})
	if err := reg.Register(EntityDescriptor{
		Name: "Note",
		Fields: []Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "body", Type: "text"},
		},
		TrackPropertyMods: true,
	}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if err := reg.Build(); err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	d, _ := reg.Descriptor("Note")

	v := versionFromRow(d, map[string]any{
		"id":             int64(1),
		"body":           "hi",
		"body_mod":       true,
		"transaction_id": int64(9),
		"operation_type": int16(0),
	})
	if !v.Mods["body"] {
		t.Errorf("expected body flagged as modified, got %v", v.Mods)
	}
	if _, ok := v.Fields["body_mod"]; ok {
		t.Errorf("mod columns must not leak into Fields")
	}
}

func TestKeyCanonicalOrder(t *testing.T) {
	d := &EntityDescriptor{
		Name: "Pair",
		Fields: []Field{
			{Name: "a", PrimaryKey: true},
			{Name: "b", PrimaryKey: true},
		},
	}
	k := Key{"b": 2, "a": 1}
	if got := k.canonical(d); got != "1/2" {
		t.Errorf("expected declaration-order canonical key, got %q", got)
	}
}

func TestOperationTypeString(t *testing.T) {
	if OpInsert.String() != "insert" || OpUpdate.String() != "update" || OpDelete.String() != "delete" {
		t.Errorf("unexpected operation names: %s %s %s", OpInsert, OpUpdate, OpDelete)
	}
}
