package versioning

import (
	"testing"
)

func billDescriptor() *EntityDescriptor {
	return &EntityDescriptor{
		Name:  "Bill",
		Table: "bills",
		Fields: []Field{
			{Name: "id", Type: "bigserial", PrimaryKey: true},
			{Name: "what", Type: "text"},
			{Name: "amount", Type: "float8"},
			{Name: "draft", Type: "boolean", Excluded: true},
		},
	}
}

func TestOperationsInsertAfterDeleteBecomesUpdate(t *testing.T) {
	d := billDescriptor()
	ops := NewOperations()

	ops.AddDelete(d, Key{"id": int64(1)}, map[string]any{"id": int64(1), "what": "old"})
	ops.AddInsert(d, Key{"id": int64(1)}, map[string]any{"id": int64(1), "what": "new"})

	op, ok := ops.Get(d, Key{"id": int64(1)})
	if !ok {
		t.Fatalf("expected a pending operation")
	}
	if op.Type != OpUpdate {
		t.Errorf("expected update after delete+insert, got %s", op.Type)
	}
	if op.Fields["what"] != "new" {
		t.Errorf("expected the re-inserted values, got %v", op.Fields["what"])
	}
	if ops.Len() != 1 {
		t.Errorf("expected one merged operation, got %d", ops.Len())
	}
}

func TestOperationsUpdateAfterInsertStaysInsert(t *testing.T) {
	d := billDescriptor()
	ops := NewOperations()

	ops.AddInsert(d, Key{"id": int64(2)}, map[string]any{"id": int64(2), "what": "first"})
	ops.AddUpdate(d, Key{"id": int64(2)},
		map[string]any{"id": int64(2), "what": "second"},
		map[string]FieldChange{"what": {Old: "first", New: "second"}},
	)

	op, _ := ops.Get(d, Key{"id": int64(2)})
	if op.Type != OpInsert {
		t.Errorf("expected insert to survive a same-transaction update, got %s", op.Type)
	}
	if op.Fields["what"] != "second" {
		t.Errorf("expected refreshed field values, got %v", op.Fields["what"])
	}
}

func TestOperationsUpdateWithoutTrackedChangeIsDropped(t *testing.T) {
	d := billDescriptor()
	ops := NewOperations()

	ops.AddUpdate(d, Key{"id": int64(3)},
		map[string]any{"id": int64(3)},
		map[string]FieldChange{"draft": {Old: false, New: true}},
	)
	if ops.Len() != 0 {
		t.Errorf("expected excluded-only update to be dropped, got %d operations", ops.Len())
	}

	ops.AddUpdate(d, Key{"id": int64(3)}, map[string]any{"id": int64(3)}, nil)
	if ops.Len() != 0 {
		t.Errorf("expected no-change update to be dropped, got %d operations", ops.Len())
	}
}

func TestOperationsUpdateMergeKeepsEarliestOldValue(t *testing.T) {
	d := billDescriptor()
	ops := NewOperations()

	ops.AddUpdate(d, Key{"id": int64(6)},
		map[string]any{"id": int64(6), "what": "second"},
		map[string]FieldChange{"what": {Old: "first", New: "second"}},
	)
	ops.AddUpdate(d, Key{"id": int64(6)},
		map[string]any{"id": int64(6), "what": "third"},
		map[string]FieldChange{"what": {Old: "second", New: "third"}},
	)

	op, _ := ops.Get(d, Key{"id": int64(6)})
	if ops.Len() != 1 {
		t.Fatalf("expected the updates to merge, got %d operations", ops.Len())
	}
	ch := op.Changed["what"]
	if ch.Old != "first" || ch.New != "third" {
		t.Errorf("merged change must span the transaction, got %+v", ch)
	}
	if op.Fields["what"] != "third" {
		t.Errorf("expected the latest field values, got %v", op.Fields["what"])
	}
}

func TestOperationsTouchYieldsUpdate(t *testing.T) {
	d := billDescriptor()
	ops := NewOperations()

	ops.AddTouch(d, Key{"id": int64(5)}, map[string]any{"id": int64(5), "what": "same"})
	op, ok := ops.Get(d, Key{"id": int64(5)})
	if !ok || op.Type != OpUpdate {
		t.Fatalf("expected a pending update, got %+v", op)
	}
	if len(op.Changed) != 0 {
		t.Errorf("a touch carries no field changes, got %v", op.Changed)
	}

	// A touch never overrides a real pending operation.
	ops.AddDelete(d, Key{"id": int64(5)}, map[string]any{"id": int64(5), "what": "same"})
	ops.AddTouch(d, Key{"id": int64(5)}, map[string]any{"id": int64(5), "what": "same"})
	op, _ = ops.Get(d, Key{"id": int64(5)})
	if op.Type != OpDelete {
		t.Errorf("expected the delete to survive the touch, got %s", op.Type)
	}
}

func TestOperationsDeleteReplacesPendingUpdate(t *testing.T) {
	d := billDescriptor()
	ops := NewOperations()

	ops.AddUpdate(d, Key{"id": int64(4)},
		map[string]any{"id": int64(4), "what": "renamed"},
		map[string]FieldChange{"what": {Old: "x", New: "renamed"}},
	)
	ops.AddDelete(d, Key{"id": int64(4)}, map[string]any{"id": int64(4), "what": "renamed"})

	op, _ := ops.Get(d, Key{"id": int64(4)})
	if op.Type != OpDelete {
		t.Errorf("expected delete to replace the update, got %s", op.Type)
	}
}

func TestOperationsOrderAndEntities(t *testing.T) {
	bill := billDescriptor()
	member := &EntityDescriptor{
		Name:   "Member",
		Table:  "members",
		Fields: []Field{{Name: "id", Type: "bigserial", PrimaryKey: true}, {Name: "name", Type: "text"}},
	}
	ops := NewOperations()
	ops.AddInsert(member, Key{"id": int64(1)}, map[string]any{"id": int64(1)})
	ops.AddInsert(bill, Key{"id": int64(1)}, map[string]any{"id": int64(1)})
	ops.AddInsert(member, Key{"id": int64(2)}, map[string]any{"id": int64(2)})

	all := ops.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(all))
	}
	if all[0].Entity != "Member" || all[1].Entity != "Bill" || all[2].Entity != "Member" {
		t.Errorf("expected first-seen order, got %s %s %s", all[0].Entity, all[1].Entity, all[2].Entity)
	}

	entities := ops.Entities()
	if len(entities) != 2 || entities[0] != "Member" || entities[1] != "Bill" {
		t.Errorf("unexpected entity list: %v", entities)
	}

	ops.Reset()
	if ops.Len() != 0 {
		t.Errorf("expected reset to drop all operations")
	}
}
