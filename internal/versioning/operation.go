package versioning

// FieldChange carries the committed old value and the pending new value of
// one scalar field.
type FieldChange struct {
	Old any
	New any
}

// Operation is one pending insert/update/delete observed for an entity
// instance during the current write transaction.
type Operation struct {
	Entity    string
	Key       Key
	Type      OperationType
	Fields    map[string]any         // current tracked field values
	Changed   map[string]FieldChange // scalar fields that actually changed
	processed bool
}

type operationKey struct {
	entity string
	key    string
}

// Operations collects pending operations for one write transaction, keyed by
// (entity type, entity identity), preserving first-seen order.
type Operations struct {
	order []operationKey
	byKey map[operationKey]*Operation
}

func NewOperations() *Operations {
	return &Operations{byKey: make(map[operationKey]*Operation)}
}

func (o *Operations) keyFor(d *EntityDescriptor, key Key) operationKey {
	return operationKey{entity: d.Name, key: key.canonical(d)}
}

func (o *Operations) add(k operationKey, op *Operation) {
	if _, ok := o.byKey[k]; !ok {
		o.order = append(o.order, k)
	}
	o.byKey[k] = op
}

// AddInsert registers a pending INSERT. If the same identity already has a
// pending DELETE in this transaction the net operation is an UPDATE: the row
// never stops existing from the database's point of view. Re-tracking an
// already pending INSERT refreshes its values and keeps the type.
func (o *Operations) AddInsert(d *EntityDescriptor, key Key, fields map[string]any) {
	k := o.keyFor(d, key)
	if pending, ok := o.byKey[k]; ok {
		if pending.Type == OpDelete {
			o.add(k, &Operation{Entity: d.Name, Key: key, Type: OpUpdate, Fields: fields})
			return
		}
		pending.Fields = fields
		pending.processed = false
		return
	}
	o.add(k, &Operation{Entity: d.Name, Key: key, Type: OpInsert, Fields: fields})
}

// AddUpdate registers a pending UPDATE, but only when at least one tracked
// scalar field actually changed. Pure collection-membership edits are
// handled separately by the association delta path. An identity inserted
// earlier in the same transaction stays an INSERT with refreshed values.
func (o *Operations) AddUpdate(d *EntityDescriptor, key Key, fields map[string]any, changed map[string]FieldChange) {
	tracked := make(map[string]FieldChange, len(changed))
	for name, ch := range changed {
		if f, ok := d.field(name); ok && !f.Excluded {
			tracked[name] = ch
		}
	}
	if len(tracked) == 0 {
		return
	}
	k := o.keyFor(d, key)
	if pending, ok := o.byKey[k]; ok && pending.Type != OpDelete {
		pending.Fields = fields
		pending.processed = false
		if pending.Type == OpInsert {
			return
		}
		if pending.Changed == nil {
			pending.Changed = map[string]FieldChange{}
		}
		for name, ch := range tracked {
			if earlier, ok := pending.Changed[name]; ok {
				ch.Old = earlier.Old
			}
			pending.Changed[name] = ch
		}
		return
	}
	o.add(k, &Operation{
		Entity:  d.Name,
		Key:     key,
		Type:    OpUpdate,
		Fields:  fields,
		Changed: tracked,
	})
}

// AddTouch registers a version-producing UPDATE for an identity whose
// collection membership changed without any scalar change. A pending
// operation already yields the version row, so touches never override one.
func (o *Operations) AddTouch(d *EntityDescriptor, key Key, fields map[string]any) {
	k := o.keyFor(d, key)
	if _, ok := o.byKey[k]; ok {
		return
	}
	o.add(k, &Operation{Entity: d.Name, Key: key, Type: OpUpdate, Fields: fields})
}

// AddDelete registers a pending DELETE, replacing any pending operation for
// the same identity.
func (o *Operations) AddDelete(d *EntityDescriptor, key Key, fields map[string]any) {
	o.add(o.keyFor(d, key), &Operation{Entity: d.Name, Key: key, Type: OpDelete, Fields: fields})
}

// Get returns the pending operation for an identity, if any.
func (o *Operations) Get(d *EntityDescriptor, key Key) (*Operation, bool) {
	op, ok := o.byKey[o.keyFor(d, key)]
	return op, ok
}

// All returns pending operations in first-seen order.
func (o *Operations) All() []*Operation {
	out := make([]*Operation, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, o.byKey[k])
	}
	return out
}

// Entities returns the distinct entity names with pending operations.
func (o *Operations) Entities() []string {
	seen := map[string]bool{}
	var names []string
	for _, k := range o.order {
		if !seen[k.entity] {
			seen[k.entity] = true
			names = append(names, k.entity)
		}
	}
	return names
}

func (o *Operations) Len() int { return len(o.byKey) }

// Reset drops all pending operations.
func (o *Operations) Reset() {
	o.order = nil
	o.byKey = make(map[operationKey]*Operation)
}
