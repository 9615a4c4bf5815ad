package versioning

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// uowState tracks where a unit of work is in its lifecycle. Track calls are
// only legal before the flush starts; a finished unit of work must be reset
// before reuse.
type uowState int

const (
	stateIdle uowState = iota
	stateCollecting
	stateFlushing
	stateCommitted
	stateRolledBack
)

func (s uowState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCollecting:
		return "collecting"
	case stateFlushing:
		return "flushing"
	case stateCommitted:
		return "committed"
	case stateRolledBack:
		return "rolled back"
	}
	return "unknown"
}

// AssociationChange is one pending membership edit on a many-to-many
// collection.
type AssociationChange struct {
	Entity       string
	Relationship string
	LocalID      any
	RemoteID     any
	Op           OperationType // OpInsert or OpDelete
}

// UnitOfWork accumulates the trackable changes of one database transaction
// and writes the matching version rows at flush time. It is not safe for
// concurrent use; create one per transaction.
type UnitOfWork struct {
	reg          *Registry
	ledger       *Ledger
	policy       TrackingPolicy
	ops          *Operations
	associations []AssociationChange
	// assocsFlushed marks how many association changes earlier flush cycles
	// of this transaction already wrote.
	assocsFlushed int
	state         uowState
}

func NewUnitOfWork(reg *Registry, ledger *Ledger, policy TrackingPolicy) *UnitOfWork {
	if policy == nil {
		policy = RecordAll
	}
	return &UnitOfWork{
		reg:    reg,
		ledger: ledger,
		policy: policy,
		ops:    NewOperations(),
	}
}

// Ledger exposes the transaction ledger, for meta tagging.
func (u *UnitOfWork) Ledger() *Ledger { return u.ledger }

func (u *UnitOfWork) collecting() error {
	switch u.state {
	case stateIdle:
		u.state = stateCollecting
		return nil
	case stateCollecting:
		return nil
	}
	return fmt.Errorf("cannot track changes while %s", u.state)
}

// TrackInsert records a pending INSERT of an entity instance.
func (u *UnitOfWork) TrackInsert(entity string, key Key, fields map[string]any) error {
	d, err := u.reg.Descriptor(entity)
	if err != nil {
		return err
	}
	if err := u.collecting(); err != nil {
		return err
	}
	u.ops.AddInsert(d, key, fields)
	return nil
}

// TrackUpdate records a pending UPDATE. Updates that touch no tracked scalar
// field produce no operation.
func (u *UnitOfWork) TrackUpdate(entity string, key Key, fields map[string]any, changed map[string]FieldChange) error {
	d, err := u.reg.Descriptor(entity)
	if err != nil {
		return err
	}
	if err := u.collecting(); err != nil {
		return err
	}
	u.ops.AddUpdate(d, key, fields, changed)
	return nil
}

// TrackTouch records a version-producing UPDATE for an entity whose
// collection membership changed without any scalar change. Hosts call it
// alongside TrackAssociation with the owner's current values, saving the
// flush a live-row snapshot.
func (u *UnitOfWork) TrackTouch(entity string, key Key, fields map[string]any) error {
	d, err := u.reg.Descriptor(entity)
	if err != nil {
		return err
	}
	if err := u.collecting(); err != nil {
		return err
	}
	u.ops.AddTouch(d, key, fields)
	return nil
}

// TrackDelete records a pending DELETE.
func (u *UnitOfWork) TrackDelete(entity string, key Key, fields map[string]any) error {
	d, err := u.reg.Descriptor(entity)
	if err != nil {
		return err
	}
	if err := u.collecting(); err != nil {
		return err
	}
	u.ops.AddDelete(d, key, fields)
	return nil
}

// TrackAssociation records a membership edit on a many-to-many collection.
func (u *UnitOfWork) TrackAssociation(entity, relationship string, localID, remoteID any, op OperationType) error {
	d, err := u.reg.Descriptor(entity)
	if err != nil {
		return err
	}
	rel, ok := d.relationship(relationship)
	if !ok || rel.Kind != ManyToMany {
		return fmt.Errorf("entity %q has no many-to-many relationship %q", entity, relationship)
	}
	if err := u.collecting(); err != nil {
		return err
	}
	u.associations = append(u.associations, AssociationChange{
		Entity:       entity,
		Relationship: relationship,
		LocalID:      localID,
		RemoteID:     remoteID,
		Op:           op,
	})
	return nil
}

// HasChanges reports whether anything trackable was observed.
func (u *UnitOfWork) HasChanges() bool {
	return u.ops.Len() > 0 || len(u.associations) > 0
}

// pendingOps returns the operations no earlier flush cycle of this
// transaction has written yet.
func (u *UnitOfWork) pendingOps() []*Operation {
	var pending []*Operation
	for _, op := range u.ops.All() {
		if !op.processed {
			pending = append(pending, op)
		}
	}
	return pending
}

// Flush writes the version rows for every collected change. It must run on
// the same database transaction as the live writes so history and state
// commit or roll back together. Repeated flush cycles within one
// transaction fold into the same version rows, keyed by identity and
// transaction id. A policy error aborts the flush with nothing written; the
// caller is expected to roll the transaction back.
func (u *UnitOfWork) Flush(ctx context.Context, exec Executor) error {
	if u.state != stateCollecting && u.state != stateIdle {
		return fmt.Errorf("cannot flush while %s", u.state)
	}
	assocs := u.associations[u.assocsFlushed:]
	if len(u.pendingOps()) == 0 && len(assocs) == 0 {
		return nil
	}
	u.state = stateFlushing

	decision, err := u.policy(ctx)
	if err != nil {
		return fmt.Errorf("tracking policy rejected flush: %w", err)
	}
	if !decision.Record {
		for _, op := range u.pendingOps() {
			op.processed = true
		}
		u.assocsFlushed = len(u.associations)
		u.state = stateCollecting
		return nil
	}

	if err := u.ensureOwnerOps(ctx, exec, assocs); err != nil {
		return err
	}
	pending := u.pendingOps()

	tx, err := u.ledger.GetOrCreate(ctx, exec)
	if err != nil {
		return err
	}
	if !decision.RecordRemoteAddr && tx.RemoteAddr.Valid {
		if _, err := exec.Exec(ctx, `UPDATE transactions SET remote_addr = NULL WHERE id = $1`, tx.ID); err != nil {
			return fmt.Errorf("failed to strip transaction remote addr: %w", err)
		}
		tx.RemoteAddr.Valid = false
	}

	native := u.reg.Options().NativeVersioning
	entities := map[string]bool{}
	for _, op := range pending {
		entities[op.Entity] = true
		op.processed = true
		if native {
			continue
		}
		if err := u.writeVersion(ctx, exec, op, tx.ID); err != nil {
			return err
		}
	}
	for _, ac := range assocs {
		entities[ac.Entity] = true
		if native {
			continue
		}
		if err := u.writeAssociationVersion(ctx, exec, ac, tx.ID); err != nil {
			return err
		}
	}
	u.assocsFlushed = len(u.associations)

	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	if err := u.ledger.RecordChanges(ctx, exec, names); err != nil {
		return err
	}
	u.state = stateCollecting
	return nil
}

// ensureOwnerOps guarantees every membership edit hangs off a version row of
// the owning entity: an identity whose collections changed without any
// scalar change still gets an UPDATE version, snapshotted from its live row.
func (u *UnitOfWork) ensureOwnerOps(ctx context.Context, exec Executor, assocs []AssociationChange) error {
	for _, ac := range assocs {
		d, err := u.reg.Descriptor(ac.Entity)
		if err != nil {
			return err
		}
		pks := d.PrimaryKey()
		if len(pks) != 1 {
			continue
		}
		key := Key{pks[0]: ac.LocalID}
		if _, ok := u.ops.Get(d, key); ok {
			continue
		}
		fields, err := u.loadLiveFields(ctx, exec, d, key)
		if err != nil {
			return err
		}
		u.ops.AddTouch(d, key, fields)
	}
	return nil
}

func (u *UnitOfWork) loadLiveFields(ctx context.Context, exec Executor, d *EntityDescriptor, key Key) (map[string]any, error) {
	cols := make([]string, 0, len(d.TrackedFields()))
	for _, f := range d.TrackedFields() {
		cols = append(cols, f.Name)
	}
	query := NewQueryBuilder().Select(cols...).From(d.Table).Where(identityEq("", d, key))
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s snapshot query: %w", d.Name, err)
	}
	rows, err := exec.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s row: %w", d.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to snapshot %s row: %w", d.Name, err)
		}
		return nil, fmt.Errorf("live row of %s %s is gone", d.Name, key.canonical(d))
	}
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s snapshot: %w", d.Name, err)
	}
	fields := make(map[string]any, len(cols))
	for i, col := range cols {
		fields[col] = values[i]
	}
	return fields, nil
}

// writeVersion inserts one version row, splitting across parent and child
// shadow tables for joined inheritance and closing the predecessor's
// validity interval when the strategy asks for it.
func (u *UnitOfWork) writeVersion(ctx context.Context, exec Executor, op *Operation, txID int64) error {
	d, err := u.reg.Descriptor(op.Entity)
	if err != nil {
		return err
	}
	if d.Inheritance == InheritanceJoined {
		parent := u.reg.Parent(d)
		if err := u.insertVersionRow(ctx, exec, parent, op, txID, true); err != nil {
			return err
		}
		if err := u.insertVersionRow(ctx, exec, d, op, txID, false); err != nil {
			return err
		}
	} else {
		target := d
		if d.Inheritance == InheritanceSingle {
			target = u.reg.Root(d)
		}
		if err := u.insertVersionRowMerged(ctx, exec, target, d, op, txID); err != nil {
			return err
		}
	}
	if d.Strategy == StrategyValidity {
		return u.closeValidityInterval(ctx, exec, d, op, txID)
	}
	return nil
}

func (u *UnitOfWork) versionValue(d *EntityDescriptor, op *Operation, f Field) any {
	if f.PrimaryKey {
		return op.Key[f.Name]
	}
	if op.Type == OpDelete && d.NullDelete {
		return nil
	}
	return op.Fields[f.Name]
}

// insertVersionRow writes the shadow row holding the fields owned by table
// descriptor td. withBookkeeping selects the table that carries
// operation_type and the validity interval.
func (u *UnitOfWork) insertVersionRow(ctx context.Context, exec Executor, td *EntityDescriptor, op *Operation, txID int64, withBookkeeping bool) error {
	d, err := u.reg.Descriptor(op.Entity)
	if err != nil {
		return err
	}
	cols := []string{}
	vals := []any{}
	for _, f := range td.TrackedFields() {
		cols = append(cols, f.Name)
		vals = append(vals, u.versionValue(d, op, f))
		if td.TrackPropertyMods && !f.PrimaryKey && withBookkeeping {
			cols = append(cols, f.Name+ModColumnSuffix)
			vals = append(vals, u.fieldModified(op, f.Name))
		}
	}
	cols = append(cols, TransactionColumn)
	vals = append(vals, txID)
	if withBookkeeping {
		cols = append(cols, OperationTypeColumn)
		vals = append(vals, int16(op.Type))
	}
	return u.upsertVersionRow(ctx, exec, td.VersionTable(), cols, vals, td.PrimaryKey(), op.Entity)
}

// insertVersionRowMerged writes one row to table's shadow, using d's field
// set. For single-table inheritance the shadow table is the merged parent
// table but the values come from the child descriptor.
func (u *UnitOfWork) insertVersionRowMerged(ctx context.Context, exec Executor, table, d *EntityDescriptor, op *Operation, txID int64) error {
	cols := []string{}
	vals := []any{}
	for _, f := range d.TrackedFields() {
		cols = append(cols, f.Name)
		vals = append(vals, u.versionValue(d, op, f))
		if d.TrackPropertyMods && !f.PrimaryKey {
			cols = append(cols, f.Name+ModColumnSuffix)
			vals = append(vals, u.fieldModified(op, f.Name))
		}
	}
	cols = append(cols, TransactionColumn, OperationTypeColumn)
	vals = append(vals, txID, int16(op.Type))
	return u.upsertVersionRow(ctx, exec, table.VersionTable(), cols, vals, table.PrimaryKey(), op.Entity)
}

// fieldModified reports whether a field counts as modified for the _mod
// column: every field on INSERT and DELETE, only the actually changed ones
// on UPDATE.
func (u *UnitOfWork) fieldModified(op *Operation, name string) bool {
	if op.Type != OpUpdate {
		return true
	}
	_, ok := op.Changed[name]
	return ok
}

// upsertVersionRow gets-or-creates the version row keyed by entity identity
// and transaction id, so repeated flush cycles of one transaction fold into
// a single row instead of violating the shadow primary key.
func (u *UnitOfWork) upsertVersionRow(ctx context.Context, exec Executor, table string, cols []string, vals []any, pks []string, entity string) error {
	conflict := append(append([]string{}, pks...), TransactionColumn)
	in := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		in[c] = true
	}
	var assigns []string
	for _, c := range cols {
		if in[c] {
			continue
		}
		assigns = append(assigns, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	suffix := fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(conflict, ", "))
	if len(assigns) > 0 {
		suffix = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(conflict, ", "), strings.Join(assigns, ", "))
	}
	query := NewQueryBuilder().Insert(table).Columns(cols...).Values(vals...).Suffix(suffix)
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build version upsert: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to write version of %s: %w", entity, err)
	}
	return nil
}

// closeValidityInterval stamps the predecessor version's end_transaction_id
// with the current transaction.
func (u *UnitOfWork) closeValidityInterval(ctx context.Context, exec Executor, d *EntityDescriptor, op *Operation, txID int64) error {
	table := u.reg.Root(d).VersionTable()
	sub := fmt.Sprintf("SELECT max(%s) FROM %s v2 WHERE v2.%s < ?", TransactionColumn, table, TransactionColumn)
	args := []any{txID}
	for _, pk := range d.PrimaryKey() {
		sub += fmt.Sprintf(" AND v2.%s = ?", pk)
		args = append(args, op.Key[pk])
	}
	query := NewQueryBuilder().
		Update(table).
		Set(EndTransactionColumn, txID).
		Where(identityEq("", d, op.Key)).
		Where(sq.Eq{EndTransactionColumn: nil}).
		Where(fmt.Sprintf("%s = (%s)", TransactionColumn, sub), args...)
	sqlStr, sqlArgs, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build validity update: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlStr, sqlArgs...); err != nil {
		return fmt.Errorf("failed to close validity interval of %s: %w", d.Name, err)
	}
	return nil
}

func (u *UnitOfWork) writeAssociationVersion(ctx context.Context, exec Executor, ac AssociationChange, txID int64) error {
	d, err := u.reg.Descriptor(ac.Entity)
	if err != nil {
		return err
	}
	rel, _ := d.relationship(ac.Relationship)
	table := rel.AssociationTable + "_versions"
	cols := []string{rel.LocalAssocColumn, rel.RemoteAssocColumn, TransactionColumn, OperationTypeColumn}
	vals := []any{ac.LocalID, ac.RemoteID, txID, int16(ac.Op)}
	query := NewQueryBuilder().
		Insert(table).
		Columns(cols...).
		Values(vals...).
		Suffix(fmt.Sprintf("ON CONFLICT (%s, %s, %s) DO UPDATE SET %s = EXCLUDED.%s",
			rel.LocalAssocColumn, rel.RemoteAssocColumn, TransactionColumn,
			OperationTypeColumn, OperationTypeColumn))
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build association version insert: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to write %s membership version: %w", rel.Name, err)
	}
	return nil
}

// Commit marks the unit of work finished and resets it for the next
// transaction.
func (u *UnitOfWork) Commit() {
	u.state = stateCommitted
	u.reset()
}

// Rollback discards all collected state after the database transaction was
// rolled back.
func (u *UnitOfWork) Rollback() {
	u.state = stateRolledBack
	u.reset()
}

func (u *UnitOfWork) reset() {
	u.ops.Reset()
	u.associations = nil
	u.assocsFlushed = 0
	u.ledger.Reset()
	u.state = stateIdle
}
