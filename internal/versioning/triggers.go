package versioning

import (
	"fmt"
	"strings"
)

// TriggerCompiler renders the PostgreSQL trigger DDL for native versioning:
// an AFTER INSERT OR UPDATE OR DELETE trigger per live table that upserts
// the version row itself, plus a trigger on the transaction ledger that
// publishes the current transaction id to the audit functions through a
// temp table.
//
// With the triggers installed the unit of work only maintains the ledger;
// bulk SQL that bypasses the application is still versioned. Requires the
// hstore extension for the excluded-column check.
type TriggerCompiler struct {
	reg *Registry
}

func NewTriggerCompiler(reg *Registry) *TriggerCompiler {
	return &TriggerCompiler{reg: reg}
}

// TransactionTriggerSQL renders the ledger-side half of the channel: every
// insert into transactions mirrors its id into the per-session temp table
// the audit functions read.
func (c *TriggerCompiler) TransactionTriggerSQL() []string {
	fn := `CREATE OR REPLACE FUNCTION transaction_temp_table_generator() RETURNS TRIGGER AS $$
BEGIN
    CREATE TEMP TABLE IF NOT EXISTS temporary_transaction
    (id BIGINT, PRIMARY KEY(id))
    ON COMMIT DELETE ROWS;
    INSERT INTO temporary_transaction (id) VALUES (NEW.id);
    RETURN NEW;
END;
$$
LANGUAGE plpgsql;`
	trg := `CREATE OR REPLACE TRIGGER transaction_trigger
AFTER INSERT ON transactions
FOR EACH ROW EXECUTE PROCEDURE transaction_temp_table_generator();`
	return []string{fn, trg}
}

// EntityTriggerSQL renders the audit function and trigger for one entity's
// live table.
func (c *TriggerCompiler) EntityTriggerSQL(entity string) ([]string, error) {
	d, err := c.reg.Descriptor(entity)
	if err != nil {
		return nil, err
	}

	var excluded []string
	for _, f := range d.Fields {
		if f.Excluded {
			excluded = append(excluded, fmt.Sprintf("'%s'", f.Name))
		}
	}

	var validityInsert, validityUpdate, validityDelete string
	if d.Strategy == StrategyValidity {
		validityInsert = c.validitySQL(d, "NEW")
		validityUpdate = c.validitySQL(d, "NEW")
		validityDelete = c.validitySQL(d, "OLD")
	}

	fn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s_audit() RETURNS TRIGGER AS $$
DECLARE transaction_id_value BIGINT;
BEGIN
    BEGIN
        transaction_id_value = (SELECT id FROM temporary_transaction);
    EXCEPTION WHEN others THEN
        RETURN NEW;
    END;
    IF transaction_id_value IS NULL THEN
        RETURN NEW;
    END IF;

    IF (TG_OP = 'INSERT') THEN
        %s%s
    ELSIF (TG_OP = 'UPDATE') THEN
        IF (hstore(NEW.*) - hstore(OLD.*) - ARRAY[%s]::text[])
            = hstore('')
        THEN
            RETURN NULL;
        END IF;
        %s%s
    ELSIF (TG_OP = 'DELETE') THEN
        %s%s
    END IF;
    RETURN NEW;
END;
$$
LANGUAGE plpgsql;`,
		d.Table,
		validityInsert, c.upsertSQL(d, OpInsert),
		strings.Join(excluded, ", "),
		validityUpdate, c.upsertSQL(d, OpUpdate),
		validityDelete, c.upsertSQL(d, OpDelete),
	)
	trg := fmt.Sprintf(`CREATE OR REPLACE TRIGGER %s_trigger
AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE PROCEDURE %s_audit();`, d.Table, d.Table, d.Table)
	return []string{fn, trg}, nil
}

// upsertSQL renders the version-row write for one trigger branch. The CTE
// makes repeated writes to the same row within one transaction fold into a
// single version row instead of violating the shadow primary key.
func (c *TriggerCompiler) upsertSQL(d *EntityDescriptor, op OperationType) string {
	rowRef := "NEW"
	if op == OpDelete {
		rowRef = "OLD"
	}

	var names, updates, inserts, pkCriteria []string
	for _, f := range d.TrackedFields() {
		names = append(names, f.Name)
		updates = append(updates, fmt.Sprintf("%s = %s.%s", f.Name, rowRef, f.Name))
		inserts = append(inserts, fmt.Sprintf("%s.%s", rowRef, f.Name))
		if f.PrimaryKey {
			pkCriteria = append(pkCriteria, fmt.Sprintf("%s = %s.%s", f.Name, rowRef, f.Name))
		}
	}
	updates = append([]string{fmt.Sprintf("%s = %d", OperationTypeColumn, int16(op))}, updates...)

	if d.TrackPropertyMods {
		for _, f := range d.TrackedFields() {
			if f.PrimaryKey {
				continue
			}
			names = append(names, f.Name+ModColumnSuffix)
			switch op {
			case OpUpdate:
				updates = append(updates, fmt.Sprintf(
					"%[1]s%[2]s = %[1]s%[2]s OR OLD.%[1]s IS DISTINCT FROM NEW.%[1]s",
					f.Name, ModColumnSuffix))
				inserts = append(inserts, fmt.Sprintf("OLD.%[1]s IS DISTINCT FROM NEW.%[1]s", f.Name))
			default:
				updates = append(updates, fmt.Sprintf("%s%s = True", f.Name, ModColumnSuffix))
				inserts = append(inserts, "True")
			}
		}
	}

	return fmt.Sprintf(`WITH upsert as
        (
            UPDATE %s
            SET %s
            WHERE
                %s = transaction_id_value
                AND
                %s
            RETURNING *
        )
        INSERT INTO %s
        (%s, %s, %s)
        SELECT
            transaction_id_value,
            %d,
            %s
        WHERE NOT EXISTS (SELECT 1 FROM upsert);`,
		d.VersionTable(),
		strings.Join(updates, ", "),
		TransactionColumn,
		strings.Join(pkCriteria, " AND "),
		d.VersionTable(),
		TransactionColumn, OperationTypeColumn, strings.Join(names, ", "),
		int16(op),
		strings.Join(inserts, ", "),
	)
}

// validitySQL closes the open predecessor interval before the new version
// row is written.
func (c *TriggerCompiler) validitySQL(d *EntityDescriptor, rowRef string) string {
	var pkCriteria []string
	for _, pk := range d.PrimaryKey() {
		pkCriteria = append(pkCriteria, fmt.Sprintf("%s = %s.%s", pk, rowRef, pk))
	}
	criteria := strings.Join(pkCriteria, " AND ")
	return fmt.Sprintf(`UPDATE %[1]s
        SET %[2]s = transaction_id_value
        WHERE
            %[3]s = (
                SELECT MIN(%[3]s) FROM %[1]s
                WHERE %[2]s IS NULL AND %[4]s
            ) AND
            %[4]s;
        `,
		d.VersionTable(), EndTransactionColumn, TransactionColumn, criteria)
}

// DropEntityTriggerSQL renders the teardown for one entity's trigger.
func (c *TriggerCompiler) DropEntityTriggerSQL(entity string) ([]string, error) {
	d, err := c.reg.Descriptor(entity)
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s_trigger ON %s;", d.Table, d.Table),
		fmt.Sprintf("DROP FUNCTION IF EXISTS %s_audit();", d.Table),
	}, nil
}

// DropTransactionTriggerSQL renders the teardown for the ledger trigger.
func (c *TriggerCompiler) DropTransactionTriggerSQL() []string {
	return []string{
		"DROP TRIGGER IF EXISTS transaction_trigger ON transactions;",
		"DROP FUNCTION IF EXISTS transaction_temp_table_generator();",
	}
}

// All renders the install DDL for every registered entity plus the ledger
// trigger, in dependency order.
func (c *TriggerCompiler) All() ([]string, error) {
	stmts := c.TransactionTriggerSQL()
	for _, name := range c.reg.Entities() {
		d, err := c.reg.Descriptor(name)
		if err != nil {
			return nil, err
		}
		// Inherited entities share the root table's trigger.
		if d.Inheritance != InheritanceNone {
			continue
		}
		entity, err := c.EntityTriggerSQL(name)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, entity...)
	}
	return stmts, nil
}
