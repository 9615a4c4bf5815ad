package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairshare-app/fairshare/internal/versioning"
)

type historyRepository struct {
	db versioning.Executor
}

// NewHistoryRepository wires a read side over the shadow schema. History
// queries never ride the write session; they see committed history only.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepository{db: pool}
}

// memberIDsSubquery matches every member identity that ever belonged to the
// project, deleted members included; bills reach their project through it.
const memberIDsSubquery = `SELECT DISTINCT id FROM members_versions WHERE project_id = $1`

func (r *historyRepository) ProjectHistory(ctx context.Context, projectID string) ([]HistoryRecord, error) {
	var versions []*versioning.Version

	projectVersions, err := r.projectVersions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	versions = append(versions, projectVersions...)

	memberVersions, err := r.memberVersions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	versions = append(versions, memberVersions...)

	billVersions, err := r.billVersions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	versions = append(versions, billVersions...)

	txByID, err := r.transactions(ctx, versions)
	if err != nil {
		return nil, err
	}

	records := make([]HistoryRecord, 0, len(versions))
	for _, v := range versions {
		records = append(records, HistoryRecord{Version: v, Tx: txByID[v.TransactionID]})
	}
	return records, nil
}

func (r *historyRepository) projectVersions(ctx context.Context, projectID string) ([]*versioning.Version, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT id, name, password, contact_email, default_currency, logging_preference, transaction_id, operation_type
		 FROM projects_versions WHERE id = $1 ORDER BY transaction_id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query project versions: %w", err)
	}
	defer rows.Close()

	var versions []*versioning.Version
	for rows.Next() {
		var (
			id, name, password, email, currency *string
			mode                                *int16
			txID                                int64
			op                                  int16
		)
		if scanErr := rows.Scan(&id, &name, &password, &email, &currency, &mode, &txID, &op); scanErr != nil {
			return nil, fmt.Errorf("failed to scan project version: %w", scanErr)
		}
		versions = append(versions, &versioning.Version{
			Entity:        "Project",
			Key:           versioning.Key{"id": deref(id)},
			TransactionID: txID,
			Operation:     versioning.OperationType(op),
			Fields: map[string]any{
				"id":                 deref(id),
				"name":               deref(name),
				"password":           deref(password),
				"contact_email":      deref(email),
				"default_currency":   deref(currency),
				"logging_preference": deref(mode),
			},
		})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate project versions: %w", rowsErr)
	}
	return versions, nil
}

func (r *historyRepository) memberVersions(ctx context.Context, projectID string) ([]*versioning.Version, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT id, project_id, name, weight, activated, transaction_id, operation_type
		 FROM members_versions WHERE project_id = $1 ORDER BY transaction_id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query member versions: %w", err)
	}
	defer rows.Close()

	var versions []*versioning.Version
	for rows.Next() {
		var (
			id        int64
			pid, name *string
			weight    *float64
			activated *bool
			txID      int64
			op        int16
		)
		if scanErr := rows.Scan(&id, &pid, &name, &weight, &activated, &txID, &op); scanErr != nil {
			return nil, fmt.Errorf("failed to scan member version: %w", scanErr)
		}
		versions = append(versions, &versioning.Version{
			Entity:        "Member",
			Key:           versioning.Key{"id": id},
			TransactionID: txID,
			Operation:     versioning.OperationType(op),
			Fields: map[string]any{
				"id":         id,
				"project_id": deref(pid),
				"name":       deref(name),
				"weight":     deref(weight),
				"activated":  deref(activated),
			},
		})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate member versions: %w", rowsErr)
	}
	return versions, nil
}

func (r *historyRepository) billVersions(ctx context.Context, projectID string) ([]*versioning.Version, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT id, payer_id, amount, date, creation_date, what, external_link, original_currency, converted_amount, transaction_id, operation_type
		 FROM bills_versions
		 WHERE payer_id IN (`+memberIDsSubquery+`)
		 ORDER BY transaction_id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bill versions: %w", err)
	}
	defer rows.Close()

	var versions []*versioning.Version
	for rows.Next() {
		var (
			id                       int64
			payerID                  *int64
			amount, converted        *float64
			date, created            *time.Time
			what, link, origCurrency *string
			txID                     int64
			op                       int16
		)
		if scanErr := rows.Scan(&id, &payerID, &amount, &date, &created, &what, &link, &origCurrency, &converted, &txID, &op); scanErr != nil {
			return nil, fmt.Errorf("failed to scan bill version: %w", scanErr)
		}
		versions = append(versions, &versioning.Version{
			Entity:        "Bill",
			Key:           versioning.Key{"id": id},
			TransactionID: txID,
			Operation:     versioning.OperationType(op),
			Fields: map[string]any{
				"id":                id,
				"payer_id":          deref(payerID),
				"amount":            deref(amount),
				"date":              deref(date),
				"creation_date":     deref(created),
				"what":              deref(what),
				"external_link":     deref(link),
				"original_currency": deref(origCurrency),
				"converted_amount":  deref(converted),
			},
		})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate bill versions: %w", rowsErr)
	}
	return versions, nil
}

func (r *historyRepository) transactions(ctx context.Context, versions []*versioning.Version) (map[int64]versioning.TransactionRecord, error) {
	seen := map[int64]bool{}
	ids := []int64{}
	for _, v := range versions {
		if !seen[v.TransactionID] {
			seen[v.TransactionID] = true
			ids = append(ids, v.TransactionID)
		}
	}
	out := map[int64]versioning.TransactionRecord{}
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, issued_at, remote_addr, actor_id FROM transactions WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tx    versioning.TransactionRecord
			addr  null.String
			actor uuid.NullUUID
		)
		if scanErr := rows.Scan(&tx.ID, &tx.IssuedAt, &addr, &actor); scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		tx.RemoteAddr = addr
		tx.ActorID = actor
		out[tx.ID] = tx
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", rowsErr)
	}
	return out, nil
}

// BillOwerChanges returns the membership delta one transaction applied to a
// bill's owers.
func (r *historyRepository) BillOwerChanges(ctx context.Context, billID, txID int64) (versioning.MembershipChange, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT member_id, operation_type FROM bill_owers_versions
		 WHERE bill_id = $1 AND transaction_id = $2 ORDER BY member_id`,
		billID, txID,
	)
	if err != nil {
		return versioning.MembershipChange{}, fmt.Errorf("failed to query bill ower changes: %w", err)
	}
	defer rows.Close()

	var change versioning.MembershipChange
	for rows.Next() {
		var memberID int64
		var op int16
		if scanErr := rows.Scan(&memberID, &op); scanErr != nil {
			return versioning.MembershipChange{}, fmt.Errorf("failed to scan bill ower change: %w", scanErr)
		}
		if versioning.OperationType(op) == versioning.OpDelete {
			change.Removed = append(change.Removed, memberID)
		} else {
			change.Added = append(change.Added, memberID)
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return versioning.MembershipChange{}, fmt.Errorf("failed to iterate bill ower changes: %w", rowsErr)
	}
	return change, nil
}

// Purge erases a project's recorded history: version rows first, then the
// ledger rows that only this project's history referenced.
func (r *historyRepository) Purge(ctx context.Context, projectID string) error {
	txIDs, err := r.projectTransactionIDs(ctx, projectID)
	if err != nil {
		return err
	}

	statements := []string{
		`DELETE FROM bill_owers_versions WHERE bill_id IN
		   (SELECT DISTINCT id FROM bills_versions WHERE payer_id IN (` + memberIDsSubquery + `))`,
		`DELETE FROM bills_versions WHERE payer_id IN (` + memberIDsSubquery + `)`,
		`DELETE FROM members_versions WHERE project_id = $1`,
		`DELETE FROM projects_versions WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(ctx, stmt, projectID); err != nil {
			return fmt.Errorf("failed to purge history: %w", err)
		}
	}

	if len(txIDs) > 0 {
		ledger := []string{
			`DELETE FROM transaction_changes WHERE transaction_id = ANY($1)`,
			`DELETE FROM transaction_meta WHERE transaction_id = ANY($1)`,
			`DELETE FROM transactions WHERE id = ANY($1)`,
		}
		for _, stmt := range ledger {
			if _, err := r.db.Exec(ctx, stmt, txIDs); err != nil {
				return fmt.Errorf("failed to purge ledger: %w", err)
			}
		}
	}
	return nil
}

// StripRemoteAddrs redacts the recorded origin addresses of a project's
// history without touching the history itself.
func (r *historyRepository) StripRemoteAddrs(ctx context.Context, projectID string) error {
	txIDs, err := r.projectTransactionIDs(ctx, projectID)
	if err != nil {
		return err
	}
	if len(txIDs) == 0 {
		return nil
	}
	_, err = r.db.Exec(
		ctx,
		`UPDATE transactions SET remote_addr = NULL WHERE id = ANY($1)`,
		txIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to strip remote addrs: %w", err)
	}
	return nil
}

func (r *historyRepository) projectTransactionIDs(ctx context.Context, projectID string) ([]int64, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT transaction_id FROM projects_versions WHERE id = $1
		 UNION
		 SELECT transaction_id FROM members_versions WHERE project_id = $1
		 UNION
		 SELECT transaction_id FROM bills_versions WHERE payer_id IN (`+memberIDsSubquery+`)
		 UNION
		 SELECT transaction_id FROM bill_owers_versions WHERE bill_id IN
		   (SELECT DISTINCT id FROM bills_versions WHERE payer_id IN (`+memberIDsSubquery+`))`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query project transactions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate transaction ids: %w", rowsErr)
	}
	return ids, nil
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
