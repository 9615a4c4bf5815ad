package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-set/v2"
	"github.com/jackc/pgx/v5"

	"github.com/fairshare-app/fairshare/internal/domain"
	"github.com/fairshare-app/fairshare/internal/store"
)

type billRepository struct {
	sess *store.Session
}

// NewBillRepository wires a repository writing through the session.
func NewBillRepository(sess *store.Session) BillRepository {
	return &billRepository{sess: sess}
}

func (r *billRepository) Create(ctx context.Context, bill *domain.Bill) error {
	err := r.sess.Tx().QueryRow(
		ctx,
		`INSERT INTO bills (payer_id, amount, date, creation_date, what, external_link, original_currency, converted_amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		bill.PayerID,
		bill.Amount,
		bill.Date,
		bill.CreationDate,
		bill.What,
		bill.ExternalLink,
		bill.OriginalCurrency,
		bill.ConvertedAmount,
	).Scan(&bill.ID)
	if err != nil {
		return fmt.Errorf("failed to create bill: %w", err)
	}
	r.sess.Add(bill)

	for _, owerID := range bill.OwerIDs {
		if err := r.addOwer(ctx, bill, owerID); err != nil {
			return err
		}
	}
	return nil
}

func (r *billRepository) addOwer(ctx context.Context, bill *domain.Bill, owerID int64) error {
	_, err := r.sess.Tx().Exec(
		ctx,
		`INSERT INTO bill_owers (bill_id, member_id) VALUES ($1, $2)`,
		bill.ID, owerID,
	)
	if err != nil {
		return fmt.Errorf("failed to add bill ower: %w", err)
	}
	r.sess.EditAssociation(store.AssociationEdit{
		Entity:       "Bill",
		Relationship: "owers",
		LocalID:      bill.ID,
		RemoteID:     owerID,
		Added:        true,
		Owner:        bill,
	})
	return nil
}

func (r *billRepository) removeOwer(ctx context.Context, bill *domain.Bill, owerID int64) error {
	_, err := r.sess.Tx().Exec(
		ctx,
		`DELETE FROM bill_owers WHERE bill_id = $1 AND member_id = $2`,
		bill.ID, owerID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove bill ower: %w", err)
	}
	r.sess.EditAssociation(store.AssociationEdit{
		Entity:       "Bill",
		Relationship: "owers",
		LocalID:      bill.ID,
		RemoteID:     owerID,
		Added:        false,
		Owner:        bill,
	})
	return nil
}

func (r *billRepository) loadOwerIDs(ctx context.Context, billID int64) ([]int64, error) {
	rows, err := r.sess.Tx().Query(
		ctx,
		`SELECT member_id FROM bill_owers WHERE bill_id = $1 ORDER BY member_id`,
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill owers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("failed to scan bill ower: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate bill owers: %w", rowsErr)
	}
	return ids, nil
}

func (r *billRepository) GetByID(ctx context.Context, id int64) (*domain.Bill, error) {
	if cached, ok := r.sess.Get("Bill", (&domain.Bill{ID: id}).EntityKey()); ok {
		return cached.(*domain.Bill), nil
	}

	var bill domain.Bill
	err := r.sess.Tx().QueryRow(
		ctx,
		`SELECT id, payer_id, amount, date, creation_date, what, external_link, original_currency, converted_amount
		 FROM bills WHERE id = $1`,
		id,
	).Scan(
		&bill.ID,
		&bill.PayerID,
		&bill.Amount,
		&bill.Date,
		&bill.CreationDate,
		&bill.What,
		&bill.ExternalLink,
		&bill.OriginalCurrency,
		&bill.ConvertedAmount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bill %d not found", id)
		}
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}

	owers, err := r.loadOwerIDs(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	bill.OwerIDs = owers

	r.sess.Attach(&bill)
	return &bill, nil
}

func (r *billRepository) ListByProject(ctx context.Context, projectID string) ([]*domain.Bill, error) {
	rows, err := r.sess.Tx().Query(
		ctx,
		`SELECT b.id, b.payer_id, b.amount, b.date, b.creation_date, b.what, b.external_link, b.original_currency, b.converted_amount
		 FROM bills b
		 JOIN members m ON m.id = b.payer_id
		 WHERE m.project_id = $1
		 ORDER BY b.date DESC, b.id DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	bills := []*domain.Bill{}
	for rows.Next() {
		var bill domain.Bill
		if scanErr := rows.Scan(
			&bill.ID,
			&bill.PayerID,
			&bill.Amount,
			&bill.Date,
			&bill.CreationDate,
			&bill.What,
			&bill.ExternalLink,
			&bill.OriginalCurrency,
			&bill.ConvertedAmount,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", scanErr)
		}
		bills = append(bills, &bill)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate bills: %w", rowsErr)
	}

	for _, bill := range bills {
		if cached, ok := r.sess.Get("Bill", bill.EntityKey()); ok {
			*bill = *cached.(*domain.Bill)
			continue
		}
		owers, err := r.loadOwerIDs(ctx, bill.ID)
		if err != nil {
			return nil, err
		}
		bill.OwerIDs = owers
		r.sess.Attach(bill)
	}
	return bills, nil
}

func (r *billRepository) Update(ctx context.Context, bill *domain.Bill) error {
	_, err := r.sess.Tx().Exec(
		ctx,
		`UPDATE bills
		 SET payer_id = $2, amount = $3, date = $4, creation_date = $5, what = $6,
		     external_link = $7, original_currency = $8, converted_amount = $9
		 WHERE id = $1`,
		bill.ID,
		bill.PayerID,
		bill.Amount,
		bill.Date,
		bill.CreationDate,
		bill.What,
		bill.ExternalLink,
		bill.OriginalCurrency,
		bill.ConvertedAmount,
	)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", err)
	}
	return nil
}

// SetOwers replaces the bill's membership, applying only the difference so
// untouched partners produce no history entries.
func (r *billRepository) SetOwers(ctx context.Context, bill *domain.Bill, owerIDs []int64) error {
	current, err := r.loadOwerIDs(ctx, bill.ID)
	if err != nil {
		return err
	}
	have := set.From(current)
	want := set.From(owerIDs)

	for _, id := range want.Difference(have).Slice() {
		if err := r.addOwer(ctx, bill, id); err != nil {
			return err
		}
	}
	for _, id := range have.Difference(want).Slice() {
		if err := r.removeOwer(ctx, bill, id); err != nil {
			return err
		}
	}
	bill.OwerIDs = owerIDs
	return nil
}

func (r *billRepository) Delete(ctx context.Context, bill *domain.Bill) error {
	for _, owerID := range bill.OwerIDs {
		if err := r.removeOwer(ctx, bill, owerID); err != nil {
			return err
		}
	}
	_, err := r.sess.Tx().Exec(ctx, `DELETE FROM bills WHERE id = $1`, bill.ID)
	if err != nil {
		return fmt.Errorf("failed to delete bill: %w", err)
	}
	r.sess.Delete(bill)
	return nil
}
