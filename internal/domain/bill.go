package domain

import (
	"time"

	"github.com/fairshare-app/fairshare/internal/versioning"
)

// Bill is one expense paid by a member and shared between the owers.
// ConvertedAmount is Amount expressed in the project's default currency; it
// is re-derived whenever Amount or the currencies change.
type Bill struct {
	ID               int64     `json:"id"`
	PayerID          int64     `json:"payer_id"`
	Amount           float64   `json:"amount"`
	Date             time.Time `json:"date"`
	CreationDate     time.Time `json:"creation_date"`
	What             string    `json:"what"`
	ExternalLink     string    `json:"external_link"`
	OriginalCurrency string    `json:"original_currency"`
	ConvertedAmount  float64   `json:"converted_amount"`

	// OwerIDs is the bill_owers membership; tracked as association edits,
	// not as a scalar field.
	OwerIDs []int64 `json:"ower_ids"`
}

func (b *Bill) EntityName() string { return "Bill" }

func (b *Bill) EntityKey() versioning.Key {
	return versioning.Key{"id": b.ID}
}

func (b *Bill) FieldValues() map[string]any {
	return map[string]any{
		"id":                b.ID,
		"payer_id":          b.PayerID,
		"amount":            b.Amount,
		"date":              b.Date,
		"creation_date":     b.CreationDate,
		"what":              b.What,
		"external_link":     b.ExternalLink,
		"original_currency": b.OriginalCurrency,
		"converted_amount":  b.ConvertedAmount,
	}
}

// OwesShare reports whether a member shares this bill.
func (b *Bill) OwesShare(memberID int64) bool {
	for _, id := range b.OwerIDs {
		if id == memberID {
			return true
		}
	}
	return false
}
