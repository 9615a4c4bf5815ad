package versioning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
)

// TransactionRecord is one row of the transaction ledger: a single committed
// write operation that owns the version rows created during it.
type TransactionRecord struct {
	ID         int64
	IssuedAt   time.Time
	RemoteAddr null.String
	ActorID    uuid.NullUUID
	Meta       map[string]string
}

// TransactionArgs are the ambient attributes stamped onto a transaction at
// creation time.
type TransactionArgs struct {
	RemoteAddr null.String
	ActorID    uuid.NullUUID
	Meta       map[string]string
}

// ArgsContributor resolves transaction attributes from the request context.
// Contributors run once, when the transaction row is created, never
// retroactively.
type ArgsContributor func(ctx context.Context) (TransactionArgs, error)

// Ledger allocates at most one transaction row per unit of work, lazily on
// the first observed trackable change.
type Ledger struct {
	contributors []ArgsContributor
	current      *TransactionRecord
}

func NewLedger(contributors ...ArgsContributor) *Ledger {
	return &Ledger{contributors: contributors}
}

// Current returns the transaction allocated for this unit of work, if any.
func (l *Ledger) Current() *TransactionRecord { return l.current }

// GetOrCreate returns the current transaction, inserting the ledger row on
// first use.
func (l *Ledger) GetOrCreate(ctx context.Context, exec Executor) (*TransactionRecord, error) {
	if l.current != nil {
		return l.current, nil
	}
	args := TransactionArgs{}
	for _, contribute := range l.contributors {
		contributed, err := contribute(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve transaction args: %w", err)
		}
		if contributed.RemoteAddr.Valid {
			args.RemoteAddr = contributed.RemoteAddr
		}
		if contributed.ActorID.Valid {
			args.ActorID = contributed.ActorID
		}
		for key, value := range contributed.Meta {
			if args.Meta == nil {
				args.Meta = map[string]string{}
			}
			args.Meta[key] = value
		}
	}

	tx := &TransactionRecord{RemoteAddr: args.RemoteAddr, ActorID: args.ActorID, Meta: args.Meta}
	row := exec.QueryRow(ctx,
		`INSERT INTO transactions (remote_addr, actor_id) VALUES ($1, $2) RETURNING id, issued_at`,
		args.RemoteAddr, args.ActorID)
	if err := row.Scan(&tx.ID, &tx.IssuedAt); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	if err := l.writeMeta(ctx, exec, tx); err != nil {
		return nil, err
	}
	l.current = tx
	return tx, nil
}

func (l *Ledger) writeMeta(ctx context.Context, exec Executor, tx *TransactionRecord) error {
	for key, value := range tx.Meta {
		_, err := exec.Exec(ctx,
			`INSERT INTO transaction_meta (transaction_id, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (transaction_id, key) DO UPDATE SET value = EXCLUDED.value`,
			tx.ID, key, value)
		if err != nil {
			return fmt.Errorf("failed to write transaction meta %q: %w", key, err)
		}
	}
	return nil
}

// SetMeta tags the current transaction with a key/value pair.
func (l *Ledger) SetMeta(ctx context.Context, exec Executor, key, value string) error {
	if l.current == nil {
		return ErrNoTransaction
	}
	if l.current.Meta == nil {
		l.current.Meta = map[string]string{}
	}
	l.current.Meta[key] = value
	return l.writeMeta(ctx, exec, l.current)
}

// RecordChanges maintains the transaction_changes index: one row per entity
// type touched by the current transaction.
func (l *Ledger) RecordChanges(ctx context.Context, exec Executor, entityNames []string) error {
	if l.current == nil {
		return ErrNoTransaction
	}
	for _, name := range entityNames {
		_, err := exec.Exec(ctx,
			`INSERT INTO transaction_changes (transaction_id, entity_name) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			l.current.ID, name)
		if err != nil {
			return fmt.Errorf("failed to record transaction change for %s: %w", name, err)
		}
	}
	return nil
}

// Reset clears the current transaction reference after commit or rollback.
func (l *Ledger) Reset() { l.current = nil }
