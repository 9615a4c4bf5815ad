package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairshare-app/fairshare/internal/versioning"
)

type identityKey struct {
	entity string
	key    string
}

func identityOf(rec Record) identityKey {
	return identityKey{entity: rec.EntityName(), key: canonicalKey(rec.EntityKey())}
}

func canonicalKey(key versioning.Key) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, key[name]))
	}
	return strings.Join(parts, "/")
}

// Session is the unit-of-work boundary of the application: it holds an
// identity map of loaded records, snapshots of their committed field values
// for dirty detection, and the pending new/deleted sets. On Commit all live
// writes and the matching version rows go out on a single database
// transaction.
//
// A session serves one logical transaction and is not safe for concurrent
// use.
type Session struct {
	pool   *pgxpool.Pool
	uow    *versioning.UnitOfWork
	logger *slog.Logger

	tx pgx.Tx

	identity  map[identityKey]Record
	snapshots map[identityKey]map[string]any
	inserted  map[identityKey]bool
	deleted   map[identityKey]Record
	edits     []AssociationEdit

	preFlush  []FlushHook
	postFlush []FlushHook
}

func NewSession(pool *pgxpool.Pool, uow *versioning.UnitOfWork, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		pool:   pool,
		uow:    uow,
		logger: logger,
	}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.identity = map[identityKey]Record{}
	s.snapshots = map[identityKey]map[string]any{}
	s.inserted = map[identityKey]bool{}
	s.deleted = map[identityKey]Record{}
	s.edits = nil
	s.tx = nil
}

// BeforeFlush registers a hook that runs before version rows are written.
func (s *Session) BeforeFlush(hook FlushHook) { s.preFlush = append(s.preFlush, hook) }

// AfterFlush registers a hook that runs after version rows are written,
// still inside the database transaction.
func (s *Session) AfterFlush(hook FlushHook) { s.postFlush = append(s.postFlush, hook) }

// Begin opens the database transaction all session work rides on.
func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("session already has an open transaction")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// Tx returns the open transaction for repositories to write live rows
// through.
func (s *Session) Tx() versioning.Executor {
	if s.tx == nil {
		return s.pool
	}
	return s.tx
}

// Attach registers a record loaded from the database, snapshotting its
// current field values as the committed state.
func (s *Session) Attach(rec Record) {
	id := identityOf(rec)
	s.identity[id] = rec
	s.snapshots[id] = copyFields(rec.FieldValues())
}

// Add registers a new record for insertion.
func (s *Session) Add(rec Record) {
	id := identityOf(rec)
	s.identity[id] = rec
	s.inserted[id] = true
	delete(s.deleted, id)
}

// Delete marks a record for deletion. The pre-delete snapshot, when one
// exists, becomes the recorded version payload.
func (s *Session) Delete(rec Record) {
	id := identityOf(rec)
	s.deleted[id] = rec
	delete(s.inserted, id)
}

// Get returns the already-loaded record for an identity, if present.
func (s *Session) Get(entity string, key versioning.Key) (Record, bool) {
	rec, ok := s.identity[identityKey{entity: entity, key: canonicalKey(key)}]
	return rec, ok
}

// CommittedField returns the committed (pre-change) value of one field of a
// tracked record. Policy hooks use it to base decisions on the state the
// transaction started from.
func (s *Session) CommittedField(entity string, key versioning.Key, field string) (any, bool) {
	snap, ok := s.snapshots[identityKey{entity: entity, key: canonicalKey(key)}]
	if !ok {
		return nil, false
	}
	value, ok := snap[field]
	return value, ok
}

// EditAssociation records a membership change for flush.
func (s *Session) EditAssociation(edit AssociationEdit) {
	s.edits = append(s.edits, edit)
}

// changedFields diffs a record against its committed snapshot.
func (s *Session) changedFields(id identityKey, rec Record) map[string]versioning.FieldChange {
	snap, ok := s.snapshots[id]
	if !ok {
		return nil
	}
	changed := map[string]versioning.FieldChange{}
	current := rec.FieldValues()
	for name, old := range snap {
		cur := current[name]
		if fmt.Sprintf("%v", old) != fmt.Sprintf("%v", cur) {
			changed[name] = versioning.FieldChange{Old: old, New: cur}
		}
	}
	return changed
}

// classify splits the session's pending state for hooks and the collector.
func (s *Session) classify() *FlushContext {
	fc := &FlushContext{Associations: s.edits}
	for id, rec := range s.identity {
		if s.inserted[id] {
			fc.Inserts = append(fc.Inserts, rec)
			continue
		}
		if _, gone := s.deleted[id]; gone {
			continue
		}
		if len(s.changedFields(id, rec)) > 0 {
			fc.Updates = append(fc.Updates, rec)
		}
	}
	for _, rec := range s.deleted {
		fc.Deletes = append(fc.Deletes, rec)
	}
	return fc
}

// Flush pushes all pending changes into the operation collector and writes
// the version rows. Live rows must already have been written by the
// repositories on the same transaction.
func (s *Session) Flush(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("flush requires an open transaction")
	}
	fc := s.classify()
	for _, hook := range s.preFlush {
		if err := hook(ctx, fc); err != nil {
			return fmt.Errorf("pre-flush hook failed: %w", err)
		}
	}

	for _, rec := range fc.Inserts {
		if err := s.uow.TrackInsert(rec.EntityName(), rec.EntityKey(), rec.FieldValues()); err != nil {
			return err
		}
	}
	for _, rec := range fc.Updates {
		id := identityOf(rec)
		if err := s.uow.TrackUpdate(rec.EntityName(), rec.EntityKey(), rec.FieldValues(), s.changedFields(id, rec)); err != nil {
			return err
		}
	}
	for _, rec := range fc.Deletes {
		id := identityOf(rec)
		fields := s.snapshots[id]
		if fields == nil {
			fields = rec.FieldValues()
		}
		if err := s.uow.TrackDelete(rec.EntityName(), rec.EntityKey(), fields); err != nil {
			return err
		}
	}
	touched := map[identityKey]bool{}
	for _, edit := range fc.Associations {
		op := versioning.OpInsert
		if !edit.Added {
			op = versioning.OpDelete
		}
		if err := s.uow.TrackAssociation(edit.Entity, edit.Relationship, edit.LocalID, edit.RemoteID, op); err != nil {
			return err
		}
		// A membership-only edit still versions the owning record.
		if edit.Owner == nil {
			continue
		}
		id := identityOf(edit.Owner)
		if touched[id] {
			continue
		}
		touched[id] = true
		if err := s.uow.TrackTouch(edit.Owner.EntityName(), edit.Owner.EntityKey(), edit.Owner.FieldValues()); err != nil {
			return err
		}
	}

	if err := s.uow.Flush(ctx, s.tx); err != nil {
		return err
	}
	for _, hook := range s.postFlush {
		if err := hook(ctx, fc); err != nil {
			return fmt.Errorf("post-flush hook failed: %w", err)
		}
	}
	return nil
}

// Commit flushes and commits the database transaction, then re-snapshots
// every surviving record as the new committed state.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		if rbErr := s.Rollback(ctx); rbErr != nil {
			s.logger.Error("rollback after failed flush", "error", rbErr)
		}
		return err
	}
	if err := s.tx.Commit(ctx); err != nil {
		s.uow.Rollback()
		s.reset()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.uow.Commit()

	for id, rec := range s.identity {
		if _, gone := s.deleted[id]; gone {
			delete(s.identity, id)
			delete(s.snapshots, id)
			continue
		}
		s.snapshots[id] = copyFields(rec.FieldValues())
		delete(s.inserted, id)
	}
	for id := range s.deleted {
		delete(s.identity, id)
		delete(s.snapshots, id)
	}
	s.deleted = map[identityKey]Record{}
	s.edits = nil
	s.tx = nil
	return nil
}

// Rollback aborts the database transaction and discards all pending state;
// snapshots revert to the committed values.
func (s *Session) Rollback(ctx context.Context) error {
	var err error
	if s.tx != nil {
		err = s.tx.Rollback(ctx)
		s.tx = nil
	}
	s.uow.Rollback()
	for id := range s.inserted {
		delete(s.identity, id)
		delete(s.snapshots, id)
	}
	s.inserted = map[identityKey]bool{}
	s.deleted = map[identityKey]Record{}
	s.edits = nil
	if err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		out[name] = value
	}
	return out
}
