// Package sqlite implements the ledger and room stores on modernc.org/sqlite.
// Writes go through the single-writer db.Worker; reads use the shared
// connection and therefore only observe committed transactions.
package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	dbpkg "github.com/openkey-lms/keyledger/internal/db"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

type Store struct {
	db     *sqlx.DB
	writer *dbpkg.Worker
}

var _ store.Store = (*Store)(nil)

func New(db *sqlx.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

// WithTx runs fn inside one write transaction on the worker. fn must use
// the Tx it is given; calling back into s from fn would wait on the
// connection the transaction holds.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

func (s *Store) Append(ctx context.Context, ev credential.Event) (credential.Event, error) {
	var out credential.Event
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		out, err = insertEvent(ctx, tx, ev)
		return err
	})
	return out, err
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]credential.Event, error) {
	return queryEvents(ctx, s.db, q)
}

func (s *Store) LastModified(ctx context.Context, item string) (time.Time, error) {
	return lastModified(ctx, s.db, item)
}

func (s *Store) GetRoom(ctx context.Context, fullID string) (store.Room, error) {
	return getRoom(ctx, s.db, fullID)
}

func (s *Store) UpsertRoom(ctx context.Context, room store.Room) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return upsertRoom(ctx, tx, room)
	})
}

func (s *Store) SetOccupancy(ctx context.Context, fullID string, occ store.Occupancy, at time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return setOccupancy(ctx, tx, fullID, occ, at)
	})
}

// txStore is the store seen from inside WithTx.
type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) Append(ctx context.Context, ev credential.Event) (credential.Event, error) {
	return insertEvent(ctx, t.tx, ev)
}

func (t *txStore) Query(ctx context.Context, q store.Query) ([]credential.Event, error) {
	return queryEvents(ctx, t.tx, q)
}

func (t *txStore) LastModified(ctx context.Context, item string) (time.Time, error) {
	return lastModified(ctx, t.tx, item)
}

func (t *txStore) GetRoom(ctx context.Context, fullID string) (store.Room, error) {
	return getRoom(ctx, t.tx, fullID)
}

func (t *txStore) UpsertRoom(ctx context.Context, room store.Room) error {
	return upsertRoom(ctx, t.tx, room)
}

func (t *txStore) SetOccupancy(ctx context.Context, fullID string, occ store.Occupancy, at time.Time) error {
	return setOccupancy(ctx, t.tx, fullID, occ, at)
}
