// Package memory is an in-process implementation of the ledger and room
// stores. It is intended for use in tests and dev environments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

type Store struct {
	mu sync.RWMutex
	st state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

// state is everything a unit of work can change.
type state struct {
	events []credential.Event
	seq    int64
	rooms  map[string]store.Room
	marks  map[string]time.Time
}

func newState() state {
	return state{
		rooms: make(map[string]store.Room),
		marks: make(map[string]time.Time),
	}
}

func (st state) clone() state {
	out := state{
		events: make([]credential.Event, len(st.events)),
		seq:    st.seq,
		rooms:  make(map[string]store.Room, len(st.rooms)),
		marks:  make(map[string]time.Time, len(st.marks)),
	}
	copy(out.events, st.events)
	for k, v := range st.rooms {
		out.rooms[k] = v
	}
	for k, v := range st.marks {
		out.marks[k] = v
	}
	return out
}

// WithTx runs fn against a private copy of the store while holding the
// write lock. The copy replaces the store only if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txView{st: s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) Append(ctx context.Context, ev credential.Event) (credential.Event, error) {
	if err := ctx.Err(); err != nil {
		return credential.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.append(ev)
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]credential.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.query(q), nil
}

func (s *Store) LastModified(ctx context.Context, item string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.marks[item], nil
}

func (s *Store) GetRoom(ctx context.Context, fullID string) (store.Room, error) {
	if err := ctx.Err(); err != nil {
		return store.Room{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getRoom(fullID)
}

func (s *Store) UpsertRoom(ctx context.Context, room store.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.upsertRoom(room)
}

func (s *Store) SetOccupancy(ctx context.Context, fullID string, occ store.Occupancy, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.setOccupancy(fullID, occ, at)
}

// Events returns a copy of all recorded events in insertion order.
// Test-only helper.
func (s *Store) Events() []credential.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]credential.Event, len(s.st.events))
	copy(out, s.st.events)
	return out
}

// txView is the store seen from inside WithTx. The lock is already held.
type txView struct {
	st state
}

func (t *txView) Append(ctx context.Context, ev credential.Event) (credential.Event, error) {
	if err := ctx.Err(); err != nil {
		return credential.Event{}, err
	}
	return t.st.append(ev)
}

func (t *txView) Query(ctx context.Context, q store.Query) ([]credential.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.st.query(q), nil
}

func (t *txView) LastModified(_ context.Context, item string) (time.Time, error) {
	return t.st.marks[item], nil
}

func (t *txView) GetRoom(_ context.Context, fullID string) (store.Room, error) {
	return t.st.getRoom(fullID)
}

func (t *txView) UpsertRoom(_ context.Context, room store.Room) error {
	return t.st.upsertRoom(room)
}

func (t *txView) SetOccupancy(_ context.Context, fullID string, occ store.Occupancy, at time.Time) error {
	return t.st.setOccupancy(fullID, occ, at)
}
