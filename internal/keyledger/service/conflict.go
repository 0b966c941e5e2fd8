package service

import (
	"context"
	"strings"
	"time"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

var ErrInvalidRoomID = apperr.New(apperr.CodeInvalidArgument, "room id is required")

// FindActiveForRoom returns the newest Guest credential for roomID that is
// still Active and has not expired at asOf.
func (l *Ledger) FindActiveForRoom(ctx context.Context, roomID string, asOf time.Time) (credential.Event, bool, error) {
	roomID, asOf, err := l.roomArgs(roomID, asOf)
	if err != nil {
		return credential.Event{}, false, err
	}
	return firstActive(ctx, l.store, store.Query{
		Kinds:           []credential.Kind{credential.KindGuest},
		States:          []credential.State{credential.StateActive},
		Room:            roomID,
		ValidUntilAfter: asOf,
		Order:           store.OrderIssuedDesc,
	})
}

// FindConflictingFutureForRoom returns the newest Active Guest credential
// for roomID whose window has not started at asOf.
func (l *Ledger) FindConflictingFutureForRoom(ctx context.Context, roomID string, asOf time.Time) (credential.Event, bool, error) {
	roomID, asOf, err := l.roomArgs(roomID, asOf)
	if err != nil {
		return credential.Event{}, false, err
	}
	return firstActive(ctx, l.store, store.Query{
		Kinds:          []credential.Kind{credential.KindGuest},
		States:         []credential.State{credential.StateActive},
		Room:           roomID,
		ValidFromAfter: asOf,
		Order:          store.OrderIssuedDesc,
	})
}

// FindOverlappingForRoom returns the newest Active Guest credential for
// roomID whose window intersects [from, until) and has not expired at asOf.
func (l *Ledger) FindOverlappingForRoom(ctx context.Context, roomID string, from, until, asOf time.Time) (credential.Event, bool, error) {
	roomID, asOf, err := l.roomArgs(roomID, asOf)
	if err != nil {
		return credential.Event{}, false, err
	}
	return findOverlapping(ctx, l.store, roomID, from, until, asOf)
}

// CountKeys returns how many credentials were issued for roomID with
// exactly the window [validFrom, validUntil). Front desks use it to number
// duplicate keys.
func (l *Ledger) CountKeys(ctx context.Context, roomID string, validFrom, validUntil time.Time) (int, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return 0, ErrInvalidRoomID
	}
	events, err := l.store.Query(ctx, store.Query{
		States: []credential.State{credential.StateActive},
		Room:   roomID,
		ExactWindow: &store.Window{
			From:  credential.TruncSeconds(validFrom),
			Until: credential.TruncSeconds(validUntil),
		},
	})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// CountEffectivelyActive returns the number of Guest chains whose state is
// Active and whose window covers at.
func (l *Ledger) CountEffectivelyActive(ctx context.Context, at time.Time) (int, error) {
	events, err := l.store.Query(ctx, store.Query{
		Kinds:           []credential.Kind{credential.KindGuest},
		States:          []credential.State{credential.StateActive},
		ValidUntilAfter: at,
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range events {
		if !ev.EffectivelyActive(at) {
			continue
		}
		st, err := chainState(ctx, l.store, ev.Chain())
		if err != nil {
			return 0, err
		}
		if st == credential.StateActive {
			n++
		}
	}
	return n, nil
}

func (l *Ledger) roomArgs(roomID string, asOf time.Time) (string, time.Time, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", time.Time{}, ErrInvalidRoomID
	}
	if asOf.IsZero() {
		asOf = l.Now()
	}
	return roomID, asOf.UTC(), nil
}

// firstActive walks the originating events matched by q and returns the
// first whose chain still projects Active.
func firstActive(ctx context.Context, r store.LedgerReader, q store.Query) (credential.Event, bool, error) {
	candidates, err := r.Query(ctx, q)
	if err != nil {
		return credential.Event{}, false, err
	}
	for _, ev := range candidates {
		st, err := chainState(ctx, r, ev.Chain())
		if err != nil {
			return credential.Event{}, false, err
		}
		if st == credential.StateActive {
			return ev, true, nil
		}
	}
	return credential.Event{}, false, nil
}

func findOverlapping(ctx context.Context, r store.LedgerReader, roomID string, from, until, asOf time.Time) (credential.Event, bool, error) {
	// valid_until must be past both asOf (not expired) and from (overlap).
	cutoff := asOf
	if from.After(cutoff) {
		cutoff = from
	}
	candidates, err := r.Query(ctx, store.Query{
		Kinds:           []credential.Kind{credential.KindGuest},
		States:          []credential.State{credential.StateActive},
		Room:            roomID,
		ValidUntilAfter: cutoff,
		Order:           store.OrderIssuedDesc,
	})
	if err != nil {
		return credential.Event{}, false, err
	}
	for _, ev := range candidates {
		if !ev.Overlaps(from, until) {
			continue
		}
		st, err := chainState(ctx, r, ev.Chain())
		if err != nil {
			return credential.Event{}, false, err
		}
		if st == credential.StateActive {
			return ev, true, nil
		}
	}
	return credential.Event{}, false, nil
}
