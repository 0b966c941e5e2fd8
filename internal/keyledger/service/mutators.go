package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

var ErrInvalidOperator = apperr.New(apperr.CodeInvalidArgument, "operator is required")

type IssueOptions struct {
	// AllowConflict issues even when the credential id still projects
	// Active or a room in scope already has an overlapping Guest chain.
	AllowConflict bool
}

// Issue appends the originating Active event of a new chain. IssuedAt
// defaults to the ledger clock; InsertedAt always comes from it.
func (l *Ledger) Issue(ctx context.Context, ev credential.Event, opts IssueOptions) (stored credential.Event, err error) {
	ctx, span := l.startSpan(ctx, "ledger.Issue",
		attribute.String("credential.id", ev.CredentialID),
		attribute.String("credential.kind", ev.Kind.String()),
		attribute.Bool("allow_conflict", opts.AllowConflict),
	)
	defer func() { endSpan(span, err) }()

	now := l.Now()
	ev.State = credential.StateActive
	ev.StateChangedAt = time.Time{}
	ev.Seq = 0
	ev.InsertedAt = now
	if ev.IssuedAt.IsZero() {
		ev.IssuedAt = now
	}
	ev = ev.Normalize()
	if err := ev.Validate(); err != nil {
		return credential.Event{}, err
	}

	err = l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if !opts.AllowConflict {
			if err := l.checkIssue(ctx, tx, ev, now); err != nil {
				return err
			}
		}
		var err error
		stored, err = tx.Append(ctx, ev)
		return err
	})
	if err != nil {
		l.logger.Warn("issue refused",
			"credential_id", ev.CredentialID,
			"kind", ev.Kind.String(),
			"code", string(apperr.CodeOf(err)),
			"err", err,
		)
		return credential.Event{}, err
	}

	l.metrics.IncEventAppended(stored.State.String())
	l.logger.Info("credential issued",
		"chain", stored.Chain().String(),
		"rooms", stored.Rooms.String(),
		"issuer", stored.Issuer,
	)
	return stored, nil
}

func (l *Ledger) checkIssue(ctx context.Context, tx store.Tx, ev credential.Event, now time.Time) error {
	latest, ok, err := latestEvent(ctx, tx, ev.CredentialID)
	if err != nil {
		return err
	}
	if ok {
		st, err := chainState(ctx, tx, latest.Chain())
		if err != nil {
			return err
		}
		if st == credential.StateActive {
			l.metrics.IncIssueRefused("credential_active")
			return apperr.Newf(apperr.CodeConstraintViolation,
				"credential %s is still active (issued %s)",
				ev.CredentialID, credential.FormatDisplay(latest.IssuedAt)).
				WithMetadata("reason", "credential_active").
				WithMetadata("chain", latest.Chain().String())
		}
	}

	if ev.Kind != credential.KindGuest {
		return nil
	}
	for _, room := range ev.Rooms {
		existing, found, err := findOverlapping(ctx, tx, room, ev.ValidFrom, ev.ValidUntil, now)
		if err != nil {
			return err
		}
		if found {
			l.metrics.IncIssueRefused("room_conflict")
			return apperr.Newf(apperr.CodeConstraintViolation,
				"room %s already has active guest credential %s valid until %s",
				room, existing.CredentialID, credential.FormatShort(existing.ValidUntil)).
				WithMetadata("reason", "room_conflict").
				WithMetadata("room", room).
				WithMetadata("chain", existing.Chain().String())
		}
	}
	return nil
}

// PartialCheckoutError reports a checkout whose room update succeeded while
// terminating the room's credentials did not. CompleteCheckout retries the
// second step.
type PartialCheckoutError struct {
	RoomID  string
	At      time.Time
	Pending []credential.ChainID
	Cause   error
}

func (e *PartialCheckoutError) Error() string {
	return fmt.Sprintf("room %s vacated but %d credential(s) still active: %v", e.RoomID, len(e.Pending), e.Cause)
}

func (e *PartialCheckoutError) Unwrap() error { return e.Cause }

// Checkout vacates roomID and moves every Active Guest chain for the room
// that has not expired at at into CheckedOut. It returns the terminal
// events appended.
func (l *Ledger) Checkout(ctx context.Context, roomID string, at time.Time) (out []credential.Event, err error) {
	roomID, at, err = l.roomArgs(roomID, at)
	if err != nil {
		return nil, err
	}
	at = credential.TruncMillis(at)

	ctx, span := l.startSpan(ctx, "ledger.Checkout",
		attribute.String("room.id", roomID),
		attribute.Bool("external_rooms", l.rooms != nil),
	)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer l.metrics.ObserveCheckout(start)

	if l.rooms == nil {
		err = l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.SetOccupancy(ctx, roomID, store.OccupancyVacant, at); err != nil {
				return err
			}
			var err error
			out, _, err = l.terminateForRoom(ctx, tx, roomID, at)
			return err
		})
		if err != nil {
			return nil, err
		}
		l.logCheckout(roomID, out)
		return out, nil
	}

	if err := l.rooms.SetOccupancy(ctx, roomID, store.OccupancyVacant, at); err != nil {
		return nil, err
	}
	return l.CompleteCheckout(ctx, roomID, at)
}

// CompleteCheckout runs only the credential-termination step of Checkout.
// It is safe to repeat: chains already CheckedOut are skipped.
func (l *Ledger) CompleteCheckout(ctx context.Context, roomID string, at time.Time) ([]credential.Event, error) {
	roomID, at, err := l.roomArgs(roomID, at)
	if err != nil {
		return nil, err
	}
	at = credential.TruncMillis(at)

	var (
		out     []credential.Event
		pending []credential.ChainID
	)
	err = l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, pending, err = l.terminateForRoom(ctx, tx, roomID, at)
		return err
	})
	if err != nil {
		l.metrics.IncPartialCheckout()
		l.logger.Error("checkout incomplete",
			"room", roomID,
			"pending", len(pending),
			"err", err,
		)
		return nil, partialCheckout(roomID, at, pending, err)
	}
	l.logCheckout(roomID, out)
	return out, nil
}

func partialCheckout(roomID string, at time.Time, pending []credential.ChainID, cause error) error {
	ids := make([]string, len(pending))
	for i, c := range pending {
		ids[i] = c.String()
	}
	return &apperr.Error{
		Code:    apperr.CodePartialFailure,
		Message: fmt.Sprintf("room %s vacated but credentials were not checked out", roomID),
		Metadata: map[string]string{
			"room":          roomID,
			"pending":       strings.Join(ids, ","),
			"pending_count": strconv.Itoa(len(pending)),
		},
		Cause: &PartialCheckoutError{RoomID: roomID, At: at, Pending: pending, Cause: cause},
	}
}

// terminateForRoom appends a CheckedOut event for each qualifying chain.
// On error the transaction is discarded, so every candidate is pending.
func (l *Ledger) terminateForRoom(ctx context.Context, tx store.Tx, roomID string, at time.Time) ([]credential.Event, []credential.ChainID, error) {
	candidates, err := tx.Query(ctx, store.Query{
		Kinds:           []credential.Kind{credential.KindGuest},
		States:          []credential.State{credential.StateActive},
		Room:            roomID,
		ValidUntilAfter: at,
		Order:           store.OrderIssuedDesc,
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		live []credential.Event
		out  []credential.Event
	)
	for _, ev := range candidates {
		// Chains issued after the checkout instant belong to a later stay.
		if at.Before(ev.IssuedAt) {
			continue
		}
		st, err := chainState(ctx, tx, ev.Chain())
		if err != nil {
			return nil, chainsOf(candidates), err
		}
		if st == credential.StateActive {
			live = append(live, ev)
		}
	}

	now := l.Now()
	for _, ev := range live {
		term := ev.Terminate(credential.StateCheckedOut, at)
		term.InsertedAt = now
		stored, err := tx.Append(ctx, term)
		if err != nil {
			return nil, chainsOf(live), err
		}
		out = append(out, stored)
	}
	return out, nil, nil
}

func chainsOf(events []credential.Event) []credential.ChainID {
	out := make([]credential.ChainID, len(events))
	for i, ev := range events {
		out[i] = ev.Chain()
	}
	return out
}

func (l *Ledger) logCheckout(roomID string, out []credential.Event) {
	for _, ev := range out {
		l.metrics.IncEventAppended(ev.State.String())
	}
	l.logger.Info("room checked out", "room", roomID, "credentials", len(out))
}

// Cancel terminates the newest chain for credentialID on behalf of
// operator. An id with no history gets a synthetic Empty-kind chain so the
// returned card is still recorded.
func (l *Ledger) Cancel(ctx context.Context, credentialID, operator string, at time.Time) (stored credential.Event, err error) {
	credentialID = strings.TrimSpace(credentialID)
	operator = strings.TrimSpace(operator)
	if credentialID == "" {
		return credential.Event{}, ErrInvalidCredentialID
	}
	if operator == "" {
		return credential.Event{}, ErrInvalidOperator
	}
	if at.IsZero() {
		at = l.Now()
	}
	at = credential.TruncMillis(at)

	ctx, span := l.startSpan(ctx, "ledger.Cancel",
		attribute.String("credential.id", credentialID),
	)
	defer func() { endSpan(span, err) }()

	err = l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		latest, ok, err := latestEvent(ctx, tx, credentialID)
		if err != nil {
			return err
		}

		var ev credential.Event
		if !ok {
			// Validity bounds are stored at second precision; the synthetic
			// chain keeps all four instants equal.
			sec := credential.TruncSeconds(at)
			ev = credential.Event{
				IssuedAt:       sec,
				CredentialID:   credentialID,
				Kind:           credential.KindEmpty,
				ValidFrom:      sec,
				ValidUntil:     sec,
				Issuer:         operator,
				State:          credential.StateCancelled,
				StateChangedAt: sec,
			}
		} else {
			chain := latest.Chain()
			events, err := tx.Query(ctx, store.Query{Chain: &chain})
			if err != nil {
				return err
			}
			st := credential.CurrentState(events)
			if !credential.CanTransition(st, credential.StateCancelled) {
				return apperr.Newf(apperr.CodeConstraintViolation,
					"credential %s is already %s", credentialID, st).
					WithMetadata("reason", "already_terminated").
					WithMetadata("chain", chain.String())
			}
			if last := lastChange(chain, events); at.Before(last) {
				return apperr.Newf(apperr.CodeInvalidArgument,
					"cancel at %s precedes the last change of credential %s at %s",
					credential.FormatWire(at), credentialID, credential.FormatWire(last)).
					WithMetadata("reason", "backdated").
					WithMetadata("chain", chain.String())
			}
			ev = latest.Terminate(credential.StateCancelled, at)
			ev.Issuer = operator
		}
		ev.InsertedAt = l.Now()

		stored, err = tx.Append(ctx, ev)
		return err
	})
	if err != nil {
		return credential.Event{}, err
	}

	l.metrics.IncEventAppended(stored.State.String())
	l.logger.Info("credential cancelled",
		"chain", stored.Chain().String(),
		"operator", operator,
		"synthetic", stored.Kind == credential.KindEmpty,
	)
	return stored, nil
}
