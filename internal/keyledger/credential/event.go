// Package credential holds the event model of the access-credential
// ledger: one immutable Event per lifecycle action, grouped into chains by
// ChainID.
package credential

import (
	"fmt"
	"strings"
	"time"

	"github.com/openkey-lms/keyledger/internal/apperr"
)

// Event is one row of the ledger. Events are never updated after they are
// appended; every state change is a new event in the same chain.
type Event struct {
	// Seq is the store-assigned insertion sequence. Zero until appended.
	Seq int64

	InsertedAt   time.Time
	IssuedAt     time.Time
	CredentialID string
	Kind         Kind
	Rooms        Scope
	Areas        Scope
	ValidFrom    time.Time
	ValidUntil   time.Time
	Issuer       string
	Holder       string
	Flags        Flags
	State        State

	// StateChangedAt is zero on the originating Active event.
	StateChangedAt time.Time
}

// Chain returns the identity of the chain the event belongs to.
func (e Event) Chain() ChainID {
	return ChainID{Kind: e.Kind, CredentialID: e.CredentialID, IssuedAt: e.IssuedAt}
}

// Originating reports whether e is the Active event that opened its chain.
func (e Event) Originating() bool { return e.State == StateActive }

// Normalize trims text fields and truncates timestamps to their stored
// precision.
func (e Event) Normalize() Event {
	e.CredentialID = strings.TrimSpace(e.CredentialID)
	e.Issuer = strings.TrimSpace(e.Issuer)
	e.Holder = strings.TrimSpace(e.Holder)
	e.Rooms = NormalizeScope(e.Rooms)
	e.Areas = NormalizeScope(e.Areas)
	e.InsertedAt = TruncMillis(e.InsertedAt)
	e.IssuedAt = TruncMillis(e.IssuedAt)
	e.StateChangedAt = TruncMillis(e.StateChangedAt)
	e.ValidFrom = TruncSeconds(e.ValidFrom)
	e.ValidUntil = TruncSeconds(e.ValidUntil)
	return e
}

// Validate checks the rules every event must satisfy before append.
func (e Event) Validate() error {
	switch {
	case e.CredentialID == "":
		return apperr.New(apperr.CodeInvalidArgument, "credential_id is required")
	case e.IssuedAt.IsZero():
		return apperr.New(apperr.CodeInvalidArgument, "issued_at is required")
	case !e.Kind.Valid():
		return apperr.Newf(apperr.CodeInvalidArgument, "unknown credential kind %d", int(e.Kind))
	case !e.State.Valid():
		return apperr.Newf(apperr.CodeInvalidArgument, "unknown lifecycle state %d", int(e.State))
	case e.ValidUntil.Before(e.ValidFrom):
		return apperr.New(apperr.CodeInvalidArgument, "valid_until is before valid_from")
	case e.State == StateActive && !e.StateChangedAt.IsZero():
		return apperr.New(apperr.CodeInvalidArgument, "active event must not carry state_changed_at")
	case e.State.Terminal() && e.StateChangedAt.IsZero():
		return apperr.Newf(apperr.CodeInvalidArgument, "%s event requires state_changed_at", e.State)
	}
	return nil
}

// Terminate returns the event that moves e's chain into state at the given
// time. Every originating field is carried forward.
func (e Event) Terminate(state State, at time.Time) Event {
	out := e
	out.Seq = 0
	out.InsertedAt = time.Time{}
	out.State = state
	out.StateChangedAt = TruncMillis(at)
	return out
}

// EffectivelyActive reports whether e is an Active event whose window
// covers at.
func (e Event) EffectivelyActive(at time.Time) bool {
	return e.State == StateActive && !at.Before(e.ValidFrom) && at.Before(e.ValidUntil)
}

// Overlaps reports whether e's window intersects [from, until).
func (e Event) Overlaps(from, until time.Time) bool {
	return e.ValidFrom.Before(until) && from.Before(e.ValidUntil)
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s rooms=%q", e.Chain(), e.State, e.Rooms.String())
}

// ChainID identifies a credential chain: every event describing one
// physical issuance of a card shares it.
type ChainID struct {
	Kind         Kind
	CredentialID string
	IssuedAt     time.Time
}

// Key returns a comparable map key for the chain.
func (c ChainID) Key() string {
	return fmt.Sprintf("%d|%s|%d", int(c.Kind), c.CredentialID, ToMillis(c.IssuedAt))
}

func (c ChainID) Equal(o ChainID) bool {
	return c.Kind == o.Kind && c.CredentialID == o.CredentialID && c.IssuedAt.Equal(o.IssuedAt)
}

func (c ChainID) String() string {
	return fmt.Sprintf("%s/%s@%s", c.Kind, c.CredentialID, FormatIdentity(c.IssuedAt))
}
