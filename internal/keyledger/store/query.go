package store

import (
	"sort"
	"strings"
	"time"

	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
)

// Order selects the ordering of query results.
type Order int

const (
	// OrderIssuedDesc is newest chain first; inside a chain the member that
	// determines state comes first.
	OrderIssuedDesc Order = iota
	// OrderIssuedAsc is oldest chain first, members in insertion order.
	OrderIssuedAsc
)

// Window is an exact validity window.
type Window struct {
	From  time.Time
	Until time.Time
}

// Query filters the event log. Zero-valued fields do not filter. Set-valued
// filters match any member; distinct fields must all match.
type Query struct {
	CredentialID string
	Chain        *credential.ChainID

	Kinds   []credential.Kind
	States  []credential.State
	Issuers []string
	Holders []string

	// Room matches events whose room scope contains the token exactly.
	Room string
	// RoomLike matches events whose serialized room scope contains the
	// substring.
	RoomLike      string
	HolderPresent bool

	// IssuedFrom is inclusive, IssuedBefore exclusive.
	IssuedFrom      time.Time
	IssuedBefore    time.Time
	ValidUntilAfter time.Time
	ValidFromAfter  time.Time
	ExactWindow     *Window

	Order Order
	Limit int
}

// Matches reports whether ev passes every filter of q.
func (q Query) Matches(ev credential.Event) bool {
	if q.CredentialID != "" && ev.CredentialID != q.CredentialID {
		return false
	}
	if q.Chain != nil && !ev.Chain().Equal(*q.Chain) {
		return false
	}
	if len(q.Kinds) > 0 && !contains(q.Kinds, ev.Kind) {
		return false
	}
	if len(q.States) > 0 && !contains(q.States, ev.State) {
		return false
	}
	if len(q.Issuers) > 0 && !contains(q.Issuers, ev.Issuer) {
		return false
	}
	if len(q.Holders) > 0 && !contains(q.Holders, ev.Holder) {
		return false
	}
	if q.Room != "" && !ev.Rooms.Contains(q.Room) {
		return false
	}
	if q.RoomLike != "" && !strings.Contains(ev.Rooms.String(), q.RoomLike) {
		return false
	}
	if q.HolderPresent && ev.Holder == "" {
		return false
	}
	if !q.IssuedFrom.IsZero() && ev.IssuedAt.Before(q.IssuedFrom) {
		return false
	}
	if !q.IssuedBefore.IsZero() && !ev.IssuedAt.Before(q.IssuedBefore) {
		return false
	}
	if !q.ValidUntilAfter.IsZero() && !ev.ValidUntil.After(q.ValidUntilAfter) {
		return false
	}
	if !q.ValidFromAfter.IsZero() && !ev.ValidFrom.After(q.ValidFromAfter) {
		return false
	}
	if w := q.ExactWindow; w != nil && (!ev.ValidFrom.Equal(w.From) || !ev.ValidUntil.Equal(w.Until)) {
		return false
	}
	return true
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Less reports whether a sorts before b under order.
func Less(order Order, a, b credential.Event) bool {
	if !a.IssuedAt.Equal(b.IssuedAt) {
		if order == OrderIssuedAsc {
			return a.IssuedAt.Before(b.IssuedAt)
		}
		return a.IssuedAt.After(b.IssuedAt)
	}
	if order == OrderIssuedAsc {
		return a.Seq < b.Seq
	}
	return credential.Newer(a, b)
}

// Sort orders events in place.
func Sort(events []credential.Event, order Order) {
	sort.SliceStable(events, func(i, j int) bool {
		return Less(order, events[i], events[j])
	})
}
