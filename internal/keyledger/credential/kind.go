package credential

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the credential type printed on the card.
type Kind int

const (
	KindEmpty Kind = 0
	KindGuest Kind = 1
	KindStaff Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindGuest:
		return "guest"
	case KindStaff:
		return "staff"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k Kind) Valid() bool {
	return k == KindEmpty || k == KindGuest || k == KindStaff
}

// ParseKind accepts a kind name ("guest") or its numeric value ("1").
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "empty":
		return KindEmpty, nil
	case "guest":
		return KindGuest, nil
	case "staff":
		return KindStaff, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !Kind(n).Valid() {
		return 0, fmt.Errorf("unknown credential kind %q", s)
	}
	return Kind(n), nil
}

// State is the lifecycle state carried by one event. StateUnknown is only
// ever produced by projection, never stored.
type State int

const (
	StateUnknown    State = -1
	StateActive     State = 0
	StateCheckedOut State = 1
	StateCancelled  State = 2
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCheckedOut:
		return "checked_out"
	case StateCancelled:
		return "cancelled"
	case StateUnknown:
		return "unknown"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Valid reports whether s may be stored.
func (s State) Valid() bool {
	return s == StateActive || s == StateCheckedOut || s == StateCancelled
}

// Terminal reports whether s ends the active life of a chain.
func (s State) Terminal() bool {
	return s == StateCheckedOut || s == StateCancelled
}

// CanTransition reports whether a chain currently in from may append a
// member in state to.
func CanTransition(from, to State) bool {
	switch from {
	case StateActive:
		return to == StateCheckedOut || to == StateCancelled
	case StateCheckedOut:
		return to == StateCancelled
	default:
		return false
	}
}

// Flags is the lock-behaviour bitmask.
type Flags uint32

const (
	FlagDeadboltOverride Flags = 1 << iota
	FlagPassageMode
)

func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// With returns f with flag set or cleared.
func (f Flags) With(flag Flags, on bool) Flags {
	if on {
		return f | flag
	}
	return f &^ flag
}
