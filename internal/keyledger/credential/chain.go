package credential

// Newer reports whether a supersedes b inside one chain: a terminal event
// beats the originating one, a later state change beats an earlier one,
// and insertion order breaks the remaining ties.
func Newer(a, b Event) bool {
	aHas, bHas := !a.StateChangedAt.IsZero(), !b.StateChangedAt.IsZero()
	if aHas != bHas {
		return aHas
	}
	if aHas && !a.StateChangedAt.Equal(b.StateChangedAt) {
		return a.StateChangedAt.After(b.StateChangedAt)
	}
	return a.Seq > b.Seq
}

// Latest returns the member of events that determines the chain's state.
// The slice should hold members of a single chain.
func Latest(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	best := events[0]
	for _, ev := range events[1:] {
		if Newer(ev, best) {
			best = ev
		}
	}
	return best, true
}

// CurrentState projects the state of a single chain. An empty chain is
// StateUnknown.
func CurrentState(events []Event) State {
	ev, ok := Latest(events)
	if !ok {
		return StateUnknown
	}
	return ev.State
}

// Terminals indexes the CheckedOut and Cancelled members of each chain
// present in events.
type Terminals map[string]ChainTerminals

type ChainTerminals struct {
	CheckedOut *Event
	Cancelled  *Event
}

// IndexTerminals scans events once and records, per chain, the terminal
// members found.
func IndexTerminals(events []Event) Terminals {
	idx := make(Terminals)
	for i := range events {
		ev := events[i]
		if !ev.State.Terminal() {
			continue
		}
		key := ev.Chain().Key()
		t := idx[key]
		switch ev.State {
		case StateCheckedOut:
			if t.CheckedOut == nil || Newer(ev, *t.CheckedOut) {
				t.CheckedOut = &ev
			}
		case StateCancelled:
			if t.Cancelled == nil || Newer(ev, *t.Cancelled) {
				t.Cancelled = &ev
			}
		}
		idx[key] = t
	}
	return idx
}

// For returns the terminals recorded for chain.
func (t Terminals) For(chain ChainID) ChainTerminals {
	return t[chain.Key()]
}
