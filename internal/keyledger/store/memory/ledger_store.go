package memory

import (
	"strings"
	"time"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

func (st *state) append(ev credential.Event) (credential.Event, error) {
	ev = ev.Normalize()
	if ev.InsertedAt.IsZero() {
		ev.InsertedAt = credential.TruncMillis(time.Now())
	}
	if err := ev.Validate(); err != nil {
		return credential.Event{}, err
	}

	// Mirrors the unique (credential_id, issued_at, lifecycle_state) index.
	for _, existing := range st.events {
		if existing.CredentialID == ev.CredentialID &&
			existing.IssuedAt.Equal(ev.IssuedAt) &&
			existing.State == ev.State {
			return credential.Event{}, apperr.Newf(apperr.CodeConstraintViolation,
				"chain %s already has a %s member", ev.Chain(), ev.State).
				WithMetadata("reason", "duplicate_chain_state")
		}
	}

	st.seq++
	ev.Seq = st.seq
	st.events = append(st.events, ev)
	st.marks[store.WatermarkLog] = ev.InsertedAt
	return ev, nil
}

func (st *state) query(q store.Query) []credential.Event {
	var out []credential.Event
	for _, ev := range st.events {
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	store.Sort(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (st *state) getRoom(fullID string) (store.Room, error) {
	r, ok := st.rooms[strings.TrimSpace(fullID)]
	if !ok {
		return store.Room{}, apperr.Newf(apperr.CodeNotFound, "room %q not found", fullID)
	}
	return r, nil
}

func (st *state) upsertRoom(room store.Room) error {
	room.FullID = strings.TrimSpace(room.FullID)
	if room.FullID == "" {
		return apperr.New(apperr.CodeInvalidArgument, "room full_id is required")
	}
	if room.Building == "" && room.Floor == "" && room.RoomNo == "" {
		room.Building, room.Floor, room.RoomNo = credential.SplitRoomID(room.FullID)
	}
	if room.UpdatedAt.IsZero() {
		room.UpdatedAt = time.Now()
	}
	room.UpdatedAt = credential.TruncMillis(room.UpdatedAt)
	st.rooms[room.FullID] = room
	st.marks[store.WatermarkConfig] = room.UpdatedAt
	return nil
}

func (st *state) setOccupancy(fullID string, occ store.Occupancy, at time.Time) error {
	fullID = strings.TrimSpace(fullID)
	r, ok := st.rooms[fullID]
	if !ok {
		return apperr.Newf(apperr.CodeReferentialViolation, "room %q does not exist", fullID).
			WithMetadata("room", fullID)
	}
	if at.IsZero() {
		at = time.Now()
	}
	r.Occupancy = occ
	r.UpdatedAt = credential.TruncMillis(at)
	st.rooms[fullID] = r
	st.marks[store.WatermarkConfig] = r.UpdatedAt
	return nil
}
