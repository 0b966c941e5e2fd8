package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

const eventColumns = `seq, inserted_at_ms, issued_at_ms, credential_id, credential_kind,
  room_scope, area_scope, valid_from_ms, valid_until_ms, issuer, holder,
  flags, lifecycle_state, state_changed_at_ms`

type eventRow struct {
	Seq              int64         `db:"seq"`
	InsertedAtMs     int64         `db:"inserted_at_ms"`
	IssuedAtMs       int64         `db:"issued_at_ms"`
	CredentialID     string        `db:"credential_id"`
	Kind             int           `db:"credential_kind"`
	RoomScope        string        `db:"room_scope"`
	AreaScope        string        `db:"area_scope"`
	ValidFromMs      int64         `db:"valid_from_ms"`
	ValidUntilMs     int64         `db:"valid_until_ms"`
	Issuer           string        `db:"issuer"`
	Holder           string        `db:"holder"`
	Flags            int64         `db:"flags"`
	State            int           `db:"lifecycle_state"`
	StateChangedAtMs sql.NullInt64 `db:"state_changed_at_ms"`
}

func (r eventRow) event() credential.Event {
	ev := credential.Event{
		Seq:          r.Seq,
		InsertedAt:   credential.FromMillis(r.InsertedAtMs),
		IssuedAt:     credential.FromMillis(r.IssuedAtMs),
		CredentialID: r.CredentialID,
		Kind:         credential.Kind(r.Kind),
		Rooms:        credential.ParseScope(r.RoomScope),
		Areas:        credential.ParseScope(r.AreaScope),
		ValidFrom:    credential.FromMillis(r.ValidFromMs),
		ValidUntil:   credential.FromMillis(r.ValidUntilMs),
		Issuer:       r.Issuer,
		Holder:       r.Holder,
		Flags:        credential.Flags(r.Flags),
		State:        credential.State(r.State),
	}
	if r.StateChangedAtMs.Valid {
		ev.StateChangedAt = credential.FromMillis(r.StateChangedAtMs.Int64)
	}
	return ev
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, ev credential.Event) (credential.Event, error) {
	ev = ev.Normalize()
	if ev.InsertedAt.IsZero() {
		ev.InsertedAt = credential.TruncMillis(time.Now())
	}
	if err := ev.Validate(); err != nil {
		return credential.Event{}, err
	}

	var changed any
	if !ev.StateChangedAt.IsZero() {
		changed = credential.ToMillis(ev.StateChangedAt)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO credential_events(
  inserted_at_ms, issued_at_ms, credential_id, credential_kind,
  room_scope, area_scope, valid_from_ms, valid_until_ms, issuer, holder,
  flags, lifecycle_state, state_changed_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		credential.ToMillis(ev.InsertedAt), credential.ToMillis(ev.IssuedAt),
		ev.CredentialID, int(ev.Kind),
		ev.Rooms.String(), ev.Areas.String(),
		credential.ToMillis(ev.ValidFrom), credential.ToMillis(ev.ValidUntil),
		ev.Issuer, ev.Holder, int64(ev.Flags), int(ev.State), changed,
	)
	if err != nil {
		return credential.Event{}, classify("insert credential event", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return credential.Event{}, classify("insert credential event", err)
	}
	ev.Seq = seq

	if err := bumpWatermark(ctx, tx, store.WatermarkLog, ev.InsertedAt); err != nil {
		return credential.Event{}, err
	}
	return ev, nil
}

func queryEvents(ctx context.Context, q sqlx.QueryerContext, query store.Query) ([]credential.Event, error) {
	stmt, args := buildQuery(query)

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, q, &rows, stmt, args...); err != nil {
		return nil, classify("query credential events", err)
	}

	out := make([]credential.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.event())
	}
	return out, nil
}

// buildQuery renders q as a SELECT whose filters and ordering agree with
// store.Query.Matches and store.Less.
func buildQuery(q store.Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, a ...any) {
		where = append(where, clause)
		args = append(args, a...)
	}

	if q.CredentialID != "" {
		add("credential_id = ?", q.CredentialID)
	}
	if c := q.Chain; c != nil {
		add("credential_kind = ? AND credential_id = ? AND issued_at_ms = ?",
			int(c.Kind), c.CredentialID, credential.ToMillis(c.IssuedAt))
	}
	if len(q.Kinds) > 0 {
		a := make([]any, len(q.Kinds))
		for i, k := range q.Kinds {
			a[i] = int(k)
		}
		add("credential_kind IN ("+placeholders(len(a))+")", a...)
	}
	if len(q.States) > 0 {
		a := make([]any, len(q.States))
		for i, s := range q.States {
			a[i] = int(s)
		}
		add("lifecycle_state IN ("+placeholders(len(a))+")", a...)
	}
	if len(q.Issuers) > 0 {
		add("issuer IN ("+placeholders(len(q.Issuers))+")", strArgs(q.Issuers)...)
	}
	if len(q.Holders) > 0 {
		add("holder IN ("+placeholders(len(q.Holders))+")", strArgs(q.Holders)...)
	}
	if q.Room != "" {
		add("instr(' ' || room_scope || ' ', ?) > 0", " "+q.Room+" ")
	}
	if q.RoomLike != "" {
		add("instr(room_scope, ?) > 0", q.RoomLike)
	}
	if q.HolderPresent {
		add("holder <> ''")
	}
	if !q.IssuedFrom.IsZero() {
		add("issued_at_ms >= ?", credential.ToMillis(q.IssuedFrom))
	}
	if !q.IssuedBefore.IsZero() {
		add("issued_at_ms < ?", credential.ToMillis(q.IssuedBefore))
	}
	if !q.ValidUntilAfter.IsZero() {
		add("valid_until_ms > ?", credential.ToMillis(q.ValidUntilAfter))
	}
	if !q.ValidFromAfter.IsZero() {
		add("valid_from_ms > ?", credential.ToMillis(q.ValidFromAfter))
	}
	if w := q.ExactWindow; w != nil {
		add("valid_from_ms = ? AND valid_until_ms = ?", credential.ToMillis(w.From), credential.ToMillis(w.Until))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(eventColumns)
	b.WriteString("\nFROM credential_events")
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, "\n  AND "))
	}
	if q.Order == store.OrderIssuedAsc {
		b.WriteString("\nORDER BY issued_at_ms ASC, seq ASC")
	} else {
		b.WriteString("\nORDER BY issued_at_ms DESC, COALESCE(state_changed_at_ms, -1) DESC, seq DESC")
	}
	if q.Limit > 0 {
		b.WriteString("\nLIMIT ?")
		args = append(args, q.Limit)
	}
	b.WriteString(";")
	return b.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func strArgs(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func lastModified(ctx context.Context, q sqlx.QueryerContext, item string) (time.Time, error) {
	var ms int64
	err := sqlx.GetContext(ctx, q, &ms, "SELECT updated_at_ms FROM watermarks WHERE item = ?;", item)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, classify("read watermark", err)
	}
	return credential.FromMillis(ms), nil
}

func bumpWatermark(ctx context.Context, tx *sqlx.Tx, item string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO watermarks(item, updated_at_ms) VALUES (?, ?)
ON CONFLICT(item) DO UPDATE SET updated_at_ms = excluded.updated_at_ms;
`, item, credential.ToMillis(at)); err != nil {
		return classify("bump watermark "+item, err)
	}
	return nil
}
