package service

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

// Report status labels.
const (
	StatusCancelled  = "Cancelled"
	StatusCheckedOut = "Checked out"
	StatusExpired    = "Expired"
	StatusBeingUsed  = "Being used"
)

// ReportFilter selects events by issued_at in [From, To) plus optional
// attribute filters. Filters of different fields are combined with AND,
// values inside one field with OR.
type ReportFilter struct {
	From time.Time
	To   time.Time

	Issuers      []string
	Kinds        []credential.Kind
	Holders      []string
	Room         string // substring of the room scope
	CredentialID string
}

func (f ReportFilter) validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return apperr.New(apperr.CodeInvalidArgument, "report range: from must be before to")
	}
	return nil
}

func (f ReportFilter) query() store.Query {
	return store.Query{
		CredentialID: strings.TrimSpace(f.CredentialID),
		Kinds:        f.Kinds,
		Issuers:      f.Issuers,
		Holders:      f.Holders,
		RoomLike:     strings.TrimSpace(f.Room),
		IssuedFrom:   f.From,
		IssuedBefore: f.To,
		Order:        store.OrderIssuedDesc,
	}
}

type CreationRow struct {
	Kind         credential.Kind
	CredentialID string
	Issuer       string
	Building     string
	Floor        string
	Room         string
	IssuedAt     time.Time
	ReturnedAt   time.Time // zero when not returned
	CheckedOutAt time.Time // zero when not checked out
	Holder       string
	Status       string
}

type StaffKeyRow struct {
	CredentialID     string
	Issuer           string
	Rooms            credential.Scope
	Areas            credential.Scope
	IssuedAt         time.Time
	ValidUntil       time.Time
	Holder           string
	DeadboltOverride bool
	PassageMode      bool
}

type KeyHolderRow struct {
	Kind         credential.Kind
	CredentialID string
	Holder       string
	Building     string
	Floor        string
	Room         string
	IssuedAt     time.Time
	ValidUntil   time.Time
}

type OperatorRow struct {
	Issuer       string
	Kind         credential.Kind
	CredentialID string
	IssuedAt     time.Time
	Status       string
}

// Reports reconstructs history from the event log. It never writes.
type Reports struct {
	reader store.LedgerReader
	now    func() time.Time
}

func NewReports(reader store.LedgerReader, now func() time.Time) *Reports {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reports{reader: reader, now: now}
}

// Status derives the report status of an originating event from the
// terminals found for its chain.
func Status(orig credential.Event, t credential.ChainTerminals, now time.Time) string {
	switch {
	case t.Cancelled != nil:
		return StatusCancelled
	case t.CheckedOut != nil:
		return StatusCheckedOut
	case !orig.ValidUntil.After(now):
		return StatusExpired
	default:
		return StatusBeingUsed
	}
}

// Creation lists every chain issued in the range with its return and
// checkout times.
func (r *Reports) Creation(ctx context.Context, f ReportFilter) ([]CreationRow, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	events, err := r.reader.Query(ctx, f.query())
	if err != nil {
		return nil, err
	}

	now := r.now()
	terms := credential.IndexTerminals(events)
	rows := []CreationRow{}
	for _, ev := range events {
		if !ev.Originating() {
			continue
		}
		t := terms.For(ev.Chain())
		b, fl, rm := ev.Rooms.RoomColumns()
		row := CreationRow{
			Kind:         ev.Kind,
			CredentialID: ev.CredentialID,
			Issuer:       ev.Issuer,
			Building:     b,
			Floor:        fl,
			Room:         rm,
			IssuedAt:     ev.IssuedAt,
			Holder:       ev.Holder,
			Status:       Status(ev, t, now),
		}
		if t.Cancelled != nil {
			row.ReturnedAt = t.Cancelled.StateChangedAt
		}
		if t.CheckedOut != nil {
			row.CheckedOutAt = t.CheckedOut.StateChangedAt
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// StaffKeys lists Staff credentials issued in the range. Kind filters on
// f are ignored.
func (r *Reports) StaffKeys(ctx context.Context, f ReportFilter) ([]StaffKeyRow, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	q := f.query()
	q.Kinds = []credential.Kind{credential.KindStaff}
	q.States = []credential.State{credential.StateActive}

	events, err := r.reader.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	rows := []StaffKeyRow{}
	for _, ev := range events {
		rows = append(rows, StaffKeyRow{
			CredentialID:     ev.CredentialID,
			Issuer:           ev.Issuer,
			Rooms:            ev.Rooms,
			Areas:            ev.Areas,
			IssuedAt:         ev.IssuedAt,
			ValidUntil:       ev.ValidUntil,
			Holder:           ev.Holder,
			DeadboltOverride: ev.Flags.Has(credential.FlagDeadboltOverride),
			PassageMode:      ev.Flags.Has(credential.FlagPassageMode),
		})
	}
	return rows, nil
}

// KeyHolders lists credentials issued in the range to a named holder.
func (r *Reports) KeyHolders(ctx context.Context, f ReportFilter) ([]KeyHolderRow, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	q := f.query()
	q.States = []credential.State{credential.StateActive}
	q.HolderPresent = true

	events, err := r.reader.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	rows := []KeyHolderRow{}
	for _, ev := range events {
		b, fl, rm := ev.Rooms.RoomColumns()
		rows = append(rows, KeyHolderRow{
			Kind:         ev.Kind,
			CredentialID: ev.CredentialID,
			Holder:       ev.Holder,
			Building:     b,
			Floor:        fl,
			Room:         rm,
			IssuedAt:     ev.IssuedAt,
			ValidUntil:   ev.ValidUntil,
		})
	}
	return rows, nil
}

// Operators lists what each operator issued in the range and what became
// of it.
func (r *Reports) Operators(ctx context.Context, f ReportFilter) ([]OperatorRow, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	events, err := r.reader.Query(ctx, f.query())
	if err != nil {
		return nil, err
	}

	now := r.now()
	terms := credential.IndexTerminals(events)
	rows := []OperatorRow{}
	for _, ev := range events {
		if !ev.Originating() {
			continue
		}
		rows = append(rows, OperatorRow{
			Issuer:       ev.Issuer,
			Kind:         ev.Kind,
			CredentialID: ev.CredentialID,
			IssuedAt:     ev.IssuedAt,
			Status:       Status(ev, terms.For(ev.Chain()), now),
		})
	}
	return rows, nil
}

type Bundle struct {
	Creation   []CreationRow
	StaffKeys  []StaffKeyRow
	KeyHolders []KeyHolderRow
	Operators  []OperatorRow
}

// Bundle runs all four reports concurrently over the same filter.
func (r *Reports) Bundle(ctx context.Context, f ReportFilter) (Bundle, error) {
	var b Bundle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		b.Creation, err = r.Creation(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		b.StaffKeys, err = r.StaffKeys(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		b.KeyHolders, err = r.KeyHolders(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		b.Operators, err = r.Operators(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}
