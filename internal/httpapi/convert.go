package httpapi

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/service"
	"github.com/openkey-lms/keyledger/internal/keyledger/types"
)

// ── Struct payloads ──────────────────────────────────────────────────────────

func structToJSON(st *structpb.Struct) ([]byte, error) {
	return protojson.Marshal(st)
}

func jsonToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, err
	}
	return st, nil
}

// ── Times ────────────────────────────────────────────────────────────────────

// parseTime parses an optional timestamp field, naming the field in the
// error.
func parseTime(field, s string) (time.Time, error) {
	t, err := credential.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.CodeInvalidArgument, "%s: %v", field, err).
			WithMetadata("field", field)
	}
	return t, nil
}

func requireTime(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, apperr.Newf(apperr.CodeInvalidArgument, "%s is required", field).
			WithMetadata("field", field)
	}
	return parseTime(field, s)
}

// ── Credentials ──────────────────────────────────────────────────────────────

func issueRequestToEvent(req types.IssueRequest) (credential.Event, service.IssueOptions, error) {
	var opts service.IssueOptions

	kind, err := credential.ParseKind(req.Kind)
	if err != nil {
		return credential.Event{}, opts, apperr.Wrap(apperr.CodeInvalidArgument, "kind", err)
	}
	from, err := requireTime("valid_from", req.ValidFrom)
	if err != nil {
		return credential.Event{}, opts, err
	}
	until, err := requireTime("valid_until", req.ValidUntil)
	if err != nil {
		return credential.Event{}, opts, err
	}
	issuedAt, err := parseTime("issued_at", req.IssuedAt)
	if err != nil {
		return credential.Event{}, opts, err
	}

	ev := credential.Event{
		IssuedAt:     issuedAt,
		CredentialID: req.CredentialID,
		Kind:         kind,
		Rooms:        credential.NormalizeScope(req.Rooms),
		Areas:        credential.NormalizeScope(req.Areas),
		ValidFrom:    from,
		ValidUntil:   until,
		Issuer:       req.Issuer,
		Holder:       req.Holder,
		Flags: credential.Flags(0).
			With(credential.FlagDeadboltOverride, req.DeadboltOverride).
			With(credential.FlagPassageMode, req.PassageMode),
	}
	opts.AllowConflict = req.AllowConflict
	return ev, opts, nil
}

func scopeOrEmpty(s credential.Scope) []string {
	if s == nil {
		return []string{}
	}
	return []string(s)
}

func eventToWire(ev credential.Event) types.Event {
	return types.Event{
		Seq:              ev.Seq,
		CredentialID:     ev.CredentialID,
		Kind:             ev.Kind.String(),
		Rooms:            scopeOrEmpty(ev.Rooms),
		Areas:            scopeOrEmpty(ev.Areas),
		IssuedAt:         credential.FormatWire(ev.IssuedAt),
		ValidFrom:        credential.FormatWire(ev.ValidFrom),
		ValidUntil:       credential.FormatWire(ev.ValidUntil),
		Issuer:           ev.Issuer,
		Holder:           ev.Holder,
		DeadboltOverride: ev.Flags.Has(credential.FlagDeadboltOverride),
		PassageMode:      ev.Flags.Has(credential.FlagPassageMode),
		State:            ev.State.String(),
		StateChangedAt:   credential.FormatWire(ev.StateChangedAt),
		InsertedAt:       credential.FormatWire(ev.InsertedAt),
	}
}

func eventsToWire(events []credential.Event) []types.Event {
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		out = append(out, eventToWire(ev))
	}
	return out
}

// ── Reports ──────────────────────────────────────────────────────────────────

// reportFilterFromQuery reads from, to, issuer, kind, holder, room and
// credential_id. Repeated parameters, or comma separated values, are ORed.
func reportFilterFromQuery(q url.Values) (service.ReportFilter, error) {
	var f service.ReportFilter
	var err error

	if f.From, err = parseTime("from", q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime("to", q.Get("to")); err != nil {
		return f, err
	}
	f.Issuers = multiValue(q, "issuer")
	f.Holders = multiValue(q, "holder")
	for _, k := range multiValue(q, "kind") {
		kind, err := credential.ParseKind(k)
		if err != nil {
			return f, apperr.Wrap(apperr.CodeInvalidArgument, "kind", err)
		}
		f.Kinds = append(f.Kinds, kind)
	}
	f.Room = q.Get("room")
	f.CredentialID = q.Get("credential_id")
	return f, nil
}

func multiValue(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func creationRowsToWire(rows []service.CreationRow) []types.CreationRow {
	out := make([]types.CreationRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.CreationRow{
			Kind:         r.Kind.String(),
			CredentialID: r.CredentialID,
			Issuer:       r.Issuer,
			Building:     r.Building,
			Floor:        r.Floor,
			Room:         r.Room,
			IssuedAt:     credential.FormatWire(r.IssuedAt),
			ReturnedAt:   credential.FormatWire(r.ReturnedAt),
			CheckedOutAt: credential.FormatWire(r.CheckedOutAt),
			Holder:       r.Holder,
			Status:       r.Status,
		})
	}
	return out
}

func staffKeyRowsToWire(rows []service.StaffKeyRow) []types.StaffKeyRow {
	out := make([]types.StaffKeyRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.StaffKeyRow{
			CredentialID:     r.CredentialID,
			Issuer:           r.Issuer,
			Rooms:            r.Rooms.String(),
			Areas:            r.Areas.String(),
			IssuedAt:         credential.FormatWire(r.IssuedAt),
			ValidUntil:       credential.FormatWire(r.ValidUntil),
			Holder:           r.Holder,
			DeadboltOverride: r.DeadboltOverride,
			PassageMode:      r.PassageMode,
		})
	}
	return out
}

func keyHolderRowsToWire(rows []service.KeyHolderRow) []types.KeyHolderRow {
	out := make([]types.KeyHolderRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.KeyHolderRow{
			Kind:         r.Kind.String(),
			CredentialID: r.CredentialID,
			Holder:       r.Holder,
			Building:     r.Building,
			Floor:        r.Floor,
			Room:         r.Room,
			IssuedAt:     credential.FormatWire(r.IssuedAt),
			ValidUntil:   credential.FormatWire(r.ValidUntil),
		})
	}
	return out
}

func operatorRowsToWire(rows []service.OperatorRow) []types.OperatorRow {
	out := make([]types.OperatorRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.OperatorRow{
			Issuer:       r.Issuer,
			Kind:         r.Kind.String(),
			CredentialID: r.CredentialID,
			IssuedAt:     credential.FormatWire(r.IssuedAt),
			Status:       r.Status,
		})
	}
	return out
}
