package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/httpapi"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/service"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
	"github.com/openkey-lms/keyledger/internal/keyledger/store/memory"
	"github.com/openkey-lms/keyledger/internal/keyledger/types"
)

var start = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	ts    *httptest.Server
	store store.Store
	now   time.Time
	mu    sync.Mutex
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) setClock(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = t
}

// newTestServer wires the full dependency graph on the memory store and
// returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T, st store.Store, opts service.Options, rooms ...string) *testEnv {
	t.Helper()

	env := &testEnv{store: st, now: start}
	for _, r := range rooms {
		require.NoError(t, st.UpsertRoom(context.Background(), store.Room{
			FullID:    r,
			Occupancy: store.OccupancyOccupied,
			UpdatedAt: start,
		}))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Now = env.clock
	opts.Logger = logger
	ledger := service.NewLedger(st, opts)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    ":0",
		Ledger:  ledger,
		Reports: service.NewReports(st, env.clock),
	})

	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func guestRequest(id, room string) types.IssueRequest {
	return types.IssueRequest{
		CredentialID: id,
		Kind:         "guest",
		Rooms:        []string{room},
		ValidFrom:    "2024-01-01 14:00",
		ValidUntil:   "2024-01-03T11:00:00Z",
		Issuer:       "frontdesk",
		Holder:       "Guest " + id,
	}
}

// ── Health ───────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	resp := get(t, env.ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decodeJSON[types.HealthResponse](t, resp)
	assert.True(t, body.OK)
	assert.Equal(t, "2024-01-01T09:00:00.000Z", body.ServerTime)
}

func TestRequestID_ClientValueEchoed(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "desk-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "desk-42", resp.Header.Get("X-Request-ID"))
}

// ── Credentials ──────────────────────────────────────────────────────────────

func TestIssue_ThenStateAndHolder(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101")

	resp := postJSON(t, env.ts.URL+"/v1/credentials", guestRequest("K-1", "1.1.101"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ev := decodeJSON[types.Event](t, resp)
	assert.Equal(t, "K-1", ev.CredentialID)
	assert.Equal(t, "guest", ev.Kind)
	assert.Equal(t, "active", ev.State)
	assert.Equal(t, "2024-01-01T09:00:00.000Z", ev.IssuedAt)
	assert.Equal(t, "2024-01-01T14:00:00.000Z", ev.ValidFrom)
	assert.Empty(t, ev.StateChangedAt)

	state := decodeJSON[types.StateResponse](t, get(t, env.ts.URL+"/v1/credentials/K-1/state"))
	assert.Equal(t, "active", state.State)
	require.NotNil(t, state.Latest)
	assert.Equal(t, []string{"1.1.101"}, state.Latest.Rooms)

	holder := decodeJSON[types.HolderResponse](t, get(t, env.ts.URL+"/v1/credentials/K-1/holder"))
	assert.Equal(t, "Guest K-1", holder.Holder)
}

func TestState_UnknownCredential(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	resp := get(t, env.ts.URL+"/v1/credentials/NOPE/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state := decodeJSON[types.StateResponse](t, resp)
	assert.Equal(t, "unknown", state.State)
	assert.Nil(t, state.Latest)
}

func TestIssue_BadJSON(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	resp, err := http.Post(env.ts.URL+"/v1/credentials", "application/json", bytes.NewReader([]byte(`{"credential_id":`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeJSON[types.ErrorResponse](t, resp)
	assert.Equal(t, string(apperr.CodeInvalidArgument), body.Error)
}

func TestIssue_UnknownField(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	resp, err := http.Post(env.ts.URL+"/v1/credentials", "application/json", bytes.NewReader([]byte(`{"credential_id":"K","colour":"red"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIssue_MissingWindow(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	req := guestRequest("K-1", "1.1.101")
	req.ValidUntil = ""
	resp := postJSON(t, env.ts.URL+"/v1/credentials", req)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeJSON[types.ErrorResponse](t, resp)
	assert.Equal(t, "valid_until", body.Details["field"])
}

func TestIssue_ConflictRefusedThenOverridden(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101")

	resp := postJSON(t, env.ts.URL+"/v1/credentials", guestRequest("K-1", "1.1.101"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, env.ts.URL+"/v1/credentials", guestRequest("K-2", "1.1.101"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeJSON[types.ErrorResponse](t, resp)
	assert.Equal(t, string(apperr.CodeConstraintViolation), body.Error)
	assert.Equal(t, "room_conflict", body.Details["reason"])

	req := guestRequest("K-2", "1.1.101")
	req.AllowConflict = true
	resp = postJSON(t, env.ts.URL+"/v1/credentials", req)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCancel(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101")

	resp := postJSON(t, env.ts.URL+"/v1/credentials", guestRequest("K-1", "1.1.101"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, env.ts.URL+"/v1/credentials/K-1/cancel", types.CancelRequest{Operator: "nightdesk", At: "2024-01-02 08:00"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ev := decodeJSON[types.Event](t, resp)
	assert.Equal(t, "cancelled", ev.State)
	assert.Equal(t, "nightdesk", ev.Issuer)
	assert.Equal(t, "2024-01-02T08:00:00.000Z", ev.StateChangedAt)

	resp = postJSON(t, env.ts.URL+"/v1/credentials/K-1/cancel", types.CancelRequest{Operator: "nightdesk"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeJSON[types.ErrorResponse](t, resp)
	assert.Equal(t, "already_terminated", body.Details["reason"])
}

func TestCancel_UnknownCredentialIsRecorded(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	resp := postJSON(t, env.ts.URL+"/v1/credentials/LOST-7/cancel", types.CancelRequest{Operator: "frontdesk"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev := decodeJSON[types.Event](t, resp)
	assert.Equal(t, "empty", ev.Kind)
	assert.Equal(t, "cancelled", ev.State)
}

func TestCancel_OperatorRequired(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	resp := postJSON(t, env.ts.URL+"/v1/credentials/K-1/cancel", types.CancelRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ── Rooms ────────────────────────────────────────────────────────────────────

func TestCheckout(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101")

	resp := postJSON(t, env.ts.URL+"/v1/credentials", guestRequest("K-1", "1.1.101"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, env.ts.URL+"/v1/rooms/1.1.101/checkout", types.CheckoutRequest{At: "2024-01-02 10:00"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON[types.CheckoutResponse](t, resp)
	require.Len(t, out.CheckedOut, 1)
	assert.Equal(t, "K-1", out.CheckedOut[0].CredentialID)
	assert.Equal(t, "checked_out", out.CheckedOut[0].State)

	state := decodeJSON[types.StateResponse](t, get(t, env.ts.URL+"/v1/credentials/K-1/state"))
	assert.Equal(t, "checked_out", state.State)

	room, err := env.store.GetRoom(context.Background(), "1.1.101")
	require.NoError(t, err)
	assert.Equal(t, store.OccupancyVacant, room.Occupancy)
}

func TestCheckout_UnknownRoom(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	resp := postJSON(t, env.ts.URL+"/v1/rooms/9.9.999/checkout", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeJSON[types.ErrorResponse](t, resp)
	assert.Equal(t, string(apperr.CodeReferentialViolation), body.Error)
}

// brokenAppend makes every Append inside a unit of work fail.
type brokenAppend struct {
	store.Store
}

func (b brokenAppend) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return b.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, brokenTx{Tx: tx})
	})
}

type brokenTx struct {
	store.Tx
}

func (brokenTx) Append(context.Context, credential.Event) (credential.Event, error) {
	return credential.Event{}, apperr.New(apperr.CodeStoreUnavailable, "disk unavailable")
}

func TestCheckout_PartialFailureListsPendingChains(t *testing.T) {
	ledgerStore := memory.New()
	rooms := memory.New()
	require.NoError(t, rooms.UpsertRoom(context.Background(), store.Room{FullID: "1.1.101", Occupancy: store.OccupancyOccupied}))

	_, err := service.NewLedger(ledgerStore, service.Options{Now: func() time.Time { return start }}).
		Issue(context.Background(), credential.Event{
			CredentialID: "K-1",
			Kind:         credential.KindGuest,
			Rooms:        credential.Scope{"1.1.101"},
			ValidFrom:    start,
			ValidUntil:   start.Add(48 * time.Hour),
			Issuer:       "frontdesk",
		}, service.IssueOptions{})
	require.NoError(t, err)

	env := newTestServer(t, brokenAppend{Store: ledgerStore}, service.Options{Rooms: rooms})

	resp := postJSON(t, env.ts.URL+"/v1/rooms/1.1.101/checkout", types.CheckoutRequest{At: "2024-01-02 10:00"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decodeJSON[types.ErrorResponse](t, resp)
	assert.Equal(t, string(apperr.CodePartialFailure), body.Error)
	assert.Equal(t, "1", body.Details["pending_count"])
	require.Len(t, body.Pending, 1)
	assert.Contains(t, body.Pending[0], "K-1")

	room, err := rooms.GetRoom(context.Background(), "1.1.101")
	require.NoError(t, err)
	assert.Equal(t, store.OccupancyVacant, room.Occupancy)
}

func TestRoomLookups(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101")

	resp := postJSON(t, env.ts.URL+"/v1/credentials", guestRequest("K-1", "1.1.101"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	active := decodeJSON[types.RoomLookupResponse](t, get(t, env.ts.URL+"/v1/rooms/1.1.101/active?as_of=2024-01-02+10:00"))
	assert.True(t, active.Found)
	require.NotNil(t, active.Credential)
	assert.Equal(t, "K-1", active.Credential.CredentialID)

	upcoming := decodeJSON[types.RoomLookupResponse](t, get(t, env.ts.URL+"/v1/rooms/1.1.101/upcoming"))
	assert.True(t, upcoming.Found, "window starts at 14:00, clock is 09:00")
	assert.Equal(t, "2024-01-01T09:00:00.000Z", upcoming.AsOf)

	none := decodeJSON[types.RoomLookupResponse](t, get(t, env.ts.URL+"/v1/rooms/1.1.102/active"))
	assert.False(t, none.Found)
	assert.Nil(t, none.Credential)

	resp = get(t, env.ts.URL+"/v1/rooms/1.1.101/active?as_of=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestKeyCount(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101")

	for _, id := range []string{"K-1", "K-2"} {
		req := guestRequest(id, "1.1.101")
		req.AllowConflict = true
		resp := postJSON(t, env.ts.URL+"/v1/credentials", req)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := get(t, env.ts.URL+"/v1/rooms/1.1.101/key-count?valid_from=2024-01-01T14:00:00Z&valid_until=2024-01-03+11:00")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decodeJSON[types.KeyCountResponse](t, resp).Count)

	resp = get(t, env.ts.URL+"/v1/rooms/1.1.101/key-count?valid_from=2024-01-01T14:00:00Z")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ── Reports & watermarks ─────────────────────────────────────────────────────

func TestReports(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101", "1.1.102")

	resp := postJSON(t, env.ts.URL+"/v1/credentials", guestRequest("K-1", "1.1.101"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	staff := guestRequest("S-1", "1.1.102")
	staff.Kind = "staff"
	staff.Issuer = "manager"
	staff.DeadboltOverride = true
	resp = postJSON(t, env.ts.URL+"/v1/credentials", staff)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	env.setClock(start.Add(72 * time.Hour))
	base := env.ts.URL + "/v1/reports/"

	resp = get(t, base+"creation?from=2024-01-01")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "date-only is not a recognised layout")

	rng := "?from=2024-01-01+00:00&to=2024-01-08+00:00"
	creation := decodeJSON[types.ReportResponse](t, get(t, base+"creation"+rng))
	require.Equal(t, 2, creation.Count)
	for _, row := range creation.Creation {
		assert.Equal(t, service.StatusExpired, row.Status)
	}

	guests := decodeJSON[types.ReportResponse](t, get(t, base+"creation"+rng+"&kind=guest"))
	require.Equal(t, 1, guests.Count)
	assert.Equal(t, "101", guests.Creation[0].Room)

	keys := decodeJSON[types.ReportResponse](t, get(t, base+"staff-keys"+rng))
	require.Equal(t, 1, keys.Count)
	assert.True(t, keys.StaffKeys[0].DeadboltOverride)

	ops := decodeJSON[types.ReportResponse](t, get(t, base+"operators"+rng+"&issuer=manager,frontdesk"))
	assert.Equal(t, 2, ops.Count)

	holders := decodeJSON[types.ReportResponse](t, get(t, base+"key-holders"+rng+"&holder=nobody"))
	assert.Equal(t, 0, holders.Count)

	resp = get(t, base+"bogus"+rng)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, base+"creation?from=2024-01-08+00:00&to=2024-01-01+00:00")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWatermarks(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101")

	wm := decodeJSON[types.WatermarkResponse](t, get(t, env.ts.URL+"/v1/watermarks/log"))
	assert.Empty(t, wm.LastModified)

	resp := postJSON(t, env.ts.URL+"/v1/credentials", guestRequest("K-1", "1.1.101"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	wm = decodeJSON[types.WatermarkResponse](t, get(t, env.ts.URL+"/v1/watermarks/log"))
	assert.NotEmpty(t, wm.LastModified)

	resp = get(t, env.ts.URL+"/v1/watermarks/rooms-v2")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ── Protobuf ─────────────────────────────────────────────────────────────────

func TestIssue_ProtobufStructRoundTrip(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{}, "1.1.101")

	in, err := structpb.NewStruct(map[string]any{
		"credential_id": "K-9",
		"kind":          "guest",
		"rooms":         []any{"1.1.101"},
		"valid_from":    "2024-01-01 14:00",
		"valid_until":   "2024-01-03 11:00",
		"issuer":        "frontdesk",
	})
	require.NoError(t, err)
	data, err := proto.Marshal(in)
	require.NoError(t, err)

	resp, err := http.Post(env.ts.URL+"/v1/credentials", "application/x-protobuf", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &out))

	fields := out.AsMap()
	assert.Equal(t, "K-9", fields["credential_id"])
	assert.Equal(t, "active", fields["state"])
	assert.Equal(t, []any{"1.1.101"}, fields["rooms"])
}

func TestProtobufAcceptOnJSONRequest(t *testing.T) {
	env := newTestServer(t, memory.New(), service.Options{})

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/credentials/NOPE/state", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/x-protobuf")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &out))
	assert.Equal(t, "unknown", out.AsMap()["state"])
}
