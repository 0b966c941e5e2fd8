package service_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/db"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/metrics"
	"github.com/openkey-lms/keyledger/internal/keyledger/service"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
	"github.com/openkey-lms/keyledger/internal/keyledger/store/memory"
	sqlitestore "github.com/openkey-lms/keyledger/internal/keyledger/store/sqlite"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by the ledger and reports.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newSQLiteStore returns a store on a private in-memory database.
func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()

	name := "svc_" + strings.ReplaceAll(t.Name(), "/", "_")
	conn, err := db.Open(context.Background(), db.Config{Path: name, InMemory: true})
	require.NoError(t, err)
	w := db.NewWorker(conn)
	t.Cleanup(func() {
		w.Close()
		conn.Close()
	})
	return sqlitestore.New(conn, w)
}

// forEachStore runs fn once against the memory store and once against
// SQLite.
func forEachStore(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, memory.New()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

type fixture struct {
	store   store.Store
	clock   *testClock
	ledger  *service.Ledger
	reports *service.Reports
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, st store.Store, start time.Time, rooms ...string) *fixture {
	t.Helper()

	clock := newClock(start)
	m := metrics.New(prometheus.NewRegistry())
	for _, r := range rooms {
		require.NoError(t, st.UpsertRoom(context.Background(), store.Room{
			FullID:    r,
			Occupancy: store.OccupancyOccupied,
			UpdatedAt: start,
		}))
	}
	return &fixture{
		store:   st,
		clock:   clock,
		ledger:  service.NewLedger(st, service.Options{Now: clock.Now, Logger: silentLogger(), Metrics: m}),
		reports: service.NewReports(st, clock.Now),
		metrics: m,
	}
}

func guest(id string, from, until time.Time, rooms ...string) credential.Event {
	return credential.Event{
		CredentialID: id,
		Kind:         credential.KindGuest,
		Rooms:        credential.Scope(rooms),
		ValidFrom:    from,
		ValidUntil:   until,
		Issuer:       "frontdesk",
		Holder:       "Guest " + id,
	}
}

func staff(id string, from, until time.Time, rooms ...string) credential.Event {
	ev := guest(id, from, until, rooms...)
	ev.Kind = credential.KindStaff
	ev.Issuer = "manager"
	ev.Holder = "Housekeeping " + id
	return ev
}

func date(s string) time.Time {
	t, err := credential.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return t
}

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, apperr.HasCode(err, code), "expected %s, got %v", code, err)
}

// failingStore makes Append fail inside units of work while fail is set.
type failingStore struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *failingStore) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return f.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if f.failing() {
			return fn(ctx, failingTx{Tx: tx})
		}
		return fn(ctx, tx)
	})
}

type failingTx struct {
	store.Tx
}

func (failingTx) Append(context.Context, credential.Event) (credential.Event, error) {
	return credential.Event{}, apperr.New(apperr.CodeStoreUnavailable, "disk unavailable")
}

func memoryStore() store.Store { return memory.New() }
