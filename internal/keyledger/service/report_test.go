package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/service"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

// ReportSuite builds one week of front-desk history and runs every report
// over it.
type ReportSuite struct {
	suite.Suite
	f *fixture
}

func TestReportSuite(t *testing.T) {
	suite.Run(t, new(ReportSuite))
}

func (s *ReportSuite) SetupTest() {
	ctx := context.Background()
	s.f = newFixture(s.T(), memoryStore(), date("2024-01-01 09:00"), "1.1.101", "1.1.102", "1.2.201", "2.1.101")
	l := s.f.ledger

	issue := func(ev credential.Event, at string) {
		s.f.clock.Set(date(at))
		_, err := l.Issue(ctx, ev, service.IssueOptions{})
		s.Require().NoError(err)
	}

	// Checked out.
	a := guest("A", date("2024-01-01 14:00"), date("2024-01-03 11:00"), "1.1.101")
	issue(a, "2024-01-01 10:00")
	// Returned after checkout.
	b := guest("B", date("2024-01-01 14:00"), date("2024-01-03 11:00"), "1.1.102")
	b.Issuer = "nightdesk"
	issue(b, "2024-01-01 11:00")
	// Expired without checkout.
	c := guest("C", date("2024-01-01 14:00"), date("2024-01-02 11:00"), "1.2.201")
	issue(c, "2024-01-01 12:00")
	// Still in use.
	d := guest("D", date("2024-01-02 14:00"), date("2024-01-09 11:00"), "2.1.101")
	d.Holder = ""
	issue(d, "2024-01-02 12:00")
	// Staff master key.
	m := staff("M", date("2024-01-02 08:00"), date("2024-12-31 00:00"), "1.1.101", "1.1.102")
	m.Areas = credential.Scope{"pool", "gym"}
	m.Flags = credential.FlagDeadboltOverride
	issue(m, "2024-01-02 08:00")
	// Malformed scope.
	x := staff("X", date("2024-01-02 08:00"), date("2024-12-31 00:00"), "lobby")
	x.Holder = ""
	x.Flags = credential.FlagPassageMode
	issue(x, "2024-01-02 08:30")
	// Outside the range.
	issue(guest("OLD", date("2023-12-01 14:00"), date("2023-12-02 11:00"), "1.1.101"), "2023-12-01 10:00")

	_, err := l.Checkout(ctx, "1.1.101", date("2024-01-03 10:00"))
	s.Require().NoError(err)
	_, err = l.Checkout(ctx, "1.1.102", date("2024-01-03 10:30"))
	s.Require().NoError(err)
	_, err = l.Cancel(ctx, "B", "nightdesk", date("2024-01-03 10:45"))
	s.Require().NoError(err)

	s.f.clock.Set(date("2024-01-04 09:00"))
}

func (s *ReportSuite) week() service.ReportFilter {
	return service.ReportFilter{From: date("2024-01-01 00:00"), To: date("2024-01-08 00:00")}
}

func (s *ReportSuite) TestCreationStatuses() {
	rows, err := s.f.reports.Creation(context.Background(), s.week())
	s.Require().NoError(err)
	s.Require().Len(rows, 6)

	byID := map[string]service.CreationRow{}
	for _, r := range rows {
		byID[r.CredentialID] = r
	}
	s.Equal(service.StatusCheckedOut, byID["A"].Status)
	s.Equal(service.StatusCancelled, byID["B"].Status, "cancel wins over checkout")
	s.Equal(service.StatusExpired, byID["C"].Status)
	s.Equal(service.StatusBeingUsed, byID["D"].Status)

	s.True(byID["A"].CheckedOutAt.Equal(date("2024-01-03 10:00")))
	s.True(byID["A"].ReturnedAt.IsZero())
	s.True(byID["B"].CheckedOutAt.Equal(date("2024-01-03 10:30")))
	s.True(byID["B"].ReturnedAt.Equal(date("2024-01-03 10:45")))

	// Newest first.
	s.Equal("D", rows[0].CredentialID)
	s.Equal("A", rows[len(rows)-1].CredentialID)
}

func (s *ReportSuite) TestCreationMalformedScope() {
	f := s.week()
	f.CredentialID = "X"
	rows, err := s.f.reports.Creation(context.Background(), f)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("lobby", rows[0].Building)
	s.Empty(rows[0].Floor)
	s.Empty(rows[0].Room)
}

func (s *ReportSuite) TestFiltersAndAcrossOrWithin() {
	ctx := context.Background()

	f := s.week()
	f.Issuers = []string{"frontdesk", "nightdesk"}
	f.Kinds = []credential.Kind{credential.KindGuest}
	rows, err := s.f.reports.Creation(ctx, f)
	s.Require().NoError(err)
	s.Len(rows, 4)

	f.Room = "1.1."
	rows, err = s.f.reports.Creation(ctx, f)
	s.Require().NoError(err)
	s.Len(rows, 2)

	f.Issuers = []string{"nobody"}
	rows, err = s.f.reports.Creation(ctx, f)
	s.Require().NoError(err)
	s.NotNil(rows)
	s.Empty(rows)
}

func (s *ReportSuite) TestStaffKeys() {
	f := s.week()
	f.Kinds = []credential.Kind{credential.KindGuest} // ignored
	rows, err := s.f.reports.StaffKeys(context.Background(), f)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)

	s.Equal("X", rows[0].CredentialID)
	s.True(rows[0].PassageMode)
	s.False(rows[0].DeadboltOverride)

	m := rows[1]
	s.Equal("M", m.CredentialID)
	s.Equal("1.1.101 1.1.102", m.Rooms.String())
	s.Equal("pool gym", m.Areas.String())
	s.True(m.DeadboltOverride)

	f.Holders = []string{"Housekeeping M"}
	rows, err = s.f.reports.StaffKeys(context.Background(), f)
	s.Require().NoError(err)
	s.Len(rows, 1)
}

func (s *ReportSuite) TestKeyHolders() {
	rows, err := s.f.reports.KeyHolders(context.Background(), s.week())
	s.Require().NoError(err)

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.CredentialID)
		s.NotEmpty(r.Holder)
	}
	s.ElementsMatch([]string{"A", "B", "C", "M"}, ids)
}

func (s *ReportSuite) TestOperators() {
	f := s.week()
	f.Issuers = []string{"nightdesk"}
	rows, err := s.f.reports.Operators(context.Background(), f)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("B", rows[0].CredentialID)
	s.Equal(service.StatusCancelled, rows[0].Status)
}

func (s *ReportSuite) TestBundle() {
	b, err := s.f.reports.Bundle(context.Background(), s.week())
	s.Require().NoError(err)
	s.Len(b.Creation, 6)
	s.Len(b.StaffKeys, 2)
	s.Len(b.KeyHolders, 4)
	s.Len(b.Operators, 6)
}

func (s *ReportSuite) TestInvalidRange() {
	_, err := s.f.reports.Bundle(context.Background(), service.ReportFilter{
		From: date("2024-01-08 00:00"),
		To:   date("2024-01-01 00:00"),
	})
	s.True(apperr.HasCode(err, apperr.CodeInvalidArgument))
}

func TestStatusPrecedence(t *testing.T) {
	orig := guest("K", date("2024-01-01 14:00"), date("2024-01-03 11:00"), "1.1.101")
	out := orig.Terminate(credential.StateCheckedOut, date("2024-01-02 10:00"))
	cancel := orig.Terminate(credential.StateCancelled, date("2024-01-02 11:00"))

	cases := []struct {
		name  string
		terms credential.ChainTerminals
		now   string
		want  string
	}{
		{"cancelled", credential.ChainTerminals{Cancelled: &cancel}, "2024-01-02 12:00", service.StatusCancelled},
		{"both", credential.ChainTerminals{Cancelled: &cancel, CheckedOut: &out}, "2024-01-05 12:00", service.StatusCancelled},
		{"checked out", credential.ChainTerminals{CheckedOut: &out}, "2024-01-05 12:00", service.StatusCheckedOut},
		{"expired at boundary", credential.ChainTerminals{}, "2024-01-03 11:00", service.StatusExpired},
		{"in use", credential.ChainTerminals{}, "2024-01-03 10:59", service.StatusBeingUsed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, service.Status(orig, c.terms, date(c.now)))
		})
	}
}

func TestReports_SQLiteMatchesMemory(t *testing.T) {
	ctx := context.Background()
	build := func(st store.Store) []service.CreationRow {
		f := newFixture(t, st, date("2024-01-01 09:00"), "1.1.101")
		_, err := f.ledger.Issue(ctx, guest("A", date("2024-01-01 14:00"), date("2024-01-03 11:00"), "1.1.101"), service.IssueOptions{})
		require.NoError(t, err)
		_, err = f.ledger.Checkout(ctx, "1.1.101", date("2024-01-02 10:00"))
		require.NoError(t, err)
		rows, err := f.reports.Creation(ctx, service.ReportFilter{From: date("2024-01-01 00:00"), To: date("2024-01-04 00:00")})
		require.NoError(t, err)
		return rows
	}

	mem := build(memoryStore())
	sql := build(newSQLiteStore(t))
	require.Len(t, sql, len(mem))
	for i := range mem {
		assert.Equal(t, mem[i].CredentialID, sql[i].CredentialID)
		assert.Equal(t, mem[i].Status, sql[i].Status)
		assert.True(t, mem[i].CheckedOutAt.Equal(sql[i].CheckedOutAt))
	}
}
