package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/types"
)

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	s.checkout(w, r, s.ledger.Checkout)
}

func (s *Server) handleCompleteCheckout(w http.ResponseWriter, r *http.Request) {
	s.checkout(w, r, s.ledger.CompleteCheckout)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request, run func(context.Context, string, time.Time) ([]credential.Event, error)) {
	var req types.CheckoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	at, err := parseTime("at", req.At)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	roomID := chi.URLParam(r, "roomID")
	out, err := run(r.Context(), roomID, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeBody(w, r, http.StatusOK, types.CheckoutResponse{
		RoomID:     roomID,
		CheckedOut: eventsToWire(out),
		ServerTime: credential.FormatWire(s.ledger.Now()),
	})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, r, s.ledger.FindActiveForRoom)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, r, s.ledger.FindConflictingFutureForRoom)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, find func(context.Context, string, time.Time) (credential.Event, bool, error)) {
	asOf, err := parseTime("as_of", r.URL.Query().Get("as_of"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if asOf.IsZero() {
		asOf = s.ledger.Now()
	}

	roomID := chi.URLParam(r, "roomID")
	ev, ok, err := find(r.Context(), roomID, asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := types.RoomLookupResponse{
		RoomID: roomID,
		AsOf:   credential.FormatWire(asOf),
		Found:  ok,
	}
	if ok {
		wire := eventToWire(ev)
		resp.Credential = &wire
	}
	writeBody(w, r, http.StatusOK, resp)
}

func (s *Server) handleKeyCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := requireTime("valid_from", q.Get("valid_from"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	until, err := requireTime("valid_until", q.Get("valid_until"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	roomID := chi.URLParam(r, "roomID")
	n, err := s.ledger.CountKeys(r.Context(), roomID, from, until)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeBody(w, r, http.StatusOK, types.KeyCountResponse{
		RoomID:     roomID,
		ValidFrom:  credential.FormatWire(from),
		ValidUntil: credential.FormatWire(until),
		Count:      n,
	})
}
