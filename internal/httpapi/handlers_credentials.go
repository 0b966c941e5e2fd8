package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/types"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeBody(w, r, http.StatusOK, types.HealthResponse{
		OK:         true,
		ServerTime: credential.FormatWire(s.ledger.Now()),
	})
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req types.IssueRequest
	if !s.decode(w, r, &req) {
		return
	}

	ev, opts, err := issueRequestToEvent(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stored, err := s.ledger.Issue(r.Context(), ev, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeBody(w, r, http.StatusCreated, eventToWire(stored))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req types.CancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	at, err := parseTime("at", req.At)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stored, err := s.ledger.Cancel(r.Context(), chi.URLParam(r, "credentialID"), req.Operator, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeBody(w, r, http.StatusOK, eventToWire(stored))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialID")

	latest, ok, err := s.ledger.LatestEvent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := types.StateResponse{
		CredentialID: id,
		State:        credential.StateUnknown.String(),
		ServerTime:   credential.FormatWire(s.ledger.Now()),
	}
	if ok {
		// The newest event of the newest chain carries its projected state.
		resp.State = latest.State.String()
		wire := eventToWire(latest)
		resp.Latest = &wire
	}

	writeBody(w, r, http.StatusOK, resp)
}

func (s *Server) handleHolder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialID")

	holder, err := s.ledger.CurrentHolder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeBody(w, r, http.StatusOK, types.HolderResponse{
		CredentialID: id,
		Holder:       holder,
		ServerTime:   credential.FormatWire(s.ledger.Now()),
	})
}
