package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
	"github.com/openkey-lms/keyledger/internal/keyledger/types"
)

const (
	reportCreation   = "creation"
	reportStaffKeys  = "staff-keys"
	reportKeyHolders = "key-holders"
	reportOperators  = "operators"
)

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "report")
	f, err := reportFilterFromQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := types.ReportResponse{
		Report: name,
		From:   credential.FormatWire(f.From),
		To:     credential.FormatWire(f.To),
	}
	ctx := r.Context()

	switch name {
	case reportCreation:
		rows, err := s.reports.Creation(ctx, f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Creation = creationRowsToWire(rows)
		resp.Count = len(rows)
	case reportStaffKeys:
		rows, err := s.reports.StaffKeys(ctx, f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.StaffKeys = staffKeyRowsToWire(rows)
		resp.Count = len(rows)
	case reportKeyHolders:
		rows, err := s.reports.KeyHolders(ctx, f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.KeyHolders = keyHolderRowsToWire(rows)
		resp.Count = len(rows)
	case reportOperators:
		rows, err := s.reports.Operators(ctx, f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Operators = operatorRowsToWire(rows)
		resp.Count = len(rows)
	default:
		s.writeError(w, r, apperr.Newf(apperr.CodeNotFound, "unknown report %q", name))
		return
	}

	writeBody(w, r, http.StatusOK, resp)
}

func (s *Server) handleWatermark(w http.ResponseWriter, r *http.Request) {
	item := chi.URLParam(r, "item")
	if item != store.WatermarkLog && item != store.WatermarkConfig {
		s.writeError(w, r, apperr.Newf(apperr.CodeNotFound, "unknown watermark %q", item))
		return
	}

	at, err := s.watermarks.LastModified(r.Context(), item)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeBody(w, r, http.StatusOK, types.WatermarkResponse{
		Item:         item,
		LastModified: credential.FormatWire(at),
	})
}
