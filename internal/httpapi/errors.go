package httpapi

import (
	"errors"
	"net/http"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/service"
	"github.com/openkey-lms/keyledger/internal/keyledger/types"
)

// writeError maps err onto its HTTP status. Internal errors are logged and
// answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	resp := types.ErrorResponse{
		Error:   string(code),
		Message: apperr.MessageOf(err),
		Details: apperr.MetadataOf(err),
	}

	var partial *service.PartialCheckoutError
	if errors.As(err, &partial) {
		for _, c := range partial.Pending {
			resp.Pending = append(resp.Pending, c.String())
		}
	}

	switch code {
	case apperr.CodeInternal:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
			"err", err,
		)
		resp.Message = "unexpected server error"
		resp.Details = nil
	case apperr.CodeStoreUnavailable, apperr.CodePartialFailure:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", string(code),
			"request_id", requestIDFrom(r.Context()),
			"err", err,
		)
	}

	writeBody(w, r, code.HTTPStatus(), resp)
}

// decode reads the request body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := readBody(r, v); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeBody(w, r, http.StatusRequestEntityTooLarge, types.ErrorResponse{
				Error:   "body_too_large",
				Message: err.Error(),
			})
			return false
		}
		s.writeError(w, r, apperr.Wrap(apperr.CodeInvalidArgument, "invalid request body", err))
		return false
	}
	return true
}
