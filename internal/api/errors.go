package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
)

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindAuthorization:
		return http.StatusForbidden
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindStateConflict:
		return http.StatusConflict
	case ledger.KindBusinessRule:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, f *ledger.Error) {
	status := StatusFor(f.Kind)
	p := httpx.ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Detail: f.PublicMessage(),
		Kind:   string(f.Kind),
		Fields: f.Fields,
	}
	if r != nil {
		if id := middleware.GetReqID(r.Context()); id != "" {
			p.Type = "urn:hearth:request:" + id
		}
	}
	httpx.WriteProblem(w, p)
}

// fail renders err and counts it by kind.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, httpx.ErrValidation) {
		err = ledger.Validation(err.Error(), nil)
	}
	f := ledger.AsFailure(err)
	if f.Kind == ledger.KindPersistence {
		h.logger.Error("request failed", slog.Any("error", err),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	}
	if h.metrics != nil {
		h.metrics.ObserveFailure(string(f.Kind))
	}
	writeFailure(w, r, f)
}
