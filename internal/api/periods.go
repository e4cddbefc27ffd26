package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/periods"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
)

type createPeriodRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

type phaseRequest struct {
	Phase string `json:"phase"`
}

type contributionDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

type deletePeriodRequest struct {
	Confirmation string `json:"confirmation"`
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Periods.List(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": list})
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.svc.Periods.Create(r.Context(), actorFrom(r), periods.CreateInput{Year: req.Year, Month: req.Month})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	year, yerr := strconv.Atoi(chi.URLParam(r, "period"))
	month, merr := strconv.Atoi(chi.URLParam(r, "month"))
	if yerr != nil || merr != nil {
		h.fail(w, r, ledger.Validation("invalid input", map[string]string{"period": "must be /periods/{year}/{month}"}))
		return
	}
	period, err := h.svc.Periods.Get(r.Context(), actorFrom(r), ledger.YearMonth{Year: year, Month: month})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

// deletePeriod takes the confirmation from the body or the confirmation query parameter.
func (h *Handler) deletePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req deletePeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Confirmation == "" {
		req.Confirmation = r.URL.Query().Get("confirmation")
	}
	result, err := h.svc.Periods.Delete(r.Context(), actorFrom(r), id, req.Confirmation)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) transitionPhase(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req phaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	next, err := ledger.ParsePeriodPhase(req.Phase)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.svc.Periods.TransitionPhase(r.Context(), actorFrom(r), id, next)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) lockPeriod(w http.ResponseWriter, r *http.Request) {
	h.periodAction(w, r, h.svc.Periods.Lock)
}

func (h *Handler) unlockPeriod(w http.ResponseWriter, r *http.Request) {
	h.periodAction(w, r, h.svc.Periods.Unlock)
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	h.periodAction(w, r, h.svc.Periods.Reopen)
}

func (h *Handler) setContributionDisabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req contributionDisabledRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.svc.Periods.SetContributionDisabled(r.Context(), actorFrom(r), id, req.Disabled)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

type periodFunc func(ctx context.Context, actor ledger.Actor, id uuid.UUID) (ledger.Period, error)

func (h *Handler) periodAction(w http.ResponseWriter, r *http.Request, fn periodFunc) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := fn(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}
