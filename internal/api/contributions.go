package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger/contributions"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
)

type settingsRequest struct {
	Policy      string          `json:"policy"`
	MonthlyGoal decimal.Decimal `json:"monthly_goal"`
	Currency    string          `json:"currency"`
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Contributions.Settings(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	settings, err := h.svc.Contributions.UpdateSettings(r.Context(), actorFrom(r), contributions.UpdateSettingsInput{
		Policy:      req.Policy,
		MonthlyGoal: req.MonthlyGoal,
		Currency:    req.Currency,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) listContributions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Contributions.List(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"contributions": list})
}

func (h *Handler) recalculateContributions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Contributions.Recalculate(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"contributions": list})
}

func (h *Handler) reconcileContributions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.svc.Contributions.Reconcile(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	drift := 0
	for _, line := range lines {
		if line.Drift {
			drift++
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines, "drift": drift})
}
