package api

import (
	"net/http"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
)

// getBalance serves the all-time breakdown, or one month when both year and month are given.
func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	year, hasYear, err := queryInt(r, "year")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	month, hasMonth, err := queryInt(r, "month")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var scope *ledger.YearMonth
	switch {
	case hasYear && hasMonth:
		scope = &ledger.YearMonth{Year: year, Month: month}
	case hasYear || hasMonth:
		h.fail(w, r, ledger.Validation("invalid input", map[string]string{"period": "year and month must be given together"}))
		return
	}
	breakdown, err := h.svc.Balance.Get(r.Context(), actorFrom(r), scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdown)
}
