package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/credits"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
)

type applyCreditRequest struct {
	ContributionID uuid.UUID `json:"contribution_id"`
}

type transferCreditRequest struct {
	Note string `json:"note"`
}

type reserveCreditRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (h *Handler) listCredits(w http.ResponseWriter, r *http.Request) {
	member, err := queryUUID(r, "member_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Credits.List(r.Context(), actorFrom(r), credits.ListInput{
		MemberID: member,
		Status:   r.URL.Query().Get("status"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"credits": list})
}

func (h *Handler) applyCredit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req applyCreditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ContributionID == uuid.Nil {
		h.fail(w, r, ledger.Validation("invalid input", map[string]string{"contribution_id": "is required"}))
		return
	}
	result, err := h.svc.Credits.Apply(r.Context(), actorFrom(r), id, req.ContributionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) transferCredit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req transferCreditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	credit, err := h.svc.Credits.Transfer(r.Context(), actorFrom(r), id, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, credit)
}

func (h *Handler) reserveCredit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reserveCreditRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	credit, err := h.svc.Credits.Reserve(r.Context(), actorFrom(r), id, ledger.YearMonth{Year: req.Year, Month: req.Month})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, credit)
}

func (h *Handler) releaseCredit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	credit, err := h.svc.Credits.Release(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, credit)
}
