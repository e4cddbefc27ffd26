package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger/movements"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
	"github.com/hearth-finance/hearth/internal/shared"
)

type recordMovementRequest struct {
	Type        string          `json:"type"`
	Flow        string          `json:"flow"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
	MemberID    *uuid.UUID      `json:"member_id"`
	CategoryID  *uuid.UUID      `json:"category_id"`
	Description string          `json:"description"`
}

type editMovementRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Description *string          `json:"description"`
	CategoryID  *uuid.UUID       `json:"category_id"`
	OccurredAt  *time.Time       `json:"occurred_at"`
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var req recordMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	movement, err := h.svc.Movements.RecordMovement(r.Context(), actorFrom(r), movements.RecordInput{
		Type:        req.Type,
		Flow:        req.Flow,
		Amount:      req.Amount,
		OccurredAt:  req.OccurredAt,
		MemberID:    req.MemberID,
		CategoryID:  req.CategoryID,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) editMovement(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req editMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	movement, err := h.svc.Movements.EditMovement(r.Context(), actorFrom(r), id, movements.EditInput{
		Amount:      req.Amount,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		OccurredAt:  req.OccurredAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

// listMovements pages through the period's movements with page and per_page.
func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, _, err := queryInt(r, "page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perPage, _, err := queryInt(r, "per_page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Movements.ListForPeriod(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pagination := shared.NewPagination(page, perPage, len(list))
	start, end := pagination.Bounds()
	httpx.JSON(w, http.StatusOK, map[string]any{
		"movements":  list[start:end],
		"pagination": pagination,
	})
}
