package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger/adjustments"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
)

type prepaymentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	CategoryID *uuid.UUID      `json:"category_id"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type manualAdjustmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type approveAdjustmentRequest struct {
	ExpenseCategoryID  *uuid.UUID `json:"expense_category_id"`
	ExpenseDescription string     `json:"expense_description"`
	IncomeDescription  string     `json:"income_description"`
}

func (h *Handler) createPrepayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req prepaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	adj, err := h.svc.Adjustments.CreatePrepaymentRequest(r.Context(), actorFrom(r), id, adjustments.PrepaymentInput{
		Amount:     req.Amount,
		Reason:     req.Reason,
		CategoryID: req.CategoryID,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) createManualAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req manualAdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.svc.Adjustments.CreateManualAdjustment(r.Context(), actorFrom(r), id, adjustments.ManualInput{
		Amount: req.Amount,
		Reason: req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "period")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Adjustments.ListForPeriod(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments": list})
}

func (h *Handler) approveAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req approveAdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.svc.Adjustments.Approve(r.Context(), actorFrom(r), id, adjustments.ApproveInput{
		ExpenseCategoryID:  req.ExpenseCategoryID,
		ExpenseDescription: req.ExpenseDescription,
		IncomeDescription:  req.IncomeDescription,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) rejectAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	adj, err := h.svc.Adjustments.Reject(r.Context(), actorFrom(r), id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) cancelAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	adj, err := h.svc.Adjustments.Cancel(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}
