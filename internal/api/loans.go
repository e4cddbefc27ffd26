package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger/loans"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
)

type requestLoanRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type repayRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	MemberID    *uuid.UUID      `json:"member_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Description string          `json:"description"`
}

func (h *Handler) listLoans(w http.ResponseWriter, r *http.Request) {
	requester, err := queryUUID(r, "requester_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views, err := h.svc.Loans.List(r.Context(), actorFrom(r), loans.ListInput{
		RequesterID: requester,
		Status:      r.URL.Query().Get("status"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"loans": views})
}

func (h *Handler) requestLoan(w http.ResponseWriter, r *http.Request) {
	var req requestLoanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	loan, err := h.svc.Loans.Request(r.Context(), actorFrom(r), loans.RequestInput{Amount: req.Amount, Notes: req.Notes})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) loanCeiling(w http.ResponseWriter, r *http.Request) {
	ceiling, err := h.svc.Loans.Ceiling(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ceiling)
}

func (h *Handler) approveLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	loan, err := h.svc.Loans.Approve(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) rejectLoan(w http.ResponseWriter, r *http.Request) {
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
	loan, err := h.svc.Loans.Reject(r.Context(), actorFrom(r), id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) repayLoan(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.svc.Loans.Repay(r.Context(), actorFrom(r), loans.RepayInput{
		Amount:      req.Amount,
		MemberID:    req.MemberID,
		OccurredAt:  req.OccurredAt,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) memberDebt(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	debt, err := h.svc.Loans.Debt(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, debt)
}
