// Package loans tracks household-to-member advances. Debt is derived from approved loans and
// repayment movements and never stored.
package loans

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/balance"
	"github.com/hearth-finance/hearth/internal/ledger/movements"
	"github.com/hearth-finance/hearth/internal/shared"
)

// DefaultCeilingRatio is the share of the common balance that may be lent out.
var DefaultCeilingRatio = decimal.RequireFromString("0.8")

const approvalModule = "loan"

// Service exposes the loan ledger operations.
type Service struct {
	store ledger.Store
	hooks ledger.Hooks
	ratio decimal.Decimal
	now   func() time.Time
}

// NewService constructs the loan ledger with the default ceiling ratio.
func NewService(store ledger.Store, hooks ledger.Hooks) *Service {
	return &Service{store: store, hooks: hooks, ratio: DefaultCeilingRatio, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithCeilingRatio overrides the lendable share of the common balance. Values outside (0,1] are ignored.
func (s *Service) WithCeilingRatio(ratio decimal.Decimal) {
	if ratio.IsPositive() && ratio.LessThanOrEqual(decimal.NewFromInt(1)) {
		s.ratio = ratio
	}
}

// RequestInput carries a loan request.
type RequestInput struct {
	Amount decimal.Decimal
	Notes  string `validate:"required,max=1000"`
}

// Request files a pending loan for the caller if it fits under the lending ceiling.
func (s *Service) Request(ctx context.Context, actor ledger.Actor, input RequestInput) (ledger.Loan, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Loan{}, err
	}
	input.Notes = strings.TrimSpace(input.Notes)
	if err := ledger.ValidateStruct(input); err != nil {
		return ledger.Loan{}, err
	}
	amount := ledger.Round(input.Amount)
	if !amount.IsPositive() {
		return ledger.Loan{}, ledger.Validation("invalid loan request", map[string]string{"amount": "must be greater than zero"})
	}
	now := s.now()
	loan := ledger.Loan{
		ID:          uuid.New(),
		HouseholdID: actor.HouseholdID,
		RequesterID: actor.MemberID,
		Amount:      amount,
		Notes:       input.Notes,
		Status:      ledger.LoanPending,
		RequestedAt: now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.LockHousehold(ctx, actor.HouseholdID); err != nil {
			return err
		}
		if err := s.checkCeiling(ctx, tx, actor.HouseholdID, amount, nil); err != nil {
			return err
		}
		return tx.InsertLoan(ctx, loan)
	})
	if err != nil {
		return ledger.Loan{}, s.hooks.Fail("loans.request", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "loan.request",
		Entity:   "loan",
		EntityID: loan.ID,
		Meta:     map[string]any{"amount": amount.StringFixed(2)},
		Approval: &ledger.Approval{Module: approvalModule, Action: shared.ApprovalSubmit, Note: loan.Notes},
		Events:   []string{ledger.EventLoanRequested},
		At:       now,
	})
	return loan, nil
}

// Ceiling is the lending headroom of a household.
type Ceiling struct {
	Balance     decimal.Decimal `json:"balance"`
	Ratio       decimal.Decimal `json:"ratio"`
	Pending     decimal.Decimal `json:"pending"`
	MaxLoanable decimal.Decimal `json:"max_loanable"`
}

// ComputeCeiling reads the common balance and pending loans inside tx. exclude omits one pending
// loan from the pending sum, used when that loan is being approved.
func ComputeCeiling(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, ratio decimal.Decimal, exclude *uuid.UUID) (Ceiling, error) {
	common, err := balance.CommonBalance(ctx, tx, householdID)
	if err != nil {
		return Ceiling{}, err
	}
	pending, err := tx.ListLoans(ctx, ledger.LoanFilter{HouseholdID: householdID, Statuses: []ledger.LoanStatus{ledger.LoanPending}})
	if err != nil {
		return Ceiling{}, fmt.Errorf("loans: list pending: %w", err)
	}
	reserved := decimal.Zero
	for _, l := range pending {
		if exclude != nil && l.ID == *exclude {
			continue
		}
		reserved = reserved.Add(l.Amount)
	}
	return Ceiling{
		Balance:     common,
		Ratio:       ratio,
		Pending:     reserved,
		MaxLoanable: ledger.Round(ratio.Mul(common)).Sub(reserved),
	}, nil
}

func (s *Service) checkCeiling(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, amount decimal.Decimal, exclude *uuid.UUID) error {
	c, err := ComputeCeiling(ctx, tx, householdID, s.ratio, exclude)
	if err != nil {
		return err
	}
	if amount.GreaterThan(c.MaxLoanable) {
		return ledger.Wrap(ledger.KindBusinessRule,
			fmt.Sprintf("requested %s exceeds the available %s", amount.StringFixed(2), decimal.Max(c.MaxLoanable, decimal.Zero).StringFixed(2)),
			ledger.ErrInsufficientBalance)
	}
	return nil
}

// Approve pays out a pending loan: an expense movement for the requester and the approved status
// are written in one transaction. The ceiling is re-checked against the current balance.
func (s *Service) Approve(ctx context.Context, actor ledger.Actor, loanID uuid.UUID) (ledger.Loan, error) {
	if err := actor.RequireOwner(); err != nil {
		return ledger.Loan{}, err
	}
	var out ledger.Loan
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.LockHousehold(ctx, actor.HouseholdID); err != nil {
			return err
		}
		loan, err := tx.GetLoanForUpdate(ctx, actor.HouseholdID, loanID)
		if err != nil {
			return err
		}
		status, err := loan.Status.Approve()
		if err != nil {
			return err
		}
		if err := s.checkCeiling(ctx, tx, actor.HouseholdID, loan.Amount, &loan.ID); err != nil {
			return err
		}
		now := s.now()
		requester := loan.RequesterID
		id := loan.ID
		rec, err := movements.Record(ctx, tx, actor.HouseholdID, movements.Entry{
			Type:        ledger.MovementExpense,
			Flow:        ledger.FlowCommon,
			Source:      ledger.SourceLoan,
			Amount:      loan.Amount,
			OccurredAt:  now,
			MemberID:    &requester,
			RecordedBy:  actor.MemberID,
			Description: "Loan: " + loan.Notes,
			LoanID:      &id,
		}, now)
		if err != nil {
			return err
		}
		decider := actor.MemberID
		movementID := rec.Movement.ID
		loan.Status = status
		loan.MovementID = &movementID
		loan.DecidedBy = &decider
		loan.DecidedAt = &now
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		return ledger.Loan{}, s.hooks.Fail("loans.approve", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "loan.approve",
		Entity:   "loan",
		EntityID: out.ID,
		Meta: map[string]any{
			"amount":       out.Amount.StringFixed(2),
			"requester_id": out.RequesterID.String(),
			"movement_id":  out.MovementID.String(),
		},
		Approval: &ledger.Approval{Module: approvalModule, Action: shared.ApprovalApprove},
		Events:   []string{ledger.EventLoanApproved, ledger.EventMovementRecorded},
		At:       s.now(),
	})
	return out, nil
}

// Reject declines a pending loan. No movement is written.
func (s *Service) Reject(ctx context.Context, actor ledger.Actor, loanID uuid.UUID, reason string) (ledger.Loan, error) {
	if err := actor.RequireOwner(); err != nil {
		return ledger.Loan{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ledger.Loan{}, ledger.Validation("a rejection reason is required", map[string]string{"reason": "is required"})
	}
	var out ledger.Loan
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		loan, err := tx.GetLoanForUpdate(ctx, actor.HouseholdID, loanID)
		if err != nil {
			return err
		}
		status, err := loan.Status.Reject()
		if err != nil {
			return err
		}
		now := s.now()
		decider := actor.MemberID
		loan.Status = status
		loan.RejectionReason = reason
		loan.DecidedBy = &decider
		loan.DecidedAt = &now
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		return ledger.Loan{}, s.hooks.Fail("loans.reject", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "loan.reject",
		Entity:   "loan",
		EntityID: out.ID,
		Meta:     map[string]any{"reason": reason},
		Approval: &ledger.Approval{Module: approvalModule, Action: shared.ApprovalReject, Note: reason},
		Events:   []string{ledger.EventLoanRejected},
		At:       s.now(),
	})
	return out, nil
}

// RepayInput carries a repayment. MemberID defaults to the caller; the owner may record a
// repayment on behalf of another member.
type RepayInput struct {
	Amount      decimal.Decimal
	MemberID    *uuid.UUID
	OccurredAt  time.Time
	Description string `validate:"max=500"`
}

// Repayment is the recorded movement with the debt left afterwards.
type Repayment struct {
	Movement ledger.Movement `json:"movement"`
	Debt     Debt            `json:"debt"`
}

// Repay records a common income movement against the member's derived debt. Loan rows are not touched.
func (s *Service) Repay(ctx context.Context, actor ledger.Actor, input RepayInput) (Repayment, error) {
	if err := actor.Validate(); err != nil {
		return Repayment{}, err
	}
	if err := ledger.ValidateStruct(input); err != nil {
		return Repayment{}, err
	}
	amount := ledger.Round(input.Amount)
	if !amount.IsPositive() {
		return Repayment{}, ledger.Validation("invalid repayment", map[string]string{"amount": "must be greater than zero"})
	}
	member := actor.MemberID
	if input.MemberID != nil && *input.MemberID != actor.MemberID {
		if !actor.IsOwner() {
			return Repayment{}, ledger.Authorization("only the owner can record repayments for another member")
		}
		member = *input.MemberID
	}
	if input.OccurredAt.IsZero() {
		input.OccurredAt = s.now()
	}
	description := input.Description
	if description == "" {
		description = "Loan repayment"
	}
	var out Repayment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		debt, err := MemberDebt(ctx, tx, actor.HouseholdID, member)
		if err != nil {
			return err
		}
		if !debt.Outstanding.IsPositive() {
			return ledger.Wrap(ledger.KindBusinessRule, "member has no outstanding debt", ledger.ErrInsufficientBalance)
		}
		if amount.GreaterThan(debt.Outstanding) {
			return ledger.Wrap(ledger.KindBusinessRule,
				fmt.Sprintf("repayment %s exceeds the outstanding debt %s", amount.StringFixed(2), debt.Outstanding.StringFixed(2)),
				ledger.ErrInsufficientBalance)
		}
		now := s.now()
		rec, err := movements.Record(ctx, tx, actor.HouseholdID, movements.Entry{
			Type:        ledger.MovementIncome,
			Flow:        ledger.FlowCommon,
			Source:      ledger.SourceRepayment,
			Amount:      amount,
			OccurredAt:  input.OccurredAt,
			MemberID:    &member,
			RecordedBy:  actor.MemberID,
			Description: description,
		}, now)
		if err != nil {
			return err
		}
		debt.Repaid = debt.Repaid.Add(amount)
		debt.Outstanding = debt.Outstanding.Sub(amount)
		out = Repayment{Movement: rec.Movement, Debt: debt}
		return nil
	})
	if err != nil {
		return Repayment{}, s.hooks.Fail("loans.repay", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "loan.repay",
		Entity:   "movement",
		EntityID: out.Movement.ID,
		Meta: map[string]any{
			"amount":      amount.StringFixed(2),
			"member_id":   member.String(),
			"outstanding": out.Debt.Outstanding.StringFixed(2),
		},
		Events: []string{ledger.EventLoanRepaid, ledger.EventMovementRecorded},
		At:     s.now(),
	})
	return out, nil
}

// ListInput filters the loan listing. Members only see their own loans.
type ListInput struct {
	RequesterID *uuid.UUID
	Status      string `validate:"omitempty,oneof=pending approved rejected"`
}

// List returns loans with their derived repayment status.
func (s *Service) List(ctx context.Context, actor ledger.Actor, input ListInput) ([]View, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := ledger.ValidateStruct(input); err != nil {
		return nil, err
	}
	filter := ledger.LoanFilter{HouseholdID: actor.HouseholdID, RequesterID: input.RequesterID}
	if !actor.IsOwner() {
		self := actor.MemberID
		filter.RequesterID = &self
	}
	var out []View
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		loans, err := tx.ListLoans(ctx, filter)
		if err != nil {
			return err
		}
		repaid := map[uuid.UUID]decimal.Decimal{}
		for _, l := range loans {
			if _, ok := repaid[l.RequesterID]; ok || l.Status != ledger.LoanApproved {
				continue
			}
			total, err := repaidBy(ctx, tx, actor.HouseholdID, l.RequesterID)
			if err != nil {
				return err
			}
			repaid[l.RequesterID] = total
		}
		out = Allocate(loans, repaid)
		if input.Status != "" {
			kept := out[:0]
			for _, v := range out {
				if string(v.Loan.Status) == input.Status {
					kept = append(kept, v)
				}
			}
			out = kept
		}
		return nil
	})
	if err != nil {
		return nil, s.hooks.Fail("loans.list", actor, err)
	}
	return out, nil
}

// Debt returns a member's derived debt. Members may only read their own.
func (s *Service) Debt(ctx context.Context, actor ledger.Actor, memberID uuid.UUID) (Debt, error) {
	if err := actor.Validate(); err != nil {
		return Debt{}, err
	}
	if memberID != actor.MemberID && !actor.IsOwner() {
		return Debt{}, ledger.Authorization("only the owner can read another member's debt")
	}
	var out Debt
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = MemberDebt(ctx, tx, actor.HouseholdID, memberID)
		return err
	})
	if err != nil {
		return Debt{}, s.hooks.Fail("loans.debt", actor, err)
	}
	return out, nil
}

// Ceiling reports the current lending headroom.
func (s *Service) Ceiling(ctx context.Context, actor ledger.Actor) (Ceiling, error) {
	if err := actor.Validate(); err != nil {
		return Ceiling{}, err
	}
	var out Ceiling
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = ComputeCeiling(ctx, tx, actor.HouseholdID, s.ratio, nil)
		return err
	})
	if err != nil {
		return Ceiling{}, s.hooks.Fail("loans.ceiling", actor, err)
	}
	return out, nil
}
