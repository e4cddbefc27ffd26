// Package adjustments runs the prepayment approval workflow and owner corrections of paid amounts.
package adjustments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/contributions"
	"github.com/hearth-finance/hearth/internal/ledger/movements"
	"github.com/hearth-finance/hearth/internal/shared"
)

const approvalModule = "adjustment"

// Service exposes the adjustment workflow.
type Service struct {
	store      ledger.Store
	categories ledger.CategoryCatalog
	hooks      ledger.Hooks
	now        func() time.Time
}

// NewService constructs the adjustment workflow.
func NewService(store ledger.Store, categories ledger.CategoryCatalog, hooks ledger.Hooks) *Service {
	return &Service{store: store, categories: categories, hooks: hooks, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PrepaymentInput carries a prepayment claim. Amount is negative; its magnitude is what the
// member paid out of pocket.
type PrepaymentInput struct {
	Amount     decimal.Decimal
	Reason     string `validate:"required,max=500"`
	CategoryID *uuid.UUID
	OccurredAt time.Time
}

// CreatePrepaymentRequest files a pending prepayment against a contribution.
func (s *Service) CreatePrepaymentRequest(ctx context.Context, actor ledger.Actor, contributionID uuid.UUID, input PrepaymentInput) (ledger.Adjustment, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Adjustment{}, err
	}
	input.Reason = strings.TrimSpace(input.Reason)
	if err := ledger.ValidateStruct(input); err != nil {
		return ledger.Adjustment{}, err
	}
	amount := ledger.Round(input.Amount)
	if !amount.IsNegative() {
		return ledger.Adjustment{}, ledger.Validation("invalid prepayment", map[string]string{"amount": "must be negative"})
	}
	if input.CategoryID != nil {
		if err := s.checkExpenseCategory(ctx, actor, *input.CategoryID); err != nil {
			return ledger.Adjustment{}, err
		}
	}
	var out ledger.Adjustment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		contribution, err := tx.GetContribution(ctx, actor.HouseholdID, contributionID)
		if err != nil {
			return err
		}
		if !actor.IsOwner() && contribution.MemberID != actor.MemberID {
			return ledger.Authorization("prepayments can only be requested on your own contribution")
		}
		period, err := openPeriod(ctx, tx, actor.HouseholdID, contribution.PeriodID)
		if err != nil {
			return err
		}
		now := s.now()
		out = ledger.Adjustment{
			ID:             uuid.New(),
			HouseholdID:    actor.HouseholdID,
			ContributionID: contribution.ID,
			PeriodID:       period.ID,
			RequesterID:    contribution.MemberID,
			Kind:           ledger.AdjustmentPrepayment,
			Amount:         amount,
			Reason:         input.Reason,
			CategoryID:     input.CategoryID,
			OccurredAt:     occurredIn(period, input.OccurredAt, now),
			Status:         ledger.AdjustmentPending,
			CreatedAt:      now,
		}
		return tx.InsertAdjustment(ctx, out)
	})
	if err != nil {
		return ledger.Adjustment{}, s.hooks.Fail("adjustments.request", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "adjustment.request",
		Entity:   "adjustment",
		EntityID: out.ID,
		Meta: map[string]any{
			"amount":          out.Amount.StringFixed(2),
			"contribution_id": out.ContributionID.String(),
		},
		Approval: &ledger.Approval{Module: approvalModule, Action: shared.ApprovalSubmit, Note: out.Reason},
		Events:   []string{ledger.EventAdjustmentRequested},
		At:       out.CreatedAt,
	})
	return out, nil
}

// ApproveInput carries the owner's decision on a prepayment.
type ApproveInput struct {
	ExpenseCategoryID  *uuid.UUID
	ExpenseDescription string `validate:"max=500"`
	IncomeDescription  string `validate:"max=500"`
}

// Approval is the result of approving a prepayment.
type Approval struct {
	Adjustment   ledger.Adjustment   `json:"adjustment"`
	Expense      ledger.Movement     `json:"expense"`
	Income       ledger.Movement     `json:"income"`
	Contribution ledger.Contribution `json:"contribution"`
}

// Approve writes the paired movements, links them, and raises the requester's paid amount, all in
// one transaction.
func (s *Service) Approve(ctx context.Context, actor ledger.Actor, adjustmentID uuid.UUID, input ApproveInput) (Approval, error) {
	if err := actor.RequireOwner(); err != nil {
		return Approval{}, err
	}
	if err := ledger.ValidateStruct(input); err != nil {
		return Approval{}, err
	}
	if input.ExpenseCategoryID == nil {
		return Approval{}, ledger.Validation("an expense category is required", map[string]string{"expense_category_id": "is required"})
	}
	if err := s.checkExpenseCategory(ctx, actor, *input.ExpenseCategoryID); err != nil {
		return Approval{}, err
	}
	var (
		out     Approval
		settled contributions.Settlement
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		adj, err := tx.GetAdjustmentForUpdate(ctx, actor.HouseholdID, adjustmentID)
		if err != nil {
			return err
		}
		if adj.Kind != ledger.AdjustmentPrepayment {
			return ledger.StateConflict("only prepayments go through approval")
		}
		status, err := adj.Approve()
		if err != nil {
			return err
		}
		if _, err := openPeriod(ctx, tx, actor.HouseholdID, adj.PeriodID); err != nil {
			return err
		}
		contribution, err := tx.GetContributionForUpdate(ctx, actor.HouseholdID, adj.ContributionID)
		if err != nil {
			return err
		}
		now := s.now()
		expenseDesc := input.ExpenseDescription
		if expenseDesc == "" {
			expenseDesc = adj.Reason
		}
		incomeDesc := input.IncomeDescription
		if incomeDesc == "" {
			incomeDesc = "Prepayment: " + adj.Reason
		}
		pair, err := movements.ApplyPaired(ctx, tx, actor.HouseholdID, movements.PairedEffect{
			AdjustmentID:       adj.ID,
			Amount:             adj.Magnitude(),
			ExpenseCategoryID:  *input.ExpenseCategoryID,
			ExpenseDescription: expenseDesc,
			IncomeDescription:  incomeDesc,
			MemberID:           adj.RequesterID,
			DecidedBy:          actor.MemberID,
			OccurredAt:         adj.OccurredAt,
		}, now)
		if err != nil {
			return err
		}
		decider := actor.MemberID
		expenseID, incomeID := pair.Expense.ID, pair.Income.ID
		category := *input.ExpenseCategoryID
		adj.Status = status
		adj.CategoryID = &category
		adj.ExpenseMovementID = &expenseID
		adj.IncomeMovementID = &incomeID
		adj.DecidedBy = &decider
		adj.DecidedAt = &now
		if err := tx.UpdateAdjustment(ctx, adj); err != nil {
			return err
		}
		settled, err = contributions.ApplyPayment(ctx, tx, contribution, adj.Magnitude(), now)
		if err != nil {
			return err
		}
		out = Approval{Adjustment: adj, Expense: pair.Expense, Income: pair.Income, Contribution: settled.Contribution}
		return nil
	})
	if err != nil {
		return Approval{}, s.hooks.Fail("adjustments.approve", actor, err)
	}
	events := []string{ledger.EventAdjustmentApproved, ledger.EventMovementRecorded}
	if settled.Credit != nil {
		events = append(events, ledger.EventContributionOverpaid)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "adjustment.approve",
		Entity:   "adjustment",
		EntityID: adjustmentID,
		Meta: map[string]any{
			"amount":              out.Adjustment.Magnitude().StringFixed(2),
			"expense_movement_id": out.Expense.ID.String(),
			"income_movement_id":  out.Income.ID.String(),
		},
		Approval: &ledger.Approval{Module: approvalModule, Action: shared.ApprovalApprove},
		Events:   events,
		At:       s.now(),
	})
	return out, nil
}

// Reject declines a pending prepayment. No movement is written.
func (s *Service) Reject(ctx context.Context, actor ledger.Actor, adjustmentID uuid.UUID, reason string) (ledger.Adjustment, error) {
	if err := actor.RequireOwner(); err != nil {
		return ledger.Adjustment{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ledger.Adjustment{}, ledger.Validation("a rejection reason is required", map[string]string{"reason": "is required"})
	}
	out, err := s.decide(ctx, actor, adjustmentID, "adjustments.reject", func(adj *ledger.Adjustment) error {
		status, err := adj.Reject()
		if err != nil {
			return err
		}
		adj.Status = status
		adj.RejectionReason = reason
		return nil
	})
	if err != nil {
		return ledger.Adjustment{}, err
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "adjustment.reject",
		Entity:   "adjustment",
		EntityID: adjustmentID,
		Meta:     map[string]any{"reason": reason},
		Approval: &ledger.Approval{Module: approvalModule, Action: shared.ApprovalReject, Note: reason},
		Events:   []string{ledger.EventAdjustmentRejected},
		At:       s.now(),
	})
	return out, nil
}

// Cancel withdraws a pending prepayment. Only the requester may cancel.
func (s *Service) Cancel(ctx context.Context, actor ledger.Actor, adjustmentID uuid.UUID) (ledger.Adjustment, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Adjustment{}, err
	}
	out, err := s.decide(ctx, actor, adjustmentID, "adjustments.cancel", func(adj *ledger.Adjustment) error {
		if adj.RequesterID != actor.MemberID {
			return ledger.Authorization("only the requester can cancel a prepayment")
		}
		status, err := adj.Cancel()
		if err != nil {
			return err
		}
		adj.Status = status
		return nil
	})
	if err != nil {
		return ledger.Adjustment{}, err
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "adjustment.cancel",
		Entity:   "adjustment",
		EntityID: adjustmentID,
		Approval: &ledger.Approval{Module: approvalModule, Action: shared.ApprovalCancel},
		Events:   []string{ledger.EventAdjustmentCancelled},
		At:       s.now(),
	})
	return out, nil
}

func (s *Service) decide(ctx context.Context, actor ledger.Actor, adjustmentID uuid.UUID, op string, mutate func(*ledger.Adjustment) error) (ledger.Adjustment, error) {
	var out ledger.Adjustment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		adj, err := tx.GetAdjustmentForUpdate(ctx, actor.HouseholdID, adjustmentID)
		if err != nil {
			return err
		}
		if err := mutate(&adj); err != nil {
			return err
		}
		now := s.now()
		decider := actor.MemberID
		adj.DecidedBy = &decider
		adj.DecidedAt = &now
		if err := tx.UpdateAdjustment(ctx, adj); err != nil {
			return err
		}
		out = adj
		return nil
	})
	if err != nil {
		return ledger.Adjustment{}, s.hooks.Fail(op, actor, err)
	}
	return out, nil
}

// ManualInput carries an owner correction. A negative amount raises the paid amount, a positive
// amount lowers it.
type ManualInput struct {
	Amount decimal.Decimal
	Reason string `validate:"required,max=500"`
}

// Correction is the result of a manual adjustment.
type Correction struct {
	Adjustment   ledger.Adjustment   `json:"adjustment"`
	Contribution ledger.Contribution `json:"contribution"`
}

// CreateManualAdjustment applies an owner correction immediately without writing movements.
func (s *Service) CreateManualAdjustment(ctx context.Context, actor ledger.Actor, contributionID uuid.UUID, input ManualInput) (Correction, error) {
	if err := actor.RequireOwner(); err != nil {
		return Correction{}, err
	}
	input.Reason = strings.TrimSpace(input.Reason)
	if err := ledger.ValidateStruct(input); err != nil {
		return Correction{}, err
	}
	amount := ledger.Round(input.Amount)
	if amount.IsZero() {
		return Correction{}, ledger.Validation("invalid adjustment", map[string]string{"amount": "must not be zero"})
	}
	var (
		out     Correction
		settled contributions.Settlement
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		contribution, err := tx.GetContributionForUpdate(ctx, actor.HouseholdID, contributionID)
		if err != nil {
			return err
		}
		period, err := openPeriod(ctx, tx, actor.HouseholdID, contribution.PeriodID)
		if err != nil {
			return err
		}
		now := s.now()
		decider := actor.MemberID
		adj := ledger.Adjustment{
			ID:             uuid.New(),
			HouseholdID:    actor.HouseholdID,
			ContributionID: contribution.ID,
			PeriodID:       period.ID,
			RequesterID:    contribution.MemberID,
			Kind:           ledger.AdjustmentManual,
			Amount:         amount,
			Reason:         input.Reason,
			OccurredAt:     occurredIn(period, time.Time{}, now),
			Status:         ledger.AdjustmentActive,
			DecidedBy:      &decider,
			DecidedAt:      &now,
			CreatedAt:      now,
		}
		if err := tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		settled, err = contributions.ApplyPayment(ctx, tx, contribution, adj.PaidEffect(), now)
		if err != nil {
			return err
		}
		out = Correction{Adjustment: adj, Contribution: settled.Contribution}
		return nil
	})
	if err != nil {
		return Correction{}, s.hooks.Fail("adjustments.manual", actor, err)
	}
	var events []string
	if settled.Credit != nil {
		events = append(events, ledger.EventContributionOverpaid)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "adjustment.manual",
		Entity:   "adjustment",
		EntityID: out.Adjustment.ID,
		Meta: map[string]any{
			"amount":          amount.StringFixed(2),
			"contribution_id": contributionID.String(),
			"reason":          input.Reason,
		},
		Events: events,
		At:     s.now(),
	})
	return out, nil
}

// ListForPeriod returns the adjustments filed in a period. Members only see their own.
func (s *Service) ListForPeriod(ctx context.Context, actor ledger.Actor, periodID uuid.UUID) ([]ledger.Adjustment, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var out []ledger.Adjustment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.GetPeriod(ctx, actor.HouseholdID, periodID); err != nil {
			return err
		}
		id := periodID
		all, err := tx.ListAdjustments(ctx, ledger.AdjustmentFilter{HouseholdID: actor.HouseholdID, PeriodID: &id})
		if err != nil {
			return err
		}
		for _, a := range all {
			if actor.IsOwner() || a.RequesterID == actor.MemberID {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.hooks.Fail("adjustments.list", actor, err)
	}
	return out, nil
}

func (s *Service) checkExpenseCategory(ctx context.Context, actor ledger.Actor, id uuid.UUID) error {
	if s.categories == nil {
		return nil
	}
	category, err := s.categories.Category(ctx, actor.HouseholdID, id)
	if err != nil {
		if ledger.IsNotFound(err) {
			return ledger.Validation("unknown category", map[string]string{"category_id": "does not exist"})
		}
		return s.hooks.Fail("adjustments.category", actor, err)
	}
	if category.Type != ledger.MovementExpense {
		return ledger.Validation("category type mismatch", map[string]string{"category_id": "must be an expense category"})
	}
	return nil
}

func openPeriod(ctx context.Context, tx ledger.Tx, householdID, periodID uuid.UUID) (ledger.Period, error) {
	period, err := tx.GetPeriod(ctx, householdID, periodID)
	if err != nil {
		return ledger.Period{}, err
	}
	if period.Phase == ledger.PhaseClosed {
		return ledger.Period{}, ledger.Wrap(ledger.KindStateConflict, fmt.Sprintf("period %s is closed", period.Key()), ledger.ErrPeriodClosed)
	}
	return period, nil
}

// occurredIn keeps adjustment dates inside the period month: an explicit date outside it, or a
// missing date when now falls in another month, snaps to the first day of the period.
func occurredIn(period ledger.Period, requested, now time.Time) time.Time {
	ym := period.YearMonth()
	if !requested.IsZero() && ym.Contains(requested) {
		return requested.UTC()
	}
	if requested.IsZero() && ym.Contains(now) {
		return now.UTC()
	}
	return ym.Start()
}
