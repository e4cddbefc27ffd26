// Package contributions derives each member's expected share and paid amount for a period.
package contributions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
)

// ComputeExpected splits the monthly goal across members by the household policy. Proportional
// splitting falls back to equal when no member declares a positive income.
func ComputeExpected(settings ledger.HouseholdSettings, members []ledger.Member) map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal, len(members))
	if len(members) == 0 {
		return out
	}
	goal := settings.MonthlyGoal
	if goal.IsNegative() {
		goal = decimal.Zero
	}
	if settings.Policy == ledger.PolicyProportional {
		total := decimal.Zero
		for _, m := range members {
			if m.Income.IsPositive() {
				total = total.Add(m.Income)
			}
		}
		if total.IsPositive() {
			for _, m := range members {
				income := m.Income
				if !income.IsPositive() {
					income = decimal.Zero
				}
				out[m.ID] = ledger.Round(income.Mul(goal).Div(total))
			}
			return out
		}
	}
	share := ledger.Round(goal.Div(decimal.NewFromInt(int64(len(members)))))
	for _, m := range members {
		out[m.ID] = share
	}
	return out
}

// PaidBreakdown itemises the three sources of a contribution's paid amount.
type PaidBreakdown struct {
	Movements   decimal.Decimal `json:"movements"`
	Adjustments decimal.Decimal `json:"adjustments"`
	Credits     decimal.Decimal `json:"credits"`
}

// Total sums the three sources.
func (p PaidBreakdown) Total() decimal.Decimal {
	return ledger.Round(ledger.Sum(p.Movements, p.Adjustments, p.Credits))
}

// DerivePaid recomputes the paid amount from the movement log, effective adjustments, and
// applied credits. Adjustment and repayment movements are excluded from the first source since
// their effect is already counted through the adjustment or is not a contribution.
func DerivePaid(ctx context.Context, tx ledger.Tx, c ledger.Contribution) (PaidBreakdown, error) {
	ym := c.YearMonth()
	member := c.MemberID
	totals, err := tx.SumMovements(ctx, ledger.MovementFilter{
		HouseholdID: c.HouseholdID,
		From:        ym.Start(),
		To:          ym.End(),
		Type:        ledger.MovementIncome,
		Flow:        ledger.FlowCommon,
		MemberID:    &member,
		Sources:     []ledger.MovementSource{ledger.SourceManual},
	})
	if err != nil {
		return PaidBreakdown{}, fmt.Errorf("contributions: sum movements: %w", err)
	}
	out := PaidBreakdown{Movements: totals.Income, Adjustments: decimal.Zero, Credits: decimal.Zero}

	contributionID := c.ID
	adjustments, err := tx.ListAdjustments(ctx, ledger.AdjustmentFilter{HouseholdID: c.HouseholdID, ContributionID: &contributionID})
	if err != nil {
		return PaidBreakdown{}, fmt.Errorf("contributions: list adjustments: %w", err)
	}
	for _, a := range adjustments {
		out.Adjustments = out.Adjustments.Add(a.PaidEffect())
	}

	credits, err := tx.ListCredits(ctx, ledger.CreditFilter{
		HouseholdID: c.HouseholdID,
		MemberID:    &member,
		Statuses:    []ledger.CreditStatus{ledger.CreditApplied},
	})
	if err != nil {
		return PaidBreakdown{}, fmt.Errorf("contributions: list credits: %w", err)
	}
	for _, cr := range credits {
		if cr.AppliedToContributionID != nil && *cr.AppliedToContributionID == c.ID {
			out.Credits = out.Credits.Add(cr.Amount)
		}
	}
	return out, nil
}

// Settlement is the outcome of a paid-amount change.
type Settlement struct {
	Contribution ledger.Contribution
	Credit       *ledger.Credit
	// Withdrawn lists active credits removed because the surplus behind them disappeared.
	Withdrawn []ledger.Credit
}

// settle re-derives the status, withdraws active credits backed by surplus the contribution no
// longer has, and banks any unbanked surplus as a new active credit. Surplus that was banked and
// then applied or transferred cannot be withdrawn; lowering paid below it fails with
// ErrCreditConsumed.
func settle(ctx context.Context, tx ledger.Tx, c ledger.Contribution, now time.Time) (Settlement, error) {
	c.PaidAmount = ledger.Round(c.PaidAmount)
	c.Status = ledger.DeriveContributionStatus(c.ExpectedAmount, c.PaidAmount)
	c.UpdatedAt = now
	out := Settlement{Contribution: c}

	excess := ledger.Round(c.PaidAmount.Sub(c.ExpectedAmount))
	if excess.IsNegative() {
		excess = decimal.Zero
	}
	if c.CreditedSurplus.GreaterThan(excess) {
		withdrawn, err := withdraw(ctx, tx, c)
		if err != nil {
			return Settlement{}, err
		}
		for _, cr := range withdrawn {
			c.CreditedSurplus = c.CreditedSurplus.Sub(cr.Amount)
		}
		c.CreditedSurplus = ledger.Round(c.CreditedSurplus)
		if c.CreditedSurplus.GreaterThan(excess) {
			return Settlement{}, fmt.Errorf("contributions: %s %s: %w", c.ID, c.YearMonth(), ledger.ErrCreditConsumed)
		}
		out.Withdrawn = withdrawn
	}
	out.Contribution = c

	surplus := ledger.Round(c.Surplus())
	if !surplus.IsPositive() {
		return out, nil
	}
	source := c.ID
	credit := ledger.Credit{
		ID:                   uuid.New(),
		HouseholdID:          c.HouseholdID,
		MemberID:             c.MemberID,
		Amount:               surplus,
		SourceYear:           c.Year,
		SourceMonth:          c.Month,
		SourceContributionID: &source,
		Status:               ledger.CreditActive,
		CreatedAt:            now,
	}
	if err := tx.InsertCredit(ctx, credit); err != nil {
		return Settlement{}, fmt.Errorf("contributions: insert credit: %w", err)
	}
	c.CreditedSurplus = ledger.Round(c.CreditedSurplus.Add(surplus))
	out.Contribution = c
	out.Credit = &credit
	return out, nil
}

// withdraw deletes the active credits banked from c and returns them.
func withdraw(ctx context.Context, tx ledger.Tx, c ledger.Contribution) ([]ledger.Credit, error) {
	source := c.ID
	filter := ledger.CreditFilter{
		HouseholdID:          c.HouseholdID,
		SourceContributionID: &source,
		Statuses:             []ledger.CreditStatus{ledger.CreditActive},
	}
	credits, err := tx.ListCredits(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("contributions: list banked credits: %w", err)
	}
	if len(credits) == 0 {
		return nil, nil
	}
	if _, err := tx.DeleteCredits(ctx, filter); err != nil {
		return nil, fmt.Errorf("contributions: withdraw credits: %w", err)
	}
	return credits, nil
}

// ApplyPayment adds delta to the contribution's paid amount, re-derives its status, and
// materialises a credit for any new surplus. The caller must hold the contribution row lock.
func ApplyPayment(ctx context.Context, tx ledger.Tx, c ledger.Contribution, delta decimal.Decimal, now time.Time) (Settlement, error) {
	c.PaidAmount = c.PaidAmount.Add(delta)
	if c.PaidAmount.IsNegative() {
		c.PaidAmount = decimal.Zero
	}
	out, err := settle(ctx, tx, c, now)
	if err != nil {
		return Settlement{}, err
	}
	if err := tx.UpdateContribution(ctx, out.Contribution); err != nil {
		return Settlement{}, fmt.Errorf("contributions: update: %w", err)
	}
	return out, nil
}

// ApplyToMonth applies delta to the member's contribution for the month when one exists.
// A month without a period or without a contribution for the member is a no-op.
func ApplyToMonth(ctx context.Context, tx ledger.Tx, householdID, memberID uuid.UUID, ym ledger.YearMonth, delta decimal.Decimal, now time.Time) (*Settlement, error) {
	period, err := tx.FindPeriod(ctx, householdID, ym)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	c, err := tx.FindContributionForUpdate(ctx, period.ID, memberID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out, err := ApplyPayment(ctx, tx, c, delta, now)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate creates contributions for members that do not have one in the period yet. Paid
// amounts are derived from whatever was already recorded for the month.
func Generate(ctx context.Context, tx ledger.Tx, period ledger.Period, settings ledger.HouseholdSettings, members []ledger.Member, now time.Time) ([]Settlement, error) {
	expected := ComputeExpected(settings, members)
	var out []Settlement
	for _, m := range members {
		if _, err := tx.FindContributionForUpdate(ctx, period.ID, m.ID); err == nil {
			continue
		} else if !ledger.IsNotFound(err) {
			return nil, err
		}
		c := ledger.Contribution{
			ID:              uuid.New(),
			HouseholdID:     period.HouseholdID,
			PeriodID:        period.ID,
			MemberID:        m.ID,
			Year:            period.Year,
			Month:           period.Month,
			ExpectedAmount:  expected[m.ID],
			PaidAmount:      decimal.Zero,
			CreditedSurplus: decimal.Zero,
			Status:          ledger.ContributionPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertContribution(ctx, c); err != nil {
			return nil, fmt.Errorf("contributions: insert: %w", err)
		}
		paid, err := DerivePaid(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		c.PaidAmount = paid.Total()
		settled, err := settle(ctx, tx, c, now)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateContribution(ctx, settled.Contribution); err != nil {
			return nil, fmt.Errorf("contributions: update: %w", err)
		}
		out = append(out, settled)
	}
	return out, nil
}

// Recalculate recomputes expected amounts from current settings and members, then re-derives
// paid amounts. Members without a contribution get one. Contributions of members that left keep
// their expected amount.
func Recalculate(ctx context.Context, tx ledger.Tx, period ledger.Period, settings ledger.HouseholdSettings, members []ledger.Member, now time.Time) ([]Settlement, error) {
	if _, err := Generate(ctx, tx, period, settings, members, now); err != nil {
		return nil, err
	}
	expected := ComputeExpected(settings, members)
	existing, err := tx.ListContributions(ctx, period.ID)
	if err != nil {
		return nil, fmt.Errorf("contributions: list: %w", err)
	}
	out := make([]Settlement, 0, len(existing))
	for _, c := range existing {
		locked, err := tx.GetContributionForUpdate(ctx, c.HouseholdID, c.ID)
		if err != nil {
			return nil, err
		}
		if amount, ok := expected[locked.MemberID]; ok {
			locked.ExpectedAmount = amount
		}
		paid, err := DerivePaid(ctx, tx, locked)
		if err != nil {
			return nil, err
		}
		locked.PaidAmount = paid.Total()
		settled, err := settle(ctx, tx, locked, now)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateContribution(ctx, settled.Contribution); err != nil {
			return nil, fmt.Errorf("contributions: update: %w", err)
		}
		out = append(out, settled)
	}
	return out, nil
}
