// Package balance projects household balances from the movement log and the credit ledger.
package balance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
)

// Breakdown is the per-household balance projection. Total equals Free plus both credit buckets
// plus Savings, since credits moved to savings stay in the common pot but are earmarked.
type Breakdown struct {
	HouseholdID     uuid.UUID         `json:"household_id"`
	Period          *ledger.YearMonth `json:"period,omitempty"`
	Income          decimal.Decimal   `json:"income"`
	Expense         decimal.Decimal   `json:"expense"`
	Total           decimal.Decimal   `json:"total"`
	Free            decimal.Decimal   `json:"free"`
	ActiveCredits   decimal.Decimal   `json:"active_credits"`
	ReservedCredits decimal.Decimal   `json:"reserved_credits"`
	Savings         decimal.Decimal   `json:"savings"`
	Consistent      bool              `json:"consistent"`
	Violations      []string          `json:"violations,omitempty"`
}

// Compute builds the breakdown for one month, or all time when scope is nil. Period scope counts
// credits sourced from that month and savings transferred from them; all-time counts every active
// credit and every savings deposit.
func Compute(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, scope *ledger.YearMonth) (Breakdown, error) {
	filter := ledger.MovementFilter{HouseholdID: householdID, Flow: ledger.FlowCommon}
	if scope != nil {
		filter.From, filter.To = scope.Start(), scope.End()
	}
	totals, err := tx.SumMovements(ctx, filter)
	if err != nil {
		return Breakdown{}, fmt.Errorf("balance: sum movements: %w", err)
	}
	credits, err := tx.ListCredits(ctx, ledger.CreditFilter{
		HouseholdID: householdID,
		Statuses:    []ledger.CreditStatus{ledger.CreditActive},
		Source:      scope,
	})
	if err != nil {
		return Breakdown{}, fmt.Errorf("balance: list credits: %w", err)
	}
	savings, err := sumSavings(ctx, tx, householdID, scope)
	if err != nil {
		return Breakdown{}, err
	}
	active, reserved := decimal.Zero, decimal.Zero
	for _, c := range credits {
		if c.Reserved() {
			reserved = reserved.Add(c.Amount)
		} else {
			active = active.Add(c.Amount)
		}
	}
	out := Breakdown{
		HouseholdID:     householdID,
		Period:          scope,
		Income:          ledger.Round(totals.Income),
		Expense:         ledger.Round(totals.Expense),
		Total:           ledger.Round(totals.Net()),
		ActiveCredits:   ledger.Round(active),
		ReservedCredits: ledger.Round(reserved),
		Savings:         ledger.Round(savings),
	}
	out.Free = out.Total.Sub(out.ActiveCredits).Sub(out.ReservedCredits).Sub(out.Savings)
	out.Violations = Check(out)
	out.Consistent = len(out.Violations) == 0
	return out, nil
}

// Check reports consistency violations of a breakdown.
func Check(b Breakdown) []string {
	var violations []string
	if b.Free.LessThan(ledger.Tolerance.Neg()) {
		violations = append(violations, fmt.Sprintf("free balance is negative (%s)", b.Free.StringFixed(2)))
	}
	if !ledger.ApproxEqual(b.Total, ledger.Sum(b.Free, b.ActiveCredits, b.ReservedCredits, b.Savings)) {
		violations = append(violations, "total does not equal free plus credits plus savings")
	}
	return violations
}

func sumSavings(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, scope *ledger.YearMonth) (decimal.Decimal, error) {
	if scope == nil {
		total, err := tx.SumSavings(ctx, householdID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("balance: sum savings: %w", err)
		}
		return total, nil
	}
	transferred, err := tx.ListCredits(ctx, ledger.CreditFilter{
		HouseholdID: householdID,
		Statuses:    []ledger.CreditStatus{ledger.CreditTransferred},
		Source:      scope,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: list transferred credits: %w", err)
	}
	total := decimal.Zero
	for _, c := range transferred {
		total = total.Add(c.Amount)
	}
	return total, nil
}

// CommonBalance is the all-time common-flow net of a household.
func CommonBalance(ctx context.Context, tx ledger.Tx, householdID uuid.UUID) (decimal.Decimal, error) {
	totals, err := tx.SumMovements(ctx, ledger.MovementFilter{HouseholdID: householdID, Flow: ledger.FlowCommon})
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: common balance: %w", err)
	}
	return ledger.Round(totals.Net()), nil
}
