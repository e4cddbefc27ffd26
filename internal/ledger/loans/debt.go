package loans

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
)

// Debt is a member's derived net debt.
type Debt struct {
	MemberID    uuid.UUID       `json:"member_id"`
	Borrowed    decimal.Decimal `json:"borrowed"`
	Repaid      decimal.Decimal `json:"repaid"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// MemberDebt sums approved loans minus repayment movements for a member.
func MemberDebt(ctx context.Context, tx ledger.Tx, householdID, memberID uuid.UUID) (Debt, error) {
	member := memberID
	approved, err := tx.ListLoans(ctx, ledger.LoanFilter{
		HouseholdID: householdID,
		RequesterID: &member,
		Statuses:    []ledger.LoanStatus{ledger.LoanApproved},
	})
	if err != nil {
		return Debt{}, fmt.Errorf("loans: list approved: %w", err)
	}
	borrowed := decimal.Zero
	for _, l := range approved {
		borrowed = borrowed.Add(l.Amount)
	}
	repaid, err := repaidBy(ctx, tx, householdID, memberID)
	if err != nil {
		return Debt{}, err
	}
	return Debt{
		MemberID:    memberID,
		Borrowed:    ledger.Round(borrowed),
		Repaid:      repaid,
		Outstanding: ledger.Round(borrowed.Sub(repaid)),
	}, nil
}

func repaidBy(ctx context.Context, tx ledger.Tx, householdID, memberID uuid.UUID) (decimal.Decimal, error) {
	member := memberID
	totals, err := tx.SumMovements(ctx, ledger.MovementFilter{
		HouseholdID: householdID,
		Type:        ledger.MovementIncome,
		Flow:        ledger.FlowCommon,
		MemberID:    &member,
		Sources:     []ledger.MovementSource{ledger.SourceRepayment},
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("loans: sum repayments: %w", err)
	}
	return ledger.Round(totals.Income), nil
}

// View is a loan with its repayment progress.
type View struct {
	Loan          ledger.Loan              `json:"loan"`
	DisplayStatus ledger.LoanDisplayStatus `json:"display_status"`
	Repaid        decimal.Decimal          `json:"repaid"`
	Outstanding   decimal.Decimal          `json:"outstanding"`
}

// Allocate spreads each member's repaid total over their approved loans, oldest approval first.
// The returned views keep the order of loans.
func Allocate(loans []ledger.Loan, repaid map[uuid.UUID]decimal.Decimal) []View {
	views := make([]View, len(loans))
	order := make([]int, 0, len(loans))
	for i, l := range loans {
		views[i] = View{Loan: l, DisplayStatus: ledger.LoanDisplayStatus(l.Status), Repaid: decimal.Zero, Outstanding: decimal.Zero}
		if l.Status == ledger.LoanApproved {
			views[i].Outstanding = l.Amount
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return approvedAt(loans[order[a]]).Before(approvedAt(loans[order[b]]))
	})
	remaining := make(map[uuid.UUID]decimal.Decimal, len(repaid))
	for k, v := range repaid {
		remaining[k] = v
	}
	for _, i := range order {
		left := remaining[loans[i].RequesterID]
		if !left.IsPositive() {
			continue
		}
		portion := decimal.Min(left, loans[i].Amount)
		remaining[loans[i].RequesterID] = left.Sub(portion)
		views[i].Repaid = portion
		views[i].Outstanding = loans[i].Amount.Sub(portion)
		if views[i].Outstanding.IsZero() {
			views[i].DisplayStatus = ledger.LoanDisplayRepaidFull
		} else {
			views[i].DisplayStatus = ledger.LoanDisplayRepaidPartial
		}
	}
	return views
}

func approvedAt(l ledger.Loan) time.Time {
	if l.DecidedAt != nil {
		return *l.DecidedAt
	}
	return l.RequestedAt
}
