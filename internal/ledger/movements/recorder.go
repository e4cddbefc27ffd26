// Package movements records immutable income and expense entries and the paired entries
// produced by approved prepayments.
package movements

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/contributions"
	"github.com/hearth-finance/hearth/internal/ledger/periods"
)

// Entry describes a movement to record.
type Entry struct {
	Type         ledger.MovementType
	Flow         ledger.MovementFlow
	Source       ledger.MovementSource
	Amount       decimal.Decimal
	OccurredAt   time.Time
	MemberID     *uuid.UUID
	RecordedBy   uuid.UUID
	CategoryID   *uuid.UUID
	Description  string
	AdjustmentID *uuid.UUID
	LoanID       *uuid.UUID
}

func (e Entry) validate() error {
	fields := map[string]string{}
	if !e.Type.Valid() {
		fields["type"] = "must be income or expense"
	}
	if !e.Flow.Valid() {
		fields["flow"] = "must be common or direct"
	}
	if !ledger.Round(e.Amount).IsPositive() {
		fields["amount"] = "must be greater than zero"
	}
	if e.OccurredAt.IsZero() {
		fields["occurred_at"] = "is required"
	}
	if len(fields) > 0 {
		return ledger.Validation("invalid movement", fields)
	}
	return nil
}

// Recorded is a stored movement with the contribution settlement it caused, if any.
type Recorded struct {
	Movement   ledger.Movement
	Settlement *contributions.Settlement
}

// Record validates the entry against the phase of the period its date falls into, stores it,
// and credits the member's contribution when it is a manual common income.
func Record(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, e Entry, now time.Time) (Recorded, error) {
	if e.Source == "" {
		e.Source = ledger.SourceManual
	}
	if err := e.validate(); err != nil {
		return Recorded{}, err
	}
	if err := periods.EnsureOpenFor(ctx, tx, householdID, e.OccurredAt); err != nil {
		return Recorded{}, err
	}
	m := ledger.Movement{
		ID:           uuid.New(),
		HouseholdID:  householdID,
		Type:         e.Type,
		Flow:         e.Flow,
		Source:       e.Source,
		Amount:       ledger.Round(e.Amount),
		OccurredAt:   e.OccurredAt.UTC(),
		MemberID:     e.MemberID,
		RecordedBy:   e.RecordedBy,
		CategoryID:   e.CategoryID,
		Description:  e.Description,
		AdjustmentID: e.AdjustmentID,
		LoanID:       e.LoanID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return Recorded{}, fmt.Errorf("movements: insert: %w", err)
	}
	out := Recorded{Movement: m}
	if m.CountsAsContribution() {
		settled, err := contributions.ApplyToMonth(ctx, tx, householdID, *m.MemberID, ledger.YearMonthOf(m.OccurredAt), m.Amount, now)
		if err != nil {
			return Recorded{}, err
		}
		out.Settlement = settled
	}
	return out, nil
}

// PairedEffect describes the expense and virtual income pair of an approved prepayment.
type PairedEffect struct {
	AdjustmentID       uuid.UUID
	Amount             decimal.Decimal
	ExpenseCategoryID  uuid.UUID
	ExpenseDescription string
	IncomeDescription  string
	MemberID           uuid.UUID
	DecidedBy          uuid.UUID
	OccurredAt         time.Time
}

// Pair holds both movements of a paired effect.
type Pair struct {
	Expense ledger.Movement
	Income  ledger.Movement
}

// ApplyPaired records the household expense and the member's virtual income of the same magnitude.
// Either both movements are written or the error aborts the enclosing transaction.
func ApplyPaired(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, eff PairedEffect, now time.Time) (Pair, error) {
	amount := ledger.Round(eff.Amount.Abs())
	adjustmentID := eff.AdjustmentID
	member := eff.MemberID
	category := eff.ExpenseCategoryID
	expense, err := Record(ctx, tx, householdID, Entry{
		Type:         ledger.MovementExpense,
		Flow:         ledger.FlowCommon,
		Source:       ledger.SourceAdjustment,
		Amount:       amount,
		OccurredAt:   eff.OccurredAt,
		RecordedBy:   eff.DecidedBy,
		CategoryID:   &category,
		Description:  eff.ExpenseDescription,
		AdjustmentID: &adjustmentID,
	}, now)
	if err != nil {
		return Pair{}, err
	}
	income, err := Record(ctx, tx, householdID, Entry{
		Type:         ledger.MovementIncome,
		Flow:         ledger.FlowCommon,
		Source:       ledger.SourceAdjustment,
		Amount:       amount,
		OccurredAt:   eff.OccurredAt,
		MemberID:     &member,
		RecordedBy:   eff.DecidedBy,
		Description:  eff.IncomeDescription,
		AdjustmentID: &adjustmentID,
	}, now)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Expense: expense.Movement, Income: income.Movement}, nil
}
