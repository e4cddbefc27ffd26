package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store runs units of work atomically. Implementations must give each WithTx call
// serializable semantics and must roll back entirely when fn returns an error.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// MovementFilter narrows movement queries. To is exclusive; zero times are unbounded.
type MovementFilter struct {
	HouseholdID uuid.UUID
	From        time.Time
	To          time.Time
	Type        MovementType
	Flow        MovementFlow
	MemberID    *uuid.UUID
	Sources     []MovementSource
}

// MovementTotals aggregates filtered movements.
type MovementTotals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
}

// Net returns income minus expense.
func (t MovementTotals) Net() decimal.Decimal {
	return t.Income.Sub(t.Expense)
}

// CreditFilter narrows credit queries.
type CreditFilter struct {
	HouseholdID uuid.UUID
	MemberID    *uuid.UUID
	Statuses    []CreditStatus
	Source      *YearMonth
	// SourceContributionID matches credits banked from that contribution.
	SourceContributionID *uuid.UUID
	// AppliedToContributionID matches credits consumed by that contribution.
	AppliedToContributionID *uuid.UUID
}

// LoanFilter narrows loan queries.
type LoanFilter struct {
	HouseholdID uuid.UUID
	RequesterID *uuid.UUID
	Statuses    []LoanStatus
}

// AdjustmentFilter narrows adjustment queries.
type AdjustmentFilter struct {
	HouseholdID    uuid.UUID
	PeriodID       *uuid.UUID
	ContributionID *uuid.UUID
	Statuses       []AdjustmentStatus
}

// Tx exposes row access inside a unit of work. ForUpdate reads lock the row until commit.
// Lookups return ErrNotFound when the row is missing.
type Tx interface {
	LockHousehold(ctx context.Context, householdID uuid.UUID) (HouseholdSettings, error)
	SaveSettings(ctx context.Context, settings HouseholdSettings) error
	ListHouseholds(ctx context.Context) ([]uuid.UUID, error)

	InsertPeriod(ctx context.Context, p Period) error
	GetPeriod(ctx context.Context, householdID, id uuid.UUID) (Period, error)
	GetPeriodForUpdate(ctx context.Context, householdID, id uuid.UUID) (Period, error)
	FindPeriod(ctx context.Context, householdID uuid.UUID, ym YearMonth) (Period, error)
	ListPeriods(ctx context.Context, householdID uuid.UUID) ([]Period, error)
	UpdatePeriod(ctx context.Context, p Period) error
	DeletePeriod(ctx context.Context, householdID, id uuid.UUID) error

	InsertMovement(ctx context.Context, m Movement) error
	GetMovementForUpdate(ctx context.Context, householdID, id uuid.UUID) (Movement, error)
	UpdateMovement(ctx context.Context, m Movement) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	SumMovements(ctx context.Context, filter MovementFilter) (MovementTotals, error)
	DeleteMovements(ctx context.Context, filter MovementFilter) (int, error)

	InsertContribution(ctx context.Context, c Contribution) error
	GetContribution(ctx context.Context, householdID, id uuid.UUID) (Contribution, error)
	GetContributionForUpdate(ctx context.Context, householdID, id uuid.UUID) (Contribution, error)
	FindContributionForUpdate(ctx context.Context, periodID, memberID uuid.UUID) (Contribution, error)
	ListContributions(ctx context.Context, periodID uuid.UUID) ([]Contribution, error)
	UpdateContribution(ctx context.Context, c Contribution) error

	InsertCredit(ctx context.Context, c Credit) error
	GetCreditForUpdate(ctx context.Context, householdID, id uuid.UUID) (Credit, error)
	ListCredits(ctx context.Context, filter CreditFilter) ([]Credit, error)
	UpdateCredit(ctx context.Context, c Credit) error
	DeleteCredits(ctx context.Context, filter CreditFilter) (int, error)
	InsertSavingsDeposit(ctx context.Context, d SavingsDeposit) error
	SumSavings(ctx context.Context, householdID uuid.UUID) (decimal.Decimal, error)

	InsertLoan(ctx context.Context, l Loan) error
	GetLoanForUpdate(ctx context.Context, householdID, id uuid.UUID) (Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, error)
	UpdateLoan(ctx context.Context, l Loan) error

	InsertAdjustment(ctx context.Context, a Adjustment) error
	GetAdjustmentForUpdate(ctx context.Context, householdID, id uuid.UUID) (Adjustment, error)
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error)
	UpdateAdjustment(ctx context.Context, a Adjustment) error
}

// MemberDirectory is the membership collaborator.
type MemberDirectory interface {
	ActiveMembers(ctx context.Context, householdID uuid.UUID) ([]Member, error)
}

// CategoryCatalog is the category collaborator.
type CategoryCatalog interface {
	Category(ctx context.Context, householdID, id uuid.UUID) (Category, error)
}
