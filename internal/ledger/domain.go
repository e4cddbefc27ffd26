package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role enumerates household membership roles.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Actor identifies the caller of an operation. Values come from the identity collaborator
// and are trusted as given.
type Actor struct {
	HouseholdID uuid.UUID
	MemberID    uuid.UUID
	Role        Role
}

// IsOwner reports whether the actor may run owner-only actions.
func (a Actor) IsOwner() bool {
	return a.Role == RoleOwner
}

// Validate rejects anonymous actors.
func (a Actor) Validate() error {
	if a.HouseholdID == uuid.Nil || a.MemberID == uuid.Nil {
		return Authorization("caller identity is missing")
	}
	if a.Role != RoleOwner && a.Role != RoleMember {
		return Authorization("caller role is not recognised")
	}
	return nil
}

// RequireOwner fails unless the actor owns the household.
func (a Actor) RequireOwner() error {
	if err := a.Validate(); err != nil {
		return err
	}
	if !a.IsOwner() {
		return Wrap(KindAuthorization, "only the household owner can perform this action", ErrNotOwner)
	}
	return nil
}

// Member is a household participant as supplied by the membership collaborator.
type Member struct {
	ID          uuid.UUID
	HouseholdID uuid.UUID
	DisplayName string
	Role        Role
	Income      decimal.Decimal
	Active      bool
}

// YearMonth names an accounting month.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// YearMonthOf returns the UTC month containing t.
func YearMonthOf(t time.Time) YearMonth {
	u := t.UTC()
	return YearMonth{Year: u.Year(), Month: int(u.Month())}
}

// ParseYearMonth parses the "YYYY-MM" form.
func ParseYearMonth(raw string) (YearMonth, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return YearMonth{}, fmt.Errorf("ledger: invalid year-month %q", raw)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return YearMonth{}, fmt.Errorf("ledger: invalid year in %q", raw)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return YearMonth{}, fmt.Errorf("ledger: invalid month in %q", raw)
	}
	ym := YearMonth{Year: year, Month: month}
	if !ym.Valid() {
		return YearMonth{}, fmt.Errorf("ledger: year-month %q out of range", raw)
	}
	return ym, nil
}

// Valid reports whether the month is usable.
func (ym YearMonth) Valid() bool {
	return ym.Year >= 2000 && ym.Year <= 2100 && ym.Month >= 1 && ym.Month <= 12
}

// String renders the "YYYY-MM" form used as the deletion confirmation token.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// Start returns the first instant of the month in UTC.
func (ym YearMonth) Start() time.Time {
	return time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following month (exclusive bound).
func (ym YearMonth) End() time.Time {
	return ym.Start().AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the month.
func (ym YearMonth) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(ym.Start()) && u.Before(ym.End())
}

// Before orders months chronologically.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// Period is one household's accounting month.
type Period struct {
	ID                   uuid.UUID       `json:"id"`
	HouseholdID          uuid.UUID       `json:"household_id"`
	Year                 int             `json:"year"`
	Month                int             `json:"month"`
	Phase                PeriodPhase     `json:"phase"`
	Status               PeriodStatus    `json:"status"`
	ContributionDisabled bool            `json:"contribution_disabled"`
	OpeningBalance       decimal.Decimal `json:"opening_balance"`
	ClosingBalance       decimal.Decimal `json:"closing_balance"`
	ClosedAt             *time.Time      `json:"closed_at"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// YearMonth returns the period key.
func (p Period) YearMonth() YearMonth {
	return YearMonth{Year: p.Year, Month: p.Month}
}

// Key returns the "YYYY-MM" label of the period.
func (p Period) Key() string {
	return p.YearMonth().String()
}

// AcceptsMovements reports whether new or edited movements may land in the period.
func (p Period) AcceptsMovements() bool {
	return p.Phase != PhaseClosed && p.Status != PeriodStatusLocked
}

// HouseholdSettings holds the contribution policy of a household.
type HouseholdSettings struct {
	HouseholdID uuid.UUID         `json:"household_id"`
	Policy      CalculationPolicy `json:"policy"`
	MonthlyGoal decimal.Decimal   `json:"monthly_goal"`
	Currency    string            `json:"currency"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DefaultSettings returns the settings used before an owner configures the household.
func DefaultSettings(householdID uuid.UUID) HouseholdSettings {
	return HouseholdSettings{
		HouseholdID: householdID,
		Policy:      PolicyEqual,
		MonthlyGoal: decimal.Zero,
		Currency:    "EUR",
	}
}

// Contribution is a member's expected vs paid share for a period.
type Contribution struct {
	ID              uuid.UUID          `json:"id"`
	HouseholdID     uuid.UUID          `json:"household_id"`
	PeriodID        uuid.UUID          `json:"period_id"`
	MemberID        uuid.UUID          `json:"member_id"`
	Year            int                `json:"year"`
	Month           int                `json:"month"`
	ExpectedAmount  decimal.Decimal    `json:"expected_amount"`
	PaidAmount      decimal.Decimal    `json:"paid_amount"`
	CreditedSurplus decimal.Decimal    `json:"credited_surplus"`
	Status          ContributionStatus `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// YearMonth returns the month the contribution belongs to.
func (c Contribution) YearMonth() YearMonth {
	return YearMonth{Year: c.Year, Month: c.Month}
}

// Surplus is the overpayment not yet moved into the credit ledger.
func (c Contribution) Surplus() decimal.Decimal {
	s := c.PaidAmount.Sub(c.ExpectedAmount).Sub(c.CreditedSurplus)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// Remaining is what the member still owes for the period.
func (c Contribution) Remaining() decimal.Decimal {
	r := c.ExpectedAmount.Sub(c.PaidAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Movement is an immutable record of money moving.
type Movement struct {
	ID           uuid.UUID       `json:"id"`
	HouseholdID  uuid.UUID       `json:"household_id"`
	Type         MovementType    `json:"type"`
	Flow         MovementFlow    `json:"flow"`
	Source       MovementSource  `json:"source"`
	Amount       decimal.Decimal `json:"amount"`
	OccurredAt   time.Time       `json:"occurred_at"`
	MemberID     *uuid.UUID      `json:"member_id"`
	RecordedBy   uuid.UUID       `json:"recorded_by"`
	CategoryID   *uuid.UUID      `json:"category_id"`
	Description  string          `json:"description"`
	AdjustmentID *uuid.UUID      `json:"adjustment_id"`
	LoanID       *uuid.UUID      `json:"loan_id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Signed returns the amount with income positive and expense negative.
func (m Movement) Signed() decimal.Decimal {
	if m.Type == MovementExpense {
		return m.Amount.Neg()
	}
	return m.Amount
}

// SystemGenerated reports whether the movement was produced by a workflow.
func (m Movement) SystemGenerated() bool {
	return m.Source != SourceManual
}

// CountsAsContribution reports whether the movement pays into its member's contribution.
func (m Movement) CountsAsContribution() bool {
	return m.Type == MovementIncome && m.Flow == FlowCommon && m.Source == SourceManual && m.MemberID != nil
}

// Credit is a member's banked overpayment.
type Credit struct {
	ID                      uuid.UUID       `json:"id"`
	HouseholdID             uuid.UUID       `json:"household_id"`
	MemberID                uuid.UUID       `json:"member_id"`
	Amount                  decimal.Decimal `json:"amount"`
	SourceYear              int             `json:"source_year"`
	SourceMonth             int             `json:"source_month"`
	SourceContributionID    *uuid.UUID      `json:"source_contribution_id"`
	Status                  CreditStatus    `json:"status"`
	ReservedFor             *YearMonth      `json:"reserved_for"`
	AppliedToContributionID *uuid.UUID      `json:"applied_to_contribution_id"`
	CreatedAt               time.Time       `json:"created_at"`
	ResolvedAt              *time.Time      `json:"resolved_at"`
}

// Source returns the month the overpayment came from.
func (c Credit) Source() YearMonth {
	return YearMonth{Year: c.SourceYear, Month: c.SourceMonth}
}

// Reserved reports whether the credit is earmarked for a future contribution.
func (c Credit) Reserved() bool {
	return c.Status == CreditActive && c.ReservedFor != nil
}

// SavingsDeposit records a credit moved into the household savings balance.
type SavingsDeposit struct {
	ID          uuid.UUID       `json:"id"`
	HouseholdID uuid.UUID       `json:"household_id"`
	MemberID    uuid.UUID       `json:"member_id"`
	CreditID    *uuid.UUID      `json:"credit_id"`
	Amount      decimal.Decimal `json:"amount"`
	Note        string          `json:"note"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Loan is a household-to-member advance.
type Loan struct {
	ID              uuid.UUID       `json:"id"`
	HouseholdID     uuid.UUID       `json:"household_id"`
	RequesterID     uuid.UUID       `json:"requester_id"`
	Amount          decimal.Decimal `json:"amount"`
	Notes           string          `json:"notes"`
	Status          LoanStatus      `json:"status"`
	MovementID      *uuid.UUID      `json:"movement_id"`
	DecidedBy       *uuid.UUID      `json:"decided_by"`
	RejectionReason string          `json:"rejection_reason"`
	RequestedAt     time.Time       `json:"requested_at"`
	DecidedAt       *time.Time      `json:"decided_at"`
}

// Adjustment is a change to a contribution's paid amount. Prepayments are stored negative:
// the magnitude is what the member advanced out of pocket.
type Adjustment struct {
	ID                uuid.UUID        `json:"id"`
	HouseholdID       uuid.UUID        `json:"household_id"`
	ContributionID    uuid.UUID        `json:"contribution_id"`
	PeriodID          uuid.UUID        `json:"period_id"`
	RequesterID       uuid.UUID        `json:"requester_id"`
	Kind              AdjustmentKind   `json:"kind"`
	Amount            decimal.Decimal  `json:"amount"`
	Reason            string           `json:"reason"`
	CategoryID        *uuid.UUID       `json:"category_id"`
	OccurredAt        time.Time        `json:"occurred_at"`
	Status            AdjustmentStatus `json:"status"`
	ExpenseMovementID *uuid.UUID       `json:"expense_movement_id"`
	IncomeMovementID  *uuid.UUID       `json:"income_movement_id"`
	DecidedBy         *uuid.UUID       `json:"decided_by"`
	RejectionReason   string           `json:"rejection_reason"`
	CreatedAt         time.Time        `json:"created_at"`
	DecidedAt         *time.Time       `json:"decided_at"`
}

// Magnitude is the absolute amount of the adjustment.
func (a Adjustment) Magnitude() decimal.Decimal {
	return a.Amount.Abs()
}

// HasMovements reports whether both paired movements are linked.
func (a Adjustment) HasMovements() bool {
	return a.ExpenseMovementID != nil && a.IncomeMovementID != nil
}

// PaidEffect is the amount the adjustment currently adds to its contribution.
func (a Adjustment) PaidEffect() decimal.Decimal {
	if !a.Status.Effective() {
		return decimal.Zero
	}
	if a.Kind == AdjustmentPrepayment {
		return a.Magnitude()
	}
	return a.Amount.Neg()
}

// Category is a household category as supplied by the category collaborator.
type Category struct {
	ID          uuid.UUID    `json:"id"`
	HouseholdID uuid.UUID    `json:"household_id"`
	Name        string       `json:"name"`
	Type        MovementType `json:"type"`
}
