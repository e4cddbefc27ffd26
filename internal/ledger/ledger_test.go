package ledger_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hearth-finance/hearth/internal/ledger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDeriveContributionStatus(t *testing.T) {
	cases := []struct {
		expected string
		paid     string
		want     ledger.ContributionStatus
	}{
		{"100", "0", ledger.ContributionPending},
		{"0", "0", ledger.ContributionPending},
		{"100", "0.01", ledger.ContributionPartial},
		{"100", "99.99", ledger.ContributionPartial},
		{"100", "100", ledger.ContributionPaid},
		{"100", "100.001", ledger.ContributionPaid},
		{"100", "100.01", ledger.ContributionOverpaid},
		{"0", "5", ledger.ContributionOverpaid},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.expected, tc.paid), func(t *testing.T) {
			require.Equal(t, tc.want, ledger.DeriveContributionStatus(dec(tc.expected), dec(tc.paid)))
		})
	}
}

func TestPeriodPhaseTransitions(t *testing.T) {
	require.True(t, ledger.PhasePreparing.CanTransition(ledger.PhaseValidation))
	require.True(t, ledger.PhaseValidation.CanTransition(ledger.PhaseActive))
	require.True(t, ledger.PhaseValidation.CanTransition(ledger.PhasePreparing))
	require.True(t, ledger.PhaseActive.CanTransition(ledger.PhaseClosed))
	require.True(t, ledger.PhaseClosed.CanTransition(ledger.PhaseActive))

	require.False(t, ledger.PhasePreparing.CanTransition(ledger.PhaseActive))
	require.False(t, ledger.PhaseActive.CanTransition(ledger.PhasePreparing))
	require.False(t, ledger.PhaseClosed.CanTransition(ledger.PhaseValidation))

	_, err := ledger.ParsePeriodPhase("archived")
	require.True(t, ledger.IsKind(err, ledger.KindValidation))
	phase, err := ledger.ParsePeriodPhase("closed")
	require.NoError(t, err)
	require.Equal(t, ledger.PhaseClosed, phase)
}

func TestTerminalStatuses(t *testing.T) {
	next, err := ledger.CreditActive.Apply()
	require.NoError(t, err)
	require.Equal(t, ledger.CreditApplied, next)
	_, err = ledger.CreditApplied.Transfer()
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	require.True(t, ledger.IsKind(err, ledger.KindStateConflict))

	loan, err := ledger.LoanPending.Reject()
	require.NoError(t, err)
	require.Equal(t, ledger.LoanRejected, loan)
	_, err = ledger.LoanRejected.Approve()
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)

	adj := ledger.Adjustment{Status: ledger.AdjustmentCancelled}
	_, err = adj.Approve()
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestAdjustmentPeriodHooks(t *testing.T) {
	linked := uuid.New()
	cases := []struct {
		name    string
		adj     ledger.Adjustment
		want    ledger.AdjustmentStatus
		changed bool
	}{
		{"pending locks", ledger.Adjustment{Status: ledger.AdjustmentPending}, ledger.AdjustmentLocked, true},
		{"unconsumed approval locks", ledger.Adjustment{Status: ledger.AdjustmentApproved}, ledger.AdjustmentLocked, true},
		{"consumed approval applies", ledger.Adjustment{Status: ledger.AdjustmentApproved, ExpenseMovementID: &linked, IncomeMovementID: &linked}, ledger.AdjustmentApplied, true},
		{"manual applies", ledger.Adjustment{Status: ledger.AdjustmentActive}, ledger.AdjustmentApplied, true},
		{"rejected stays", ledger.Adjustment{Status: ledger.AdjustmentRejected}, ledger.AdjustmentRejected, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := tc.adj.OnPeriodClose()
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.changed, changed)
		})
	}

	back, changed := ledger.Adjustment{Status: ledger.AdjustmentLocked}.OnPeriodReopen()
	require.True(t, changed)
	require.Equal(t, ledger.AdjustmentPending, back)
}

func TestAdjustmentPaidEffect(t *testing.T) {
	prepay := ledger.Adjustment{Kind: ledger.AdjustmentPrepayment, Amount: dec("-50"), Status: ledger.AdjustmentPending}
	require.True(t, prepay.PaidEffect().IsZero())
	prepay.Status = ledger.AdjustmentApproved
	require.True(t, prepay.PaidEffect().Equal(dec("50")))

	manual := ledger.Adjustment{Kind: ledger.AdjustmentManual, Amount: dec("-120"), Status: ledger.AdjustmentActive}
	require.True(t, manual.PaidEffect().Equal(dec("120")))
	manual.Amount = dec("40")
	require.True(t, manual.PaidEffect().Equal(dec("-40")))
}

func TestYearMonth(t *testing.T) {
	ym, err := ledger.ParseYearMonth("2025-10")
	require.NoError(t, err)
	require.Equal(t, ledger.YearMonth{Year: 2025, Month: 10}, ym)
	require.Equal(t, "2025-10", ym.String())
	require.Equal(t, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), ym.End())
	require.True(t, ym.Contains(time.Date(2025, 10, 31, 23, 59, 0, 0, time.UTC)))
	require.False(t, ym.Contains(ym.End()))
	require.True(t, ym.Before(ledger.YearMonth{Year: 2026, Month: 1}))

	for _, raw := range []string{"2025-13", "25-10", "2025/10", "2025-1", "abcd-ef"} {
		_, err := ledger.ParseYearMonth(raw)
		require.Error(t, err, raw)
	}
}

func TestContributionSurplus(t *testing.T) {
	c := ledger.Contribution{ExpectedAmount: dec("70"), PaidAmount: dec("100"), CreditedSurplus: dec("10")}
	require.True(t, c.Surplus().Equal(dec("20")))
	require.True(t, c.Remaining().IsZero())

	c.PaidAmount = dec("40")
	require.True(t, c.Surplus().IsZero())
	require.True(t, c.Remaining().Equal(dec("30")))
}

func TestAsFailure(t *testing.T) {
	require.Nil(t, ledger.AsFailure(nil))

	cases := []struct {
		err  error
		kind ledger.Kind
	}{
		{ledger.ErrNotFound, ledger.KindNotFound},
		{fmt.Errorf("wrap: %w", ledger.ErrDuplicatePeriod), ledger.KindBusinessRule},
		{ledger.ErrPeriodClosed, ledger.KindStateConflict},
		{ledger.ErrInsufficientBalance, ledger.KindBusinessRule},
		{ledger.ErrConflict, ledger.KindStateConflict},
		{ledger.ErrNotOwner, ledger.KindAuthorization},
		{errors.New("connection reset"), ledger.KindPersistence},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, ledger.AsFailure(tc.err).Kind, tc.err.Error())
	}

	persistence := ledger.AsFailure(errors.New("pq: relation missing"))
	require.Equal(t, ledger.GenericFailureMessage, persistence.PublicMessage())

	tagged := ledger.Validation("bad", map[string]string{"amount": "must be positive"})
	require.Same(t, tagged, ledger.AsFailure(fmt.Errorf("ctx: %w", tagged)))
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Reason string `validate:"required,max=5"`
		Mode   string `validate:"omitempty,oneof=a b"`
	}
	require.NoError(t, ledger.ValidateStruct(input{Reason: "ok"}))

	err := ledger.ValidateStruct(input{Mode: "c"})
	failure := ledger.AsFailure(err)
	require.Equal(t, ledger.KindValidation, failure.Kind)
	require.Equal(t, "is required", failure.Fields["reason"])
	require.Equal(t, "must be one of a b", failure.Fields["mode"])

	failure = ledger.AsFailure(ledger.ValidateStruct(input{Reason: "too long"}))
	require.Equal(t, "must be at most 5 characters", failure.Fields["reason"])
}

func TestActor(t *testing.T) {
	owner := ledger.Actor{HouseholdID: uuid.New(), MemberID: uuid.New(), Role: ledger.RoleOwner}
	require.NoError(t, owner.RequireOwner())

	member := owner
	member.Role = ledger.RoleMember
	require.NoError(t, member.Validate())
	err := member.RequireOwner()
	require.ErrorIs(t, err, ledger.ErrNotOwner)
	require.True(t, ledger.IsKind(err, ledger.KindAuthorization))

	require.Error(t, ledger.Actor{Role: ledger.RoleOwner}.Validate())
	require.Error(t, ledger.Actor{HouseholdID: uuid.New(), MemberID: uuid.New(), Role: "guest"}.Validate())
}

func TestMoney(t *testing.T) {
	require.True(t, ledger.Round(dec("10.005")).Equal(dec("10.01")))
	require.True(t, ledger.Round(dec("-10.005")).Equal(dec("-10.01")))
	require.True(t, ledger.ApproxEqual(dec("10.00"), dec("10.01")))
	require.False(t, ledger.ApproxEqual(dec("10.00"), dec("10.02")))
	require.True(t, ledger.Sum(dec("1.5"), dec("2.5"), dec("-1")).Equal(dec("3")))
}
