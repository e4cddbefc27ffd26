package contributions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeExpectedEqual(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	settings := ledger.HouseholdSettings{Policy: ledger.PolicyEqual, MonthlyGoal: dec("100")}
	got := ComputeExpected(settings, []ledger.Member{{ID: a}, {ID: b}, {ID: c}})
	for _, id := range []uuid.UUID{a, b, c} {
		require.True(t, got[id].Equal(dec("33.33")), got[id].String())
	}
	require.Empty(t, ComputeExpected(settings, nil))
}

func TestComputeExpectedProportional(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	settings := ledger.HouseholdSettings{Policy: ledger.PolicyProportional, MonthlyGoal: dec("1000")}
	got := ComputeExpected(settings, []ledger.Member{
		{ID: a, Income: dec("3000")},
		{ID: b, Income: dec("1000")},
	})
	require.True(t, got[a].Equal(dec("750")))
	require.True(t, got[b].Equal(dec("250")))

	// No declared income falls back to an equal split.
	got = ComputeExpected(settings, []ledger.Member{{ID: a}, {ID: b, Income: dec("-5")}})
	require.True(t, got[a].Equal(dec("500")))
	require.True(t, got[b].Equal(dec("500")))
}

type fixture struct {
	store     *memory.Store
	directory *memory.Directory
	svc       *Service
	owner     ledger.Actor
	member    ledger.Actor
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	household := uuid.New()
	f := &fixture{
		store:     memory.NewStore(),
		directory: memory.NewDirectory(),
		owner:     ledger.Actor{HouseholdID: household, MemberID: uuid.New(), Role: ledger.RoleOwner},
		member:    ledger.Actor{HouseholdID: household, MemberID: uuid.New(), Role: ledger.RoleMember},
		now:       time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	f.directory.PutMember(ledger.Member{ID: f.owner.MemberID, HouseholdID: household, Role: ledger.RoleOwner, Income: dec("3000"), Active: true})
	f.directory.PutMember(ledger.Member{ID: f.member.MemberID, HouseholdID: household, Role: ledger.RoleMember, Income: dec("1000"), Active: true})
	f.svc = NewService(f.store, f.directory, ledger.Hooks{})
	f.svc.WithNow(func() time.Time { return f.now })
	return f
}

func (f *fixture) seedPeriod(t *testing.T, phase ledger.PeriodPhase) ledger.Period {
	t.Helper()
	period := ledger.Period{
		ID: uuid.New(), HouseholdID: f.owner.HouseholdID, Year: 2025, Month: 10,
		Phase: phase, Status: ledger.PeriodStatusActive, CreatedAt: f.now, UpdatedAt: f.now,
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertPeriod(ctx, period)
	}))
	return period
}

func (f *fixture) income(t *testing.T, member uuid.UUID, amount string, source ledger.MovementSource) {
	t.Helper()
	m := ledger.Movement{
		ID: uuid.New(), HouseholdID: f.owner.HouseholdID, Type: ledger.MovementIncome, Flow: ledger.FlowCommon,
		Source: source, Amount: dec(amount), OccurredAt: f.now, MemberID: &member, RecordedBy: member,
		CreatedAt: f.now, UpdatedAt: f.now,
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertMovement(ctx, m)
	}))
}

func byMember(list []ledger.Contribution) map[uuid.UUID]ledger.Contribution {
	out := make(map[uuid.UUID]ledger.Contribution, len(list))
	for _, c := range list {
		out[c.MemberID] = c
	}
	return out
}

func TestSettingsDefaultsAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	settings, err := f.svc.Settings(ctx, f.member)
	require.NoError(t, err)
	require.Equal(t, ledger.PolicyEqual, settings.Policy)
	require.True(t, settings.MonthlyGoal.IsZero())

	_, err = f.svc.UpdateSettings(ctx, f.member, UpdateSettingsInput{Policy: "equal", MonthlyGoal: dec("10")})
	require.ErrorIs(t, err, ledger.ErrNotOwner)

	_, err = f.svc.UpdateSettings(ctx, f.owner, UpdateSettingsInput{Policy: "weighted", MonthlyGoal: dec("10")})
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	_, err = f.svc.UpdateSettings(ctx, f.owner, UpdateSettingsInput{Policy: "equal", MonthlyGoal: dec("-1")})
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	updated, err := f.svc.UpdateSettings(ctx, f.owner, UpdateSettingsInput{Policy: "proportional", MonthlyGoal: dec("1000.005")})
	require.NoError(t, err)
	require.Equal(t, ledger.PolicyProportional, updated.Policy)
	require.True(t, updated.MonthlyGoal.Equal(dec("1000.01")))
	require.Equal(t, "EUR", updated.Currency)

	again, err := f.svc.Settings(ctx, f.owner)
	require.NoError(t, err)
	require.Equal(t, updated.Policy, again.Policy)
}

func TestRecalculateDerivesPaidAndBanksSurplus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := f.seedPeriod(t, ledger.PhaseActive)

	_, err := f.svc.UpdateSettings(ctx, f.owner, UpdateSettingsInput{Policy: "proportional", MonthlyGoal: dec("1000")})
	require.NoError(t, err)

	f.income(t, f.owner.MemberID, "750", ledger.SourceManual)
	f.income(t, f.member.MemberID, "300", ledger.SourceManual)
	// Repayments never count toward a contribution.
	f.income(t, f.member.MemberID, "40", ledger.SourceRepayment)

	list, err := f.svc.Recalculate(ctx, f.owner, period.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	got := byMember(list)

	owner := got[f.owner.MemberID]
	require.True(t, owner.ExpectedAmount.Equal(dec("750")))
	require.Equal(t, ledger.ContributionPaid, owner.Status)

	member := got[f.member.MemberID]
	require.True(t, member.ExpectedAmount.Equal(dec("250")))
	require.True(t, member.PaidAmount.Equal(dec("300")))
	require.Equal(t, ledger.ContributionOverpaid, member.Status)
	require.True(t, member.CreditedSurplus.Equal(dec("50")))

	var credits []ledger.Credit
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		credits, err = tx.ListCredits(ctx, ledger.CreditFilter{HouseholdID: f.owner.HouseholdID})
		return err
	}))
	require.Len(t, credits, 1)
	require.True(t, credits[0].Amount.Equal(dec("50")))
	require.Equal(t, member.ID, *credits[0].SourceContributionID)

	// Recalculating again banks nothing new.
	_, err = f.svc.Recalculate(ctx, f.owner, period.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		credits, err = tx.ListCredits(ctx, ledger.CreditFilter{HouseholdID: f.owner.HouseholdID})
		return err
	}))
	require.Len(t, credits, 1)

	lines, err := f.svc.Reconcile(ctx, f.member, period.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	for _, line := range lines {
		require.False(t, line.Drift, line.MemberID.String())
	}
}

func TestRecalculateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Recalculate(ctx, f.member, uuid.New())
	require.ErrorIs(t, err, ledger.ErrNotOwner)

	_, err = f.svc.Recalculate(ctx, f.owner, uuid.New())
	require.True(t, ledger.IsKind(err, ledger.KindNotFound))

	closed := f.seedPeriod(t, ledger.PhaseClosed)
	_, err = f.svc.Recalculate(ctx, f.owner, closed.ID)
	require.ErrorIs(t, err, ledger.ErrPeriodClosed)
}

func TestRecalculateKeepsDepartedMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := f.seedPeriod(t, ledger.PhaseActive)
	_, err := f.svc.UpdateSettings(ctx, f.owner, UpdateSettingsInput{Policy: "equal", MonthlyGoal: dec("200")})
	require.NoError(t, err)

	_, err = f.svc.Recalculate(ctx, f.owner, period.ID)
	require.NoError(t, err)

	f.directory.PutMember(ledger.Member{ID: f.member.MemberID, HouseholdID: f.owner.HouseholdID, Role: ledger.RoleMember, Active: false})
	_, err = f.svc.UpdateSettings(ctx, f.owner, UpdateSettingsInput{Policy: "equal", MonthlyGoal: dec("300")})
	require.NoError(t, err)

	list, err := f.svc.Recalculate(ctx, f.owner, period.ID)
	require.NoError(t, err)
	got := byMember(list)
	require.True(t, got[f.owner.MemberID].ExpectedAmount.Equal(dec("300")))
	require.True(t, got[f.member.MemberID].ExpectedAmount.Equal(dec("100")))
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := f.seedPeriod(t, ledger.PhaseActive)
	c := ledger.Contribution{
		ID: uuid.New(), HouseholdID: f.owner.HouseholdID, PeriodID: period.ID, MemberID: f.member.MemberID,
		Year: 2025, Month: 10, ExpectedAmount: dec("100"), PaidAmount: dec("80"), CreditedSurplus: decimal.Zero,
		Status: ledger.ContributionPartial,
	}
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertContribution(ctx, c)
	}))
	f.income(t, f.member.MemberID, "60", ledger.SourceManual)

	lines, err := f.svc.Reconcile(ctx, f.owner, period.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, lines[0].Drift)
	require.True(t, lines[0].Stored.Equal(dec("80")))
	require.True(t, lines[0].Derived.Equal(dec("60")))
	require.True(t, lines[0].Breakdown.Movements.Equal(dec("60")))
}

func TestApplyPaymentNeverGoesNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := f.seedPeriod(t, ledger.PhaseActive)
	c := ledger.Contribution{
		ID: uuid.New(), HouseholdID: f.owner.HouseholdID, PeriodID: period.ID, MemberID: f.member.MemberID,
		Year: 2025, Month: 10, ExpectedAmount: dec("100"), PaidAmount: dec("20"), CreditedSurplus: decimal.Zero,
		Status: ledger.ContributionPartial,
	}
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.InsertContribution(ctx, c); err != nil {
			return err
		}
		out, err := ApplyPayment(ctx, tx, c, dec("-50"), f.now)
		require.NoError(t, err)
		require.True(t, out.Contribution.PaidAmount.IsZero())
		require.Equal(t, ledger.ContributionPending, out.Contribution.Status)
		require.Nil(t, out.Credit)

		none, err := ApplyToMonth(ctx, tx, f.owner.HouseholdID, f.member.MemberID, ledger.YearMonth{Year: 2024, Month: 1}, dec("10"), f.now)
		require.NoError(t, err)
		require.Nil(t, none)
		return nil
	}))
}

func TestRecalculateWithdrawsCreditWhenSurplusDisappears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := f.seedPeriod(t, ledger.PhaseActive)
	_, err := f.svc.UpdateSettings(ctx, f.owner, UpdateSettingsInput{Policy: "equal", MonthlyGoal: dec("200")})
	require.NoError(t, err)
	f.income(t, f.member.MemberID, "120", ledger.SourceManual)

	list, err := f.svc.Recalculate(ctx, f.owner, period.ID)
	require.NoError(t, err)
	require.True(t, byMember(list)[f.member.MemberID].CreditedSurplus.Equal(dec("20")))

	_, err = f.svc.UpdateSettings(ctx, f.owner, UpdateSettingsInput{Policy: "equal", MonthlyGoal: dec("300")})
	require.NoError(t, err)
	list, err = f.svc.Recalculate(ctx, f.owner, period.ID)
	require.NoError(t, err)

	member := byMember(list)[f.member.MemberID]
	require.True(t, member.ExpectedAmount.Equal(dec("150")))
	require.True(t, member.PaidAmount.Equal(dec("120")))
	require.True(t, member.CreditedSurplus.IsZero())
	require.Equal(t, ledger.ContributionPartial, member.Status)

	var credits []ledger.Credit
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		credits, err = tx.ListCredits(ctx, ledger.CreditFilter{HouseholdID: f.owner.HouseholdID})
		return err
	}))
	require.Empty(t, credits)
}

func TestApplyPaymentKeepsConsumedSurplus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := f.seedPeriod(t, ledger.PhaseActive)
	c := ledger.Contribution{
		ID: uuid.New(), HouseholdID: f.owner.HouseholdID, PeriodID: period.ID, MemberID: f.member.MemberID,
		Year: 2025, Month: 10, ExpectedAmount: dec("100"), PaidAmount: dec("120"), CreditedSurplus: dec("20"),
		Status: ledger.ContributionOverpaid,
	}
	source := c.ID
	banked := func(amount string, status ledger.CreditStatus) ledger.Credit {
		return ledger.Credit{
			ID: uuid.New(), HouseholdID: c.HouseholdID, MemberID: c.MemberID, Amount: dec(amount),
			SourceYear: 2025, SourceMonth: 10, SourceContributionID: &source, Status: status, CreatedAt: f.now,
		}
	}
	active, spent := banked("10", ledger.CreditActive), banked("10", ledger.CreditTransferred)

	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.InsertContribution(ctx, c); err != nil {
			return err
		}
		if err := tx.InsertCredit(ctx, active); err != nil {
			return err
		}
		if err := tx.InsertCredit(ctx, spent); err != nil {
			return err
		}
		out, err := ApplyPayment(ctx, tx, c, dec("-10"), f.now)
		require.NoError(t, err)
		require.True(t, out.Contribution.CreditedSurplus.Equal(dec("10")))
		require.Len(t, out.Withdrawn, 1)
		require.Equal(t, active.ID, out.Withdrawn[0].ID)
		require.Nil(t, out.Credit)

		_, err = ApplyPayment(ctx, tx, out.Contribution, dec("-5"), f.now)
		require.ErrorIs(t, err, ledger.ErrCreditConsumed)
		require.True(t, ledger.IsKind(ledger.AsFailure(err), ledger.KindBusinessRule))
		return nil
	}))
}
