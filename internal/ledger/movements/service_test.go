package movements

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/memory"
	"github.com/hearth-finance/hearth/internal/ledger/periods"
)

type fixture struct {
	store   *memory.Store
	dir     *memory.Directory
	svc     *Service
	periods *periods.Service
	owner   ledger.Actor
	member  ledger.Actor
	period  ledger.Period
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	household := uuid.New()
	f := &fixture{
		store:  memory.NewStore(),
		dir:    memory.NewDirectory(),
		owner:  ledger.Actor{HouseholdID: household, MemberID: uuid.New(), Role: ledger.RoleOwner},
		member: ledger.Actor{HouseholdID: household, MemberID: uuid.New(), Role: ledger.RoleMember},
		now:    time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	f.dir.PutMember(ledger.Member{ID: f.owner.MemberID, HouseholdID: household, Role: ledger.RoleOwner, Active: true})
	f.dir.PutMember(ledger.Member{ID: f.member.MemberID, HouseholdID: household, Role: ledger.RoleMember, Active: true})
	clock := func() time.Time { return f.now }
	f.svc = NewService(f.store, f.dir, ledger.Hooks{})
	f.svc.WithNow(clock)
	f.periods = periods.NewService(f.store, f.dir, ledger.Hooks{})
	f.periods.WithNow(clock)

	ctx := context.Background()
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		settings, err := tx.LockHousehold(ctx, household)
		if err != nil {
			return err
		}
		settings.MonthlyGoal = decimal.NewFromInt(200)
		return tx.SaveSettings(ctx, settings)
	}))
	period, err := f.periods.Create(ctx, f.owner, periods.CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)
	_, err = f.periods.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseValidation)
	require.NoError(t, err)
	f.period, err = f.periods.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseActive)
	require.NoError(t, err)
	return f
}

func (f *fixture) contribution(t *testing.T, member uuid.UUID) ledger.Contribution {
	t.Helper()
	var out ledger.Contribution
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.FindContributionForUpdate(ctx, f.period.ID, member)
		return err
	}))
	return out
}

func (f *fixture) credits(t *testing.T) []ledger.Credit {
	t.Helper()
	var out []ledger.Credit
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.ListCredits(ctx, ledger.CreditFilter{HouseholdID: f.owner.HouseholdID})
		return err
	}))
	return out
}

func TestRecordCommonIncomeOverpaysAndCreatesCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordMovement(ctx, f.member, RecordInput{
		Type:       "income",
		Flow:       "common",
		Amount:     decimal.NewFromInt(120),
		OccurredAt: time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	c := f.contribution(t, f.member.MemberID)
	require.Equal(t, ledger.ContributionOverpaid, c.Status)
	require.True(t, c.PaidAmount.Equal(decimal.NewFromInt(120)))
	require.True(t, c.Surplus().IsZero())

	credits := f.credits(t)
	require.Len(t, credits, 1)
	require.True(t, credits[0].Amount.Equal(decimal.NewFromInt(20)))
	require.Equal(t, ledger.CreditActive, credits[0].Status)
	require.Equal(t, ledger.YearMonth{Year: 2025, Month: 10}, credits[0].Source())

	_, err = f.svc.RecordMovement(ctx, f.member, RecordInput{
		Type:       "income",
		Flow:       "common",
		Amount:     decimal.NewFromInt(5),
		OccurredAt: time.Date(2025, 10, 4, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	credits = f.credits(t)
	require.Len(t, credits, 2)
	total := ledger.Sum(credits[0].Amount, credits[1].Amount)
	require.True(t, total.Equal(decimal.NewFromInt(25)))
}

func TestRecordDirectOrExpenseLeavesContributionUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC)

	_, err := f.svc.RecordMovement(ctx, f.member, RecordInput{Type: "income", Flow: "direct", Amount: decimal.NewFromInt(80), OccurredAt: at})
	require.NoError(t, err)
	_, err = f.svc.RecordMovement(ctx, f.member, RecordInput{Type: "expense", Flow: "common", Amount: decimal.NewFromInt(30), OccurredAt: at})
	require.NoError(t, err)

	c := f.contribution(t, f.member.MemberID)
	require.Equal(t, ledger.ContributionPending, c.Status)
	require.True(t, c.PaidAmount.IsZero())
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordMovement(ctx, f.member, RecordInput{Type: "income", Flow: "common", Amount: decimal.Zero})
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	_, err = f.svc.RecordMovement(ctx, f.member, RecordInput{Type: "gift", Flow: "common", Amount: decimal.NewFromInt(1)})
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	other := f.owner.MemberID
	_, err = f.svc.RecordMovement(ctx, f.member, RecordInput{Type: "income", Flow: "common", Amount: decimal.NewFromInt(1), MemberID: &other})
	require.True(t, ledger.IsKind(err, ledger.KindAuthorization))
}

func TestRecordRejectsClosedPeriodByOccurredAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.periods.TransitionPhase(ctx, f.owner, f.period.ID, ledger.PhaseClosed)
	require.NoError(t, err)

	_, err = f.svc.RecordMovement(ctx, f.member, RecordInput{
		Type:       "income",
		Flow:       "common",
		Amount:     decimal.NewFromInt(10),
		OccurredAt: time.Date(2025, 10, 31, 23, 59, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ledger.ErrPeriodClosed)

	_, err = f.svc.RecordMovement(ctx, f.member, RecordInput{
		Type:       "income",
		Flow:       "common",
		Amount:     decimal.NewFromInt(10),
		OccurredAt: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

func TestRecordChecksCategoryType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	groceries := ledger.Category{ID: uuid.New(), HouseholdID: f.owner.HouseholdID, Name: "Groceries", Type: ledger.MovementExpense}
	f.dir.PutCategory(groceries)

	_, err := f.svc.RecordMovement(ctx, f.member, RecordInput{Type: "income", Flow: "common", Amount: decimal.NewFromInt(10), CategoryID: &groceries.ID})
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	m, err := f.svc.RecordMovement(ctx, f.member, RecordInput{Type: "expense", Flow: "common", Amount: decimal.NewFromInt(10), CategoryID: &groceries.ID})
	require.NoError(t, err)
	require.Equal(t, groceries.ID, *m.CategoryID)
}

func TestEditMovementReappliesContributionEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.RecordMovement(ctx, f.member, RecordInput{
		Type:       "income",
		Flow:       "common",
		Amount:     decimal.NewFromInt(60),
		OccurredAt: time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, f.contribution(t, f.member.MemberID).PaidAmount.Equal(decimal.NewFromInt(60)))

	amount := decimal.NewFromInt(100)
	edited, err := f.svc.EditMovement(ctx, f.member, m.ID, EditInput{Amount: &amount})
	require.NoError(t, err)
	require.True(t, edited.Amount.Equal(amount))

	c := f.contribution(t, f.member.MemberID)
	require.True(t, c.PaidAmount.Equal(decimal.NewFromInt(100)))
	require.Equal(t, ledger.ContributionPaid, c.Status)

	moved := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.EditMovement(ctx, f.member, m.ID, EditInput{OccurredAt: &moved})
	require.NoError(t, err)
	c = f.contribution(t, f.member.MemberID)
	require.True(t, c.PaidAmount.IsZero())
	require.Equal(t, ledger.ContributionPending, c.Status)
}

func TestEditMovementGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.RecordMovement(ctx, f.member, RecordInput{
		Type:       "expense",
		Flow:       "common",
		Amount:     decimal.NewFromInt(15),
		OccurredAt: time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	stranger := ledger.Actor{HouseholdID: f.owner.HouseholdID, MemberID: uuid.New(), Role: ledger.RoleMember}
	desc := "weekly shop"
	_, err = f.svc.EditMovement(ctx, stranger, m.ID, EditInput{Description: &desc})
	require.True(t, ledger.IsKind(err, ledger.KindAuthorization))

	_, err = f.periods.TransitionPhase(ctx, f.owner, f.period.ID, ledger.PhaseClosed)
	require.NoError(t, err)
	_, err = f.svc.EditMovement(ctx, f.owner, m.ID, EditInput{Description: &desc})
	require.ErrorIs(t, err, ledger.ErrPeriodClosed)

	var system ledger.Movement
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		loan := uuid.New()
		system = ledger.Movement{
			ID: uuid.New(), HouseholdID: f.owner.HouseholdID, Type: ledger.MovementExpense, Flow: ledger.FlowCommon,
			Source: ledger.SourceLoan, Amount: decimal.NewFromInt(5), OccurredAt: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), LoanID: &loan,
		}
		return tx.InsertMovement(ctx, system)
	}))
	_, err = f.svc.EditMovement(ctx, f.owner, system.ID, EditInput{Description: &desc})
	require.True(t, ledger.IsKind(err, ledger.KindStateConflict))
}

func TestApplyPairedWritesBothOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	category := uuid.New()
	eff := PairedEffect{
		AdjustmentID:       uuid.New(),
		Amount:             decimal.NewFromInt(-50),
		ExpenseCategoryID:  category,
		ExpenseDescription: "Electricity bill",
		IncomeDescription:  "B's contribution",
		MemberID:           f.member.MemberID,
		DecidedBy:          f.owner.MemberID,
		OccurredAt:         time.Date(2025, 10, 5, 0, 0, 0, 0, time.UTC),
	}
	var pair Pair
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		pair, err = ApplyPaired(ctx, tx, f.owner.HouseholdID, eff, f.now)
		return err
	}))
	require.True(t, pair.Expense.Amount.Equal(decimal.NewFromInt(50)))
	require.True(t, pair.Income.Amount.Equal(decimal.NewFromInt(50)))
	require.Nil(t, pair.Expense.MemberID)
	require.Equal(t, f.member.MemberID, *pair.Income.MemberID)
	require.True(t, f.contribution(t, f.member.MemberID).PaidAmount.IsZero())

	_, err := f.periods.TransitionPhase(ctx, f.owner, f.period.ID, ledger.PhaseClosed)
	require.NoError(t, err)
	err = f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := ApplyPaired(ctx, tx, f.owner.HouseholdID, eff, f.now)
		return err
	})
	require.ErrorIs(t, err, ledger.ErrPeriodClosed)
	list, err := f.svc.ListForPeriod(ctx, f.owner, f.period.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestEditMovementBelowExpectedWithdrawsCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.RecordMovement(ctx, f.member, RecordInput{
		Type:       "income",
		Flow:       "common",
		Amount:     decimal.NewFromInt(120),
		OccurredAt: time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, f.credits(t), 1)

	amount := decimal.NewFromInt(90)
	_, err = f.svc.EditMovement(ctx, f.member, m.ID, EditInput{Amount: &amount})
	require.NoError(t, err)

	c := f.contribution(t, f.member.MemberID)
	require.True(t, c.PaidAmount.Equal(decimal.NewFromInt(90)))
	require.Equal(t, ledger.ContributionPartial, c.Status)
	require.True(t, c.CreditedSurplus.IsZero())
	require.Empty(t, f.credits(t))

	// Editing the description alone leaves the contribution as is.
	desc := "salary share"
	_, err = f.svc.EditMovement(ctx, f.member, m.ID, EditInput{Description: &desc})
	require.NoError(t, err)
	require.True(t, f.contribution(t, f.member.MemberID).PaidAmount.Equal(decimal.NewFromInt(90)))
}

func TestEditMovementRefusesToUndoSpentSurplus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.RecordMovement(ctx, f.member, RecordInput{
		Type:       "income",
		Flow:       "common",
		Amount:     decimal.NewFromInt(120),
		OccurredAt: time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	credit := f.credits(t)[0]
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		credit.Status = ledger.CreditTransferred
		resolved := f.now
		credit.ResolvedAt = &resolved
		return tx.UpdateCredit(ctx, credit)
	}))

	amount := decimal.NewFromInt(90)
	_, err = f.svc.EditMovement(ctx, f.member, m.ID, EditInput{Amount: &amount})
	require.ErrorIs(t, err, ledger.ErrCreditConsumed)
	require.True(t, ledger.IsKind(err, ledger.KindBusinessRule))

	c := f.contribution(t, f.member.MemberID)
	require.True(t, c.PaidAmount.Equal(decimal.NewFromInt(120)))
	require.True(t, c.CreditedSurplus.Equal(decimal.NewFromInt(20)))
}
