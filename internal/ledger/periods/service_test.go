package periods

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/memory"
	"github.com/hearth-finance/hearth/internal/shared"
)

type fixture struct {
	store  *memory.Store
	dir    *memory.Directory
	audit  *shared.MemoryAuditLog
	svc    *Service
	owner  ledger.Actor
	member ledger.Actor
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	household := uuid.New()
	f := &fixture{
		store:  memory.NewStore(),
		dir:    memory.NewDirectory(),
		audit:  shared.NewMemoryAuditLog(),
		owner:  ledger.Actor{HouseholdID: household, MemberID: uuid.New(), Role: ledger.RoleOwner},
		member: ledger.Actor{HouseholdID: household, MemberID: uuid.New(), Role: ledger.RoleMember},
		now:    time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	f.dir.PutMember(ledger.Member{ID: f.owner.MemberID, HouseholdID: household, Role: ledger.RoleOwner, Income: decimal.NewFromInt(3000), Active: true})
	f.dir.PutMember(ledger.Member{ID: f.member.MemberID, HouseholdID: household, Role: ledger.RoleMember, Income: decimal.NewFromInt(1000), Active: true})
	f.svc = NewService(f.store, f.dir, ledger.Hooks{Audit: f.audit})
	f.svc.WithNow(func() time.Time { return f.now })
	return f
}

func (f *fixture) withTx(t *testing.T, fn func(ctx context.Context, tx ledger.Tx) error) {
	t.Helper()
	require.NoError(t, f.store.WithTx(context.Background(), fn))
}

func (f *fixture) income(t *testing.T, member uuid.UUID, amount int64, at time.Time) {
	t.Helper()
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertMovement(ctx, ledger.Movement{
			ID:          uuid.New(),
			HouseholdID: f.owner.HouseholdID,
			Type:        ledger.MovementIncome,
			Flow:        ledger.FlowCommon,
			Source:      ledger.SourceManual,
			Amount:      decimal.NewFromInt(amount),
			OccurredAt:  at,
			MemberID:    &member,
			RecordedBy:  member,
			CreatedAt:   at,
		})
	})
}

func TestCreatePeriodRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)
	require.Equal(t, ledger.PhasePreparing, period.Phase)
	require.Equal(t, ledger.PeriodStatusActive, period.Status)
	require.True(t, period.OpeningBalance.IsZero())
	require.True(t, period.ClosingBalance.IsZero())

	_, err = f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.ErrorIs(t, err, ledger.ErrDuplicatePeriod)
	require.True(t, ledger.IsKind(err, ledger.KindBusinessRule))
	require.Len(t, f.audit.Entries(), 1)
}

func TestCreatePeriodRequiresOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.member, CreateInput{Year: 2025, Month: 10})
	require.ErrorIs(t, err, ledger.ErrNotOwner)
	require.True(t, ledger.IsKind(err, ledger.KindAuthorization))
}

func TestCreatePeriodValidatesMonth(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.owner, CreateInput{Year: 2025, Month: 13})
	require.True(t, ledger.IsKind(err, ledger.KindValidation))
}

func TestTransitionPhaseFollowsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)

	_, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseActive)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	require.True(t, ledger.IsKind(err, ledger.KindStateConflict))

	period, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseValidation)
	require.NoError(t, err)
	require.Equal(t, ledger.PhaseValidation, period.Phase)

	period, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhasePreparing)
	require.NoError(t, err)
	require.Equal(t, ledger.PhasePreparing, period.Phase)
}

func TestActivateSnapshotsOpeningAndGeneratesContributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		settings, err := tx.LockHousehold(ctx, f.owner.HouseholdID)
		if err != nil {
			return err
		}
		settings.MonthlyGoal = decimal.NewFromInt(200)
		return tx.SaveSettings(ctx, settings)
	})
	f.income(t, f.owner.MemberID, 500, time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC))
	f.income(t, f.member.MemberID, 40, time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC))

	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)
	_, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseValidation)
	require.NoError(t, err)
	period, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseActive)
	require.NoError(t, err)
	require.True(t, period.OpeningBalance.Equal(decimal.NewFromInt(500)))

	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		list, err := tx.ListContributions(ctx, period.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		for _, c := range list {
			require.True(t, c.ExpectedAmount.Equal(decimal.NewFromInt(100)))
			if c.MemberID == f.member.MemberID {
				require.True(t, c.PaidAmount.Equal(decimal.NewFromInt(40)))
				require.Equal(t, ledger.ContributionPartial, c.Status)
			} else {
				require.Equal(t, ledger.ContributionPending, c.Status)
			}
		}
		return nil
	})
}

func TestActivateSkipsDisabledContributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)
	_, err = f.svc.SetContributionDisabled(ctx, f.owner, period.ID, true)
	require.NoError(t, err)
	_, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseValidation)
	require.NoError(t, err)
	_, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseActive)
	require.NoError(t, err)

	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		list, err := tx.ListContributions(ctx, period.ID)
		require.NoError(t, err)
		require.Empty(t, list)
		return nil
	})
}

type closeRecorder struct {
	closed []uuid.UUID
}

func (c *closeRecorder) PeriodClosed(_ context.Context, _, periodID uuid.UUID) error {
	c.closed = append(c.closed, periodID)
	return nil
}

func TestCloseLocksPendingAdjustmentsAndReopenRestoresThem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listener := &closeRecorder{}
	f.svc.WithCloseListener(listener)

	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)
	_, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseValidation)
	require.NoError(t, err)
	_, err = f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseActive)
	require.NoError(t, err)

	expense, income := uuid.New(), uuid.New()
	pending := ledger.Adjustment{ID: uuid.New(), HouseholdID: f.owner.HouseholdID, PeriodID: period.ID, Kind: ledger.AdjustmentPrepayment, Status: ledger.AdjustmentPending, Amount: decimal.NewFromInt(-10)}
	approved := ledger.Adjustment{ID: uuid.New(), HouseholdID: f.owner.HouseholdID, PeriodID: period.ID, Kind: ledger.AdjustmentPrepayment, Status: ledger.AdjustmentApproved, Amount: decimal.NewFromInt(-20), ExpenseMovementID: &expense, IncomeMovementID: &income}
	manual := ledger.Adjustment{ID: uuid.New(), HouseholdID: f.owner.HouseholdID, PeriodID: period.ID, Kind: ledger.AdjustmentManual, Status: ledger.AdjustmentActive, Amount: decimal.NewFromInt(-5)}
	rejected := ledger.Adjustment{ID: uuid.New(), HouseholdID: f.owner.HouseholdID, PeriodID: period.ID, Kind: ledger.AdjustmentPrepayment, Status: ledger.AdjustmentRejected, Amount: decimal.NewFromInt(-1)}
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		for _, a := range []ledger.Adjustment{pending, approved, manual, rejected} {
			if err := tx.InsertAdjustment(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	f.income(t, f.owner.MemberID, 300, time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC))

	closed, err := f.svc.TransitionPhase(ctx, f.owner, period.ID, ledger.PhaseClosed)
	require.NoError(t, err)
	require.Equal(t, ledger.PhaseClosed, closed.Phase)
	require.NotNil(t, closed.ClosedAt)
	require.True(t, closed.ClosingBalance.Equal(decimal.NewFromInt(300)))
	require.Equal(t, []uuid.UUID{period.ID}, listener.closed)

	statuses := func() map[uuid.UUID]ledger.AdjustmentStatus {
		out := map[uuid.UUID]ledger.AdjustmentStatus{}
		f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
			list, err := tx.ListAdjustments(ctx, ledger.AdjustmentFilter{HouseholdID: f.owner.HouseholdID})
			for _, a := range list {
				out[a.ID] = a.Status
			}
			return err
		})
		return out
	}
	got := statuses()
	require.Equal(t, ledger.AdjustmentLocked, got[pending.ID])
	require.Equal(t, ledger.AdjustmentApplied, got[approved.ID])
	require.Equal(t, ledger.AdjustmentApplied, got[manual.ID])
	require.Equal(t, ledger.AdjustmentRejected, got[rejected.ID])

	reopened, err := f.svc.Reopen(ctx, f.owner, period.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.PhaseActive, reopened.Phase)
	require.Nil(t, reopened.ClosedAt)
	require.Equal(t, ledger.AdjustmentPending, statuses()[pending.ID])
}

func TestEnsureOpenForUsesMovementDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	september, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 9})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)
	for _, phase := range []ledger.PeriodPhase{ledger.PhaseValidation, ledger.PhaseActive, ledger.PhaseClosed} {
		_, err = f.svc.TransitionPhase(ctx, f.owner, september.ID, phase)
		require.NoError(t, err)
	}

	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		err := EnsureOpenFor(ctx, tx, f.owner.HouseholdID, time.Date(2025, 9, 30, 23, 0, 0, 0, time.UTC))
		require.ErrorIs(t, err, ledger.ErrPeriodClosed)
		require.NoError(t, EnsureOpenFor(ctx, tx, f.owner.HouseholdID, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))
		require.NoError(t, EnsureOpenFor(ctx, tx, f.owner.HouseholdID, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
		return nil
	})
}

func TestLockBlocksMovementsUntilUnlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)

	_, err = f.svc.Lock(ctx, f.owner, period.ID)
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, f.owner, period.ID)
	require.True(t, ledger.IsKind(err, ledger.KindStateConflict))

	at := time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		require.ErrorIs(t, EnsureOpenFor(ctx, tx, f.owner.HouseholdID, at), ledger.ErrPeriodClosed)
		return nil
	})
	_, err = f.svc.Unlock(ctx, f.owner, period.ID)
	require.NoError(t, err)
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		require.NoError(t, EnsureOpenFor(ctx, tx, f.owner.HouseholdID, at))
		return nil
	})
}

func TestDeleteRequiresConfirmationAndCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)
	f.income(t, f.owner.MemberID, 50, time.Date(2025, 10, 5, 0, 0, 0, 0, time.UTC))
	f.income(t, f.owner.MemberID, 70, time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC))

	_, err = f.svc.Delete(ctx, f.owner, period.ID, "2025-11")
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	res, err := f.svc.Delete(ctx, f.owner, period.ID, "2025-10")
	require.NoError(t, err)
	require.Equal(t, 1, res.Movements)

	_, err = f.svc.Get(ctx, f.owner, ledger.YearMonth{Year: 2025, Month: 10})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		totals, err := tx.SumMovements(ctx, ledger.MovementFilter{HouseholdID: f.owner.HouseholdID})
		require.NoError(t, err)
		require.True(t, totals.Income.Equal(decimal.NewFromInt(70)))
		return nil
	})
}

func TestDeleteRefusesMonthWithLoanMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)
	loan := uuid.New()
	member := f.member.MemberID
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertMovement(ctx, ledger.Movement{
			ID: uuid.New(), HouseholdID: f.owner.HouseholdID, Type: ledger.MovementExpense, Flow: ledger.FlowCommon,
			Source: ledger.SourceLoan, Amount: decimal.NewFromInt(500), OccurredAt: time.Date(2025, 10, 8, 0, 0, 0, 0, time.UTC),
			MemberID: &member, RecordedBy: f.owner.MemberID, LoanID: &loan,
		})
	})

	_, err = f.svc.Delete(ctx, f.owner, period.ID, "2025-10")
	require.True(t, ledger.IsKind(err, ledger.KindBusinessRule))

	got, err := f.svc.Get(ctx, f.owner, ledger.YearMonth{Year: 2025, Month: 10})
	require.NoError(t, err)
	require.Equal(t, period.ID, got.ID)
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		totals, err := tx.SumMovements(ctx, ledger.MovementFilter{HouseholdID: f.owner.HouseholdID})
		require.NoError(t, err)
		require.True(t, totals.Expense.Equal(decimal.NewFromInt(500)))
		return nil
	})
}

func TestDeleteReturnsAppliedCreditsToActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period, err := f.svc.Create(ctx, f.owner, CreateInput{Year: 2025, Month: 10})
	require.NoError(t, err)

	target := ledger.Contribution{
		ID: uuid.New(), HouseholdID: f.owner.HouseholdID, PeriodID: period.ID, MemberID: f.member.MemberID,
		Year: 2025, Month: 10, ExpectedAmount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(30),
		CreditedSurplus: decimal.Zero, Status: ledger.ContributionPartial,
	}
	resolved := f.now
	credit := ledger.Credit{
		ID: uuid.New(), HouseholdID: f.owner.HouseholdID, MemberID: f.member.MemberID, Amount: decimal.NewFromInt(30),
		SourceYear: 2025, SourceMonth: 9, Status: ledger.CreditApplied, AppliedToContributionID: &target.ID,
		CreatedAt: f.now, ResolvedAt: &resolved,
	}
	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.InsertContribution(ctx, target); err != nil {
			return err
		}
		return tx.InsertCredit(ctx, credit)
	})

	res, err := f.svc.Delete(ctx, f.owner, period.ID, "2025-10")
	require.NoError(t, err)
	require.Equal(t, 1, res.Restored)

	f.withTx(t, func(ctx context.Context, tx ledger.Tx) error {
		got, err := tx.GetCreditForUpdate(ctx, f.owner.HouseholdID, credit.ID)
		require.NoError(t, err)
		require.Equal(t, ledger.CreditActive, got.Status)
		require.Nil(t, got.AppliedToContributionID)
		require.Nil(t, got.ResolvedAt)
		return nil
	})
}
