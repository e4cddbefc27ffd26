package loans

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
	store     *memory.Store
	approvals *shared.MemoryApprovals
	svc       *Service
	owner     ledger.Actor
	member    ledger.Actor
	now       time.Time
}

func newFixture(t *testing.T, commonBalance int64) *fixture {
	t.Helper()
	household := uuid.New()
	f := &fixture{
		store:     memory.NewStore(),
		approvals: shared.NewMemoryApprovals(),
		owner:     ledger.Actor{HouseholdID: household, MemberID: uuid.New(), Role: ledger.RoleOwner},
		member:    ledger.Actor{HouseholdID: household, MemberID: uuid.New(), Role: ledger.RoleMember},
		now:       time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, ledger.Hooks{Approvals: f.approvals})
	f.svc.WithNow(func() time.Time { return f.now })
	if commonBalance != 0 {
		f.movement(t, ledger.MovementIncome, commonBalance)
	}
	return f
}

func (f *fixture) movement(t *testing.T, typ ledger.MovementType, amount int64) {
	t.Helper()
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertMovement(ctx, ledger.Movement{
			ID: uuid.New(), HouseholdID: f.owner.HouseholdID, Type: typ, Flow: ledger.FlowCommon,
			Source: ledger.SourceManual, Amount: decimal.NewFromInt(amount),
			OccurredAt: f.now.AddDate(0, -1, 0), RecordedBy: f.owner.MemberID, CreatedAt: f.now,
		})
	}))
}

func (f *fixture) loanMovements(t *testing.T) []ledger.Movement {
	t.Helper()
	var out []ledger.Movement
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.ListMovements(ctx, ledger.MovementFilter{
			HouseholdID: f.owner.HouseholdID,
			Sources:     []ledger.MovementSource{ledger.SourceLoan},
		})
		return err
	}))
	return out
}

func TestLoanCeilingAndApproval(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(900), Notes: "car repair"})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.True(t, ledger.IsKind(err, ledger.KindBusinessRule))

	views, err := f.svc.List(ctx, f.owner, ListInput{})
	require.NoError(t, err)
	require.Empty(t, views)

	loan, err := f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(500), Notes: "car repair"})
	require.NoError(t, err)
	require.Equal(t, ledger.LoanPending, loan.Status)

	approved, err := f.svc.Approve(ctx, f.owner, loan.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.LoanApproved, approved.Status)
	require.NotNil(t, approved.MovementID)

	moves := f.loanMovements(t)
	require.Len(t, moves, 1)
	require.Equal(t, ledger.MovementExpense, moves[0].Type)
	require.Equal(t, ledger.FlowCommon, moves[0].Flow)
	require.True(t, moves[0].Amount.Equal(decimal.NewFromInt(500)))
	require.Equal(t, *approved.MovementID, moves[0].ID)
	require.Equal(t, f.member.MemberID, *moves[0].MemberID)

	debt, err := f.svc.Debt(ctx, f.member, f.member.MemberID)
	require.NoError(t, err)
	require.True(t, debt.Outstanding.Equal(decimal.NewFromInt(500)))

	_, err = f.svc.Approve(ctx, f.owner, loan.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
	require.Len(t, f.loanMovements(t), 1)

	trail, err := f.approvals.List(ctx, "loan", loan.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, shared.ApprovalSubmit, trail[0].Action)
	require.Equal(t, shared.ApprovalApprove, trail[1].Action)
}

func TestApproveRechecksCeilingInsideTransaction(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	first, err := f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(400), Notes: "first"})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(400), Notes: "second"})
	require.NoError(t, err)
	_, err = f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(1), Notes: "third"})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	f.movement(t, ledger.MovementExpense, 500)

	_, err = f.svc.Approve(ctx, f.owner, first.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.Empty(t, f.loanMovements(t))

	views, err := f.svc.List(ctx, f.owner, ListInput{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, views, 2)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.Zero, Notes: "zero"})
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	_, err = f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(10), Notes: "   "})
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	_, err = f.svc.Approve(ctx, f.member, uuid.New())
	require.True(t, ledger.IsKind(err, ledger.KindAuthorization))

	_, err = f.svc.Approve(ctx, f.owner, uuid.New())
	require.True(t, ledger.IsNotFound(err))
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	loan, err := f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(100), Notes: "trip"})
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, f.owner, loan.ID, "")
	require.True(t, ledger.IsKind(err, ledger.KindValidation))

	rejected, err := f.svc.Reject(ctx, f.owner, loan.ID, "not this month")
	require.NoError(t, err)
	require.Equal(t, ledger.LoanRejected, rejected.Status)
	require.Equal(t, "not this month", rejected.RejectionReason)

	_, err = f.svc.Reject(ctx, f.owner, loan.ID, "again")
	require.True(t, ledger.IsKind(err, ledger.KindStateConflict))
	require.Empty(t, f.loanMovements(t))
}

func TestRepaymentsDeriveDebtAndDisplayStatus(t *testing.T) {
	f := newFixture(t, 2000)
	ctx := context.Background()

	older, err := f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(300), Notes: "older"})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.owner, older.ID)
	require.NoError(t, err)
	f.now = f.now.Add(time.Hour)
	newer, err := f.svc.Request(ctx, f.member, RequestInput{Amount: decimal.NewFromInt(200), Notes: "newer"})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.owner, newer.ID)
	require.NoError(t, err)

	rep, err := f.svc.Repay(ctx, f.member, RepayInput{Amount: decimal.NewFromInt(350)})
	require.NoError(t, err)
	require.Equal(t, ledger.SourceRepayment, rep.Movement.Source)
	require.Equal(t, ledger.MovementIncome, rep.Movement.Type)
	require.True(t, rep.Debt.Outstanding.Equal(decimal.NewFromInt(150)))

	views, err := f.svc.List(ctx, f.member, ListInput{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	byID := map[uuid.UUID]View{}
	for _, v := range views {
		byID[v.Loan.ID] = v
	}
	require.Equal(t, ledger.LoanDisplayRepaidFull, byID[older.ID].DisplayStatus)
	require.Equal(t, ledger.LoanDisplayRepaidPartial, byID[newer.ID].DisplayStatus)
	require.True(t, byID[newer.ID].Outstanding.Equal(decimal.NewFromInt(150)))

	_, err = f.svc.Repay(ctx, f.member, RepayInput{Amount: decimal.NewFromInt(151)})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = f.svc.Repay(ctx, f.member, RepayInput{Amount: decimal.NewFromInt(150)})
	require.NoError(t, err)
	debt, err := f.svc.Debt(ctx, f.owner, f.member.MemberID)
	require.NoError(t, err)
	require.True(t, debt.Outstanding.IsZero())

	_, err = f.svc.Repay(ctx, f.member, RepayInput{Amount: decimal.NewFromInt(1)})
	require.True(t, ledger.IsKind(err, ledger.KindBusinessRule))
}

func TestDebtReadRequiresOwnerForOthers(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.Debt(context.Background(), f.member, f.owner.MemberID)
	require.True(t, ledger.IsKind(err, ledger.KindAuthorization))
}

func TestWithCeilingRatio(t *testing.T) {
	f := newFixture(t, 1000)
	f.svc.WithCeilingRatio(decimal.RequireFromString("0.5"))
	f.svc.WithCeilingRatio(decimal.NewFromInt(2))

	c, err := f.svc.Ceiling(context.Background(), f.owner)
	require.NoError(t, err)
	require.True(t, c.MaxLoanable.Equal(decimal.NewFromInt(500)))
}
