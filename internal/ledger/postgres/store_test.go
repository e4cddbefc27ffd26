package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/hearth-finance/hearth/internal/ledger"
)

func TestTranslate(t *testing.T) {
	require.NoError(t, translate(nil))
	require.ErrorIs(t, translate(pgx.ErrNoRows), ledger.ErrNotFound)

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "periods_household_month_key"}
	require.ErrorIs(t, translate(dup), ledger.ErrDuplicatePeriod)

	other := &pgconn.PgError{Code: "23505", ConstraintName: "contributions_period_member_key"}
	require.ErrorIs(t, translate(other), ledger.ErrConflict)
	require.NotErrorIs(t, translate(other), ledger.ErrDuplicatePeriod)

	require.ErrorIs(t, translate(&pgconn.PgError{Code: "40001"}), ledger.ErrConflict)
	require.ErrorIs(t, translate(&pgconn.PgError{Code: "40P01"}), ledger.ErrConflict)

	plain := errors.New("boom")
	require.Equal(t, plain, translate(plain))
}

func TestWhereBuilder(t *testing.T) {
	w := &where{}
	require.Empty(t, w.String())

	w.add("household_id = ?", "hh")
	w.add("status = ANY(?)", []string{"active"})
	require.Equal(t, " WHERE household_id = $1 AND status = ANY($2)", w.String())
	require.Len(t, w.args, 2)
}

func TestStoreRequiresPool(t *testing.T) {
	var s *Store
	require.Error(t, s.WithTx(context.Background(), nil))
}
