// Package postgres implements the ledger store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/platform/db"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files.
const MigrationsDir = "migrations"

// Migrate applies or reverts the embedded schema.
func Migrate(pool *pgxpool.Pool, direction db.Direction) error {
	return db.Migrate(pool, Migrations, MigrationsDir, direction)
}

// Store runs ledger units of work in serializable transactions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store on top of the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx executes fn inside one serializable transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if s == nil || s.pool == nil {
		return errors.New("postgres: store not initialised")
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txn{tx: tx})
	})
	return translate(err)
}

// translate maps driver errors onto ledger sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ledger.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if strings.Contains(pgErr.ConstraintName, "periods_household_month") {
			return fmt.Errorf("%w: %v", ledger.ErrDuplicatePeriod, err)
		}
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	case "40001", "40P01":
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	}
	return err
}
