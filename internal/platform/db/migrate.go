package db

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Direction selects which way migrations run.
type Direction string

const (
	// Up applies every pending migration.
	Up Direction = "up"
	// Down reverts every applied migration.
	Down Direction = "down"
)

// Migrate runs the SQL files found under dir in source against the pool's database.
// ErrNoChange is not reported as an error.
func Migrate(pool *pgxpool.Pool, source fs.FS, dir string, direction Direction) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("platform/db: migrate driver: %w", err)
	}
	src, err := iofs.New(source, dir)
	if err != nil {
		return fmt.Errorf("platform/db: migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("platform/db: migrate instance: %w", err)
	}
	defer m.Close()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("platform/db: unknown migrate direction %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("platform/db: migrate %s: %w", direction, err)
	}
	return nil
}
