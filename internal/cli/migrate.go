package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearth-finance/hearth/internal/app"
	"github.com/hearth-finance/hearth/internal/ledger/postgres"
	"github.com/hearth-finance/hearth/internal/platform/db"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or revert the PostgreSQL schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(db.Up), string(db.Down)},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, _, err := environment(cmd)
	if err != nil {
		return err
	}
	if cfg.StoreBackend != app.BackendPostgres {
		return errors.New("migrate requires STORE_BACKEND=postgres")
	}
	pool, err := db.New(cmd.Context(), cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	direction := db.Direction(args[0])
	if err := postgres.Migrate(pool, direction); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations %s complete\n", direction)
	return nil
}
