package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hearth-finance/hearth/internal/app"
	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/postgres"
)

func init() {
	rootCmd.AddCommand(categoriesCmd)
	categoriesCmd.AddCommand(categoriesAddCmd)

	categoriesAddCmd.Flags().String("household", "", "Household UUID owning the category")
	categoriesAddCmd.Flags().String("name", "", "Display name")
	categoriesAddCmd.Flags().String("type", string(ledger.MovementExpense), "Movement type: income or expense")
	_ = categoriesAddCmd.MarkFlagRequired("household")
	_ = categoriesAddCmd.MarkFlagRequired("name")
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Maintain the household category catalog",
}

var categoriesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a movement category",
	RunE:  runCategoriesAdd,
}

func parseCategory(household, name, kind string) (ledger.Category, error) {
	householdID, err := uuid.Parse(strings.TrimSpace(household))
	if err != nil {
		return ledger.Category{}, fmt.Errorf("--household: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Category{}, errors.New("--name must not be blank")
	}
	movementType := ledger.MovementType(strings.ToLower(strings.TrimSpace(kind)))
	if !movementType.Valid() {
		return ledger.Category{}, fmt.Errorf("--type must be income or expense, got %q", kind)
	}
	return ledger.Category{ID: uuid.New(), HouseholdID: householdID, Name: name, Type: movementType}, nil
}

func runCategoriesAdd(cmd *cobra.Command, _ []string) error {
	household, _ := cmd.Flags().GetString("household")
	name, _ := cmd.Flags().GetString("name")
	kind, _ := cmd.Flags().GetString("type")
	category, err := parseCategory(household, name, kind)
	if err != nil {
		return err
	}

	cfg, logger, err := environment(cmd)
	if err != nil {
		return err
	}
	if cfg.StoreBackend != app.BackendPostgres {
		return errors.New("categories add requires STORE_BACKEND=postgres")
	}
	backend, err := app.OpenBackend(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := postgres.NewDirectory(backend.Pool).PutCategory(cmd.Context(), category); err != nil {
		return err
	}
	return printJSON(cmd, category)
}
