// Package cli implements hearthctl, the operator command line for migrations, jobs, and catalog upkeep.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hearth-finance/hearth/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "hearthctl",
	Short:         "Operate a Hearth settlement deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree against args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.ExecuteContext(ctx)
}

// environment loads configuration and a logger writing to the command's error stream.
func environment(cmd *cobra.Command) (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return cfg, logger, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
