package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/hearth-finance/hearth/internal/app"
	"github.com/hearth-finance/hearth/internal/ledger/integrity"
	"github.com/hearth-finance/hearth/jobs"
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsIntegrityCmd)
	jobsCmd.AddCommand(jobsStatsCmd)

	jobsIntegrityCmd.Flags().StringSlice("household", nil, "Household UUIDs to scan (default all)")
	jobsIntegrityCmd.Flags().String("period", "", "Restrict the scan to one period UUID")
	jobsIntegrityCmd.Flags().Bool("now", false, "Run the scan in-process instead of enqueueing it")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Trigger and inspect background jobs",
}

var jobsIntegrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Scan households for balance, paid amount, and credit drift",
	Long: `Enqueue a settlement integrity scan for the worker, or run it in-process with --now
and print the report. The scan only reads; findings are reported, never repaired.`,
	Args: cobra.NoArgs,
	RunE: runJobsIntegrity,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counters for the default queue",
	Args:  cobra.NoArgs,
	RunE:  runJobsStats,
}

func integrityPayload(cmd *cobra.Command) (jobs.IntegrityPayload, error) {
	raw, _ := cmd.Flags().GetStringSlice("household")
	payload := jobs.IntegrityPayload{Reason: "manual"}
	for _, value := range raw {
		id, err := uuid.Parse(value)
		if err != nil {
			return jobs.IntegrityPayload{}, fmt.Errorf("--household %q: %w", value, err)
		}
		payload.HouseholdIDs = append(payload.HouseholdIDs, id)
	}
	if period, _ := cmd.Flags().GetString("period"); period != "" {
		id, err := uuid.Parse(period)
		if err != nil {
			return jobs.IntegrityPayload{}, fmt.Errorf("--period: %w", err)
		}
		payload.PeriodID = &id
	}
	return payload, nil
}

func runJobsIntegrity(cmd *cobra.Command, _ []string) error {
	payload, err := integrityPayload(cmd)
	if err != nil {
		return err
	}
	cfg, logger, err := environment(cmd)
	if err != nil {
		return err
	}

	if now, _ := cmd.Flags().GetBool("now"); now {
		backend, err := app.OpenBackend(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		job := jobs.NewIntegrityJob(integrity.NewScanner(backend.Store), logger, nil)
		report, err := job.Run(cmd.Context(), payload)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	}

	queueOpts, err := app.QueueOptions(cfg.RedisAddr)
	if err != nil {
		return err
	}
	client, err := jobs.NewClient(queueOpts)
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.EnqueueIntegrity(cmd.Context(), payload, asynq.MaxRetry(3))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on %s (task %s)\n", info.Type, info.Queue, info.ID)
	return nil
}

func runJobsStats(cmd *cobra.Command, _ []string) error {
	cfg, _, err := environment(cmd)
	if err != nil {
		return err
	}
	queueOpts, err := app.QueueOptions(cfg.RedisAddr)
	if err != nil {
		return err
	}
	inspector := asynq.NewInspector(queueOpts)
	defer inspector.Close()

	stats, err := jobs.Stats(inspector, jobs.QueueDefault)
	if err != nil {
		return err
	}
	return printJSON(cmd, stats)
}
