package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hearth-finance/hearth/internal/jobs"
	"github.com/hearth-finance/hearth/internal/ledger/integrity"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// IntegrityJob scans households for balance, paid amount, and credit drift. It never writes.
type IntegrityJob struct {
	Scanner *integrity.Scanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityJob initialises the integrity scan handler.
func NewIntegrityJob(scanner *integrity.Scanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{
		Scanner: scanner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan for an Asynq task.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run scans synchronously, logging and counting every finding.
func (j *IntegrityJob) Run(ctx context.Context, payload IntegrityPayload) (report integrity.Report, resultErr error) {
	if j == nil || j.Scanner == nil {
		return integrity.Report{}, errors.New("integrity scan: scanner not configured")
	}
	start := j.now()
	tracker := j.metrics().Track(TaskSettlementIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int("households_requested", len(payload.HouseholdIDs)),
		slog.String("reason", payload.Reason),
	)
	if payload.PeriodID != nil {
		logger = logger.With(slog.String("period_id", payload.PeriodID.String()))
	}
	logger.Info("starting integrity scan")

	report, err := j.Scanner.Scan(ctx, payload.HouseholdIDs...)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return report, err
	}

	for _, f := range report.Findings {
		attrs := []any{
			slog.String("household_id", f.HouseholdID.String()),
			slog.String("kind", f.Kind),
			slog.String("detail", f.Detail),
		}
		if f.Period != "" {
			attrs = append(attrs, slog.String("period", f.Period))
		}
		if f.ContributionID != nil {
			attrs = append(attrs, slog.String("contribution_id", f.ContributionID.String()))
		}
		logger.Warn("ledger integrity finding", attrs...)
		j.metrics().AddFindings(f.Kind, 1)
	}

	logger.Info("completed integrity scan",
		slog.Int("households", report.Households),
		slog.Int("periods", report.Periods),
		slog.Int("findings", len(report.Findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (j *IntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSettlementIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskSettlementIntegrity))
}

func (j *IntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
