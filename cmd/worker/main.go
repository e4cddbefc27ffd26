package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/hearth-finance/hearth/internal/app"
	jobmetrics "github.com/hearth-finance/hearth/internal/jobs"
	"github.com/hearth-finance/hearth/internal/ledger/integrity"
	"github.com/hearth-finance/hearth/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	queueOpts, err := app.QueueOptions(cfg.RedisAddr)
	if err != nil {
		logger.Error("queue options", slog.Any("error", err))
		os.Exit(1)
	}

	integrityJob := jobs.NewIntegrityJob(integrity.NewScanner(backend.Store), logger, jobmetrics.NewMetrics(nil))

	nightlyTask, err := jobs.NewIntegrityTask(jobs.IntegrityPayload{Reason: "nightly"})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: queueOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSettlementIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: nightlyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
