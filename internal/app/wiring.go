package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/hearth-finance/hearth/internal/api"
	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/adjustments"
	"github.com/hearth-finance/hearth/internal/ledger/balance"
	"github.com/hearth-finance/hearth/internal/ledger/contributions"
	"github.com/hearth-finance/hearth/internal/ledger/credits"
	"github.com/hearth-finance/hearth/internal/ledger/loans"
	"github.com/hearth-finance/hearth/internal/ledger/movements"
	"github.com/hearth-finance/hearth/internal/ledger/periods"
	"github.com/hearth-finance/hearth/internal/observability"
	"github.com/hearth-finance/hearth/internal/platform/cache"
	"github.com/hearth-finance/hearth/internal/platform/events"
	"github.com/hearth-finance/hearth/jobs"
)

// QueueOptions converts REDIS_ADDR into Asynq connection options.
func QueueOptions(addr string) (asynq.RedisClientOpt, error) {
	opts, err := cache.Options(addr)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}

// Runtime is the assembled API server.
type Runtime struct {
	Router  http.Handler
	Backend *Backend
	Metrics *observability.Metrics

	closers []func() error
}

// Build wires the backend, cache, event publisher, job queue, and ledger services behind the router.
// Redis and the broker are optional: when unreachable the balance cache and events are disabled.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	ratio, err := cfg.CeilingRatio()
	if err != nil {
		return nil, err
	}
	queueOpts, err := QueueOptions(cfg.RedisAddr)
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Backend: backend, Metrics: observability.NewMetrics()}
	rt.closers = append(rt.closers, func() error { backend.Close(); return nil })

	var balanceCache *balance.Cache
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
	} else {
		balanceCache = balance.NewCache(redisClient, cfg.BalanceCacheTTL)
		rt.closers = append(rt.closers, redisClient.Close)
	}

	publisher, closePublisher := events.Connect(cfg.AMQPURL, cfg.EventsExchange, logger)
	rt.closers = append(rt.closers, closePublisher)

	hooks := ledger.Hooks{
		Audit:     backend.Audit,
		Approvals: backend.Approvals,
		Events:    publisher,
		Logger:    logger,
	}
	if balanceCache != nil {
		hooks.Cache = balanceCache
	}

	jobClient, err := jobs.NewClient(queueOpts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, jobClient.Close)

	inspector := asynq.NewInspector(queueOpts)
	rt.closers = append(rt.closers, inspector.Close)

	periodService := periods.NewService(backend.Store, backend.Directory, hooks)
	periodService.WithCloseListener(jobs.NewCloseNotifier(jobClient, logger))
	loanService := loans.NewService(backend.Store, hooks)
	loanService.WithCeilingRatio(ratio)

	apiHandler := api.NewHandler(api.Config{
		Services: api.Services{
			Periods:       periodService,
			Contributions: contributions.NewService(backend.Store, backend.Directory, hooks),
			Movements:     movements.NewService(backend.Store, backend.Directory, hooks),
			Credits:       credits.NewService(backend.Store, hooks),
			Loans:         loanService,
			Adjustments:   adjustments.NewService(backend.Store, backend.Directory, hooks),
			Balance:       balance.NewService(backend.Store, balanceCache, hooks),
		},
		Members:     backend.Directory,
		Idempotency: backend.Idempotency,
		Metrics:     rt.Metrics,
		Logger:      logger,
	})

	rt.Router = NewRouter(RouterParams{
		Logger:     logger,
		Config:     cfg,
		API:        apiHandler,
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    rt.Metrics,
		Ready:      backend.Ready,
	})
	return rt, nil
}

// Close releases every resource in reverse order of acquisition.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
