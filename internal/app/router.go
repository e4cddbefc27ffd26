package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hearth-finance/hearth/internal/api"
	"github.com/hearth-finance/hearth/internal/observability"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
	"github.com/hearth-finance/hearth/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	API        *api.Handler
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
	// Ready reports backend health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with Hearth defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "backend not ready")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.API != nil {
		params.API.MountRoutes(r)
	}

	return r
}
