// Package api exposes the settlement engine as a JSON HTTP API scoped to the caller's household.
package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/adjustments"
	"github.com/hearth-finance/hearth/internal/ledger/balance"
	"github.com/hearth-finance/hearth/internal/ledger/contributions"
	"github.com/hearth-finance/hearth/internal/ledger/credits"
	"github.com/hearth-finance/hearth/internal/ledger/loans"
	"github.com/hearth-finance/hearth/internal/ledger/movements"
	"github.com/hearth-finance/hearth/internal/ledger/periods"
	"github.com/hearth-finance/hearth/internal/observability"
	"github.com/hearth-finance/hearth/internal/shared"
)

// Services bundles the ledger services served over HTTP.
type Services struct {
	Periods       *periods.Service
	Contributions *contributions.Service
	Movements     *movements.Service
	Credits       *credits.Service
	Loans         *loans.Service
	Adjustments   *adjustments.Service
	Balance       *balance.Service
}

// Config collects handler dependencies. Members and Idempotency are optional.
type Config struct {
	Services    Services
	Members     MemberRegistry
	Idempotency shared.IdempotencyKeys
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Handler serves the settlement API.
type Handler struct {
	svc         Services
	members     MemberRegistry
	idempotency shared.IdempotencyKeys
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewHandler constructs the API handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		svc:         cfg.Services,
		members:     cfg.Members,
		idempotency: cfg.Idempotency,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// MountRoutes registers every API route. The first path segment after /periods is always named
// {period} so static children such as /movements take precedence over /{month}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Identity(h.members, h.logger))
		r.Use(Idempotency(h.idempotency, h.logger))

		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.listPeriods)
			r.Post("/", h.createPeriod)
			r.Get("/{period}/{month}", h.getPeriod)
			r.Delete("/{period}", h.deletePeriod)
			r.Post("/{period}/phase", h.transitionPhase)
			r.Post("/{period}/lock", h.lockPeriod)
			r.Post("/{period}/unlock", h.unlockPeriod)
			r.Post("/{period}/reopen", h.reopenPeriod)
			r.Post("/{period}/contribution-disabled", h.setContributionDisabled)
			r.Post("/{period}/contributions/recalculate", h.recalculateContributions)
			r.Get("/{period}/contributions", h.listContributions)
			r.Get("/{period}/reconcile", h.reconcileContributions)
			r.Get("/{period}/movements", h.listMovements)
			r.Get("/{period}/adjustments", h.listAdjustments)
		})

		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.updateSettings)

		r.Post("/movements", h.recordMovement)
		r.Patch("/movements/{id}", h.editMovement)

		r.Get("/credits", h.listCredits)
		r.Post("/credits/{id}/apply", h.applyCredit)
		r.Post("/credits/{id}/transfer", h.transferCredit)
		r.Post("/credits/{id}/reserve", h.reserveCredit)
		r.Post("/credits/{id}/release", h.releaseCredit)

		r.Get("/loans", h.listLoans)
		r.Post("/loans", h.requestLoan)
		r.Get("/loans/ceiling", h.loanCeiling)
		r.Post("/loans/repayments", h.repayLoan)
		r.Post("/loans/{id}/approve", h.approveLoan)
		r.Post("/loans/{id}/reject", h.rejectLoan)
		r.Get("/members/{id}/debt", h.memberDebt)

		r.Post("/contributions/{id}/prepayments", h.createPrepayment)
		r.Post("/contributions/{id}/manual-adjustments", h.createManualAdjustment)
		r.Post("/adjustments/{id}/approve", h.approveAdjustment)
		r.Post("/adjustments/{id}/reject", h.rejectAdjustment)
		r.Post("/adjustments/{id}/cancel", h.cancelAdjustment)

		r.Get("/balance", h.getBalance)
	})
}

func actorFrom(r *http.Request) ledger.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, ledger.Validation("invalid input", map[string]string{name: "must be a UUID"})
	}
	return id, nil
}

func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, ledger.Validation("invalid input", map[string]string{name: "must be a UUID"})
	}
	return &id, nil
}

func queryInt(r *http.Request, name string) (int, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, ledger.Validation("invalid input", map[string]string{name: "must be an integer"})
	}
	return v, true, nil
}
