package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/platform/httpx"
)

// Identity headers set by the trusted upstream gateway.
const (
	HeaderHouseholdID  = "X-Household-ID"
	HeaderMemberID     = "X-Member-ID"
	HeaderMemberRole   = "X-Member-Role"
	HeaderMemberIncome = "X-Member-Income"
	HeaderMemberName   = "X-Member-Name"
)

// MemberRegistry mirrors callers into the membership directory.
type MemberRegistry interface {
	Register(ctx context.Context, m ledger.Member) error
}

type actorKey struct{}

// WithActor stores the caller on the context.
func WithActor(ctx context.Context, actor ledger.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the caller stored by the identity middleware.
func ActorFromContext(ctx context.Context) (ledger.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(ledger.Actor)
	return actor, ok
}

// Identity reads the caller from the gateway headers and rejects requests without a valid identity.
func Identity(registry MemberRegistry, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			member, err := memberFromHeaders(r.Header)
			if err != nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
				return
			}
			if registry != nil {
				if err := registry.Register(r.Context(), member); err != nil {
					logger.Error("register member", slog.Any("error", err),
						slog.String("household_id", member.HouseholdID.String()),
						slog.String("member_id", member.ID.String()))
					writeFailure(w, r, ledger.AsFailure(err))
					return
				}
			}
			actor := ledger.Actor{HouseholdID: member.HouseholdID, MemberID: member.ID, Role: member.Role}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

type headerError string

func (e headerError) Error() string { return string(e) }

func memberFromHeaders(h http.Header) (ledger.Member, error) {
	household, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderHouseholdID)))
	if err != nil || household == uuid.Nil {
		return ledger.Member{}, headerError(HeaderHouseholdID + " must be a UUID")
	}
	memberID, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderMemberID)))
	if err != nil || memberID == uuid.Nil {
		return ledger.Member{}, headerError(HeaderMemberID + " must be a UUID")
	}
	role := ledger.Role(strings.ToLower(strings.TrimSpace(h.Get(HeaderMemberRole))))
	if role != ledger.RoleOwner && role != ledger.RoleMember {
		return ledger.Member{}, headerError(HeaderMemberRole + " must be owner or member")
	}
	income := decimal.Zero
	if raw := strings.TrimSpace(h.Get(HeaderMemberIncome)); raw != "" {
		income, err = decimal.NewFromString(raw)
		if err != nil || income.IsNegative() {
			return ledger.Member{}, headerError(HeaderMemberIncome + " must be a non-negative amount")
		}
	}
	return ledger.Member{
		ID:          memberID,
		HouseholdID: household,
		DisplayName: strings.TrimSpace(h.Get(HeaderMemberName)),
		Role:        role,
		Income:      ledger.Round(income),
		Active:      true,
	}, nil
}
