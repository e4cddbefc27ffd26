package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/shared"
)

// HeaderIdempotencyKey deduplicates POST requests.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKey = 200

// Idempotency rejects replays of a POST carrying the same key in the same household. A key is
// released again when the first attempt does not succeed, so the client may retry it.
func Idempotency(keys shared.IdempotencyKeys, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if keys == nil || r.Method != http.MethodPost || raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxIdempotencyKey {
				writeFailure(w, r, ledger.Validation("invalid input", map[string]string{
					"idempotency_key": "must be at most 200 characters",
				}))
				return
			}
			actor, _ := ActorFromContext(r.Context())
			key := actor.HouseholdID.String() + ":" + raw
			module := "api:" + r.URL.Path

			if err := keys.CheckAndInsert(r.Context(), key, module); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					writeFailure(w, r, ledger.Wrap(ledger.KindStateConflict, "request already processed", err))
					return
				}
				logger.Error("idempotency check", slog.Any("error", err), slog.String("module", module))
				writeFailure(w, r, ledger.AsFailure(err))
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if status := ww.Status(); status < 200 || status >= 300 {
				if err := keys.Delete(r.Context(), key, module); err != nil {
					logger.Warn("release idempotency key", slog.Any("error", err), slog.String("module", module))
				}
			}
		})
	}
}
