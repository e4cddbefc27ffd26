package balance

import (
	"context"
	"log/slog"

	"github.com/hearth-finance/hearth/internal/ledger"
)

// Service serves balance breakdowns, through the cache when one is configured.
type Service struct {
	store ledger.Store
	cache *Cache
	hooks ledger.Hooks
}

// NewService constructs the aggregator. cache may be nil.
func NewService(store ledger.Store, cache *Cache, hooks ledger.Hooks) *Service {
	return &Service{store: store, cache: cache, hooks: hooks}
}

// Get returns the breakdown for the month, or all time when scope is nil.
func (s *Service) Get(ctx context.Context, actor ledger.Actor, scope *ledger.YearMonth) (Breakdown, error) {
	if err := actor.Validate(); err != nil {
		return Breakdown{}, err
	}
	if scope != nil && !scope.Valid() {
		return Breakdown{}, ledger.Validation("invalid period", map[string]string{"period": "year and month are required together"})
	}
	label := "all"
	if scope != nil {
		label = scope.String()
	}
	loader := func(ctx context.Context) (Breakdown, error) {
		var out Breakdown
		err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			var err error
			out, err = Compute(ctx, tx, actor.HouseholdID, scope)
			return err
		})
		return out, err
	}
	key, err := s.cache.BuildKey(ctx, actor.HouseholdID, label)
	if err != nil {
		if s.hooks.Logger != nil {
			s.hooks.Logger.Warn("balance cache key", slog.Any("error", err))
		}
		out, err := loader(ctx)
		if err != nil {
			return Breakdown{}, s.hooks.Fail("balance.get", actor, err)
		}
		return out, nil
	}
	out, err := s.cache.Fetch(ctx, key, loader)
	if err != nil {
		return Breakdown{}, s.hooks.Fail("balance.get", actor, err)
	}
	return out, nil
}
