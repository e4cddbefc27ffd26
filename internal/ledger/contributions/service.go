package contributions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
)

// Service exposes contribution queries and owner maintenance actions.
type Service struct {
	store   ledger.Store
	members ledger.MemberDirectory
	hooks   ledger.Hooks
	now     func() time.Time
}

// NewService constructs the contribution service.
func NewService(store ledger.Store, members ledger.MemberDirectory, hooks ledger.Hooks) *Service {
	return &Service{store: store, members: members, hooks: hooks, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// UpdateSettingsInput carries the owner's policy change.
type UpdateSettingsInput struct {
	Policy      string          `validate:"required,oneof=equal proportional"`
	MonthlyGoal decimal.Decimal `validate:"-"`
	Currency    string          `validate:"omitempty,len=3"`
}

// Settings returns the household settings, creating defaults on first access.
func (s *Service) Settings(ctx context.Context, actor ledger.Actor) (ledger.HouseholdSettings, error) {
	if err := actor.Validate(); err != nil {
		return ledger.HouseholdSettings{}, err
	}
	var out ledger.HouseholdSettings
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.LockHousehold(ctx, actor.HouseholdID)
		return err
	})
	if err != nil {
		return ledger.HouseholdSettings{}, s.hooks.Fail("contributions.settings", actor, err)
	}
	return out, nil
}

// UpdateSettings changes the policy and goal. Existing contributions keep their amounts until
// recalculated.
func (s *Service) UpdateSettings(ctx context.Context, actor ledger.Actor, input UpdateSettingsInput) (ledger.HouseholdSettings, error) {
	if err := actor.RequireOwner(); err != nil {
		return ledger.HouseholdSettings{}, err
	}
	if err := ledger.ValidateStruct(input); err != nil {
		return ledger.HouseholdSettings{}, err
	}
	if input.MonthlyGoal.IsNegative() {
		return ledger.HouseholdSettings{}, ledger.Validation("monthly goal cannot be negative", map[string]string{"monthly_goal": "must be zero or more"})
	}
	var out ledger.HouseholdSettings
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		current, err := tx.LockHousehold(ctx, actor.HouseholdID)
		if err != nil {
			return err
		}
		current.Policy = ledger.CalculationPolicy(input.Policy)
		current.MonthlyGoal = ledger.Round(input.MonthlyGoal)
		if input.Currency != "" {
			current.Currency = input.Currency
		}
		current.UpdatedAt = s.now()
		if err := tx.SaveSettings(ctx, current); err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return ledger.HouseholdSettings{}, s.hooks.Fail("contributions.update_settings", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "settings.update",
		Entity:   "household_settings",
		EntityID: actor.HouseholdID,
		Meta: map[string]any{
			"policy":       string(out.Policy),
			"monthly_goal": out.MonthlyGoal.StringFixed(2),
		},
		At: s.now(),
	})
	return out, nil
}

// List returns the contributions of a period.
func (s *Service) List(ctx context.Context, actor ledger.Actor, periodID uuid.UUID) ([]ledger.Contribution, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var out []ledger.Contribution
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.GetPeriod(ctx, actor.HouseholdID, periodID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListContributions(ctx, periodID)
		return err
	})
	if err != nil {
		return nil, s.hooks.Fail("contributions.list", actor, err)
	}
	return out, nil
}

// Recalculate recomputes every contribution of an open period from current settings.
func (s *Service) Recalculate(ctx context.Context, actor ledger.Actor, periodID uuid.UUID) ([]ledger.Contribution, error) {
	if err := actor.RequireOwner(); err != nil {
		return nil, err
	}
	members, err := s.members.ActiveMembers(ctx, actor.HouseholdID)
	if err != nil {
		return nil, s.hooks.Fail("contributions.recalculate", actor, err)
	}
	var settled []Settlement
	err = s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		settings, err := tx.LockHousehold(ctx, actor.HouseholdID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, actor.HouseholdID, periodID)
		if err != nil {
			return err
		}
		if period.Phase == ledger.PhaseClosed {
			return ledger.Wrap(ledger.KindStateConflict, "contributions of a closed period cannot be recalculated", ledger.ErrPeriodClosed)
		}
		if period.ContributionDisabled {
			return ledger.StateConflict("contributions are disabled for this period")
		}
		settled, err = Recalculate(ctx, tx, period, settings, members, s.now())
		return err
	})
	if err != nil {
		return nil, s.hooks.Fail("contributions.recalculate", actor, err)
	}
	out := make([]ledger.Contribution, 0, len(settled))
	events := []string{}
	for _, st := range settled {
		out = append(out, st.Contribution)
		if st.Credit != nil {
			events = append(events, ledger.EventContributionOverpaid)
		}
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "contributions.recalculate",
		Entity:   "period",
		EntityID: periodID,
		Meta:     map[string]any{"contributions": len(out)},
		Events:   events,
		At:       s.now(),
	})
	return out, nil
}

// ReconcileLine compares the stored paid amount with the derived one.
type ReconcileLine struct {
	ContributionID uuid.UUID       `json:"contribution_id"`
	MemberID       uuid.UUID       `json:"member_id"`
	Stored         decimal.Decimal `json:"stored"`
	Derived        decimal.Decimal `json:"derived"`
	Breakdown      PaidBreakdown   `json:"breakdown"`
	Drift          bool            `json:"drift"`
}

// Reconcile reports stored versus derived paid amounts without modifying anything.
func (s *Service) Reconcile(ctx context.Context, actor ledger.Actor, periodID uuid.UUID) ([]ReconcileLine, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var out []ReconcileLine
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.GetPeriod(ctx, actor.HouseholdID, periodID); err != nil {
			return err
		}
		var err error
		out, err = ReconcilePeriod(ctx, tx, periodID)
		return err
	})
	if err != nil {
		return nil, s.hooks.Fail("contributions.reconcile", actor, err)
	}
	return out, nil
}

// ReconcilePeriod compares every contribution of the period against its derived paid amount.
func ReconcilePeriod(ctx context.Context, tx ledger.Tx, periodID uuid.UUID) ([]ReconcileLine, error) {
	list, err := tx.ListContributions(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("contributions: list: %w", err)
	}
	out := make([]ReconcileLine, 0, len(list))
	for _, c := range list {
		paid, err := DerivePaid(ctx, tx, c)
		if err != nil {
			return nil, err
		}
		derived := paid.Total()
		out = append(out, ReconcileLine{
			ContributionID: c.ID,
			MemberID:       c.MemberID,
			Stored:         c.PaidAmount,
			Derived:        derived,
			Breakdown:      paid,
			Drift:          !ledger.ApproxEqual(c.PaidAmount, derived),
		})
	}
	return out, nil
}
