// Package periods owns the period lifecycle of a household and the phase guard applied to every
// movement write.
package periods

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/contributions"
)

// CloseListener is notified after a period closes, typically to schedule an integrity scan.
type CloseListener interface {
	PeriodClosed(ctx context.Context, householdID, periodID uuid.UUID) error
}

// Service coordinates period creation, phase transitions, and deletion.
type Service struct {
	store   ledger.Store
	members ledger.MemberDirectory
	hooks   ledger.Hooks
	onClose CloseListener
	now     func() time.Time
}

// NewService constructs the period manager.
func NewService(store ledger.Store, members ledger.MemberDirectory, hooks ledger.Hooks) *Service {
	return &Service{store: store, members: members, hooks: hooks, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithCloseListener registers a listener invoked after every close.
func (s *Service) WithCloseListener(l CloseListener) {
	s.onClose = l
}

// CreateInput identifies the month to open.
type CreateInput struct {
	Year  int `validate:"required,gte=2000,lte=2100"`
	Month int `validate:"required,gte=1,lte=12"`
}

// Create opens a new period in the preparing phase.
func (s *Service) Create(ctx context.Context, actor ledger.Actor, input CreateInput) (ledger.Period, error) {
	if err := actor.RequireOwner(); err != nil {
		return ledger.Period{}, err
	}
	if err := ledger.ValidateStruct(input); err != nil {
		return ledger.Period{}, err
	}
	now := s.now()
	period := ledger.Period{
		ID:             uuid.New(),
		HouseholdID:    actor.HouseholdID,
		Year:           input.Year,
		Month:          input.Month,
		Phase:          ledger.PhasePreparing,
		Status:         ledger.PeriodStatusActive,
		OpeningBalance: decimal.Zero,
		ClosingBalance: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.LockHousehold(ctx, actor.HouseholdID); err != nil {
			return err
		}
		if _, err := tx.FindPeriod(ctx, actor.HouseholdID, period.YearMonth()); err == nil {
			return ledger.ErrDuplicatePeriod
		} else if !ledger.IsNotFound(err) {
			return err
		}
		return tx.InsertPeriod(ctx, period)
	})
	if err != nil {
		return ledger.Period{}, s.hooks.Fail("periods.create", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "period.create",
		Entity:   "period",
		EntityID: period.ID,
		Meta:     map[string]any{"period": period.Key()},
		Events:   []string{ledger.EventPeriodCreated},
		At:       now,
	})
	return period, nil
}

// Get returns the period for a month.
func (s *Service) Get(ctx context.Context, actor ledger.Actor, ym ledger.YearMonth) (ledger.Period, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Period{}, err
	}
	if !ym.Valid() {
		return ledger.Period{}, ledger.Validation("invalid period", map[string]string{"month": "must be between 1 and 12"})
	}
	var out ledger.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.FindPeriod(ctx, actor.HouseholdID, ym)
		return err
	})
	if err != nil {
		return ledger.Period{}, s.hooks.Fail("periods.get", actor, err)
	}
	return out, nil
}

// List returns every period of the household in chronological order.
func (s *Service) List(ctx context.Context, actor ledger.Actor) ([]ledger.Period, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var out []ledger.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.ListPeriods(ctx, actor.HouseholdID)
		return err
	})
	if err != nil {
		return nil, s.hooks.Fail("periods.list", actor, err)
	}
	return out, nil
}

// DeleteResult summarises what a deletion removed.
type DeleteResult struct {
	Period    ledger.Period `json:"period"`
	Movements int           `json:"movements"`
	Credits   int           `json:"credits"`
	// Restored counts credits applied to the period's contributions that went back to active.
	Restored int `json:"restored"`
}

// Delete removes the period with its contributions, adjustments, movements dated inside the
// month, and still-active credits sourced from it. Credits applied to its contributions return to
// active. A month holding loan payouts or repayments cannot be deleted since the loan rows would
// outlive their movements. The confirmation must repeat "YYYY-MM".
func (s *Service) Delete(ctx context.Context, actor ledger.Actor, periodID uuid.UUID, confirmation string) (DeleteResult, error) {
	if err := actor.RequireOwner(); err != nil {
		return DeleteResult{}, err
	}
	var out DeleteResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		period, err := tx.GetPeriodForUpdate(ctx, actor.HouseholdID, periodID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(confirmation) != period.Key() {
			return ledger.Validation("confirmation does not match the period", map[string]string{
				"confirmation": fmt.Sprintf("type %s to confirm", period.Key()),
			})
		}
		ym := period.YearMonth()
		loanMovements, err := tx.ListMovements(ctx, ledger.MovementFilter{
			HouseholdID: actor.HouseholdID,
			From:        ym.Start(),
			To:          ym.End(),
			Sources:     []ledger.MovementSource{ledger.SourceLoan, ledger.SourceRepayment},
		})
		if err != nil {
			return err
		}
		if len(loanMovements) > 0 {
			return ledger.Wrap(ledger.KindBusinessRule,
				fmt.Sprintf("%s holds %d loan movements and cannot be deleted", period.Key(), len(loanMovements)), nil)
		}
		out.Restored, err = restoreApplied(ctx, tx, period)
		if err != nil {
			return err
		}
		out.Movements, err = tx.DeleteMovements(ctx, ledger.MovementFilter{HouseholdID: actor.HouseholdID, From: ym.Start(), To: ym.End()})
		if err != nil {
			return err
		}
		out.Credits, err = tx.DeleteCredits(ctx, ledger.CreditFilter{
			HouseholdID: actor.HouseholdID,
			Statuses:    []ledger.CreditStatus{ledger.CreditActive},
			Source:      &ym,
		})
		if err != nil {
			return err
		}
		if err := tx.DeletePeriod(ctx, actor.HouseholdID, periodID); err != nil {
			return err
		}
		out.Period = period
		return nil
	})
	if err != nil {
		return DeleteResult{}, s.hooks.Fail("periods.delete", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "period.delete",
		Entity:   "period",
		EntityID: periodID,
		Meta: map[string]any{
			"period":    out.Period.Key(),
			"movements": out.Movements,
			"credits":   out.Credits,
			"restored":  out.Restored,
		},
		Events: []string{ledger.EventPeriodDeleted},
		At:     s.now(),
	})
	return out, nil
}

// restoreApplied returns credits consumed by the period's contributions to active.
func restoreApplied(ctx context.Context, tx ledger.Tx, period ledger.Period) (int, error) {
	contributions, err := tx.ListContributions(ctx, period.ID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range contributions {
		target := c.ID
		applied, err := tx.ListCredits(ctx, ledger.CreditFilter{
			HouseholdID:             period.HouseholdID,
			Statuses:                []ledger.CreditStatus{ledger.CreditApplied},
			AppliedToContributionID: &target,
		})
		if err != nil {
			return 0, err
		}
		for _, cr := range applied {
			cr.Status = ledger.CreditActive
			cr.AppliedToContributionID = nil
			cr.ResolvedAt = nil
			if err := tx.UpdateCredit(ctx, cr); err != nil {
				return 0, err
			}
			n++
		}
	}
	return n, nil
}

// TransitionPhase moves the period along its lifecycle. Entering active snapshots the opening
// balance and generates contributions; closing snapshots the closing balance and settles
// adjustments; leaving closed returns locked adjustments to pending.
func (s *Service) TransitionPhase(ctx context.Context, actor ledger.Actor, periodID uuid.UUID, next ledger.PeriodPhase) (ledger.Period, error) {
	if err := actor.RequireOwner(); err != nil {
		return ledger.Period{}, err
	}
	if _, err := ledger.ParsePeriodPhase(string(next)); err != nil {
		return ledger.Period{}, err
	}
	var members []ledger.Member
	if next == ledger.PhaseActive {
		var err error
		members, err = s.members.ActiveMembers(ctx, actor.HouseholdID)
		if err != nil {
			return ledger.Period{}, s.hooks.Fail("periods.transition", actor, err)
		}
	}
	var (
		out      ledger.Period
		previous ledger.PeriodPhase
		overpaid int
		changed  int
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		settings, err := tx.LockHousehold(ctx, actor.HouseholdID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, actor.HouseholdID, periodID)
		if err != nil {
			return err
		}
		previous = period.Phase
		if !period.Phase.CanTransition(next) {
			return ledger.Wrap(ledger.KindStateConflict,
				fmt.Sprintf("period %s cannot move from %s to %s", period.Key(), period.Phase, next), ledger.ErrInvalidTransition)
		}
		now := s.now()
		switch {
		case next == ledger.PhaseClosed:
			changed, err = s.close(ctx, tx, &period, now)
		case previous == ledger.PhaseClosed:
			changed, err = s.reopen(ctx, tx, &period, now)
		case next == ledger.PhaseActive:
			overpaid, err = s.activate(ctx, tx, &period, settings, members, now)
		}
		if err != nil {
			return err
		}
		period.Phase = next
		period.UpdatedAt = now
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		out = period
		return nil
	})
	if err != nil {
		return ledger.Period{}, s.hooks.Fail("periods.transition", actor, err)
	}
	events := []string{ledger.EventPeriodPhaseChanged}
	for i := 0; i < overpaid; i++ {
		events = append(events, ledger.EventContributionOverpaid)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "period.transition",
		Entity:   "period",
		EntityID: out.ID,
		Meta: map[string]any{
			"period":      out.Key(),
			"from":        string(previous),
			"to":          string(out.Phase),
			"adjustments": changed,
		},
		Events: events,
		At:     s.now(),
	})
	if out.Phase == ledger.PhaseClosed && s.onClose != nil {
		if err := s.onClose.PeriodClosed(ctx, out.HouseholdID, out.ID); err != nil && s.hooks.Logger != nil {
			s.hooks.Logger.Warn("period close listener", slog.Any("error", err), slog.String("period", out.Key()))
		}
	}
	return out, nil
}

// Reopen moves a closed period back to active.
func (s *Service) Reopen(ctx context.Context, actor ledger.Actor, periodID uuid.UUID) (ledger.Period, error) {
	return s.TransitionPhase(ctx, actor, periodID, ledger.PhaseActive)
}

func (s *Service) activate(ctx context.Context, tx ledger.Tx, period *ledger.Period, settings ledger.HouseholdSettings, members []ledger.Member, now time.Time) (int, error) {
	opening, err := cumulativeBalance(ctx, tx, period.HouseholdID, period.YearMonth().Start())
	if err != nil {
		return 0, err
	}
	period.OpeningBalance = opening
	if period.ContributionDisabled {
		return 0, nil
	}
	settled, err := contributions.Generate(ctx, tx, *period, settings, members, now)
	if err != nil {
		return 0, err
	}
	overpaid := 0
	for _, st := range settled {
		if st.Credit != nil {
			overpaid++
		}
	}
	return overpaid, nil
}

func (s *Service) close(ctx context.Context, tx ledger.Tx, period *ledger.Period, now time.Time) (int, error) {
	closing, err := cumulativeBalance(ctx, tx, period.HouseholdID, period.YearMonth().End())
	if err != nil {
		return 0, err
	}
	period.ClosingBalance = closing
	period.ClosedAt = &now
	id := period.ID
	adjustments, err := tx.ListAdjustments(ctx, ledger.AdjustmentFilter{HouseholdID: period.HouseholdID, PeriodID: &id})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, a := range adjustments {
		locked, err := tx.GetAdjustmentForUpdate(ctx, a.HouseholdID, a.ID)
		if err != nil {
			return 0, err
		}
		status, ok := locked.OnPeriodClose()
		if !ok {
			continue
		}
		locked.Status = status
		if err := tx.UpdateAdjustment(ctx, locked); err != nil {
			return 0, err
		}
		changed++
	}
	return changed, nil
}

func (s *Service) reopen(ctx context.Context, tx ledger.Tx, period *ledger.Period, now time.Time) (int, error) {
	period.ClosedAt = nil
	id := period.ID
	adjustments, err := tx.ListAdjustments(ctx, ledger.AdjustmentFilter{
		HouseholdID: period.HouseholdID,
		PeriodID:    &id,
		Statuses:    []ledger.AdjustmentStatus{ledger.AdjustmentLocked},
	})
	if err != nil {
		return 0, err
	}
	for _, a := range adjustments {
		locked, err := tx.GetAdjustmentForUpdate(ctx, a.HouseholdID, a.ID)
		if err != nil {
			return 0, err
		}
		status, _ := locked.OnPeriodReopen()
		locked.Status = status
		if err := tx.UpdateAdjustment(ctx, locked); err != nil {
			return 0, err
		}
	}
	return len(adjustments), nil
}

func cumulativeBalance(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, before time.Time) (decimal.Decimal, error) {
	totals, err := tx.SumMovements(ctx, ledger.MovementFilter{HouseholdID: householdID, Flow: ledger.FlowCommon, To: before})
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.Round(totals.Net()), nil
}

// Lock sets the orthogonal locked status, blocking movements in the month.
func (s *Service) Lock(ctx context.Context, actor ledger.Actor, periodID uuid.UUID) (ledger.Period, error) {
	return s.setStatus(ctx, actor, periodID, ledger.PeriodStatusLocked)
}

// Unlock clears the locked status.
func (s *Service) Unlock(ctx context.Context, actor ledger.Actor, periodID uuid.UUID) (ledger.Period, error) {
	return s.setStatus(ctx, actor, periodID, ledger.PeriodStatusActive)
}

func (s *Service) setStatus(ctx context.Context, actor ledger.Actor, periodID uuid.UUID, status ledger.PeriodStatus) (ledger.Period, error) {
	if err := actor.RequireOwner(); err != nil {
		return ledger.Period{}, err
	}
	var out ledger.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		period, err := tx.GetPeriodForUpdate(ctx, actor.HouseholdID, periodID)
		if err != nil {
			return err
		}
		if period.Status == status {
			return ledger.StateConflict(fmt.Sprintf("period %s is already %s", period.Key(), status))
		}
		period.Status = status
		period.UpdatedAt = s.now()
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		out = period
		return nil
	})
	if err != nil {
		return ledger.Period{}, s.hooks.Fail("periods.set_status", actor, err)
	}
	action := "period.unlock"
	if status == ledger.PeriodStatusLocked {
		action = "period.lock"
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   action,
		Entity:   "period",
		EntityID: out.ID,
		Meta:     map[string]any{"period": out.Key(), "status": string(out.Status)},
		At:       s.now(),
	})
	return out, nil
}

// SetContributionDisabled toggles contribution generation for an open period.
func (s *Service) SetContributionDisabled(ctx context.Context, actor ledger.Actor, periodID uuid.UUID, disabled bool) (ledger.Period, error) {
	if err := actor.RequireOwner(); err != nil {
		return ledger.Period{}, err
	}
	var out ledger.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		period, err := tx.GetPeriodForUpdate(ctx, actor.HouseholdID, periodID)
		if err != nil {
			return err
		}
		if period.Phase == ledger.PhaseClosed {
			return ledger.Wrap(ledger.KindStateConflict, "a closed period cannot be changed", ledger.ErrPeriodClosed)
		}
		period.ContributionDisabled = disabled
		period.UpdatedAt = s.now()
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		out = period
		return nil
	})
	if err != nil {
		return ledger.Period{}, s.hooks.Fail("periods.contribution_disabled", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "period.contribution_disabled",
		Entity:   "period",
		EntityID: out.ID,
		Meta:     map[string]any{"period": out.Key(), "disabled": disabled},
		At:       s.now(),
	})
	return out, nil
}
