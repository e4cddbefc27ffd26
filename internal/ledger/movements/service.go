package movements

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/contributions"
	"github.com/hearth-finance/hearth/internal/ledger/periods"
)

// Service records and edits manual movements.
type Service struct {
	store      ledger.Store
	categories ledger.CategoryCatalog
	hooks      ledger.Hooks
	now        func() time.Time
}

// NewService constructs the movement recorder.
func NewService(store ledger.Store, categories ledger.CategoryCatalog, hooks ledger.Hooks) *Service {
	return &Service{store: store, categories: categories, hooks: hooks, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordInput carries a manual movement. MemberID defaults to the caller; only the owner may
// attribute a movement to someone else.
type RecordInput struct {
	Type        string `validate:"required,oneof=income expense"`
	Flow        string `validate:"required,oneof=common direct"`
	Amount      decimal.Decimal
	OccurredAt  time.Time
	MemberID    *uuid.UUID
	CategoryID  *uuid.UUID
	Description string `validate:"max=500"`
}

// RecordMovement stores a manual movement.
func (s *Service) RecordMovement(ctx context.Context, actor ledger.Actor, input RecordInput) (ledger.Movement, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Movement{}, err
	}
	if err := ledger.ValidateStruct(input); err != nil {
		return ledger.Movement{}, err
	}
	member := actor.MemberID
	if input.MemberID != nil && *input.MemberID != actor.MemberID {
		if !actor.IsOwner() {
			return ledger.Movement{}, ledger.Authorization("only the owner can record movements for another member")
		}
		member = *input.MemberID
	}
	if input.OccurredAt.IsZero() {
		input.OccurredAt = s.now()
	}
	if err := s.checkCategory(ctx, actor, input.CategoryID, ledger.MovementType(input.Type)); err != nil {
		return ledger.Movement{}, err
	}
	var rec Recorded
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		rec, err = Record(ctx, tx, actor.HouseholdID, Entry{
			Type:        ledger.MovementType(input.Type),
			Flow:        ledger.MovementFlow(input.Flow),
			Source:      ledger.SourceManual,
			Amount:      input.Amount,
			OccurredAt:  input.OccurredAt,
			MemberID:    &member,
			RecordedBy:  actor.MemberID,
			CategoryID:  input.CategoryID,
			Description: input.Description,
		}, s.now())
		return err
	})
	if err != nil {
		return ledger.Movement{}, s.hooks.Fail("movements.record", actor, err)
	}
	events := []string{ledger.EventMovementRecorded}
	if rec.Settlement != nil && rec.Settlement.Credit != nil {
		events = append(events, ledger.EventContributionOverpaid)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "movement.record",
		Entity:   "movement",
		EntityID: rec.Movement.ID,
		Meta: map[string]any{
			"type":   string(rec.Movement.Type),
			"flow":   string(rec.Movement.Flow),
			"amount": rec.Movement.Amount.StringFixed(2),
		},
		Events: events,
		At:     s.now(),
	})
	return rec.Movement, nil
}

// EditInput lists the editable fields; nil leaves a field unchanged.
type EditInput struct {
	Amount      *decimal.Decimal
	Description *string `validate:"omitempty,max=500"`
	CategoryID  *uuid.UUID
	OccurredAt  *time.Time
}

// EditMovement changes a manual movement. Both the old and the new date must fall in open
// periods. An edit that drops the member's paid amount below surplus already banked withdraws
// the still-active credits and fails when that surplus was already spent.
func (s *Service) EditMovement(ctx context.Context, actor ledger.Actor, movementID uuid.UUID, input EditInput) (ledger.Movement, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Movement{}, err
	}
	if err := ledger.ValidateStruct(input); err != nil {
		return ledger.Movement{}, err
	}
	var out ledger.Movement
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		current, err := tx.GetMovementForUpdate(ctx, actor.HouseholdID, movementID)
		if err != nil {
			return err
		}
		if current.SystemGenerated() {
			return ledger.StateConflict("movements produced by adjustments or loans cannot be edited")
		}
		if !actor.IsOwner() && current.RecordedBy != actor.MemberID {
			return ledger.Authorization("only the owner or the recorder can edit this movement")
		}
		if err := periods.EnsureOpenFor(ctx, tx, actor.HouseholdID, current.OccurredAt); err != nil {
			return err
		}
		next := current
		if input.Amount != nil {
			if !ledger.Round(*input.Amount).IsPositive() {
				return ledger.Validation("invalid movement", map[string]string{"amount": "must be greater than zero"})
			}
			next.Amount = ledger.Round(*input.Amount)
		}
		if input.Description != nil {
			next.Description = *input.Description
		}
		if input.CategoryID != nil {
			if err := s.checkCategory(ctx, actor, input.CategoryID, next.Type); err != nil {
				return err
			}
			next.CategoryID = input.CategoryID
		}
		if input.OccurredAt != nil {
			next.OccurredAt = input.OccurredAt.UTC()
			if err := periods.EnsureOpenFor(ctx, tx, actor.HouseholdID, next.OccurredAt); err != nil {
				return err
			}
		}
		now := s.now()
		next.UpdatedAt = now
		if err := tx.UpdateMovement(ctx, next); err != nil {
			return err
		}
		if err := reapply(ctx, tx, actor.HouseholdID, current, next, now); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return ledger.Movement{}, s.hooks.Fail("movements.edit", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "movement.edit",
		Entity:   "movement",
		EntityID: out.ID,
		Meta:     map[string]any{"amount": out.Amount.StringFixed(2), "occurred_at": out.OccurredAt},
		At:       s.now(),
	})
	return out, nil
}

// reapply moves the contribution effect of an edited movement. An edit that keeps the member and
// month applies only the net difference, so the contribution never passes through the
// intermediate state where the old amount is fully reversed.
func reapply(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, current, next ledger.Movement, now time.Time) error {
	from, to := ledger.YearMonthOf(current.OccurredAt), ledger.YearMonthOf(next.OccurredAt)
	if current.CountsAsContribution() && next.CountsAsContribution() &&
		*current.MemberID == *next.MemberID && from == to {
		delta := next.Amount.Sub(current.Amount)
		if delta.IsZero() {
			return nil
		}
		_, err := contributions.ApplyToMonth(ctx, tx, householdID, *next.MemberID, to, delta, now)
		return err
	}
	if current.CountsAsContribution() {
		if _, err := contributions.ApplyToMonth(ctx, tx, householdID, *current.MemberID, from, current.Amount.Neg(), now); err != nil {
			return err
		}
	}
	if next.CountsAsContribution() {
		if _, err := contributions.ApplyToMonth(ctx, tx, householdID, *next.MemberID, to, next.Amount, now); err != nil {
			return err
		}
	}
	return nil
}

// ListForPeriod returns the movements dated inside a period's month.
func (s *Service) ListForPeriod(ctx context.Context, actor ledger.Actor, periodID uuid.UUID) ([]ledger.Movement, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var out []ledger.Movement
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		period, err := tx.GetPeriod(ctx, actor.HouseholdID, periodID)
		if err != nil {
			return err
		}
		ym := period.YearMonth()
		out, err = tx.ListMovements(ctx, ledger.MovementFilter{HouseholdID: actor.HouseholdID, From: ym.Start(), To: ym.End()})
		return err
	})
	if err != nil {
		return nil, s.hooks.Fail("movements.list", actor, err)
	}
	return out, nil
}

func (s *Service) checkCategory(ctx context.Context, actor ledger.Actor, id *uuid.UUID, typ ledger.MovementType) error {
	if id == nil || s.categories == nil {
		return nil
	}
	category, err := s.categories.Category(ctx, actor.HouseholdID, *id)
	if err != nil {
		if ledger.IsNotFound(err) {
			return ledger.Validation("unknown category", map[string]string{"category_id": "does not exist"})
		}
		return s.hooks.Fail("movements.category", actor, err)
	}
	if category.Type != typ {
		return ledger.Validation("category type mismatch", map[string]string{"category_id": "must be an " + string(typ) + " category"})
	}
	return nil
}
