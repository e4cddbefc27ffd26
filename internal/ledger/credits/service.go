// Package credits manages banked overpayments: application to later contributions, transfer to
// savings, and earmarking for a future month.
package credits

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/contributions"
)

// Service exposes the credit ledger operations.
type Service struct {
	store ledger.Store
	hooks ledger.Hooks
	now   func() time.Time
}

// NewService constructs the credit ledger.
func NewService(store ledger.Store, hooks ledger.Hooks) *Service {
	return &Service{store: store, hooks: hooks, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ListInput filters the credit listing. Members only see their own credits.
type ListInput struct {
	MemberID *uuid.UUID
	Status   string `validate:"omitempty,oneof=active applied transferred"`
}

// List returns credits of the household.
func (s *Service) List(ctx context.Context, actor ledger.Actor, input ListInput) ([]ledger.Credit, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := ledger.ValidateStruct(input); err != nil {
		return nil, err
	}
	filter := ledger.CreditFilter{HouseholdID: actor.HouseholdID, MemberID: input.MemberID}
	if !actor.IsOwner() {
		self := actor.MemberID
		filter.MemberID = &self
	}
	if input.Status != "" {
		filter.Statuses = []ledger.CreditStatus{ledger.CreditStatus(input.Status)}
	}
	var out []ledger.Credit
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.ListCredits(ctx, filter)
		return err
	})
	if err != nil {
		return nil, s.hooks.Fail("credits.list", actor, err)
	}
	return out, nil
}

// Application is the result of applying a credit.
type Application struct {
	Credit       ledger.Credit       `json:"credit"`
	Contribution ledger.Contribution `json:"contribution"`
}

// Apply consumes an active credit against a contribution of the same member in an open period.
// The credit flips to applied in the same transaction that raises the paid amount.
func (s *Service) Apply(ctx context.Context, actor ledger.Actor, creditID, contributionID uuid.UUID) (Application, error) {
	if err := actor.Validate(); err != nil {
		return Application{}, err
	}
	var (
		out     Application
		settled contributions.Settlement
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		credit, err := tx.GetCreditForUpdate(ctx, actor.HouseholdID, creditID)
		if err != nil {
			return err
		}
		if err := authorize(actor, credit); err != nil {
			return err
		}
		contribution, err := tx.GetContributionForUpdate(ctx, actor.HouseholdID, contributionID)
		if err != nil {
			return err
		}
		if contribution.MemberID != credit.MemberID {
			return ledger.Validation("credit and contribution belong to different members", map[string]string{"contribution_id": "must belong to the credit owner"})
		}
		if credit.SourceContributionID != nil && *credit.SourceContributionID == contribution.ID {
			return ledger.Validation("a credit cannot be applied to the contribution it came from", map[string]string{"contribution_id": "must differ from the source contribution"})
		}
		period, err := tx.GetPeriod(ctx, actor.HouseholdID, contribution.PeriodID)
		if err != nil {
			return err
		}
		if period.Phase == ledger.PhaseClosed {
			return ledger.Wrap(ledger.KindStateConflict, fmt.Sprintf("period %s is closed", period.Key()), ledger.ErrPeriodClosed)
		}
		status, err := credit.Status.Apply()
		if err != nil {
			return err
		}
		now := s.now()
		credit.Status = status
		credit.ReservedFor = nil
		credit.AppliedToContributionID = &contribution.ID
		credit.ResolvedAt = &now
		if err := tx.UpdateCredit(ctx, credit); err != nil {
			return err
		}
		settled, err = contributions.ApplyPayment(ctx, tx, contribution, credit.Amount, now)
		if err != nil {
			return err
		}
		out = Application{Credit: credit, Contribution: settled.Contribution}
		return nil
	})
	if err != nil {
		return Application{}, s.hooks.Fail("credits.apply", actor, err)
	}
	events := []string{ledger.EventCreditApplied}
	if settled.Credit != nil {
		events = append(events, ledger.EventContributionOverpaid)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "credit.apply",
		Entity:   "credit",
		EntityID: creditID,
		Meta: map[string]any{
			"amount":          out.Credit.Amount.StringFixed(2),
			"contribution_id": contributionID.String(),
		},
		Events: events,
		At:     s.now(),
	})
	return out, nil
}

// Transfer moves an active credit into household savings.
func (s *Service) Transfer(ctx context.Context, actor ledger.Actor, creditID uuid.UUID, note string) (ledger.Credit, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Credit{}, err
	}
	var out ledger.Credit
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		credit, err := tx.GetCreditForUpdate(ctx, actor.HouseholdID, creditID)
		if err != nil {
			return err
		}
		if err := authorize(actor, credit); err != nil {
			return err
		}
		status, err := credit.Status.Transfer()
		if err != nil {
			return err
		}
		now := s.now()
		id := credit.ID
		deposit := ledger.SavingsDeposit{
			ID:          uuid.New(),
			HouseholdID: credit.HouseholdID,
			MemberID:    credit.MemberID,
			CreditID:    &id,
			Amount:      credit.Amount,
			Note:        note,
			CreatedAt:   now,
		}
		if err := tx.InsertSavingsDeposit(ctx, deposit); err != nil {
			return err
		}
		credit.Status = status
		credit.ReservedFor = nil
		credit.ResolvedAt = &now
		if err := tx.UpdateCredit(ctx, credit); err != nil {
			return err
		}
		out = credit
		return nil
	})
	if err != nil {
		return ledger.Credit{}, s.hooks.Fail("credits.transfer", actor, err)
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   "credit.transfer",
		Entity:   "credit",
		EntityID: creditID,
		Meta:     map[string]any{"amount": out.Amount.StringFixed(2)},
		Events:   []string{ledger.EventCreditTransferred},
		At:       s.now(),
	})
	return out, nil
}

// Reserve earmarks an active credit for a future month without consuming it.
func (s *Service) Reserve(ctx context.Context, actor ledger.Actor, creditID uuid.UUID, target ledger.YearMonth) (ledger.Credit, error) {
	if !target.Valid() {
		return ledger.Credit{}, ledger.Validation("invalid target month", map[string]string{"month": "must be between 1 and 12"})
	}
	return s.earmark(ctx, actor, creditID, &target)
}

// Release clears an earmark.
func (s *Service) Release(ctx context.Context, actor ledger.Actor, creditID uuid.UUID) (ledger.Credit, error) {
	return s.earmark(ctx, actor, creditID, nil)
}

func (s *Service) earmark(ctx context.Context, actor ledger.Actor, creditID uuid.UUID, target *ledger.YearMonth) (ledger.Credit, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Credit{}, err
	}
	var out ledger.Credit
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		credit, err := tx.GetCreditForUpdate(ctx, actor.HouseholdID, creditID)
		if err != nil {
			return err
		}
		if err := authorize(actor, credit); err != nil {
			return err
		}
		if credit.Status != ledger.CreditActive {
			return ledger.StateConflict(fmt.Sprintf("credit is %s", credit.Status))
		}
		if target == nil && credit.ReservedFor == nil {
			return ledger.StateConflict("credit is not reserved")
		}
		if target != nil && target.Before(credit.Source()) {
			return ledger.Validation("a credit can only be reserved for its source month or later", map[string]string{"month": "must not precede the source month"})
		}
		credit.ReservedFor = target
		if err := tx.UpdateCredit(ctx, credit); err != nil {
			return err
		}
		out = credit
		return nil
	})
	if err != nil {
		return ledger.Credit{}, s.hooks.Fail("credits.earmark", actor, err)
	}
	action := "credit.release"
	meta := map[string]any{"amount": out.Amount.StringFixed(2)}
	if target != nil {
		action = "credit.reserve"
		meta["reserved_for"] = target.String()
	}
	s.hooks.After(ctx, ledger.Effect{
		Actor:    actor,
		Action:   action,
		Entity:   "credit",
		EntityID: creditID,
		Meta:     meta,
		At:       s.now(),
	})
	return out, nil
}

func authorize(actor ledger.Actor, credit ledger.Credit) error {
	if actor.IsOwner() || credit.MemberID == actor.MemberID {
		return nil
	}
	return ledger.Authorization("only the owner or the credit holder can use this credit")
}

// Conservation compares the credit ledger with the surplus each contribution records as banked.
// Credits whose source contribution no longer exists, such as those left behind by a deleted
// period, are counted in Detached and do not unbalance the ledger.
type Conservation struct {
	Active      decimal.Decimal `json:"active"`
	Applied     decimal.Decimal `json:"applied"`
	Transferred decimal.Decimal `json:"transferred"`
	// Banked sums CreditedSurplus over the household's contributions.
	Banked decimal.Decimal `json:"banked"`
	// Issued sums the credits sourced from those contributions, whatever their status.
	Issued   decimal.Decimal `json:"issued"`
	Detached decimal.Decimal `json:"detached"`
	// Mismatched lists contributions whose banked surplus differs from the credits they issued
	// or from what they actually overpaid.
	Mismatched []uuid.UUID `json:"mismatched,omitempty"`
	Balanced   bool        `json:"balanced"`
}

// CheckConservation verifies inside a transaction that every banked surplus is backed by credits
// and every credit by a banked surplus.
func CheckConservation(ctx context.Context, tx ledger.Tx, householdID uuid.UUID) (Conservation, error) {
	all, err := tx.ListCredits(ctx, ledger.CreditFilter{HouseholdID: householdID})
	if err != nil {
		return Conservation{}, fmt.Errorf("credits: list: %w", err)
	}
	periods, err := tx.ListPeriods(ctx, householdID)
	if err != nil {
		return Conservation{}, fmt.Errorf("credits: list periods: %w", err)
	}
	banked := map[uuid.UUID]ledger.Contribution{}
	for _, p := range periods {
		list, err := tx.ListContributions(ctx, p.ID)
		if err != nil {
			return Conservation{}, fmt.Errorf("credits: list contributions: %w", err)
		}
		for _, c := range list {
			banked[c.ID] = c
		}
	}

	out := Conservation{
		Active: decimal.Zero, Applied: decimal.Zero, Transferred: decimal.Zero,
		Banked: decimal.Zero, Issued: decimal.Zero, Detached: decimal.Zero,
	}
	issued := make(map[uuid.UUID]decimal.Decimal, len(banked))
	for _, c := range all {
		switch c.Status {
		case ledger.CreditActive:
			out.Active = out.Active.Add(c.Amount)
		case ledger.CreditApplied:
			out.Applied = out.Applied.Add(c.Amount)
		case ledger.CreditTransferred:
			out.Transferred = out.Transferred.Add(c.Amount)
		}
		if c.SourceContributionID == nil {
			out.Detached = out.Detached.Add(c.Amount)
			continue
		}
		if _, ok := banked[*c.SourceContributionID]; !ok {
			out.Detached = out.Detached.Add(c.Amount)
			continue
		}
		issued[*c.SourceContributionID] = issued[*c.SourceContributionID].Add(c.Amount)
		out.Issued = out.Issued.Add(c.Amount)
	}
	for id, c := range banked {
		out.Banked = out.Banked.Add(c.CreditedSurplus)
		excess := c.PaidAmount.Sub(c.ExpectedAmount)
		if excess.IsNegative() {
			excess = decimal.Zero
		}
		if !ledger.ApproxEqual(c.CreditedSurplus, excess) || !ledger.ApproxEqual(c.CreditedSurplus, issued[id]) {
			out.Mismatched = append(out.Mismatched, id)
		}
	}
	sort.Slice(out.Mismatched, func(i, j int) bool { return out.Mismatched[i].String() < out.Mismatched[j].String() })
	out.Balanced = len(out.Mismatched) == 0 && ledger.ApproxEqual(out.Banked, out.Issued)
	return out, nil
}
