// Package memory implements the ledger store port in process memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
)

type state struct {
	settings      map[uuid.UUID]ledger.HouseholdSettings
	periods       map[uuid.UUID]ledger.Period
	movements     map[uuid.UUID]ledger.Movement
	contributions map[uuid.UUID]ledger.Contribution
	credits       map[uuid.UUID]ledger.Credit
	savings       map[uuid.UUID]ledger.SavingsDeposit
	loans         map[uuid.UUID]ledger.Loan
	adjustments   map[uuid.UUID]ledger.Adjustment
}

func newState() *state {
	return &state{
		settings:      map[uuid.UUID]ledger.HouseholdSettings{},
		periods:       map[uuid.UUID]ledger.Period{},
		movements:     map[uuid.UUID]ledger.Movement{},
		contributions: map[uuid.UUID]ledger.Contribution{},
		credits:       map[uuid.UUID]ledger.Credit{},
		savings:       map[uuid.UUID]ledger.SavingsDeposit{},
		loans:         map[uuid.UUID]ledger.Loan{},
		adjustments:   map[uuid.UUID]ledger.Adjustment{},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		settings:      cloneMap(s.settings),
		periods:       cloneMap(s.periods),
		movements:     cloneMap(s.movements),
		contributions: cloneMap(s.contributions),
		credits:       cloneMap(s.credits),
		savings:       cloneMap(s.savings),
		loans:         cloneMap(s.loans),
		adjustments:   cloneMap(s.adjustments),
	}
}

// Store keeps ledger rows in memory. Transactions hold the store mutex for their whole
// duration and work on a copy that replaces the committed state only on success.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithTx runs fn against a private copy of the state and commits it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := &tx{state: s.state.clone(), now: s.now}
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.state = work.state
	return nil
}

type tx struct {
	state *state
	now   func() time.Time
}

var _ ledger.Tx = (*tx)(nil)

func (t *tx) LockHousehold(_ context.Context, householdID uuid.UUID) (ledger.HouseholdSettings, error) {
	settings, ok := t.state.settings[householdID]
	if !ok {
		settings = ledger.DefaultSettings(householdID)
		settings.UpdatedAt = t.now()
		t.state.settings[householdID] = settings
	}
	return settings, nil
}

func (t *tx) SaveSettings(_ context.Context, settings ledger.HouseholdSettings) error {
	t.state.settings[settings.HouseholdID] = settings
	return nil
}

func (t *tx) ListHouseholds(_ context.Context) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]struct{}{}
	for id := range t.state.settings {
		seen[id] = struct{}{}
	}
	for _, p := range t.state.periods {
		seen[p.HouseholdID] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (t *tx) InsertPeriod(_ context.Context, p ledger.Period) error {
	for _, existing := range t.state.periods {
		if existing.HouseholdID == p.HouseholdID && existing.Year == p.Year && existing.Month == p.Month {
			return ledger.ErrDuplicatePeriod
		}
	}
	t.state.periods[p.ID] = p
	return nil
}

func (t *tx) GetPeriod(_ context.Context, householdID, id uuid.UUID) (ledger.Period, error) {
	p, ok := t.state.periods[id]
	if !ok || p.HouseholdID != householdID {
		return ledger.Period{}, ledger.ErrNotFound
	}
	return p, nil
}

func (t *tx) GetPeriodForUpdate(ctx context.Context, householdID, id uuid.UUID) (ledger.Period, error) {
	return t.GetPeriod(ctx, householdID, id)
}

func (t *tx) FindPeriod(_ context.Context, householdID uuid.UUID, ym ledger.YearMonth) (ledger.Period, error) {
	for _, p := range t.state.periods {
		if p.HouseholdID == householdID && p.Year == ym.Year && p.Month == ym.Month {
			return p, nil
		}
	}
	return ledger.Period{}, ledger.ErrNotFound
}

func (t *tx) ListPeriods(_ context.Context, householdID uuid.UUID) ([]ledger.Period, error) {
	var out []ledger.Period
	for _, p := range t.state.periods {
		if p.HouseholdID == householdID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].YearMonth().Before(out[j].YearMonth()) })
	return out, nil
}

func (t *tx) UpdatePeriod(_ context.Context, p ledger.Period) error {
	if _, ok := t.state.periods[p.ID]; !ok {
		return ledger.ErrNotFound
	}
	t.state.periods[p.ID] = p
	return nil
}

func (t *tx) DeletePeriod(_ context.Context, householdID, id uuid.UUID) error {
	p, ok := t.state.periods[id]
	if !ok || p.HouseholdID != householdID {
		return ledger.ErrNotFound
	}
	for cid, c := range t.state.contributions {
		if c.PeriodID == id {
			delete(t.state.contributions, cid)
		}
	}
	for aid, a := range t.state.adjustments {
		if a.PeriodID == id {
			delete(t.state.adjustments, aid)
		}
	}
	delete(t.state.periods, id)
	return nil
}

func (t *tx) InsertMovement(_ context.Context, m ledger.Movement) error {
	t.state.movements[m.ID] = m
	return nil
}

func (t *tx) GetMovementForUpdate(_ context.Context, householdID, id uuid.UUID) (ledger.Movement, error) {
	m, ok := t.state.movements[id]
	if !ok || m.HouseholdID != householdID {
		return ledger.Movement{}, ledger.ErrNotFound
	}
	return m, nil
}

func (t *tx) UpdateMovement(_ context.Context, m ledger.Movement) error {
	if _, ok := t.state.movements[m.ID]; !ok {
		return ledger.ErrNotFound
	}
	t.state.movements[m.ID] = m
	return nil
}

func movementMatches(m ledger.Movement, f ledger.MovementFilter) bool {
	if m.HouseholdID != f.HouseholdID {
		return false
	}
	if !f.From.IsZero() && m.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.OccurredAt.Before(f.To) {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.Flow != "" && m.Flow != f.Flow {
		return false
	}
	if f.MemberID != nil && (m.MemberID == nil || *m.MemberID != *f.MemberID) {
		return false
	}
	if len(f.Sources) > 0 {
		found := false
		for _, src := range f.Sources {
			if m.Source == src {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (t *tx) ListMovements(_ context.Context, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, m := range t.state.movements {
		if movementMatches(m, filter) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (t *tx) SumMovements(_ context.Context, filter ledger.MovementFilter) (ledger.MovementTotals, error) {
	totals := ledger.MovementTotals{Income: decimal.Zero, Expense: decimal.Zero}
	for _, m := range t.state.movements {
		if !movementMatches(m, filter) {
			continue
		}
		if m.Type == ledger.MovementIncome {
			totals.Income = totals.Income.Add(m.Amount)
		} else {
			totals.Expense = totals.Expense.Add(m.Amount)
		}
	}
	return totals, nil
}

func (t *tx) DeleteMovements(_ context.Context, filter ledger.MovementFilter) (int, error) {
	n := 0
	for id, m := range t.state.movements {
		if movementMatches(m, filter) {
			delete(t.state.movements, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertContribution(_ context.Context, c ledger.Contribution) error {
	for _, existing := range t.state.contributions {
		if existing.PeriodID == c.PeriodID && existing.MemberID == c.MemberID {
			return ledger.ErrConflict
		}
	}
	t.state.contributions[c.ID] = c
	return nil
}

func (t *tx) GetContribution(_ context.Context, householdID, id uuid.UUID) (ledger.Contribution, error) {
	c, ok := t.state.contributions[id]
	if !ok || c.HouseholdID != householdID {
		return ledger.Contribution{}, ledger.ErrNotFound
	}
	return c, nil
}

func (t *tx) GetContributionForUpdate(ctx context.Context, householdID, id uuid.UUID) (ledger.Contribution, error) {
	return t.GetContribution(ctx, householdID, id)
}

func (t *tx) FindContributionForUpdate(_ context.Context, periodID, memberID uuid.UUID) (ledger.Contribution, error) {
	for _, c := range t.state.contributions {
		if c.PeriodID == periodID && c.MemberID == memberID {
			return c, nil
		}
	}
	return ledger.Contribution{}, ledger.ErrNotFound
}

func (t *tx) ListContributions(_ context.Context, periodID uuid.UUID) ([]ledger.Contribution, error) {
	var out []ledger.Contribution
	for _, c := range t.state.contributions {
		if c.PeriodID == periodID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID.String() < out[j].MemberID.String() })
	return out, nil
}

func (t *tx) UpdateContribution(_ context.Context, c ledger.Contribution) error {
	if _, ok := t.state.contributions[c.ID]; !ok {
		return ledger.ErrNotFound
	}
	t.state.contributions[c.ID] = c
	return nil
}

func (t *tx) InsertCredit(_ context.Context, c ledger.Credit) error {
	t.state.credits[c.ID] = c
	return nil
}

func (t *tx) GetCreditForUpdate(_ context.Context, householdID, id uuid.UUID) (ledger.Credit, error) {
	c, ok := t.state.credits[id]
	if !ok || c.HouseholdID != householdID {
		return ledger.Credit{}, ledger.ErrNotFound
	}
	return c, nil
}

func (t *tx) ListCredits(_ context.Context, filter ledger.CreditFilter) ([]ledger.Credit, error) {
	var out []ledger.Credit
	for _, c := range t.state.credits {
		if matchCredit(filter, c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) UpdateCredit(_ context.Context, c ledger.Credit) error {
	if _, ok := t.state.credits[c.ID]; !ok {
		return ledger.ErrNotFound
	}
	t.state.credits[c.ID] = c
	return nil
}

func (t *tx) DeleteCredits(_ context.Context, filter ledger.CreditFilter) (int, error) {
	n := 0
	for id, c := range t.state.credits {
		if matchCredit(filter, c) {
			delete(t.state.credits, id)
			n++
		}
	}
	return n, nil
}

func matchCredit(f ledger.CreditFilter, c ledger.Credit) bool {
	switch {
	case c.HouseholdID != f.HouseholdID:
		return false
	case f.MemberID != nil && c.MemberID != *f.MemberID:
		return false
	case f.Source != nil && c.Source() != *f.Source:
		return false
	case len(f.Statuses) > 0 && !containsStatus(f.Statuses, c.Status):
		return false
	case f.SourceContributionID != nil && (c.SourceContributionID == nil || *c.SourceContributionID != *f.SourceContributionID):
		return false
	case f.AppliedToContributionID != nil && (c.AppliedToContributionID == nil || *c.AppliedToContributionID != *f.AppliedToContributionID):
		return false
	}
	return true
}

func (t *tx) InsertSavingsDeposit(_ context.Context, d ledger.SavingsDeposit) error {
	t.state.savings[d.ID] = d
	return nil
}

func (t *tx) SumSavings(_ context.Context, householdID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, d := range t.state.savings {
		if d.HouseholdID == householdID {
			total = total.Add(d.Amount)
		}
	}
	return total, nil
}

func (t *tx) InsertLoan(_ context.Context, l ledger.Loan) error {
	t.state.loans[l.ID] = l
	return nil
}

func (t *tx) GetLoanForUpdate(_ context.Context, householdID, id uuid.UUID) (ledger.Loan, error) {
	l, ok := t.state.loans[id]
	if !ok || l.HouseholdID != householdID {
		return ledger.Loan{}, ledger.ErrNotFound
	}
	return l, nil
}

func (t *tx) ListLoans(_ context.Context, filter ledger.LoanFilter) ([]ledger.Loan, error) {
	var out []ledger.Loan
	for _, l := range t.state.loans {
		if l.HouseholdID != filter.HouseholdID {
			continue
		}
		if filter.RequesterID != nil && l.RequesterID != *filter.RequesterID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, l.Status) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (t *tx) UpdateLoan(_ context.Context, l ledger.Loan) error {
	if _, ok := t.state.loans[l.ID]; !ok {
		return ledger.ErrNotFound
	}
	t.state.loans[l.ID] = l
	return nil
}

func (t *tx) InsertAdjustment(_ context.Context, a ledger.Adjustment) error {
	t.state.adjustments[a.ID] = a
	return nil
}

func (t *tx) GetAdjustmentForUpdate(_ context.Context, householdID, id uuid.UUID) (ledger.Adjustment, error) {
	a, ok := t.state.adjustments[id]
	if !ok || a.HouseholdID != householdID {
		return ledger.Adjustment{}, ledger.ErrNotFound
	}
	return a, nil
}

func (t *tx) ListAdjustments(_ context.Context, filter ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	var out []ledger.Adjustment
	for _, a := range t.state.adjustments {
		if a.HouseholdID != filter.HouseholdID {
			continue
		}
		if filter.PeriodID != nil && a.PeriodID != *filter.PeriodID {
			continue
		}
		if filter.ContributionID != nil && a.ContributionID != *filter.ContributionID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) UpdateAdjustment(_ context.Context, a ledger.Adjustment) error {
	if _, ok := t.state.adjustments[a.ID]; !ok {
		return ledger.ErrNotFound
	}
	t.state.adjustments[a.ID] = a
	return nil
}

func containsStatus[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
