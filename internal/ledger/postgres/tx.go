package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hearth-finance/hearth/internal/ledger"
)

type txn struct {
	tx pgx.Tx
}

var _ ledger.Tx = (*txn)(nil)

// where accumulates SQL conditions with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (t *txn) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

func (t *txn) execOne(ctx context.Context, sql string, args ...any) error {
	n, err := t.exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return translate(err)
}

// settings

func (t *txn) LockHousehold(ctx context.Context, householdID uuid.UUID) (ledger.HouseholdSettings, error) {
	if _, err := t.exec(ctx, `INSERT INTO household_settings (household_id) VALUES ($1) ON CONFLICT (household_id) DO NOTHING`, householdID); err != nil {
		return ledger.HouseholdSettings{}, err
	}
	var s ledger.HouseholdSettings
	err := t.tx.QueryRow(ctx, `SELECT household_id, policy, monthly_goal, currency, updated_at
FROM household_settings WHERE household_id = $1 FOR UPDATE`, householdID).
		Scan(&s.HouseholdID, &s.Policy, &s.MonthlyGoal, &s.Currency, &s.UpdatedAt)
	if err != nil {
		return ledger.HouseholdSettings{}, notFound(err)
	}
	return s, nil
}

func (t *txn) SaveSettings(ctx context.Context, s ledger.HouseholdSettings) error {
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := t.exec(ctx, `INSERT INTO household_settings (household_id, policy, monthly_goal, currency, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (household_id) DO UPDATE SET policy = EXCLUDED.policy, monthly_goal = EXCLUDED.monthly_goal,
    currency = EXCLUDED.currency, updated_at = EXCLUDED.updated_at`,
		s.HouseholdID, string(s.Policy), s.MonthlyGoal, s.Currency, updated)
	return err
}

func (t *txn) ListHouseholds(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `SELECT household_id FROM household_settings
UNION SELECT household_id FROM periods ORDER BY 1`)
	if err != nil {
		return nil, translate(err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// periods

const periodColumns = `id, household_id, year, month, phase, status, contribution_disabled,
opening_balance, closing_balance, closed_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (ledger.Period, error) {
	var p ledger.Period
	err := row.Scan(&p.ID, &p.HouseholdID, &p.Year, &p.Month, &p.Phase, &p.Status, &p.ContributionDisabled,
		&p.OpeningBalance, &p.ClosingBalance, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (t *txn) InsertPeriod(ctx context.Context, p ledger.Period) error {
	_, err := t.exec(ctx, `INSERT INTO periods (`+periodColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.HouseholdID, p.Year, p.Month, string(p.Phase), string(p.Status), p.ContributionDisabled,
		p.OpeningBalance, p.ClosingBalance, p.ClosedAt, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *txn) getPeriod(ctx context.Context, suffix string, args ...any) (ledger.Period, error) {
	p, err := scanPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods `+suffix, args...))
	if err != nil {
		return ledger.Period{}, notFound(err)
	}
	return p, nil
}

func (t *txn) GetPeriod(ctx context.Context, householdID, id uuid.UUID) (ledger.Period, error) {
	return t.getPeriod(ctx, `WHERE household_id = $1 AND id = $2`, householdID, id)
}

func (t *txn) GetPeriodForUpdate(ctx context.Context, householdID, id uuid.UUID) (ledger.Period, error) {
	return t.getPeriod(ctx, `WHERE household_id = $1 AND id = $2 FOR UPDATE`, householdID, id)
}

func (t *txn) FindPeriod(ctx context.Context, householdID uuid.UUID, ym ledger.YearMonth) (ledger.Period, error) {
	return t.getPeriod(ctx, `WHERE household_id = $1 AND year = $2 AND month = $3`, householdID, ym.Year, ym.Month)
}

func (t *txn) ListPeriods(ctx context.Context, householdID uuid.UUID) ([]ledger.Period, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+periodColumns+` FROM periods WHERE household_id = $1 ORDER BY year, month`, householdID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []ledger.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txn) UpdatePeriod(ctx context.Context, p ledger.Period) error {
	return t.execOne(ctx, `UPDATE periods SET phase = $3, status = $4, contribution_disabled = $5,
    opening_balance = $6, closing_balance = $7, closed_at = $8, updated_at = $9
WHERE household_id = $1 AND id = $2`,
		p.HouseholdID, p.ID, string(p.Phase), string(p.Status), p.ContributionDisabled,
		p.OpeningBalance, p.ClosingBalance, p.ClosedAt, p.UpdatedAt)
}

func (t *txn) DeletePeriod(ctx context.Context, householdID, id uuid.UUID) error {
	return t.execOne(ctx, `DELETE FROM periods WHERE household_id = $1 AND id = $2`, householdID, id)
}

// movements

const movementColumns = `id, household_id, type, flow, source, amount, occurred_at, member_id, recorded_by,
category_id, description, adjustment_id, loan_id, created_at, updated_at`

func scanMovement(row pgx.Row) (ledger.Movement, error) {
	var m ledger.Movement
	err := row.Scan(&m.ID, &m.HouseholdID, &m.Type, &m.Flow, &m.Source, &m.Amount, &m.OccurredAt, &m.MemberID,
		&m.RecordedBy, &m.CategoryID, &m.Description, &m.AdjustmentID, &m.LoanID, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func movementWhere(f ledger.MovementFilter) *where {
	w := &where{}
	w.add("household_id = ?", f.HouseholdID)
	if !f.From.IsZero() {
		w.add("occurred_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("occurred_at < ?", f.To)
	}
	if f.Type != "" {
		w.add("type = ?", string(f.Type))
	}
	if f.Flow != "" {
		w.add("flow = ?", string(f.Flow))
	}
	if f.MemberID != nil {
		w.add("member_id = ?", *f.MemberID)
	}
	if len(f.Sources) > 0 {
		sources := make([]string, len(f.Sources))
		for i, s := range f.Sources {
			sources[i] = string(s)
		}
		w.add("source = ANY(?)", sources)
	}
	return w
}

func (t *txn) InsertMovement(ctx context.Context, m ledger.Movement) error {
	_, err := t.exec(ctx, `INSERT INTO movements (`+movementColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.HouseholdID, string(m.Type), string(m.Flow), string(m.Source), m.Amount, m.OccurredAt, m.MemberID,
		m.RecordedBy, m.CategoryID, m.Description, m.AdjustmentID, m.LoanID, m.CreatedAt, m.UpdatedAt)
	return err
}

func (t *txn) GetMovementForUpdate(ctx context.Context, householdID, id uuid.UUID) (ledger.Movement, error) {
	m, err := scanMovement(t.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements
WHERE household_id = $1 AND id = $2 FOR UPDATE`, householdID, id))
	if err != nil {
		return ledger.Movement{}, notFound(err)
	}
	return m, nil
}

func (t *txn) UpdateMovement(ctx context.Context, m ledger.Movement) error {
	return t.execOne(ctx, `UPDATE movements SET amount = $3, occurred_at = $4, category_id = $5, description = $6, updated_at = $7
WHERE household_id = $1 AND id = $2`,
		m.HouseholdID, m.ID, m.Amount, m.OccurredAt, m.CategoryID, m.Description, m.UpdatedAt)
}

func (t *txn) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	w := movementWhere(f)
	rows, err := t.tx.Query(ctx, `SELECT `+movementColumns+` FROM movements`+w.String()+` ORDER BY occurred_at, created_at`, w.args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *txn) SumMovements(ctx context.Context, f ledger.MovementFilter) (ledger.MovementTotals, error) {
	w := movementWhere(f)
	var totals ledger.MovementTotals
	err := t.tx.QueryRow(ctx, `SELECT
    COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0),
    COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0)
FROM movements`+w.String(), w.args...).Scan(&totals.Income, &totals.Expense)
	if err != nil {
		return ledger.MovementTotals{}, translate(err)
	}
	return totals, nil
}

func (t *txn) DeleteMovements(ctx context.Context, f ledger.MovementFilter) (int, error) {
	w := movementWhere(f)
	n, err := t.exec(ctx, `DELETE FROM movements`+w.String(), w.args...)
	return int(n), err
}

// contributions

const contributionColumns = `id, household_id, period_id, member_id, year, month, expected_amount, paid_amount,
credited_surplus, status, created_at, updated_at`

func scanContribution(row pgx.Row) (ledger.Contribution, error) {
	var c ledger.Contribution
	err := row.Scan(&c.ID, &c.HouseholdID, &c.PeriodID, &c.MemberID, &c.Year, &c.Month, &c.ExpectedAmount,
		&c.PaidAmount, &c.CreditedSurplus, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (t *txn) InsertContribution(ctx context.Context, c ledger.Contribution) error {
	_, err := t.exec(ctx, `INSERT INTO contributions (`+contributionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.HouseholdID, c.PeriodID, c.MemberID, c.Year, c.Month, c.ExpectedAmount, c.PaidAmount,
		c.CreditedSurplus, string(c.Status), c.CreatedAt, c.UpdatedAt)
	return err
}

func (t *txn) getContribution(ctx context.Context, suffix string, args ...any) (ledger.Contribution, error) {
	c, err := scanContribution(t.tx.QueryRow(ctx, `SELECT `+contributionColumns+` FROM contributions `+suffix, args...))
	if err != nil {
		return ledger.Contribution{}, notFound(err)
	}
	return c, nil
}

func (t *txn) GetContribution(ctx context.Context, householdID, id uuid.UUID) (ledger.Contribution, error) {
	return t.getContribution(ctx, `WHERE household_id = $1 AND id = $2`, householdID, id)
}

func (t *txn) GetContributionForUpdate(ctx context.Context, householdID, id uuid.UUID) (ledger.Contribution, error) {
	return t.getContribution(ctx, `WHERE household_id = $1 AND id = $2 FOR UPDATE`, householdID, id)
}

func (t *txn) FindContributionForUpdate(ctx context.Context, periodID, memberID uuid.UUID) (ledger.Contribution, error) {
	return t.getContribution(ctx, `WHERE period_id = $1 AND member_id = $2 FOR UPDATE`, periodID, memberID)
}

func (t *txn) ListContributions(ctx context.Context, periodID uuid.UUID) ([]ledger.Contribution, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE period_id = $1 ORDER BY member_id::text`, periodID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []ledger.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txn) UpdateContribution(ctx context.Context, c ledger.Contribution) error {
	return t.execOne(ctx, `UPDATE contributions SET expected_amount = $3, paid_amount = $4, credited_surplus = $5,
    status = $6, updated_at = $7
WHERE household_id = $1 AND id = $2`,
		c.HouseholdID, c.ID, c.ExpectedAmount, c.PaidAmount, c.CreditedSurplus, string(c.Status), c.UpdatedAt)
}

// credits

const creditColumns = `id, household_id, member_id, amount, source_year, source_month, source_contribution_id,
status, reserved_year, reserved_month, applied_to_contribution_id, created_at, resolved_at`

func scanCredit(row pgx.Row) (ledger.Credit, error) {
	var (
		c             ledger.Credit
		reservedYear  *int
		reservedMonth *int
	)
	err := row.Scan(&c.ID, &c.HouseholdID, &c.MemberID, &c.Amount, &c.SourceYear, &c.SourceMonth, &c.SourceContributionID,
		&c.Status, &reservedYear, &reservedMonth, &c.AppliedToContributionID, &c.CreatedAt, &c.ResolvedAt)
	if err != nil {
		return ledger.Credit{}, err
	}
	if reservedYear != nil && reservedMonth != nil {
		c.ReservedFor = &ledger.YearMonth{Year: *reservedYear, Month: *reservedMonth}
	}
	return c, nil
}

func reservedParts(c ledger.Credit) (*int, *int) {
	if c.ReservedFor == nil {
		return nil, nil
	}
	y, m := c.ReservedFor.Year, c.ReservedFor.Month
	return &y, &m
}

func creditWhere(f ledger.CreditFilter) *where {
	w := &where{}
	w.add("household_id = ?", f.HouseholdID)
	if f.MemberID != nil {
		w.add("member_id = ?", *f.MemberID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(?)", statuses)
	}
	if f.Source != nil {
		w.add("source_year = ?", f.Source.Year)
		w.add("source_month = ?", f.Source.Month)
	}
	if f.SourceContributionID != nil {
		w.add("source_contribution_id = ?", *f.SourceContributionID)
	}
	if f.AppliedToContributionID != nil {
		w.add("applied_to_contribution_id = ?", *f.AppliedToContributionID)
	}
	return w
}

func (t *txn) InsertCredit(ctx context.Context, c ledger.Credit) error {
	year, month := reservedParts(c)
	_, err := t.exec(ctx, `INSERT INTO credits (`+creditColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.HouseholdID, c.MemberID, c.Amount, c.SourceYear, c.SourceMonth, c.SourceContributionID,
		string(c.Status), year, month, c.AppliedToContributionID, c.CreatedAt, c.ResolvedAt)
	return err
}

func (t *txn) GetCreditForUpdate(ctx context.Context, householdID, id uuid.UUID) (ledger.Credit, error) {
	c, err := scanCredit(t.tx.QueryRow(ctx, `SELECT `+creditColumns+` FROM credits
WHERE household_id = $1 AND id = $2 FOR UPDATE`, householdID, id))
	if err != nil {
		return ledger.Credit{}, notFound(err)
	}
	return c, nil
}

func (t *txn) ListCredits(ctx context.Context, f ledger.CreditFilter) ([]ledger.Credit, error) {
	w := creditWhere(f)
	rows, err := t.tx.Query(ctx, `SELECT `+creditColumns+` FROM credits`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []ledger.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txn) UpdateCredit(ctx context.Context, c ledger.Credit) error {
	year, month := reservedParts(c)
	return t.execOne(ctx, `UPDATE credits SET status = $3, reserved_year = $4, reserved_month = $5,
    applied_to_contribution_id = $6, resolved_at = $7, source_contribution_id = $8
WHERE household_id = $1 AND id = $2`,
		c.HouseholdID, c.ID, string(c.Status), year, month, c.AppliedToContributionID, c.ResolvedAt, c.SourceContributionID)
}

func (t *txn) DeleteCredits(ctx context.Context, f ledger.CreditFilter) (int, error) {
	w := creditWhere(f)
	n, err := t.exec(ctx, `DELETE FROM credits`+w.String(), w.args...)
	return int(n), err
}

func (t *txn) InsertSavingsDeposit(ctx context.Context, d ledger.SavingsDeposit) error {
	_, err := t.exec(ctx, `INSERT INTO savings_deposits (id, household_id, member_id, credit_id, amount, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.HouseholdID, d.MemberID, d.CreditID, d.Amount, d.Note, d.CreatedAt)
	return err
}

func (t *txn) SumSavings(ctx context.Context, householdID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM savings_deposits WHERE household_id = $1`, householdID).Scan(&total)
	if err != nil {
		return decimal.Zero, translate(err)
	}
	return total, nil
}

// loans

const loanColumns = `id, household_id, requester_id, amount, notes, status, movement_id, decided_by,
rejection_reason, requested_at, decided_at`

func scanLoan(row pgx.Row) (ledger.Loan, error) {
	var l ledger.Loan
	err := row.Scan(&l.ID, &l.HouseholdID, &l.RequesterID, &l.Amount, &l.Notes, &l.Status, &l.MovementID, &l.DecidedBy,
		&l.RejectionReason, &l.RequestedAt, &l.DecidedAt)
	return l, err
}

func (t *txn) InsertLoan(ctx context.Context, l ledger.Loan) error {
	_, err := t.exec(ctx, `INSERT INTO loans (`+loanColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.HouseholdID, l.RequesterID, l.Amount, l.Notes, string(l.Status), l.MovementID, l.DecidedBy,
		l.RejectionReason, l.RequestedAt, l.DecidedAt)
	return err
}

func (t *txn) GetLoanForUpdate(ctx context.Context, householdID, id uuid.UUID) (ledger.Loan, error) {
	l, err := scanLoan(t.tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans
WHERE household_id = $1 AND id = $2 FOR UPDATE`, householdID, id))
	if err != nil {
		return ledger.Loan{}, notFound(err)
	}
	return l, nil
}

func (t *txn) ListLoans(ctx context.Context, f ledger.LoanFilter) ([]ledger.Loan, error) {
	w := &where{}
	w.add("household_id = ?", f.HouseholdID)
	if f.RequesterID != nil {
		w.add("requester_id = ?", *f.RequesterID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(?)", statuses)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+loanColumns+` FROM loans`+w.String()+` ORDER BY requested_at, id`, w.args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []ledger.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txn) UpdateLoan(ctx context.Context, l ledger.Loan) error {
	return t.execOne(ctx, `UPDATE loans SET status = $3, movement_id = $4, decided_by = $5, rejection_reason = $6, decided_at = $7
WHERE household_id = $1 AND id = $2`,
		l.HouseholdID, l.ID, string(l.Status), l.MovementID, l.DecidedBy, l.RejectionReason, l.DecidedAt)
}

// adjustments

const adjustmentColumns = `id, household_id, contribution_id, period_id, requester_id, kind, amount, reason,
category_id, occurred_at, status, expense_movement_id, income_movement_id, decided_by, rejection_reason,
created_at, decided_at`

func scanAdjustment(row pgx.Row) (ledger.Adjustment, error) {
	var a ledger.Adjustment
	err := row.Scan(&a.ID, &a.HouseholdID, &a.ContributionID, &a.PeriodID, &a.RequesterID, &a.Kind, &a.Amount, &a.Reason,
		&a.CategoryID, &a.OccurredAt, &a.Status, &a.ExpenseMovementID, &a.IncomeMovementID, &a.DecidedBy,
		&a.RejectionReason, &a.CreatedAt, &a.DecidedAt)
	return a, err
}

func (t *txn) InsertAdjustment(ctx context.Context, a ledger.Adjustment) error {
	_, err := t.exec(ctx, `INSERT INTO adjustments (`+adjustmentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.HouseholdID, a.ContributionID, a.PeriodID, a.RequesterID, string(a.Kind), a.Amount, a.Reason,
		a.CategoryID, a.OccurredAt, string(a.Status), a.ExpenseMovementID, a.IncomeMovementID, a.DecidedBy,
		a.RejectionReason, a.CreatedAt, a.DecidedAt)
	return err
}

func (t *txn) GetAdjustmentForUpdate(ctx context.Context, householdID, id uuid.UUID) (ledger.Adjustment, error) {
	a, err := scanAdjustment(t.tx.QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM adjustments
WHERE household_id = $1 AND id = $2 FOR UPDATE`, householdID, id))
	if err != nil {
		return ledger.Adjustment{}, notFound(err)
	}
	return a, nil
}

func (t *txn) ListAdjustments(ctx context.Context, f ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	w := &where{}
	w.add("household_id = ?", f.HouseholdID)
	if f.PeriodID != nil {
		w.add("period_id = ?", *f.PeriodID)
	}
	if f.ContributionID != nil {
		w.add("contribution_id = ?", *f.ContributionID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(?)", statuses)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+adjustmentColumns+` FROM adjustments`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []ledger.Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *txn) UpdateAdjustment(ctx context.Context, a ledger.Adjustment) error {
	return t.execOne(ctx, `UPDATE adjustments SET status = $3, category_id = $4, expense_movement_id = $5,
    income_movement_id = $6, decided_by = $7, rejection_reason = $8, decided_at = $9
WHERE household_id = $1 AND id = $2`,
		a.HouseholdID, a.ID, string(a.Status), a.CategoryID, a.ExpenseMovementID, a.IncomeMovementID,
		a.DecidedBy, a.RejectionReason, a.DecidedAt)
}
