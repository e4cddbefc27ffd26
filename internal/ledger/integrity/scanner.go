// Package integrity re-derives settlement figures and reports where stored state disagrees.
package integrity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearth-finance/hearth/internal/ledger"
	"github.com/hearth-finance/hearth/internal/ledger/balance"
	"github.com/hearth-finance/hearth/internal/ledger/contributions"
	"github.com/hearth-finance/hearth/internal/ledger/credits"
)

// Finding kinds.
const (
	KindNegativeFree  = "negative_free_balance"
	KindBalanceDrift  = "balance_identity"
	KindPaidDrift     = "paid_drift"
	KindCreditsUneven = "credit_conservation"
)

// Finding is one detected inconsistency.
type Finding struct {
	HouseholdID    uuid.UUID  `json:"household_id"`
	Kind           string     `json:"kind"`
	Period         string     `json:"period,omitempty"`
	ContributionID *uuid.UUID `json:"contribution_id,omitempty"`
	Detail         string     `json:"detail"`
}

// Report summarises a scan.
type Report struct {
	Households int       `json:"households"`
	Periods    int       `json:"periods"`
	Findings   []Finding `json:"findings"`
}

// Scanner walks households through the store.
type Scanner struct {
	store ledger.Store
}

// NewScanner constructs a scanner.
func NewScanner(store ledger.Store) *Scanner {
	return &Scanner{store: store}
}

// Scan checks the given households, or every known household when none are given. Each household
// is read in its own transaction.
func (s *Scanner) Scan(ctx context.Context, households ...uuid.UUID) (Report, error) {
	if len(households) == 0 {
		err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			var err error
			households, err = tx.ListHouseholds(ctx)
			return err
		})
		if err != nil {
			return Report{}, fmt.Errorf("integrity: list households: %w", err)
		}
	}
	var report Report
	for _, hh := range households {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var (
			findings []Finding
			periods  int
		)
		err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			var err error
			findings, periods, err = ScanHousehold(ctx, tx, hh)
			return err
		})
		if err != nil {
			return report, fmt.Errorf("integrity: household %s: %w", hh, err)
		}
		report.Households++
		report.Periods += periods
		report.Findings = append(report.Findings, findings...)
	}
	return report, nil
}

// ScanHousehold runs every check for one household inside tx.
func ScanHousehold(ctx context.Context, tx ledger.Tx, householdID uuid.UUID) ([]Finding, int, error) {
	var out []Finding
	all, err := balance.Compute(ctx, tx, householdID, nil)
	if err != nil {
		return nil, 0, err
	}
	out = append(out, breakdownFindings(all)...)

	periods, err := tx.ListPeriods(ctx, householdID)
	if err != nil {
		return nil, 0, fmt.Errorf("list periods: %w", err)
	}
	for _, p := range periods {
		lines, err := contributions.ReconcilePeriod(ctx, tx, p.ID)
		if err != nil {
			return nil, 0, err
		}
		for _, l := range lines {
			if !l.Drift {
				continue
			}
			id := l.ContributionID
			out = append(out, Finding{
				HouseholdID:    householdID,
				Kind:           KindPaidDrift,
				Period:         p.Key(),
				ContributionID: &id,
				Detail:         fmt.Sprintf("stored paid %s, derived %s", l.Stored.StringFixed(2), l.Derived.StringFixed(2)),
			})
		}
	}

	cons, err := credits.CheckConservation(ctx, tx, householdID)
	if err != nil {
		return nil, 0, err
	}
	if !cons.Balanced {
		out = append(out, Finding{
			HouseholdID: householdID,
			Kind:        KindCreditsUneven,
			Detail: fmt.Sprintf("banked surplus %s != issued credits %s across %d contributions",
				cons.Banked.StringFixed(2), cons.Issued.StringFixed(2), len(cons.Mismatched)),
		})
	}
	return out, len(periods), nil
}

func breakdownFindings(b balance.Breakdown) []Finding {
	var out []Finding
	if b.Free.LessThan(ledger.Tolerance.Neg()) {
		out = append(out, Finding{
			HouseholdID: b.HouseholdID,
			Kind:        KindNegativeFree,
			Detail:      fmt.Sprintf("free balance %s", b.Free.StringFixed(2)),
		})
	}
	if !ledger.ApproxEqual(b.Total, ledger.Sum(b.Free, b.ActiveCredits, b.ReservedCredits, b.Savings)) {
		out = append(out, Finding{
			HouseholdID: b.HouseholdID,
			Kind:        KindBalanceDrift,
			Detail:      "total does not equal free plus credits plus savings",
		})
	}
	return out
}
