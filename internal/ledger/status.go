package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PeriodPhase enumerates the period lifecycle.
type PeriodPhase string

const (
	PhasePreparing  PeriodPhase = "preparing"
	PhaseValidation PeriodPhase = "validation"
	PhaseActive     PeriodPhase = "active"
	PhaseClosed     PeriodPhase = "closed"
)

var phaseTransitions = map[PeriodPhase][]PeriodPhase{
	PhasePreparing:  {PhaseValidation},
	PhaseValidation: {PhaseActive, PhasePreparing},
	PhaseActive:     {PhaseClosed},
	PhaseClosed:     {PhaseActive},
}

// ParsePeriodPhase validates raw input.
func ParsePeriodPhase(raw string) (PeriodPhase, error) {
	p := PeriodPhase(raw)
	if _, ok := phaseTransitions[p]; !ok {
		return "", Validation("unknown period phase", map[string]string{"phase": raw})
	}
	return p, nil
}

// CanTransition reports whether next is a legal successor of p.
func (p PeriodPhase) CanTransition(next PeriodPhase) bool {
	for _, candidate := range phaseTransitions[p] {
		if candidate == next {
			return true
		}
	}
	return false
}

// PeriodStatus is orthogonal to the phase and blocks movements while locked.
type PeriodStatus string

const (
	PeriodStatusActive PeriodStatus = "active"
	PeriodStatusLocked PeriodStatus = "locked"
)

// CalculationPolicy selects how expected contributions are split.
type CalculationPolicy string

const (
	PolicyEqual        CalculationPolicy = "equal"
	PolicyProportional CalculationPolicy = "proportional"
)

// Valid reports whether the policy is known.
func (p CalculationPolicy) Valid() bool {
	return p == PolicyEqual || p == PolicyProportional
}

// ContributionStatus is derived from expected and paid amounts.
type ContributionStatus string

const (
	ContributionPending  ContributionStatus = "pending"
	ContributionPartial  ContributionStatus = "partial"
	ContributionPaid     ContributionStatus = "paid"
	ContributionOverpaid ContributionStatus = "overpaid"
)

// DeriveContributionStatus is a pure function of the two amounts. Zero paid is pending even
// when nothing is expected.
func DeriveContributionStatus(expected, paid decimal.Decimal) ContributionStatus {
	expected, paid = Round(expected), Round(paid)
	switch {
	case paid.Sign() <= 0:
		return ContributionPending
	case paid.LessThan(expected):
		return ContributionPartial
	case paid.Equal(expected):
		return ContributionPaid
	default:
		return ContributionOverpaid
	}
}

// MovementType distinguishes money in from money out.
type MovementType string

const (
	MovementIncome  MovementType = "income"
	MovementExpense MovementType = "expense"
)

// Valid reports whether the type is known.
func (t MovementType) Valid() bool {
	return t == MovementIncome || t == MovementExpense
}

// MovementFlow distinguishes the shared pool from personal flows.
type MovementFlow string

const (
	FlowCommon MovementFlow = "common"
	FlowDirect MovementFlow = "direct"
)

// Valid reports whether the flow is known.
func (f MovementFlow) Valid() bool {
	return f == FlowCommon || f == FlowDirect
}

// MovementSource records which workflow produced a movement.
type MovementSource string

const (
	SourceManual     MovementSource = "manual"
	SourceAdjustment MovementSource = "adjustment"
	SourceLoan       MovementSource = "loan"
	SourceRepayment  MovementSource = "repayment"
)

// CreditStatus is terminal once applied or transferred.
type CreditStatus string

const (
	CreditActive      CreditStatus = "active"
	CreditApplied     CreditStatus = "applied"
	CreditTransferred CreditStatus = "transferred"
)

// Apply moves an active credit to applied.
func (s CreditStatus) Apply() (CreditStatus, error) {
	if s != CreditActive {
		return s, transitionError("credit", string(s), string(CreditApplied))
	}
	return CreditApplied, nil
}

// Transfer moves an active credit to transferred.
func (s CreditStatus) Transfer() (CreditStatus, error) {
	if s != CreditActive {
		return s, transitionError("credit", string(s), string(CreditTransferred))
	}
	return CreditTransferred, nil
}

// LoanStatus is the stored loan state. Repayment progress is derived separately.
type LoanStatus string

const (
	LoanPending  LoanStatus = "pending"
	LoanApproved LoanStatus = "approved"
	LoanRejected LoanStatus = "rejected"
)

// Approve moves a pending loan to approved.
func (s LoanStatus) Approve() (LoanStatus, error) {
	if s != LoanPending {
		return s, transitionError("loan", string(s), string(LoanApproved))
	}
	return LoanApproved, nil
}

// Reject moves a pending loan to rejected.
func (s LoanStatus) Reject() (LoanStatus, error) {
	if s != LoanPending {
		return s, transitionError("loan", string(s), string(LoanRejected))
	}
	return LoanRejected, nil
}

// LoanDisplayStatus extends LoanStatus with repayment progress.
type LoanDisplayStatus string

const (
	LoanDisplayPending       LoanDisplayStatus = "pending"
	LoanDisplayApproved      LoanDisplayStatus = "approved"
	LoanDisplayRejected      LoanDisplayStatus = "rejected"
	LoanDisplayRepaidPartial LoanDisplayStatus = "repaid_partial"
	LoanDisplayRepaidFull    LoanDisplayStatus = "repaid_full"
)

// AdjustmentKind separates member prepayments from owner corrections.
type AdjustmentKind string

const (
	AdjustmentPrepayment AdjustmentKind = "prepayment"
	AdjustmentManual     AdjustmentKind = "manual"
)

// AdjustmentStatus is the adjustment workflow state.
type AdjustmentStatus string

const (
	AdjustmentPending   AdjustmentStatus = "pending"
	AdjustmentApproved  AdjustmentStatus = "approved"
	AdjustmentRejected  AdjustmentStatus = "rejected"
	AdjustmentCancelled AdjustmentStatus = "cancelled"
	AdjustmentLocked    AdjustmentStatus = "locked"
	AdjustmentActive    AdjustmentStatus = "active"
	AdjustmentApplied   AdjustmentStatus = "applied"
)

// Effective reports whether the adjustment counts toward paid amounts.
func (s AdjustmentStatus) Effective() bool {
	return s == AdjustmentApproved || s == AdjustmentActive || s == AdjustmentApplied
}

// Approve moves a pending adjustment to approved.
func (a Adjustment) Approve() (AdjustmentStatus, error) {
	if a.Status != AdjustmentPending {
		return a.Status, transitionError("adjustment", string(a.Status), string(AdjustmentApproved))
	}
	return AdjustmentApproved, nil
}

// Reject moves a pending adjustment to rejected.
func (a Adjustment) Reject() (AdjustmentStatus, error) {
	if a.Status != AdjustmentPending {
		return a.Status, transitionError("adjustment", string(a.Status), string(AdjustmentRejected))
	}
	return AdjustmentRejected, nil
}

// Cancel moves a pending adjustment to cancelled.
func (a Adjustment) Cancel() (AdjustmentStatus, error) {
	if a.Status != AdjustmentPending {
		return a.Status, transitionError("adjustment", string(a.Status), string(AdjustmentCancelled))
	}
	return AdjustmentCancelled, nil
}

// OnPeriodClose returns the status the adjustment takes when its period closes and whether it
// changed. Pending and unconsumed approvals lock; consumed approvals and active manual
// adjustments become applied.
func (a Adjustment) OnPeriodClose() (AdjustmentStatus, bool) {
	switch a.Status {
	case AdjustmentPending:
		return AdjustmentLocked, true
	case AdjustmentApproved:
		if a.HasMovements() {
			return AdjustmentApplied, true
		}
		return AdjustmentLocked, true
	case AdjustmentActive:
		return AdjustmentApplied, true
	default:
		return a.Status, false
	}
}

// OnPeriodReopen returns locked adjustments to pending.
func (a Adjustment) OnPeriodReopen() (AdjustmentStatus, bool) {
	if a.Status == AdjustmentLocked {
		return AdjustmentPending, true
	}
	return a.Status, false
}

func transitionError(entity, from, to string) error {
	return Wrap(KindStateConflict, fmt.Sprintf("%s cannot move from %s to %s", entity, from, to), ErrInvalidTransition)
}
