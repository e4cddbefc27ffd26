package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-finance/hearth/internal/ledger"
)

// EnsureOpenFor rejects a movement dated inside a closed or locked period. The period checked
// is the one the date falls into, not whichever period the caller has selected. Dates in months
// without a period are accepted.
func EnsureOpenFor(ctx context.Context, tx ledger.Tx, householdID uuid.UUID, at time.Time) error {
	ym := ledger.YearMonthOf(at)
	period, err := tx.FindPeriod(ctx, householdID, ym)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !period.AcceptsMovements() {
		reason := "closed"
		if period.Phase != ledger.PhaseClosed {
			reason = "locked"
		}
		return ledger.Wrap(ledger.KindStateConflict, fmt.Sprintf("period %s is %s", period.Key(), reason), ledger.ErrPeriodClosed)
	}
	return nil
}
