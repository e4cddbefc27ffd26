package jobs

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/hearth-finance/hearth/internal/ledger/periods"
)

// IntegrityEnqueuer is satisfied by Client.
type IntegrityEnqueuer interface {
	EnqueueIntegrity(ctx context.Context, payload IntegrityPayload, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CloseNotifier schedules an integrity scan of the household whenever a period closes.
type CloseNotifier struct {
	enqueuer IntegrityEnqueuer
	logger   *slog.Logger
}

var _ periods.CloseListener = (*CloseNotifier)(nil)

// NewCloseNotifier constructs the notifier.
func NewCloseNotifier(enqueuer IntegrityEnqueuer, logger *slog.Logger) *CloseNotifier {
	return &CloseNotifier{enqueuer: enqueuer, logger: logger}
}

// PeriodClosed implements periods.CloseListener.
func (n *CloseNotifier) PeriodClosed(ctx context.Context, householdID, periodID uuid.UUID) error {
	if n == nil || n.enqueuer == nil {
		return nil
	}
	info, err := n.enqueuer.EnqueueIntegrity(ctx, IntegrityPayload{
		HouseholdIDs: []uuid.UUID{householdID},
		PeriodID:     &periodID,
		Reason:       "period_closed",
	})
	if err != nil {
		return err
	}
	if n.logger != nil && info != nil {
		n.logger.Info("integrity scan scheduled",
			slog.String("task_id", info.ID),
			slog.String("household_id", householdID.String()),
			slog.String("period_id", periodID.String()),
		)
	}
	return nil
}
