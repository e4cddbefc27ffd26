package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSettlementIntegrity re-derives settlement figures and reports drift.
	TaskSettlementIntegrity = "settlement:integrity"
)

// IntegrityPayload scopes an integrity scan. No household ids means every household.
type IntegrityPayload struct {
	HouseholdIDs []uuid.UUID `json:"household_ids,omitempty"`
	PeriodID     *uuid.UUID  `json:"period_id,omitempty"`
	Reason       string      `json:"reason,omitempty"`
}

// NewIntegrityTask constructs an Asynq task.
func NewIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettlementIntegrity, data, asynq.MaxRetry(3)), nil
}
