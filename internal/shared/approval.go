package shared

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
	// ApprovalCancel marks a requester withdrawal.
	ApprovalCancel ApprovalAction = "CANCEL"
)

// ApprovalLog represents a single approval record.
type ApprovalLog struct {
	ID          int64
	HouseholdID uuid.UUID
	Module      string
	RefID       uuid.UUID
	ActorID     uuid.UUID
	Action      ApprovalAction
	Note        string
	At          time.Time
}

func (log ApprovalLog) validate() error {
	if log.Module == "" {
		return errors.New("approval module required")
	}
	if log.ActorID == uuid.Nil {
		return errors.New("approval actor required")
	}
	if log.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	return nil
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes approval entry to database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.pool == nil {
		return ErrNotInitialised
	}
	if err := log.validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (household_id, module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.HouseholdID, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err), slog.String("module", log.Module))
		return err
	}
	return nil
}

// List returns approvals for module/ref.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil || r.pool == nil {
		return nil, ErrNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT id, household_id, module, ref_id, actor_id, action, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at ASC, id ASC`, module, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.HouseholdID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// MemoryApprovals keeps approval history in memory.
type MemoryApprovals struct {
	mu   sync.Mutex
	seq  int64
	logs []ApprovalLog
}

// NewMemoryApprovals constructs an empty history.
func NewMemoryApprovals() *MemoryApprovals {
	return &MemoryApprovals{}
}

// Record appends the entry.
func (m *MemoryApprovals) Record(_ context.Context, log ApprovalLog) error {
	if err := log.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	log.ID = m.seq
	if log.At.IsZero() {
		log.At = time.Now()
	}
	m.logs = append(m.logs, log)
	return nil
}

// List returns approvals for module/ref in insertion order.
func (m *MemoryApprovals) List(_ context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ApprovalLog
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}
