package shared

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	HouseholdID uuid.UUID
	ActorID     uuid.UUID
	Action      string
	Entity      string
	EntityID    string
	Meta        map[string]any
	At          time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return ErrNotInitialised
	}
	if err := log.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (household_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.HouseholdID, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

func (log AuditLog) validate() error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.HouseholdID == uuid.Nil {
		return errors.New("audit log requires household")
	}
	return nil
}

// MemoryAuditLog keeps audit records in memory. Used by the memory backend and tests.
type MemoryAuditLog struct {
	mu   sync.Mutex
	logs []AuditLog
}

// NewMemoryAuditLog constructs an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Record appends the entry.
func (m *MemoryAuditLog) Record(_ context.Context, log AuditLog) error {
	if err := log.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

// Entries returns a copy of every recorded entry.
func (m *MemoryAuditLog) Entries() []AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditLog(nil), m.logs...)
}
