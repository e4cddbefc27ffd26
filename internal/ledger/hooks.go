package ledger

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearth-finance/hearth/internal/shared"
)

// Event is a domain event published after commit.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type"`
	HouseholdID uuid.UUID      `json:"household_id"`
	ActorID     uuid.UUID      `json:"actor_id"`
	EntityID    uuid.UUID      `json:"entity_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Publisher delivers events to the broker. The routing key equals the event type.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event Event) error
}

// Invalidator drops cached projections for a household.
type Invalidator interface {
	Invalidate(ctx context.Context, householdID uuid.UUID) error
}

// AuditRecorder is satisfied by shared.AuditLogger.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalRecorder is satisfied by shared.ApprovalRecorder.
type ApprovalRecorder interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Hooks fans committed effects out to audit, approvals, events, and cache invalidation.
// Every sink is optional and failures are logged, never returned.
type Hooks struct {
	Audit     AuditRecorder
	Approvals ApprovalRecorder
	Events    Publisher
	Cache     Invalidator
	Logger    *slog.Logger
}

// Approval describes an approval-trail entry carried by an effect.
type Approval struct {
	Module string
	Action shared.ApprovalAction
	Note   string
}

// Effect is the committed outcome of one operation.
type Effect struct {
	Actor    Actor
	Action   string
	Entity   string
	EntityID uuid.UUID
	Meta     map[string]any
	Approval *Approval
	Events   []string
	At       time.Time
}

func (h Hooks) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// After runs every post-commit sink for the effect.
func (h Hooks) After(ctx context.Context, eff Effect) {
	log := h.logger()
	if eff.At.IsZero() {
		eff.At = time.Now()
	}
	if h.Cache != nil {
		if err := h.Cache.Invalidate(ctx, eff.Actor.HouseholdID); err != nil {
			log.Warn("invalidate balance cache", slog.Any("error", err), slog.String("household_id", eff.Actor.HouseholdID.String()))
		}
	}
	if h.Audit != nil && eff.Action != "" {
		err := h.Audit.Record(ctx, shared.AuditLog{
			HouseholdID: eff.Actor.HouseholdID,
			ActorID:     eff.Actor.MemberID,
			Action:      eff.Action,
			Entity:      eff.Entity,
			EntityID:    eff.EntityID.String(),
			Meta:        eff.Meta,
			At:          eff.At,
		})
		if err != nil {
			log.Warn("record audit", slog.Any("error", err), slog.String("action", eff.Action))
		}
	}
	if h.Approvals != nil && eff.Approval != nil {
		err := h.Approvals.Record(ctx, shared.ApprovalLog{
			HouseholdID: eff.Actor.HouseholdID,
			Module:      eff.Approval.Module,
			RefID:       eff.EntityID,
			ActorID:     eff.Actor.MemberID,
			Action:      eff.Approval.Action,
			Note:        eff.Approval.Note,
			At:          eff.At,
		})
		if err != nil {
			log.Warn("record approval", slog.Any("error", err), slog.String("module", eff.Approval.Module))
		}
	}
	if h.Events != nil {
		for _, key := range eff.Events {
			evt := Event{
				ID:          uuid.New(),
				Type:        key,
				HouseholdID: eff.Actor.HouseholdID,
				ActorID:     eff.Actor.MemberID,
				EntityID:    eff.EntityID,
				Payload:     eff.Meta,
				OccurredAt:  eff.At,
			}
			if err := h.Events.Publish(ctx, key, evt); err != nil {
				log.Warn("publish event", slog.Any("error", err), slog.String("routing_key", key))
			}
		}
	}
}

// Fail logs a failure at the operation boundary and converts it to a tagged failure.
// Persistence failures keep their cause in the log only.
func (h Hooks) Fail(op string, actor Actor, err error) error {
	f := AsFailure(err)
	if f == nil {
		return nil
	}
	if f.Kind == KindPersistence {
		h.logger().Error(op,
			slog.Any("error", err),
			slog.String("household_id", actor.HouseholdID.String()),
			slog.String("member_id", actor.MemberID.String()),
		)
	}
	return f
}

// Event routing keys.
const (
	EventPeriodCreated        = "period.created"
	EventPeriodPhaseChanged   = "period.phase_changed"
	EventPeriodDeleted        = "period.deleted"
	EventMovementRecorded     = "movement.recorded"
	EventContributionOverpaid = "contribution.overpaid"
	EventCreditApplied        = "credit.applied"
	EventCreditTransferred    = "credit.transferred"
	EventLoanRequested        = "loan.requested"
	EventLoanApproved         = "loan.approved"
	EventLoanRejected         = "loan.rejected"
	EventLoanRepaid           = "loan.repaid"
	EventAdjustmentRequested  = "adjustment.requested"
	EventAdjustmentApproved   = "adjustment.approved"
	EventAdjustmentRejected   = "adjustment.rejected"
	EventAdjustmentCancelled  = "adjustment.cancelled"
)
