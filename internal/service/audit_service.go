package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/events"
	"github.com/torvus-security/torvus-console/internal/repository"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

const auditComponent = "audit store"

// AuditService writes domain events to the append-only audit log.
type AuditService struct {
	repo       repository.AuditRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// AuditFilter describes audit listing filters.
type AuditFilter struct {
	Action   *string
	TargetID *string
	Actor    *string
	Since    *time.Time
	Limit    int
	Offset   int
}

// NewAuditService creates the service.
func NewAuditService(repo repository.AuditRepository, dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, t := range []events.EventType{
		events.EventDualControlRequested,
		events.EventDualControlApproved,
		events.EventDualControlExecuted,
		events.EventDualControlRejected,
		events.EventDualControlExpired,
		events.EventReadOnlyUpdated,
		events.EventAccessDenied,
		events.EventRoleGranted,
	} {
		a.dispatcher.Subscribe(t, a.record)
	}
}

// List returns audit events newest first.
func (a *AuditService) List(ctx context.Context, filter AuditFilter) ([]domain.AuditEvent, error) {
	if a.repo == nil {
		return nil, apperrors.NewConfigurationMissing(auditComponent)
	}
	items, err := a.repo.List(ctx, repository.AuditFilter{
		Action:   filter.Action,
		TargetID: filter.TargetID,
		Actor:    filter.Actor,
		Since:    filter.Since,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
	if err != nil {
		if apperrors.IsTransient(err) {
			return nil, apperrors.NewTransientBackend(auditComponent, err)
		}
		return nil, err
	}
	if items == nil {
		items = []domain.AuditEvent{}
	}
	return items, nil
}

func (a *AuditService) record(ctx context.Context, event events.Event) error {
	if a.repo == nil {
		a.logger.Warn("audit store not configured; event dropped", zap.String("event_type", string(event.Type)))
		return nil
	}
	var metadata json.RawMessage
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		metadata = raw
	}
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// audit writes must outlive a cancelled request
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := a.repo.Append(writeCtx, &domain.AuditEvent{
		ID:         id,
		Action:     string(event.Type),
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		Actor:      event.Actor,
		Metadata:   metadata,
		CreatedAt:  createdAt,
	}); err != nil {
		a.logger.Error("audit append failed",
			zap.String("event_type", string(event.Type)),
			zap.String("target_id", event.TargetID),
			zap.Error(err))
		return err
	}
	a.logger.Debug("audit recorded",
		zap.String("event_type", string(event.Type)),
		zap.String("target_id", event.TargetID),
		zap.String("actor", event.Actor))
	return nil
}
