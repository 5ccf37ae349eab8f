package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/torvus-security/torvus-console/internal/config"
	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/events"
	"github.com/torvus-security/torvus-console/internal/observability"
	"github.com/torvus-security/torvus-console/internal/repository"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

const dualControlComponent = "dual-control store"

// ActionRunner performs the side effect of an executed dual-control request.
type ActionRunner interface {
	// ValidatePayload rejects malformed payloads before a request is stored.
	ValidatePayload(payload json.RawMessage) error
	// Run applies the action. An error rolls the request back to approved.
	Run(ctx context.Context, req domain.DualControlRequest, executorID string) error
}

// DualControlService enforces the two-person rule for privileged actions.
type DualControlService struct {
	repo         repository.DualControlRepository
	dispatcher   events.Dispatcher
	metrics      *observability.Metrics
	logger       *zap.Logger
	expiry       time.Duration
	storeTimeout time.Duration
	now          func() time.Time
	locks        *keyedMutex

	mu      sync.RWMutex
	actions map[string]ActionRunner
}

// DualControlDependencies bundles collaborators for the workflow.
type DualControlDependencies struct {
	Repo       repository.DualControlRepository
	Dispatcher events.Dispatcher
	Config     config.DualControlConfig
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// CreateDualControlInput describes a new request.
type CreateDualControlInput struct {
	ActionKey     string
	Payload       json.RawMessage
	RequestedBy   string
	CorrelationID string
}

// DualControlFilter describes listing filters.
type DualControlFilter struct {
	Status      *domain.DualControlStatus
	ActionKey   *string
	RequestedBy *string
	Limit       int
	Offset      int
}

// NewDualControlService constructs the workflow.
func NewDualControlService(deps DualControlDependencies) *DualControlService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DualControlService{
		repo:         deps.Repo,
		dispatcher:   deps.Dispatcher,
		metrics:      deps.Metrics,
		logger:       logger,
		expiry:       deps.Config.Expiry(),
		storeTimeout: deps.Config.StoreTimeout(),
		now:          clock,
		locks:        newKeyedMutex(),
		actions:      make(map[string]ActionRunner),
	}
}

// RegisterAction binds an action key to its runner. Requests can only be
// created for registered keys.
func (s *DualControlService) RegisterAction(key string, runner ActionRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[strings.TrimSpace(key)] = runner
}

// ActionKeys lists the registered action keys.
func (s *DualControlService) ActionKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{}, len(s.actions))
	for k := range s.actions {
		set[k] = struct{}{}
	}
	return sortedKeys(set)
}

func (s *DualControlService) action(key string) (ActionRunner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runner, ok := s.actions[key]
	return runner, ok
}

// Create stores a new request, or returns the existing one for the same
// action key and correlation id.
func (s *DualControlService) Create(ctx context.Context, input CreateDualControlInput) (*domain.DualControlRequest, error) {
	if s.repo == nil {
		return nil, apperrors.NewConfigurationMissing(dualControlComponent)
	}
	actionKey := strings.TrimSpace(input.ActionKey)
	requestedBy := strings.TrimSpace(input.RequestedBy)
	correlationID := strings.TrimSpace(input.CorrelationID)
	if actionKey == "" || requestedBy == "" || correlationID == "" {
		return nil, apperrors.NewValidationError("action_key, requested_by and correlation_id are required", nil)
	}
	runner, ok := s.action(actionKey)
	if !ok {
		return nil, apperrors.NewValidationError("unknown action", map[string]any{"action_key": actionKey})
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	// a retry of an earlier create returns the original request as stored
	existing, err := s.repo.GetByCorrelation(ctx, actionKey, correlationID)
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNoRows(err) {
		return nil, s.storeError(err)
	}

	payload := input.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return nil, apperrors.NewValidationError("payload must be valid JSON", nil)
	}
	if err := runner.ValidatePayload(payload); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &domain.DualControlRequest{
		ID:            uuid.NewString(),
		ActionKey:     actionKey,
		Payload:       payload,
		CorrelationID: correlationID,
		RequestedBy:   requestedBy,
		Status:        domain.DualControlRequested,
		RequestedAt:   now,
		ExpiresAt:     now.Add(s.expiry),
	}

	stored, created, err := s.repo.CreateOrGet(ctx, req)
	if err != nil {
		return nil, s.storeError(err)
	}
	if created {
		s.metrics.RecordTransition(string(domain.DualControlRequested))
		s.publish(ctx, events.EventDualControlRequested, stored, requestedBy, nil)
		s.logger.Info("dual-control requested",
			zap.String("id", stored.ID),
			zap.String("action_key", stored.ActionKey),
			zap.String("requested_by", stored.RequestedBy))
	}
	return stored, nil
}

// Get returns one request by id.
func (s *DualControlService) Get(ctx context.Context, id string) (*domain.DualControlRequest, error) {
	if s.repo == nil {
		return nil, apperrors.NewConfigurationMissing(dualControlComponent)
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.load(ctx, id)
}

// List returns requests newest first.
func (s *DualControlService) List(ctx context.Context, filter DualControlFilter) ([]domain.DualControlRequest, error) {
	if s.repo == nil {
		return nil, apperrors.NewConfigurationMissing(dualControlComponent)
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	items, err := s.repo.List(ctx, repository.DualControlFilter{
		Status:      filter.Status,
		ActionKey:   filter.ActionKey,
		RequestedBy: filter.RequestedBy,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	})
	if err != nil {
		return nil, s.storeError(err)
	}
	if items == nil {
		items = []domain.DualControlRequest{}
	}
	return items, nil
}

// Approve records the second person's consent. The approver must differ
// from the requester.
func (s *DualControlService) Approve(ctx context.Context, id, approverID string) (*domain.DualControlRequest, error) {
	if s.repo == nil {
		return nil, apperrors.NewConfigurationMissing(dualControlComponent)
	}
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, apperrors.NewValidationError("approver is required", nil)
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if approverID == req.RequestedBy {
		return nil, apperrors.NewInvalidActor("approver must differ from requester", map[string]any{"id": req.ID})
	}
	if req.Lapsed(s.now()) {
		return nil, s.expire(ctx, req)
	}
	if req.Status != domain.DualControlRequested {
		return nil, invalidTransition(req, domain.DualControlApproved)
	}

	now := s.now().UTC()
	next := req.Copy()
	next.Status = domain.DualControlApproved
	next.ApprovedBy = &approverID
	next.ApprovedAt = &now
	if err := s.swap(ctx, req, next); err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(domain.DualControlApproved))
	s.publish(ctx, events.EventDualControlApproved, next, approverID, nil)
	return next, nil
}

// Execute runs an approved request. Executing an executed request returns
// it unchanged. The executor must differ from the approver.
func (s *DualControlService) Execute(ctx context.Context, id, executorID string) (*domain.DualControlRequest, error) {
	if s.repo == nil {
		return nil, apperrors.NewConfigurationMissing(dualControlComponent)
	}
	executorID = strings.TrimSpace(executorID)
	if executorID == "" {
		return nil, apperrors.NewValidationError("executor is required", nil)
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == domain.DualControlExecuted {
		return req, nil
	}
	// another instance may have executed through the correlation pair
	current, err := s.repo.GetByCorrelation(ctx, req.ActionKey, req.CorrelationID)
	if err != nil {
		return nil, s.storeError(err)
	}
	if current.Status == domain.DualControlExecuted {
		return current, nil
	}
	req = current

	if req.Lapsed(s.now()) {
		return nil, s.expire(ctx, req)
	}
	if req.Status != domain.DualControlApproved {
		return nil, invalidTransition(req, domain.DualControlExecuted)
	}
	if req.ApprovedBy == nil || executorID == *req.ApprovedBy {
		return nil, apperrors.NewInvalidActor("executor must differ from approver", map[string]any{"id": req.ID})
	}

	runner, ok := s.action(req.ActionKey)
	if !ok {
		return nil, apperrors.NewInvalidState("no runner registered for action", map[string]any{"action_key": req.ActionKey})
	}

	now := s.now().UTC()
	next := req.Copy()
	next.Status = domain.DualControlExecuted
	next.ExecutedBy = &executorID
	next.ExecutedAt = &now
	swapped, err := s.repo.CompareAndSwap(ctx, domain.DualControlApproved, next)
	if err != nil {
		return nil, s.storeError(err)
	}
	if !swapped {
		latest, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if latest.Status == domain.DualControlExecuted {
			return latest, nil
		}
		return nil, invalidTransition(latest, domain.DualControlExecuted)
	}

	if err := runner.Run(ctx, *next.Copy(), executorID); err != nil {
		s.compensate(ctx, req, next, err)
		return nil, err
	}

	s.metrics.RecordTransition(string(domain.DualControlExecuted))
	s.publish(ctx, events.EventDualControlExecuted, next, executorID, nil)
	s.logger.Info("dual-control executed",
		zap.String("id", next.ID),
		zap.String("action_key", next.ActionKey),
		zap.String("approved_by", *next.ApprovedBy),
		zap.String("executed_by", executorID))
	return next, nil
}

// Reject closes a pending or approved request.
func (s *DualControlService) Reject(ctx context.Context, id, actorID, reason string) (*domain.DualControlRequest, error) {
	if s.repo == nil {
		return nil, apperrors.NewConfigurationMissing(dualControlComponent)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, apperrors.NewValidationError("actor is required", nil)
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Lapsed(s.now()) {
		return nil, s.expire(ctx, req)
	}
	if !req.Status.CanTransition(domain.DualControlRejected) {
		return nil, invalidTransition(req, domain.DualControlRejected)
	}

	now := s.now().UTC()
	next := req.Copy()
	next.Status = domain.DualControlRejected
	next.RejectedBy = &actorID
	next.RejectedAt = &now
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		next.RejectReason = &trimmed
	}
	if err := s.swap(ctx, req, next); err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(domain.DualControlRejected))
	s.publish(ctx, events.EventDualControlRejected, next, actorID, next.RejectReason)
	return next, nil
}

// ExpireStale moves every lapsed request to expired.
func (s *DualControlService) ExpireStale(ctx context.Context) ([]domain.DualControlRequest, error) {
	if s.repo == nil {
		return nil, apperrors.NewConfigurationMissing(dualControlComponent)
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	expired, err := s.repo.ExpireStale(ctx, s.now())
	if err != nil {
		return nil, s.storeError(err)
	}
	for i := range expired {
		s.metrics.RecordTransition(string(domain.DualControlExpired))
		s.publish(ctx, events.EventDualControlExpired, &expired[i], "system", nil)
	}
	return expired, nil
}

func (s *DualControlService) load(ctx context.Context, id string) (*domain.DualControlRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if apperrors.IsNoRows(err) {
			return nil, apperrors.NewNotFound("dual-control request", map[string]any{"id": id})
		}
		return nil, s.storeError(err)
	}
	return req, nil
}

func (s *DualControlService) swap(ctx context.Context, current, next *domain.DualControlRequest) error {
	swapped, err := s.repo.CompareAndSwap(ctx, current.Status, next)
	if err != nil {
		return s.storeError(err)
	}
	if !swapped {
		latest, err := s.load(ctx, current.ID)
		if err != nil {
			return err
		}
		return invalidTransition(latest, next.Status)
	}
	return nil
}

func (s *DualControlService) expire(ctx context.Context, req *domain.DualControlRequest) error {
	next := req.Copy()
	next.Status = domain.DualControlExpired
	swapped, err := s.repo.CompareAndSwap(ctx, req.Status, next)
	if err != nil {
		return s.storeError(err)
	}
	if swapped {
		s.metrics.RecordTransition(string(domain.DualControlExpired))
		s.publish(ctx, events.EventDualControlExpired, next, "system", nil)
	}
	return apperrors.NewInvalidState("request expired", map[string]any{"id": req.ID, "status": domain.DualControlExpired})
}

// compensate reverts executed to approved after a failed action so the
// request can be retried.
func (s *DualControlService) compensate(ctx context.Context, approved, executed *domain.DualControlRequest, cause error) {
	if !executed.Status.CanCompensate(approved.Status) {
		s.logger.Error("dual-control compensation not permitted",
			zap.String("id", executed.ID),
			zap.String("from", string(executed.Status)),
			zap.String("to", string(approved.Status)),
			zap.NamedError("action_error", cause))
		return
	}
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	swapped, err := s.repo.CompareAndSwap(rollbackCtx, domain.DualControlExecuted, approved)
	if err != nil || !swapped {
		s.logger.Error("dual-control compensation failed",
			zap.String("id", executed.ID),
			zap.NamedError("action_error", cause),
			zap.Error(err))
		return
	}
	s.logger.Warn("dual-control action failed; request returned to approved",
		zap.String("id", executed.ID),
		zap.String("action_key", executed.ActionKey),
		zap.Error(cause))
}

func (s *DualControlService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *DualControlService) storeError(err error) error {
	if apperrors.IsTransient(err) {
		return apperrors.NewTransientBackend(dualControlComponent, err)
	}
	return err
}

func (s *DualControlService) publish(ctx context.Context, eventType events.EventType, req *domain.DualControlRequest, actor string, reason *string) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TargetType: "dual_control_request",
		TargetID:   req.ID,
		Actor:      actor,
		Timestamp:  s.now().UTC(),
		Payload: events.DualControlPayload{
			ActionKey:     req.ActionKey,
			CorrelationID: req.CorrelationID,
			Status:        string(req.Status),
			Reason:        reason,
		},
	})
}

func invalidTransition(req *domain.DualControlRequest, to domain.DualControlStatus) error {
	return apperrors.NewInvalidState("request is "+string(req.Status), map[string]any{
		"id":     req.ID,
		"status": req.Status,
		"target": to,
	})
}
