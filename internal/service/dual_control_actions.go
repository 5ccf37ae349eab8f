package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/events"
	"github.com/torvus-security/torvus-console/internal/rbac"
	"github.com/torvus-security/torvus-console/internal/repository"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

// Built-in dual-control action keys.
const (
	ActionStaffRoleGrant  = "staff.role.grant"
	ActionBreakGlassGrant = "breakglass.grant"
)

// GateInvalidator drops cached gate evaluations after a role change.
type GateInvalidator interface {
	Invalidate(ctx context.Context, email string)
}

// RoleGrantActionDependencies bundles collaborators for the built-in actions.
type RoleGrantActionDependencies struct {
	Grants        repository.RoleGrantRepository
	Directory     repository.StaffDirectory
	Invalidator   GateInvalidator
	Dispatcher    events.Dispatcher
	BreakGlassMax time.Duration
	Clock         func() time.Time
}

type roleGrantPayload struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Role   string `json:"role" validate:"required,max=64"`
}

type breakGlassPayload struct {
	UserID          string `json:"user_id" validate:"required,uuid"`
	Role            string `json:"role" validate:"omitempty,max=64"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gte=1"`
}

// roleGrantAction writes a role membership when a grant request executes.
type roleGrantAction struct {
	deps       RoleGrantActionDependencies
	breakGlass bool
}

// RegisterRoleGrantActions installs staff.role.grant and breakglass.grant.
func RegisterRoleGrantActions(svc *DualControlService, deps RoleGrantActionDependencies) {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.BreakGlassMax <= 0 {
		deps.BreakGlassMax = 4 * time.Hour
	}
	svc.RegisterAction(ActionStaffRoleGrant, &roleGrantAction{deps: deps})
	svc.RegisterAction(ActionBreakGlassGrant, &roleGrantAction{deps: deps, breakGlass: true})
}

func (a *roleGrantAction) ValidatePayload(payload json.RawMessage) error {
	_, _, err := a.decode(payload)
	return err
}

func (a *roleGrantAction) Run(ctx context.Context, req domain.DualControlRequest, executorID string) error {
	if a.deps.Grants == nil {
		return apperrors.NewConfigurationMissing("role grant store")
	}
	membership, window, err := a.decode(req.Payload)
	if err != nil {
		return err
	}
	if a.breakGlass {
		if window <= 0 {
			return apperrors.NewValidationError("break-glass grant requires a positive window", nil)
		}
		// the window starts at execution, not at request time
		until := a.deps.Clock().UTC().Add(window)
		membership.ValidUntil = &until
	}

	if err := a.deps.Grants.GrantRole(ctx, membership, executorID); err != nil {
		if apperrors.IsTransient(err) {
			return apperrors.NewTransientBackend("role grant store", err)
		}
		return err
	}

	if a.deps.Directory != nil {
		identity, err := a.deps.Directory.GetIdentityByUserID(ctx, membership.UserID)
		if err == nil && a.deps.Invalidator != nil {
			a.deps.Invalidator.Invalidate(ctx, identity.Email)
		}
	}

	if a.deps.Dispatcher != nil {
		_ = a.deps.Dispatcher.Publish(ctx, events.Event{
			ID:         uuid.NewString(),
			Type:       events.EventRoleGranted,
			TargetType: "staff_member",
			TargetID:   membership.UserID,
			Actor:      executorID,
			Timestamp:  a.deps.Clock().UTC(),
			Payload: events.RoleGrantedPayload{
				Role:       membership.Role,
				GrantedVia: string(membership.GrantedVia),
				ValidUntil: membership.ValidUntil,
				RequestID:  req.ID,
			},
		})
	}
	return nil
}

// decode validates the payload and returns the membership to write plus the
// break-glass window, which is zero for normal grants.
func (a *roleGrantAction) decode(payload json.RawMessage) (*domain.RoleMembership, time.Duration, error) {
	if a.breakGlass {
		var p breakGlassPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, 0, apperrors.NewValidationError("invalid break-glass payload", nil)
		}
		if err := apperrors.ValidateStruct(p); err != nil {
			return nil, 0, err
		}
		role := strings.ToLower(strings.TrimSpace(p.Role))
		if role == "" {
			role = rbac.RoleBreakGlass
		}
		if _, ok := rbac.Lookup(role); !ok {
			return nil, 0, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
		}
		maxMinutes := int64(a.deps.BreakGlassMax / time.Minute)
		if int64(p.DurationMinutes) > maxMinutes {
			return nil, 0, apperrors.NewValidationError("break-glass duration exceeds maximum", map[string]any{
				"max_minutes": maxMinutes,
			})
		}
		duration := time.Duration(p.DurationMinutes) * time.Minute
		return &domain.RoleMembership{
			UserID:     p.UserID,
			Role:       role,
			GrantedVia: domain.GrantedViaBreakGlass,
		}, duration, nil
	}

	var p roleGrantPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, 0, apperrors.NewValidationError("invalid role grant payload", nil)
	}
	if err := apperrors.ValidateStruct(p); err != nil {
		return nil, 0, err
	}
	role := strings.ToLower(strings.TrimSpace(p.Role))
	if _, ok := rbac.Lookup(role); !ok {
		return nil, 0, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}
	return &domain.RoleMembership{
		UserID:     p.UserID,
		Role:       role,
		GrantedVia: domain.GrantedViaNormal,
	}, 0, nil
}
