package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventDualControlRequested EventType = "dual_control.requested"
	EventDualControlApproved  EventType = "dual_control.approved"
	EventDualControlExecuted  EventType = "dual_control.executed"
	EventDualControlRejected  EventType = "dual_control.rejected"
	EventDualControlExpired   EventType = "dual_control.expired"
	EventReadOnlyUpdated      EventType = "read_only.updated"
	EventAccessDenied         EventType = "access.denied"
	EventRoleGranted          EventType = "staff.role_granted"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	TargetType string      `json:"target_type"`
	TargetID   string      `json:"target_id"`
	Actor      string      `json:"actor"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// DualControlPayload describes a dual-control transition.
type DualControlPayload struct {
	ActionKey     string  `json:"action_key"`
	CorrelationID string  `json:"correlation_id"`
	Status        string  `json:"status"`
	Reason        *string `json:"reason,omitempty"`
}

// ReadOnlyUpdatedPayload records a read-only toggle.
type ReadOnlyUpdatedPayload struct {
	Enabled    bool     `json:"enabled"`
	Message    string   `json:"message"`
	AllowRoles []string `json:"allow_roles"`
}

// AccessDeniedPayload keeps denial reasons out of the response and in the audit trail.
type AccessDeniedPayload struct {
	Method  string   `json:"method"`
	Path    string   `json:"path"`
	Reasons []string `json:"reasons"`
}

// RoleGrantedPayload describes a membership written by a dual-control action.
type RoleGrantedPayload struct {
	Role       string     `json:"role"`
	GrantedVia string     `json:"granted_via"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	RequestID  string     `json:"request_id"`
}
