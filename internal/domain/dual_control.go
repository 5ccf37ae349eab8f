package domain

import (
	"encoding/json"
	"time"
)

// DualControlStatus enumerates the two-person workflow states.
type DualControlStatus string

const (
	DualControlRequested DualControlStatus = "requested"
	DualControlApproved  DualControlStatus = "approved"
	DualControlExecuted  DualControlStatus = "executed"
	DualControlRejected  DualControlStatus = "rejected"
	DualControlExpired   DualControlStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s DualControlStatus) Terminal() bool {
	switch s {
	case DualControlExecuted, DualControlRejected, DualControlExpired:
		return true
	default:
		return false
	}
}

// CanTransition encodes the state machine edges.
func (s DualControlStatus) CanTransition(to DualControlStatus) bool {
	switch s {
	case DualControlRequested:
		return to == DualControlApproved || to == DualControlRejected || to == DualControlExpired
	case DualControlApproved:
		return to == DualControlExecuted || to == DualControlRejected || to == DualControlExpired
	default:
		return false
	}
}

// CanCompensate reports whether a failed action may move a request from s
// back to to. Executed is claimed before the action runs so that only one
// executor runs it; if the action then fails, executed returns to approved.
// Readers can observe executed until that compensation is stored.
func (s DualControlStatus) CanCompensate(to DualControlStatus) bool {
	return s == DualControlExecuted && to == DualControlApproved
}

// DualControlRequest is a privileged action awaiting a second staff member.
type DualControlRequest struct {
	ID            string            `json:"id"`
	ActionKey     string            `json:"action_key"`
	Payload       json.RawMessage   `json:"payload"`
	CorrelationID string            `json:"correlation_id"`
	RequestedBy   string            `json:"requested_by"`
	ApprovedBy    *string           `json:"approved_by,omitempty"`
	ExecutedBy    *string           `json:"executed_by,omitempty"`
	RejectedBy    *string           `json:"rejected_by,omitempty"`
	RejectReason  *string           `json:"reject_reason,omitempty"`
	Status        DualControlStatus `json:"status"`
	RequestedAt   time.Time         `json:"requested_at"`
	ApprovedAt    *time.Time        `json:"approved_at,omitempty"`
	ExecutedAt    *time.Time        `json:"executed_at,omitempty"`
	RejectedAt    *time.Time        `json:"rejected_at,omitempty"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// Lapsed reports whether a non-terminal request has passed its deadline.
func (r *DualControlRequest) Lapsed(now time.Time) bool {
	if r.Status.Terminal() || r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(r.ExpiresAt)
}

// Copy returns a deep copy so stored requests are never aliased by callers.
func (r *DualControlRequest) Copy() *DualControlRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = append(json.RawMessage(nil), r.Payload...)
	out.ApprovedBy = copyString(r.ApprovedBy)
	out.ExecutedBy = copyString(r.ExecutedBy)
	out.RejectedBy = copyString(r.RejectedBy)
	out.RejectReason = copyString(r.RejectReason)
	out.ApprovedAt = copyTime(r.ApprovedAt)
	out.ExecutedAt = copyTime(r.ExecutedAt)
	out.RejectedAt = copyTime(r.RejectedAt)
	return &out
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
