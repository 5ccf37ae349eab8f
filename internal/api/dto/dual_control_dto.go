package dto

import (
	"encoding/json"
	"time"
)

// CreateDualControlRequest payload for POST /api/dual-control.
type CreateDualControlRequest struct {
	ActionKey     string          `json:"action_key" validate:"required,max=128"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id" validate:"required,max=200"`
}

// RejectDualControlRequest payload for POST /api/dual-control/:id/reject.
type RejectDualControlRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// DualControlResponse is the public view of a dual-control request.
type DualControlResponse struct {
	ID            string          `json:"id"`
	ActionKey     string          `json:"action_key"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
	Status        string          `json:"status"`
	RequestedBy   string          `json:"requested_by"`
	RequestedAt   time.Time       `json:"requested_at"`
	ApprovedBy    *string         `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
	ExecutedBy    *string         `json:"executed_by,omitempty"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
	RejectedBy    *string         `json:"rejected_by,omitempty"`
	RejectedAt    *time.Time      `json:"rejected_at,omitempty"`
	RejectReason  *string         `json:"reject_reason,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
}
