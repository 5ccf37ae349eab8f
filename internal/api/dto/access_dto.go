package dto

import (
	"encoding/json"
	"time"

	"github.com/torvus-security/torvus-console/internal/domain"
)

// SessionResponse describes an issued console session.
type SessionResponse struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MeResponse is the caller's own access view. Reasons are only included
// for callers allowed to read diagnostics.
type MeResponse struct {
	Email       string              `json:"email"`
	Source      string              `json:"source"`
	DisplayName string              `json:"display_name,omitempty"`
	Allowed     bool                `json:"allowed"`
	Roles       []string            `json:"roles"`
	Permissions []string            `json:"permissions"`
	Reasons     []string            `json:"reasons,omitempty"`
	ReadOnly    bool                `json:"read_only"`
	Flags       *domain.AccessFlags `json:"flags,omitempty"`
}

// PermissionsResponse lists the caller's expanded permissions.
type PermissionsResponse struct {
	TableVersion string   `json:"table_version"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
}

// AuditEventResponse is one audit record.
type AuditEventResponse struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Actor      string          `json:"actor"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
