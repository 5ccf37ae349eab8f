package dto

import "time"

// UpdateReadOnlyRequest payload for PUT /api/settings/read-only.
type UpdateReadOnlyRequest struct {
	Enabled    *bool    `json:"enabled" validate:"required"`
	Message    string   `json:"message" validate:"max=500"`
	AllowRoles []string `json:"allow_roles" validate:"max=32,dive,required,max=64"`
}

// ReadOnlyResponse is the public view of read-only settings.
type ReadOnlyResponse struct {
	Enabled    bool      `json:"enabled"`
	Message    string    `json:"message"`
	AllowRoles []string  `json:"allow_roles"`
	UpdatedBy  string    `json:"updated_by,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}
