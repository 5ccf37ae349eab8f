package domain

import (
	"sort"
	"strings"
	"time"
)

// RoleSecurityAdmin can never be locked out by read-only mode.
const RoleSecurityAdmin = "security_admin"

// ReadOnlySettingsKey is the settings store key for read-only mode.
const ReadOnlySettingsKey = "read_only_mode"

// ReadOnlySettings is the global mutation kill switch.
type ReadOnlySettings struct {
	Enabled    bool      `json:"enabled"`
	Message    string    `json:"message"`
	AllowRoles []string  `json:"allow_roles"`
	UpdatedBy  string    `json:"updated_by,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Normalize lowercases, deduplicates and sorts AllowRoles and always adds
// security_admin.
func (s ReadOnlySettings) Normalize() ReadOnlySettings {
	seen := map[string]struct{}{RoleSecurityAdmin: {}}
	for _, r := range s.AllowRoles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			seen[r] = struct{}{}
		}
	}
	roles := make([]string, 0, len(seen))
	for r := range seen {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	out := s
	out.AllowRoles = roles
	out.Message = strings.TrimSpace(s.Message)
	return out
}

// Allows reports whether any of roles is allow-listed.
func (s ReadOnlySettings) Allows(roles []string) bool {
	for _, allowed := range s.Normalize().AllowRoles {
		for _, r := range roles {
			if r == allowed {
				return true
			}
		}
	}
	return false
}
