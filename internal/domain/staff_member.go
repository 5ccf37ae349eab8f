package domain

import (
	"strings"
	"time"
)

// GrantedVia records how a role membership was granted.
type GrantedVia string

const (
	GrantedViaNormal     GrantedVia = "normal"
	GrantedViaBreakGlass GrantedVia = "break-glass"
)

// Valid reports whether g is one of the recognized grant paths.
func (g GrantedVia) Valid() bool {
	return g == GrantedViaNormal || g == GrantedViaBreakGlass
}

// StaffStatusActive is the only directory status that admits console access.
const StaffStatusActive = "active"

// StaffIdentity is the directory's view of a caller.
type StaffIdentity struct {
	Email       string
	UserID      string
	DisplayName string
}

// AccessFlags are evaluated together by the access gate.
type AccessFlags struct {
	Enrolled        bool   `json:"enrolled"`
	Verified        bool   `json:"verified"`
	Status          string `json:"status"`
	PasskeyEnrolled bool   `json:"passkey_enrolled"`
}

// UnknownFlags is used when no directory record could be consulted.
func UnknownFlags() AccessFlags {
	return AccessFlags{Status: "unknown"}
}

// RoleMembership grants a role to a staff member, optionally until a deadline.
type RoleMembership struct {
	ID         string
	UserID     string
	Role       string
	GrantedVia GrantedVia
	ValidUntil *time.Time
	CreatedAt  time.Time
}

// Active is true when the membership is well formed and not yet expired.
func (m RoleMembership) Active(now time.Time) bool {
	if strings.TrimSpace(m.Role) == "" || !m.GrantedVia.Valid() {
		return false
	}
	return m.ValidUntil == nil || m.ValidUntil.After(now)
}

// StaffRecord is what the staff directory returns for an email.
type StaffRecord struct {
	Identity    StaffIdentity
	Flags       AccessFlags
	Memberships []RoleMembership
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
