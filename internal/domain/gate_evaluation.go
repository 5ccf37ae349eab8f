package domain

// Denial reasons reported by the access gate. Order in GateEvaluation.Reasons
// follows the order checks are performed.
const (
	ReasonMissingEmail         = "missing_email"
	ReasonRecordMissing        = "staff record not found"
	ReasonEnrollmentIncomplete = "enrollment incomplete"
	ReasonNotVerified          = "not verified"
	ReasonPasskeyNotEnrolled   = "passkey not enrolled"
)

// GateEvaluation is an immutable allow/deny decision for one identity.
type GateEvaluation struct {
	Email       string      `json:"email"`
	UserID      string      `json:"user_id,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`
	Allowed     bool        `json:"allowed"`
	Reasons     []string    `json:"reasons"`
	Flags       AccessFlags `json:"flags"`
	Roles       []string    `json:"roles"`
	RoleIDs     []string    `json:"role_ids"`
}

// HasRole reports whether the evaluation carries role.
func (g GateEvaluation) HasRole(role string) bool {
	for _, r := range g.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with g.
func (g GateEvaluation) Clone() GateEvaluation {
	out := g
	out.Reasons = append([]string(nil), g.Reasons...)
	out.Roles = append([]string(nil), g.Roles...)
	out.RoleIDs = append([]string(nil), g.RoleIDs...)
	return out
}
