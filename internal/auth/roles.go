package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/rbac"
)

const accessKey = "torvus_access"

// AccessContext is what the Request Gate attaches for handlers. Perimeter
// is set when a signed assertion was verified on this request, whatever
// identity source won.
type AccessContext struct {
	Identity      domain.Identity
	Evaluation    domain.GateEvaluation
	Permissions   rbac.PermissionSet
	ReadOnly      domain.ReadOnlySettings
	ReadOnlyKnown bool
	Perimeter     *VerifiedIdentity
}

// Can reports whether the caller has baseline access and permission p.
func (a *AccessContext) Can(p rbac.Permission) bool {
	if a == nil || !a.Evaluation.Allowed {
		return false
	}
	return a.Permissions.Has(p)
}

// AccessFromContext retrieves the access context set by the Request Gate.
func AccessFromContext(c *fiber.Ctx) (*AccessContext, bool) {
	val := c.Locals(accessKey)
	if val == nil {
		return nil, false
	}
	access, ok := val.(*AccessContext)
	return access, ok
}

// Policy is the access requirement of one route.
type Policy struct {
	Public        bool
	Authenticated bool
	Baseline      bool
	Permission    rbac.Permission
}

var (
	// PolicyPublic skips identity resolution.
	PolicyPublic = Policy{Public: true}
	// PolicyAuthenticated needs any resolved identity.
	PolicyAuthenticated = Policy{Authenticated: true}
	// PolicyBaseline needs an identity the access gate allows.
	PolicyBaseline = Policy{Authenticated: true, Baseline: true}
)

// RequirePermission needs baseline access plus permission p.
func RequirePermission(p rbac.Permission) Policy {
	return Policy{Authenticated: true, Baseline: true, Permission: p}
}
