package auth

import "github.com/torvus-security/torvus-console/internal/domain"

// ResolveIdentity picks the caller identity. A valid console session wins,
// then a perimeter identity verified earlier in the same request, otherwise
// the caller is anonymous.
func ResolveIdentity(session *domain.Session, verified *VerifiedIdentity) domain.Identity {
	if session != nil {
		if email := domain.NormalizeEmail(session.Email); email != "" {
			return domain.Identity{Email: email, Source: domain.IdentitySourceSession}
		}
	}
	if email := verified.Email(); email != "" {
		return domain.Identity{Email: email, Source: domain.IdentitySourcePerimeter}
	}
	return domain.Identity{Source: domain.IdentitySourceAnonymous}
}
