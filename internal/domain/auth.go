package domain

import "time"

// IdentitySource records which trust source produced a caller identity.
type IdentitySource string

const (
	IdentitySourceAnonymous IdentitySource = "anonymous"
	IdentitySourceSession   IdentitySource = "session"
	IdentitySourcePerimeter IdentitySource = "perimeter"
)

// Identity is the resolved caller for one request.
type Identity struct {
	Email  string
	Source IdentitySource
}

// Anonymous reports whether no trusted source produced an email.
func (i Identity) Anonymous() bool {
	return i.Email == "" || i.Source == IdentitySourceAnonymous
}

// Session is a console session issued after perimeter verification.
type Session struct {
	ID        string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
