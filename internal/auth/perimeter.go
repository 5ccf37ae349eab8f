package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/torvus-security/torvus-console/internal/config"
	"github.com/torvus-security/torvus-console/internal/domain"
)

var (
	// ErrNoAssertion means the perimeter sent no usable assertion.
	ErrNoAssertion = errors.New("no perimeter assertion")
	// ErrInvalidAssertion means an assertion was present but failed verification.
	ErrInvalidAssertion = errors.New("invalid perimeter assertion")
)

// VerifiedIdentity is an email proven by a signed perimeter assertion.
// Only PerimeterVerifier can construct a non-zero value.
type VerifiedIdentity struct {
	email      string
	subject    string
	verifiedAt time.Time
}

// Email returns the verified, normalized email.
func (v *VerifiedIdentity) Email() string {
	if v == nil {
		return ""
	}
	return v.email
}

// Subject returns the assertion subject.
func (v *VerifiedIdentity) Subject() string {
	if v == nil {
		return ""
	}
	return v.subject
}

// VerifiedAt is when the assertion was checked.
func (v *VerifiedIdentity) VerifiedAt() time.Time {
	if v == nil {
		return time.Time{}
	}
	return v.verifiedAt
}

// PerimeterClaims is the assertion payload minted by the upstream authenticator.
type PerimeterClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// PerimeterVerifier checks the signed assertion forwarded by the access
// perimeter. Raw email headers are never trusted on their own.
type PerimeterVerifier struct {
	secret          []byte
	issuer          string
	audience        string
	assertionHeader string
	emailHeader     string
	maxHeaderBytes  int
	now             func() time.Time
}

// NewPerimeterVerifier builds a verifier. An empty secret disables perimeter
// identities entirely.
func NewPerimeterVerifier(cfg config.PerimeterConfig) *PerimeterVerifier {
	maxBytes := cfg.MaxHeaderBytes
	if maxBytes <= 0 {
		maxBytes = 4096
	}
	return &PerimeterVerifier{
		secret:          []byte(cfg.JWTSecret),
		issuer:          strings.TrimSpace(cfg.Issuer),
		audience:        strings.TrimSpace(cfg.Audience),
		assertionHeader: cfg.AssertionHeader,
		emailHeader:     cfg.EmailHeader,
		maxHeaderBytes:  maxBytes,
		now:             time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (p *PerimeterVerifier) WithClock(now func() time.Time) *PerimeterVerifier {
	p.now = now
	return p
}

// Enabled reports whether a verification secret is configured.
func (p *PerimeterVerifier) Enabled() bool {
	return p != nil && len(p.secret) > 0
}

// Headers lists the inbound headers the verifier consumes.
func (p *PerimeterVerifier) Headers() []string {
	return []string{p.assertionHeader, p.emailHeader}
}

// Verify reads the assertion through header and returns the verified
// identity. It returns ErrNoAssertion when nothing usable was sent and
// ErrInvalidAssertion when verification failed.
func (p *PerimeterVerifier) Verify(header func(key string) string) (*VerifiedIdentity, error) {
	if !p.Enabled() || p.assertionHeader == "" {
		return nil, ErrNoAssertion
	}
	raw, ok := sanitizeHeaderValue(header(p.assertionHeader), p.maxHeaderBytes)
	if !ok {
		return nil, ErrNoAssertion
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	keyFunc := func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}
	parsed, err := jwt.ParseWithClaims(raw, &PerimeterClaims{}, keyFunc, opts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidAssertion, err)
	}
	claims, ok := parsed.Claims.(*PerimeterClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidAssertion
	}

	email := domain.NormalizeEmail(claims.Email)
	if email == "" || len(email) > p.maxHeaderBytes || !strings.Contains(email, "@") {
		return nil, ErrInvalidAssertion
	}
	if p.emailHeader != "" {
		if asserted, present := sanitizeHeaderValue(header(p.emailHeader), p.maxHeaderBytes); present {
			if domain.NormalizeEmail(asserted) != email {
				return nil, errors.Join(ErrInvalidAssertion, errors.New("email header disagrees with assertion"))
			}
		}
	}

	return &VerifiedIdentity{
		email:      email,
		subject:    claims.Subject,
		verifiedAt: p.now().UTC(),
	}, nil
}
