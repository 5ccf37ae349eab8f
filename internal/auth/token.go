package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/torvus-security/torvus-console/internal/config"
	"github.com/torvus-security/torvus-console/internal/domain"
)

const (
	sessionIssuer  = "torvus-console"
	sessionKeyInfo = "torvus-console session signing v1"
	sessionKeySize = 32
)

// SessionManager issues and validates console session cookies.
type SessionManager struct {
	key        []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

// SessionClaims describes the session JWT payload.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewSessionManager derives the signing key from the configured secret.
func NewSessionManager(cfg config.AuthConfig, secureCookies bool) (*SessionManager, error) {
	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return nil, errors.New("session secret is empty")
	}
	key, err := deriveKey([]byte(cfg.SessionSecret), []byte(sessionKeyInfo), sessionKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	name := cfg.SessionCookieName
	if name == "" {
		name = "torvus_session"
	}
	return &SessionManager{
		key:        key,
		ttl:        cfg.SessionTTL(),
		cookieName: name,
		secure:     secureCookies,
		now:        time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (sm *SessionManager) WithClock(now func() time.Time) *SessionManager {
	sm.now = now
	return sm
}

// CookieName returns the session cookie name.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Issue signs a session for an already verified email.
func (sm *SessionManager) Issue(email string) (string, domain.Session, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return "", domain.Session{}, errors.New("session email is empty")
	}
	issuedAt := sm.now().UTC()
	session := domain.Session{
		ID:        uuid.NewString(),
		Email:     email,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(sm.ttl),
	}
	claims := &SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Issuer:    sessionIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(sm.key)
	if err != nil {
		return "", domain.Session{}, err
	}
	return tokenString, session, nil
}

// Parse validates a session token and returns the session.
func (sm *SessionManager) Parse(tokenStr string) (*domain.Session, error) {
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return sm.key, nil
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(sm.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid session claims")
	}
	email := domain.NormalizeEmail(claims.Email)
	if email == "" {
		return nil, errors.New("session without email")
	}
	session := &domain.Session{ID: claims.ID, Email: email}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// FromRequest returns the session carried by the request cookie, or nil
// when it is absent, malformed or expired.
func (sm *SessionManager) FromRequest(c *fiber.Ctx) *domain.Session {
	if sm == nil {
		return nil
	}
	raw, ok := sanitizeHeaderValue(c.Cookies(sm.cookieName), maxTokenBytes)
	if !ok {
		return nil
	}
	session, err := sm.Parse(raw)
	if err != nil {
		return nil
	}
	return session
}

// Cookie wraps a signed session token for the response.
func (sm *SessionManager) Cookie(token string, session domain.Session) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     sm.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		Secure:   sm.secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	}
}

// ClearCookie expires the session cookie.
func (sm *SessionManager) ClearCookie() *fiber.Cookie {
	return &fiber.Cookie{
		Name:     sm.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   sm.secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	}
}

func deriveKey(secret, info []byte, keyLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
