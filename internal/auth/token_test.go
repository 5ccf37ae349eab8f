package auth

import (
	"testing"
	"time"

	"github.com/torvus-security/torvus-console/internal/config"
	"github.com/torvus-security/torvus-console/internal/domain"
)

func newTestSessions(t *testing.T, secret string, now *time.Time) *SessionManager {
	t.Helper()
	sm, err := NewSessionManager(config.AuthConfig{
		SessionSecret:     secret,
		SessionTTLMinutes: 30,
		SessionCookieName: "torvus_session",
	}, true)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	return sm.WithClock(func() time.Time { return *now })
}

func TestSessionRoundTrip(t *testing.T) {
	now := testNow
	sm := newTestSessions(t, "session-secret", &now)

	token, session, err := sm.Issue(" Alice@Torvus.io ")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if session.Email != "alice@torvus.io" || !session.ExpiresAt.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("unexpected session %+v", session)
	}

	parsed, err := sm.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Email != "alice@torvus.io" || parsed.ID != session.ID {
		t.Fatalf("unexpected parsed session %+v", parsed)
	}

	cookie := sm.Cookie(token, session)
	if !cookie.HTTPOnly || !cookie.Secure || cookie.Name != "torvus_session" {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if clear := sm.ClearCookie(); clear.MaxAge != -1 || clear.Value != "" {
		t.Fatalf("unexpected clear cookie %+v", clear)
	}
}

func TestSessionExpires(t *testing.T) {
	now := testNow
	sm := newTestSessions(t, "session-secret", &now)
	token, _, err := sm.Issue("alice@torvus.io")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(31 * time.Minute)
	if _, err := sm.Parse(token); err == nil {
		t.Fatalf("expected expired session to be rejected")
	}
}

func TestSessionRejectsForeignKey(t *testing.T) {
	now := testNow
	issuer := newTestSessions(t, "secret-a", &now)
	verifier := newTestSessions(t, "secret-b", &now)

	token, _, err := issuer.Issue("alice@torvus.io")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Parse(token); err == nil {
		t.Fatalf("expected signature failure")
	}
	if _, err := verifier.Parse(token + "x"); err == nil {
		t.Fatalf("expected tampered token to fail")
	}
}

func TestSessionManagerRequiresSecret(t *testing.T) {
	if _, err := NewSessionManager(config.AuthConfig{}, false); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestIssueRequiresEmail(t *testing.T) {
	now := testNow
	sm := newTestSessions(t, "session-secret", &now)
	if _, _, err := sm.Issue("  "); err == nil {
		t.Fatalf("expected error for empty email")
	}
}

func TestResolveIdentityPrecedence(t *testing.T) {
	verified := &VerifiedIdentity{email: "perimeter@torvus.io"}
	session := &domain.Session{Email: "Session@Torvus.io"}

	if got := ResolveIdentity(session, verified); got.Email != "session@torvus.io" || got.Source != domain.IdentitySourceSession {
		t.Fatalf("session must win, got %+v", got)
	}
	if got := ResolveIdentity(nil, verified); got.Email != "perimeter@torvus.io" || got.Source != domain.IdentitySourcePerimeter {
		t.Fatalf("perimeter expected, got %+v", got)
	}
	if got := ResolveIdentity(&domain.Session{}, nil); !got.Anonymous() {
		t.Fatalf("expected anonymous, got %+v", got)
	}
}
