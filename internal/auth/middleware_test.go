package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/events"
	"github.com/torvus-security/torvus-console/internal/rbac"
	"github.com/torvus-security/torvus-console/internal/service"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

type stubGate struct {
	evals map[string]domain.GateEvaluation
	err   error
}

func (s *stubGate) Evaluate(_ context.Context, email string) (domain.GateEvaluation, error) {
	if s.err != nil {
		return domain.GateEvaluation{Email: email}, s.err
	}
	eval, ok := s.evals[email]
	if !ok {
		return domain.GateEvaluation{Email: email, Reasons: []string{domain.ReasonRecordMissing}}, nil
	}
	return eval, nil
}

type stubReadOnly struct {
	decision service.ReadOnlyDecision
}

func (s *stubReadOnly) ShouldBlock(_ context.Context, method, _ string, _ []string) service.ReadOnlyDecision {
	if !service.IsMutating(method) {
		d := s.decision
		d.Blocked = false
		return d
	}
	return s.decision
}

type gateFixture struct {
	app      *fiber.App
	sessions *SessionManager
	gate     *stubGate
	readOnly *stubReadOnly
	denied   []events.Event
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	now := time.Now()
	f := &gateFixture{
		sessions: newTestSessions(t, "session-secret", &now),
		gate: &stubGate{evals: map[string]domain.GateEvaluation{
			"alice@torvus.io": {Email: "alice@torvus.io", Allowed: true, Roles: []string{rbac.RoleSecurityAdmin}, Reasons: []string{}},
			"dana@torvus.io":  {Email: "dana@torvus.io", Allowed: true, Roles: []string{rbac.RoleAuditor}, Reasons: []string{}},
			"bob@torvus.io": {
				Email:   "bob@torvus.io",
				Roles:   []string{rbac.RoleObserver},
				Reasons: []string{"missing required role security_admin or auditor"},
			},
		}},
		readOnly: &stubReadOnly{decision: service.ReadOnlyDecision{Known: true}},
	}
	dispatcher := events.NewInMemoryDispatcher(nil)
	dispatcher.Subscribe(events.EventAccessDenied, func(_ context.Context, e events.Event) error {
		f.denied = append(f.denied, e)
		return nil
	})

	gate := NewRequestGate(RequestGateDependencies{
		Perimeter:  newTestVerifier().WithClock(time.Now),
		Sessions:   f.sessions,
		Gate:       f.gate,
		ReadOnly:   f.readOnly,
		Dispatcher: dispatcher,
	})

	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.Status(de.HTTPStatus).JSON(fiber.Map{"error": fiber.Map{"code": de.Code, "message": de.Message}})
	}})
	echo := func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"email":   c.Get(HeaderEmail),
			"roles":   c.Get(HeaderRoles),
			"allowed": c.Get(HeaderAccessAllowed),
		})
	}
	app.Get("/public", gate.Enforce(PolicyPublic), echo)
	app.Get("/me", gate.Enforce(PolicyAuthenticated), echo)
	app.Get("/audit", gate.Enforce(RequirePermission(rbac.AuditRead)), echo)
	app.Post("/dual-control", gate.Enforce(RequirePermission(rbac.DualControlRequest)), echo)
	f.app = app
	return f
}

func (f *gateFixture) do(t *testing.T, method, path, email string, extra map[string]string) (int, http.Header, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if email != "" {
		token, _, err := f.sessions.Issue(email)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		req.Header.Set("Cookie", f.sessions.CookieName()+"="+token)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp.StatusCode, resp.Header, body
}

func errorField(body map[string]any, field string) string {
	errBody, _ := body["error"].(map[string]any)
	v, _ := errBody[field].(string)
	return v
}

func TestGateRejectsAnonymous(t *testing.T) {
	f := newGateFixture(t)
	status, _, body := f.do(t, "GET", "/me", "", map[string]string{emailHeader: "alice@torvus.io"})
	if status != fiber.StatusUnauthorized || errorField(body, "code") != "UNAUTHORIZED" {
		t.Fatalf("expected 401, got %d %v", status, body)
	}
}

func TestGateDeniesWithGenericBody(t *testing.T) {
	f := newGateFixture(t)
	status, _, body := f.do(t, "GET", "/audit", "bob@torvus.io", nil)
	if status != fiber.StatusForbidden || errorField(body, "code") != "POLICY_DENIED" {
		t.Fatalf("expected 403 policy denied, got %d %v", status, body)
	}
	raw, _ := json.Marshal(body)
	if strings.Contains(string(raw), "missing required role") {
		t.Fatalf("denial reasons must not leak: %s", raw)
	}
	if len(f.denied) != 1 || f.denied[0].Actor != "bob@torvus.io" {
		t.Fatalf("expected access denied event, got %+v", f.denied)
	}
}

func TestGateAllowsAuthenticatedButDeniedIdentityOnMe(t *testing.T) {
	f := newGateFixture(t)
	status, _, body := f.do(t, "GET", "/me", "bob@torvus.io", nil)
	if status != fiber.StatusOK || body["allowed"] != "false" {
		t.Fatalf("expected /me to report denial, got %d %v", status, body)
	}
}

func TestGateStripsForgedHeaders(t *testing.T) {
	f := newGateFixture(t)
	forged := map[string]string{
		HeaderEmail:         "mallory@torvus.io",
		HeaderRoles:         `["security_admin"]`,
		HeaderAccessAllowed: "true",
	}

	_, _, body := f.do(t, "GET", "/public", "", forged)
	if body["email"] != "" || body["roles"] != "" || body["allowed"] != "" {
		t.Fatalf("forged headers reached a public handler: %v", body)
	}

	status, _, body := f.do(t, "GET", "/audit", "dana@torvus.io", forged)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d %v", status, body)
	}
	if body["email"] != "dana@torvus.io" || body["roles"] != `["auditor"]` || body["allowed"] != "true" {
		t.Fatalf("unexpected downstream headers %v", body)
	}
}

func TestGateRequiresPermission(t *testing.T) {
	f := newGateFixture(t)
	status, _, body := f.do(t, "POST", "/dual-control", "dana@torvus.io", nil)
	if status != fiber.StatusForbidden || errorField(body, "code") != "POLICY_DENIED" {
		t.Fatalf("auditor must not request dual control, got %d %v", status, body)
	}
	status, _, _ = f.do(t, "POST", "/dual-control", "alice@torvus.io", nil)
	if status != fiber.StatusOK {
		t.Fatalf("security_admin should pass, got %d", status)
	}
}

func TestGateEnforcesReadOnly(t *testing.T) {
	f := newGateFixture(t)
	f.readOnly.decision = service.ReadOnlyDecision{
		Blocked:  true,
		Known:    true,
		Settings: domain.ReadOnlySettings{Enabled: true, Message: "Incident response in progress"},
	}

	status, header, body := f.do(t, "POST", "/dual-control", "alice@torvus.io", nil)
	if status != fiber.StatusServiceUnavailable || errorField(body, "code") != "READ_ONLY_MODE" {
		t.Fatalf("expected 503 read-only, got %d %v", status, body)
	}
	if errorField(body, "message") != "Incident response in progress" {
		t.Fatalf("expected operator message, got %v", body)
	}
	if header.Get(HeaderReadOnly) != "true" {
		t.Fatalf("expected read-only response header")
	}

	status, _, _ = f.do(t, "GET", "/audit", "alice@torvus.io", nil)
	if status != fiber.StatusOK {
		t.Fatalf("reads must pass during read-only, got %d", status)
	}
}

func TestGateDenialPrecedesReadOnly(t *testing.T) {
	f := newGateFixture(t)
	f.readOnly.decision = service.ReadOnlyDecision{Blocked: true, Known: true}

	status, _, _ := f.do(t, "POST", "/dual-control", "bob@torvus.io", nil)
	if status != fiber.StatusForbidden {
		t.Fatalf("expected 403 before read-only, got %d", status)
	}
}

func TestGateSurfacesTransientFailure(t *testing.T) {
	f := newGateFixture(t)
	f.gate.err = apperrors.NewTransientBackend("staff directory", context.DeadlineExceeded)

	status, _, body := f.do(t, "GET", "/audit", "alice@torvus.io", nil)
	if status != fiber.StatusServiceUnavailable || errorField(body, "code") != "TRANSIENT_BACKEND" {
		t.Fatalf("expected 503 transient, got %d %v", status, body)
	}
}

func TestGateAcceptsPerimeterAssertion(t *testing.T) {
	f := newGateFixture(t)
	claims := PerimeterClaims{
		Email: "alice@torvus.io",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://access.torvus.io",
			Audience:  jwt.ClaimStrings{"console"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testPerimeterSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	status, _, body := f.do(t, "GET", "/audit", "", map[string]string{assertionHeader: token})
	if status != fiber.StatusOK || body["email"] != "alice@torvus.io" {
		t.Fatalf("expected perimeter identity, got %d %v", status, body)
	}
}
