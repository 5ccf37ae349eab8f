package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/events"
	"github.com/torvus-security/torvus-console/internal/rbac"
	"github.com/torvus-security/torvus-console/internal/service"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

// Downstream headers written by the Request Gate. Inbound headers with the
// same prefix are always discarded first.
const (
	HeaderPrefix             = "X-Torvus-"
	HeaderEmail              = "X-Torvus-Email"
	HeaderRoles              = "X-Torvus-Roles"
	HeaderAccessAllowed      = "X-Torvus-Access-Allowed"
	HeaderAccessReasons      = "X-Torvus-Access-Reasons"
	HeaderReadOnly           = "X-Torvus-Read-Only"
	HeaderReadOnlyMessage    = "X-Torvus-Read-Only-Message"
	HeaderReadOnlyAllowRoles = "X-Torvus-Read-Only-Allow-Roles"
)

// GateEvaluator computes access gate decisions.
type GateEvaluator interface {
	Evaluate(ctx context.Context, email string) (domain.GateEvaluation, error)
}

// ReadOnlyEnforcer decides read-only blocks.
type ReadOnlyEnforcer interface {
	ShouldBlock(ctx context.Context, method, path string, roles []string) service.ReadOnlyDecision
}

// RequestGate resolves identity, evaluates access and enforces read-only
// mode before any handler runs.
type RequestGate struct {
	perimeter  *PerimeterVerifier
	sessions   *SessionManager
	gate       GateEvaluator
	readOnly   ReadOnlyEnforcer
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// RequestGateDependencies bundles collaborators for the gate.
type RequestGateDependencies struct {
	Perimeter  *PerimeterVerifier
	Sessions   *SessionManager
	Gate       GateEvaluator
	ReadOnly   ReadOnlyEnforcer
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewRequestGate constructs the middleware.
func NewRequestGate(deps RequestGateDependencies) *RequestGate {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestGate{
		perimeter:  deps.Perimeter,
		sessions:   deps.Sessions,
		gate:       deps.Gate,
		readOnly:   deps.ReadOnly,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// StripForwardedHeaders removes every inbound X-Torvus-* header so callers
// cannot forge downstream context. Mount it ahead of all routes.
func (g *RequestGate) StripForwardedHeaders(c *fiber.Ctx) error {
	stripTorvusHeaders(c)
	return c.Next()
}

// Enforce returns the handler that applies policy to one route.
func (g *RequestGate) Enforce(policy Policy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stripTorvusHeaders(c)
		if policy.Public {
			return c.Next()
		}

		verified, err := g.perimeter.Verify(func(key string) string { return c.Get(key) })
		if err != nil && !errors.Is(err, ErrNoAssertion) {
			g.logger.Info("perimeter assertion rejected",
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		identity := ResolveIdentity(g.sessions.FromRequest(c), verified)
		if identity.Anonymous() {
			if policy.Authenticated {
				return apperrors.NewUnauthorized("authentication required")
			}
			return c.Next()
		}

		ctx := c.UserContext()
		eval, err := g.gate.Evaluate(ctx, identity.Email)
		if err != nil {
			g.logEvaluationFailure(c, identity, err)
			return err
		}

		access := &AccessContext{
			Identity:    identity,
			Evaluation:  eval,
			Permissions: rbac.PermissionSet{},
			Perimeter:   verified,
		}
		if eval.Allowed {
			access.Permissions = rbac.Expand(eval.Roles)
		}

		var decision service.ReadOnlyDecision
		if g.readOnly != nil {
			decision = g.readOnly.ShouldBlock(ctx, c.Method(), c.Path(), eval.Roles)
		}
		access.ReadOnly = decision.Settings
		access.ReadOnlyKnown = decision.Known

		c.Locals(accessKey, access)
		writeDownstreamHeaders(c, access)

		if policy.Baseline && !eval.Allowed {
			g.deny(c, identity, eval.Reasons)
			return apperrors.NewPolicyDenied()
		}
		if decision.Blocked {
			c.Set(HeaderReadOnly, "true")
			g.logger.Info("mutation blocked by read-only mode",
				zap.String("email", identity.Email),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Bool("settings_known", decision.Known))
			return decision.Err()
		}
		if policy.Permission != "" && !access.Can(policy.Permission) {
			g.deny(c, identity, []string{"missing permission " + string(policy.Permission)})
			return apperrors.NewPolicyDenied()
		}
		return c.Next()
	}
}

func (g *RequestGate) logEvaluationFailure(c *fiber.Ctx, identity domain.Identity, err error) {
	fields := []zap.Field{
		zap.String("email", identity.Email),
		zap.String("source", string(identity.Source)),
		zap.String("path", c.Path()),
		zap.Error(err),
	}
	if errors.Is(err, apperrors.ErrConfigurationMissing) {
		g.logger.Error("access gate misconfigured", fields...)
		return
	}
	g.logger.Warn("access gate evaluation failed", fields...)
}

// deny records the reasons server-side only. The caller sees a generic denial.
func (g *RequestGate) deny(c *fiber.Ctx, identity domain.Identity, reasons []string) {
	g.logger.Info("access denied",
		zap.String("email", identity.Email),
		zap.String("source", string(identity.Source)),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Strings("reasons", reasons))
	if g.dispatcher == nil {
		return
	}
	_ = g.dispatcher.Publish(c.UserContext(), events.Event{
		ID:         uuid.NewString(),
		Type:       events.EventAccessDenied,
		TargetType: "route",
		TargetID:   c.Method() + " " + c.Path(),
		Actor:      identity.Email,
		Payload: events.AccessDeniedPayload{
			Method:  c.Method(),
			Path:    c.Path(),
			Reasons: append([]string(nil), reasons...),
		},
	})
}

func stripTorvusHeaders(c *fiber.Ctx) {
	var forged []string
	c.Request().Header.VisitAll(func(key, _ []byte) {
		if len(key) >= len(HeaderPrefix) && strings.EqualFold(string(key[:len(HeaderPrefix)]), HeaderPrefix) {
			forged = append(forged, string(key))
		}
	})
	for _, key := range forged {
		c.Request().Header.Del(key)
	}
}

func writeDownstreamHeaders(c *fiber.Ctx, access *AccessContext) {
	h := &c.Request().Header
	eval := access.Evaluation
	h.Set(HeaderEmail, access.Identity.Email)
	h.Set(HeaderRoles, jsonList(eval.Roles))
	h.Set(HeaderAccessAllowed, strconv.FormatBool(eval.Allowed))
	h.Set(HeaderAccessReasons, strings.Join(eval.Reasons, ";"))
	h.Set(HeaderReadOnly, strconv.FormatBool(access.ReadOnly.Enabled))
	h.Set(HeaderReadOnlyMessage, access.ReadOnly.Message)
	h.Set(HeaderReadOnlyAllowRoles, jsonList(access.ReadOnly.AllowRoles))
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
