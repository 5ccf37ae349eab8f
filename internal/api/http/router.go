package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torvus-security/torvus-console/internal/api/http/handlers"
	"github.com/torvus-security/torvus-console/internal/auth"
	"github.com/torvus-security/torvus-console/internal/observability"
	"github.com/torvus-security/torvus-console/internal/rbac"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Session     *handlers.SessionHandler
	Access      *handlers.AccessHandler
	DualControl *handlers.DualControlHandler
	Settings    *handlers.SettingsHandler
	Audit       *handlers.AuditHandler
	Gate        *auth.RequestGate
	Metrics     *observability.Metrics
}

// Route is one entry of the route table. Every route names its policy here
// and nowhere else.
type Route struct {
	Method  string
	Path    string
	Policy  auth.Policy
	Handler fiber.Handler
}

// Routes returns the console's route table.
func Routes(cfg RouteConfig) []Route {
	return []Route{
		{fiber.MethodGet, "/health/live", auth.PolicyPublic, cfg.Health.Live},
		{fiber.MethodGet, "/health/ready", auth.PolicyPublic, cfg.Health.Ready},

		{fiber.MethodPost, "/auth/session", auth.PolicyBaseline, cfg.Session.Create},
		{fiber.MethodDelete, "/auth/session", auth.PolicyPublic, cfg.Session.Delete},

		{fiber.MethodGet, "/api/me", auth.PolicyAuthenticated, cfg.Access.Me},
		{fiber.MethodGet, "/api/permissions", auth.PolicyBaseline, cfg.Access.Permissions},

		{fiber.MethodGet, "/api/dual-control", auth.RequirePermission(rbac.DualControlRead), cfg.DualControl.List},
		{fiber.MethodPost, "/api/dual-control", auth.RequirePermission(rbac.DualControlRequest), cfg.DualControl.Create},
		{fiber.MethodGet, "/api/dual-control/:id", auth.RequirePermission(rbac.DualControlRead), cfg.DualControl.Get},
		{fiber.MethodPost, "/api/dual-control/:id/approve", auth.RequirePermission(rbac.DualControlApprove), cfg.DualControl.Approve},
		{fiber.MethodPost, "/api/dual-control/:id/execute", auth.RequirePermission(rbac.DualControlExecute), cfg.DualControl.Execute},
		{fiber.MethodPost, "/api/dual-control/:id/reject", auth.RequirePermission(rbac.DualControlApprove), cfg.DualControl.Reject},

		{fiber.MethodGet, "/api/settings/read-only", auth.RequirePermission(rbac.SettingsRead), cfg.Settings.GetReadOnly},
		{fiber.MethodPut, "/api/settings/read-only", auth.RequirePermission(rbac.SettingsReadOnlyManage), cfg.Settings.UpdateReadOnly},

		{fiber.MethodGet, "/api/audit", auth.RequirePermission(rbac.AuditRead), cfg.Audit.List},
	}
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Use(cfg.Gate.StripForwardedHeaders)

	if reg := cfg.Metrics.Registry(); reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	for _, r := range Routes(cfg) {
		app.Add(r.Method, r.Path, cfg.Gate.Enforce(r.Policy), r.Handler)
	}
}
