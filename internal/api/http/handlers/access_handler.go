package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/torvus-security/torvus-console/internal/api/dto"
	"github.com/torvus-security/torvus-console/internal/rbac"
)

// AccessHandler exposes the caller's own access decision.
type AccessHandler struct{}

// NewAccessHandler constructs handler.
func NewAccessHandler() *AccessHandler {
	return &AccessHandler{}
}

// Me handles GET /api/me.
func (h *AccessHandler) Me(c *fiber.Ctx) error {
	access, err := callerAccess(c)
	if err != nil {
		return err
	}
	eval := access.Evaluation
	resp := dto.MeResponse{
		Email:       access.Identity.Email,
		Source:      string(access.Identity.Source),
		DisplayName: eval.DisplayName,
		Allowed:     eval.Allowed,
		Roles:       eval.Roles,
		Permissions: access.Permissions.Sorted(),
		ReadOnly:    access.ReadOnly.Enabled,
	}
	if access.Can(rbac.DiagnosticsRead) {
		flags := eval.Flags
		resp.Reasons = eval.Reasons
		resp.Flags = &flags
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Permissions handles GET /api/permissions.
func (h *AccessHandler) Permissions(c *fiber.Ctx) error {
	access, err := callerAccess(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.PermissionsResponse{
		TableVersion: rbac.TableVersion,
		Roles:        access.Evaluation.Roles,
		Permissions:  access.Permissions.Sorted(),
	}})
}
