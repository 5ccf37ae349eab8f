package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/torvus-security/torvus-console/internal/api/dto"
	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/service"
)

// SettingsHandler reads and toggles read-only mode.
type SettingsHandler struct {
	readOnly *service.ReadOnlyService
}

// NewSettingsHandler constructs handler.
func NewSettingsHandler(readOnly *service.ReadOnlyService) *SettingsHandler {
	return &SettingsHandler{readOnly: readOnly}
}

// GetReadOnly handles GET /api/settings/read-only.
func (h *SettingsHandler) GetReadOnly(c *fiber.Ctx) error {
	settings, err := h.readOnly.Get(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": readOnlyResponse(settings)})
}

// UpdateReadOnly handles PUT /api/settings/read-only.
func (h *SettingsHandler) UpdateReadOnly(c *fiber.Ctx) error {
	access, err := callerAccess(c)
	if err != nil {
		return err
	}
	var body dto.UpdateReadOnlyRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	settings, err := h.readOnly.Update(c.UserContext(), domain.ReadOnlySettings{
		Enabled:    *body.Enabled,
		Message:    body.Message,
		AllowRoles: body.AllowRoles,
	}, access.Identity.Email)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": readOnlyResponse(settings)})
}

func readOnlyResponse(s domain.ReadOnlySettings) dto.ReadOnlyResponse {
	roles := s.AllowRoles
	if roles == nil {
		roles = []string{}
	}
	return dto.ReadOnlyResponse{
		Enabled:    s.Enabled,
		Message:    s.Message,
		AllowRoles: roles,
		UpdatedBy:  s.UpdatedBy,
		UpdatedAt:  s.UpdatedAt,
	}
}
