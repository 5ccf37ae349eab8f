package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/torvus-security/torvus-console/internal/api/dto"
	"github.com/torvus-security/torvus-console/internal/service"
)

// AuditHandler lists audit events.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler constructs handler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List handles GET /api/audit.
func (h *AuditHandler) List(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	events, err := h.audit.List(c.UserContext(), service.AuditFilter{
		Action:   optionalQuery(c, "action"),
		TargetID: optionalQuery(c, "target_id"),
		Actor:    optionalQuery(c, "actor"),
		Since:    parseTime(c.Query("since")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return err
	}
	out := make([]dto.AuditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, dto.AuditEventResponse{
			ID:         e.ID,
			Action:     e.Action,
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Actor:      e.Actor,
			Metadata:   e.Metadata,
			CreatedAt:  e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}
