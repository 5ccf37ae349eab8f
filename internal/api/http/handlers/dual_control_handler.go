package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/torvus-security/torvus-console/internal/api/dto"
	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/service"
)

// DualControlHandler exposes the two-person workflow.
type DualControlHandler struct {
	workflow *service.DualControlService
}

// NewDualControlHandler constructs handler.
func NewDualControlHandler(workflow *service.DualControlService) *DualControlHandler {
	return &DualControlHandler{workflow: workflow}
}

// List handles GET /api/dual-control.
func (h *DualControlHandler) List(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	filter := service.DualControlFilter{
		ActionKey:   optionalQuery(c, "action_key"),
		RequestedBy: optionalQuery(c, "requested_by"),
		Limit:       limit,
		Offset:      offset,
	}
	if status := c.Query("status"); status != "" {
		s := domain.DualControlStatus(status)
		filter.Status = &s
	}
	items, err := h.workflow.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	out := make([]dto.DualControlResponse, 0, len(items))
	for i := range items {
		out = append(out, dualControlResponse(&items[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Get handles GET /api/dual-control/:id.
func (h *DualControlHandler) Get(c *fiber.Ctx) error {
	req, err := h.workflow.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dualControlResponse(req)})
}

// Create handles POST /api/dual-control.
func (h *DualControlHandler) Create(c *fiber.Ctx) error {
	access, err := callerAccess(c)
	if err != nil {
		return err
	}
	var body dto.CreateDualControlRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	req, err := h.workflow.Create(c.UserContext(), service.CreateDualControlInput{
		ActionKey:     body.ActionKey,
		Payload:       body.Payload,
		RequestedBy:   access.Identity.Email,
		CorrelationID: body.CorrelationID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dualControlResponse(req)})
}

// Approve handles POST /api/dual-control/:id/approve.
func (h *DualControlHandler) Approve(c *fiber.Ctx) error {
	access, err := callerAccess(c)
	if err != nil {
		return err
	}
	req, err := h.workflow.Approve(c.UserContext(), c.Params("id"), access.Identity.Email)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dualControlResponse(req)})
}

// Execute handles POST /api/dual-control/:id/execute.
func (h *DualControlHandler) Execute(c *fiber.Ctx) error {
	access, err := callerAccess(c)
	if err != nil {
		return err
	}
	req, err := h.workflow.Execute(c.UserContext(), c.Params("id"), access.Identity.Email)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dualControlResponse(req)})
}

// Reject handles POST /api/dual-control/:id/reject.
func (h *DualControlHandler) Reject(c *fiber.Ctx) error {
	access, err := callerAccess(c)
	if err != nil {
		return err
	}
	var body dto.RejectDualControlRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &body); err != nil {
			return err
		}
	}
	req, err := h.workflow.Reject(c.UserContext(), c.Params("id"), access.Identity.Email, body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dualControlResponse(req)})
}

func dualControlResponse(req *domain.DualControlRequest) dto.DualControlResponse {
	return dto.DualControlResponse{
		ID:            req.ID,
		ActionKey:     req.ActionKey,
		Payload:       req.Payload,
		CorrelationID: req.CorrelationID,
		Status:        string(req.Status),
		RequestedBy:   req.RequestedBy,
		RequestedAt:   req.RequestedAt,
		ApprovedBy:    req.ApprovedBy,
		ApprovedAt:    req.ApprovedAt,
		ExecutedBy:    req.ExecutedBy,
		ExecutedAt:    req.ExecutedAt,
		RejectedBy:    req.RejectedBy,
		RejectedAt:    req.RejectedAt,
		RejectReason:  req.RejectReason,
		ExpiresAt:     req.ExpiresAt,
	}
}
