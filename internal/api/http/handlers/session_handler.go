package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/torvus-security/torvus-console/internal/api/dto"
	"github.com/torvus-security/torvus-console/internal/auth"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

// SessionHandler exchanges a verified perimeter identity for a console session.
type SessionHandler struct {
	sessions *auth.SessionManager
}

// NewSessionHandler constructs handler.
func NewSessionHandler(sessions *auth.SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Create handles POST /auth/session.
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	access, err := callerAccess(c)
	if err != nil {
		return err
	}
	if access.Perimeter == nil {
		return apperrors.NewUnauthorized("perimeter assertion required")
	}

	token, session, err := h.sessions.Issue(access.Perimeter.Email())
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	c.Cookie(h.sessions.Cookie(token, session))
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.SessionResponse{Email: session.Email, ExpiresAt: session.ExpiresAt},
	})
}

// Delete handles DELETE /auth/session.
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	c.Cookie(h.sessions.ClearCookie())
	return c.SendStatus(http.StatusNoContent)
}
