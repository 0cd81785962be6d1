package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetSession returns the session snapshot.
// GET /v1/session/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetStatus(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// GetSessionMessages returns the session's message log.
// GET /v1/session/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	messages, err := h.service.GetMessages(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}
