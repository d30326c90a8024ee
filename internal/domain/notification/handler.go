package notification

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrem/medrem/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) ListNotifications(c echo.Context) error {
	raw := c.QueryParam("userId")
	if raw == "" {
		return apperr.Validation("userId is required")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return apperr.Validation("userId must be a valid id")
	}
	out, err := h.svc.ListNotifications(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "notifications": out})
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	n, err := h.svc.MarkRead(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "notification": n})
}
