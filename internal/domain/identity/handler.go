package identity

import (
	"fmt"
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
	api.POST("/create-user", h.CreateUser)
	api.POST("/link-user", h.LinkUser)
	api.GET("/users/:id", h.GetUser)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var in CreateUserInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	u, err := h.svc.CreateUser(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "user": u})
}

type linkUserRequest struct {
	RequesterID string `json:"requesterId"`
	LinkCode    string `json:"linkCode"`
}

// requesterView is the requester with linkedUsers populated.
type requesterView struct {
	*User
	LinkedUsers []LinkedUserSummary `json:"linkedUsers"`
}

func (h *Handler) LinkUser(c echo.Context) error {
	var req linkUserRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		return apperr.Validation("requesterId must be a valid id")
	}
	res, err := h.svc.LinkUsers(c.Request().Context(), requesterID, req.LinkCode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    fmt.Sprintf("Successfully linked to %s", res.Target.Name),
		"linkedUser": res.Target,
		"requester":  requesterView{User: res.Requester, LinkedUsers: res.RequesterLinks},
	})
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	ctx := c.Request().Context()
	u, err := h.svc.GetUser(ctx, id)
	if err != nil {
		return err
	}
	linked, err := h.svc.ListLinked(ctx, u, "")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"user":        u,
		"linkedUsers": summarize(linked),
	})
}
