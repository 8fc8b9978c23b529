package auditevent

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medigrant/medigrant/internal/platform/auth"
	"github.com/medigrant/medigrant/pkg/pagination"
)

// Handler exposes the audit trail for compliance review. Read-only: events
// are written by the grant engine, never over HTTP.
type Handler struct {
	events Repository
}

func NewHandler(events Repository) *Handler {
	return &Handler{events: events}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/audit", auth.RequireRole("org_admin"))
	admin.GET("/grants/:id/events", h.ListByGrant)
	admin.GET("/organizations/:id/events", h.ListByOrganization)
}

func (h *Handler) ListByGrant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid grant id")
	}

	params := pagination.FromContext(c)
	events, total, err := h.events.ListByGrant(c.Request().Context(), id, params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit events")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, params.Limit, params.Offset))
}

func (h *Handler) ListByOrganization(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid organization id")
	}

	params := pagination.FromContext(c)
	events, total, err := h.events.ListByOrganization(c.Request().Context(), id, params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list audit events")
	}

	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, params.Limit, params.Offset))
}
