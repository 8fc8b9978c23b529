package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medigrant/medigrant/internal/domain/permission"
	"github.com/medigrant/medigrant/internal/platform/auth"
	"github.com/medigrant/medigrant/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole("org_admin"))
	admin.POST("/patients", h.RegisterPatient)
	admin.GET("/patients", h.ListPatients)
	admin.POST("/practitioners", h.RegisterPractitioner)
	admin.GET("/practitioners", h.ListPractitioners)
	admin.PUT("/practitioners/:id/permissions", h.UpdatePractitionerPermissions)
	admin.POST("/organizations", h.RegisterOrganization)
	admin.GET("/organizations", h.ListOrganizations)
	admin.POST("/organizations/:id/verify", h.VerifyOrganization)

	shared := api.Group("", auth.RequireRole("patient", "practitioner", "org_admin"))
	shared.GET("/patients/:id", h.GetPatient)
	shared.GET("/practitioners/:id", h.GetPractitioner)
	shared.GET("/organizations/:id", h.GetOrganization)
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterPatient(c.Request().Context(), &p); err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) RegisterPractitioner(c echo.Context) error {
	var p Practitioner
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterPractitioner(c.Request().Context(), &p); err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPractitioner(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPractitioner(c.Request().Context(), id)
	if err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPractitioners(c echo.Context) error {
	orgID, err := uuid.Parse(c.QueryParam("organization_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid organization_id")
	}
	pg := pagination.FromContext(c)
	practitioners, total, err := h.svc.ListPractitioners(c.Request().Context(), orgID, pg.Limit, pg.Offset)
	if err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(practitioners, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePractitionerPermissions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var perms permission.Set
	if err := c.Bind(&perms); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePractitionerPermissions(c.Request().Context(), id, perms)
	if err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RegisterOrganization(c echo.Context) error {
	var o Organization
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterOrganization(c.Request().Context(), &o); err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrganization(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.GetOrganization(c.Request().Context(), id)
	if err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListOrganizations(c echo.Context) error {
	pg := pagination.FromContext(c)
	orgs, total, err := h.svc.ListOrganizations(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(orgs, total, pg.Limit, pg.Offset))
}

func (h *Handler) VerifyOrganization(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.VerifyOrganization(c.Request().Context(), id)
	if err != nil {
		return identityHTTPError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func identityHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateIdentifier):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
