package grant

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medigrant/medigrant/internal/domain/permission"
	"github.com/medigrant/medigrant/internal/domain/token"
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
	// Patient endpoints
	patient := api.Group("", auth.RequireRole("patient"))
	patient.POST("/grants/:id/respond", h.RespondToRequest)
	patient.GET("/grants/active", h.ListActive)
	patient.POST("/tokens/identity", h.IssueIdentityToken)

	// Organization endpoints
	org := api.Group("", auth.RequireRole("practitioner", "org_admin"))
	org.POST("/grants/requests", h.CreateRequest)
	org.GET("/grants/pending", h.ListPending)
	org.GET("/grants/access-check", h.CheckAccess)
	org.POST("/tokens/prescriptions", h.IssuePrescriptionToken)

	// Shared endpoints
	shared := api.Group("", auth.RequireRole("patient", "practitioner", "org_admin"))
	shared.GET("/grants/:id", h.GetGrant)
	shared.POST("/grants/:id/revoke", h.RevokeGrant)
	shared.GET("/grants/:id/qr", h.AuthorizationRequestQR)
}

type createRequestBody struct {
	IdentityToken   string      `json:"identity_token"`
	OrganizationID  uuid.UUID   `json:"organization_id"`
	AccessScope     AccessScope `json:"access_scope"`
	TimeWindowHours int         `json:"time_window_hours"`
}

func (h *Handler) CreateRequest(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := actorID(c)
	if err != nil {
		return err
	}

	g, err := h.svc.CreateRequest(c.Request().Context(), CreateRequestInput{
		IdentityToken:   body.IdentityToken,
		PractitionerID:  actor,
		OrganizationID:  body.OrganizationID,
		Scope:           body.AccessScope,
		TimeWindowHours: body.TimeWindowHours,
		RequestIP:       c.RealIP(),
		UserAgent:       c.Request().UserAgent(),
	})
	if err != nil {
		return grantHTTPError(err)
	}
	return c.JSON(http.StatusCreated, g)
}

type respondBody struct {
	Action permission.Action `json:"action"`
}

func (h *Handler) RespondToRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body respondBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := actorID(c)
	if err != nil {
		return err
	}

	g, err := h.svc.RespondToRequest(c.Request().Context(), id, actor, body.Action)
	if err != nil {
		return grantHTTPError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) RevokeGrant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorID(c)
	if err != nil {
		return err
	}

	g, err := h.svc.RevokeGrant(c.Request().Context(), id, actor)
	if err != nil {
		return grantHTTPError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) GetGrant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	g, err := h.svc.GetGrant(c.Request().Context(), id, actor)
	if err != nil {
		return grantHTTPError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) ListPending(c echo.Context) error {
	orgID, err := uuid.Parse(c.QueryParam("organization_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid organization_id")
	}
	pg := pagination.FromContext(c)

	grants, total, err := h.svc.ListPending(c.Request().Context(), orgID, pg.Limit, pg.Offset)
	if err != nil {
		return grantHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(grants, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListActive(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	grants, total, err := h.svc.ListActive(c.Request().Context(), actor, pg.Limit, pg.Offset)
	if err != nil {
		return grantHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(grants, total, pg.Limit, pg.Offset))
}

func (h *Handler) CheckAccess(c echo.Context) error {
	subjectID, err := uuid.Parse(c.QueryParam("subject_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subject_id")
	}
	orgID, err := uuid.Parse(c.QueryParam("organization_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid organization_id")
	}
	scope := permission.Scope(c.QueryParam("scope"))
	if scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope is required")
	}

	g, err := h.svc.CheckAccess(c.Request().Context(), subjectID, orgID, scope)
	if err != nil {
		return grantHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"granted":    true,
		"grant_id":   g.ID,
		"expires_at": g.ExpiresAt,
	})
}

func (h *Handler) IssueIdentityToken(c echo.Context) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}

	tok, err := h.svc.IssueIdentityToken(c.Request().Context(), actor)
	if err != nil {
		return grantHTTPError(err)
	}
	return renderToken(c, tok)
}

func (h *Handler) AuthorizationRequestQR(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	actor, err := actorID(c)
	if err != nil {
		return err
	}
	tok, err := h.svc.IssueAuthorizationRequestToken(c.Request().Context(), id, actor)
	if err != nil {
		return grantHTTPError(err)
	}
	return renderToken(c, tok)
}

type prescriptionBody struct {
	EncounterID       uuid.UUID        `json:"encounter_id"`
	PrescriptionIndex int              `json:"prescription_index"`
	Medication        token.Medication `json:"medication"`
	SubjectID         uuid.UUID        `json:"subject_id"`
	TTLHours          int              `json:"ttl_hours"`
}

func (h *Handler) IssuePrescriptionToken(c echo.Context) error {
	var body prescriptionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor, err := actorID(c)
	if err != nil {
		return err
	}

	tok, err := h.svc.IssuePrescriptionToken(c.Request().Context(), PrescriptionInput{
		EncounterID:       body.EncounterID,
		PrescriptionIndex: body.PrescriptionIndex,
		Medication:        body.Medication,
		SubjectID:         body.SubjectID,
		PrescriberID:      actor,
		TTL:               hoursToDuration(body.TTLHours),
	})
	if err != nil {
		return grantHTTPError(err)
	}
	return renderToken(c, tok)
}

// renderToken returns the token as JSON, or as a QR image when the format
// query parameter asks for one.
func renderToken(c echo.Context, tok string) error {
	switch c.QueryParam("format") {
	case "png":
		png, err := token.RenderPNG(tok, token.RenderOptions{Size: qrSize(c)})
		if err != nil {
			return grantHTTPError(err)
		}
		return c.Blob(http.StatusOK, "image/png", png)
	case "svg":
		svg, err := token.RenderSVG(tok, token.RenderOptions{})
		if err != nil {
			return grantHTTPError(err)
		}
		return c.Blob(http.StatusOK, "image/svg+xml", []byte(svg))
	default:
		return c.JSON(http.StatusOK, map[string]string{"token": tok})
	}
}

func qrSize(c echo.Context) int {
	switch c.QueryParam("size") {
	case "small":
		return 128
	case "large":
		return 512
	default:
		return 256
	}
}

// actorID resolves the authenticated caller's id.
func actorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	return id, nil
}

// grantHTTPError maps domain errors to HTTP status codes. Access denials map
// to the same 403 regardless of the underlying cause.
func grantHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "grant not found")
	case errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrOrganizationNotVerified),
		errors.Is(err, permission.ErrMissingPermission):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrTokenReplay):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, token.ErrSignatureMismatch),
		errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrTokenKindMismatch):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, token.ErrInvalidPayload),
		errors.Is(err, permission.ErrUnknownScope),
		errors.Is(err, permission.ErrUnknownAction):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, token.ErrCryptoUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "token service unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func hoursToDuration(hours int) time.Duration {
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}
