package handover

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/caredispatch/internal/platform/auth"
	"github.com/ehr/caredispatch/pkg/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/incidents/:id/handover/complete", h.Complete, auth.RequireRole(auth.CrewRoles...))
	api.POST("/incidents/:id/handover/verify", h.Verify, auth.RequireRole(auth.VerifyRoles...))
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CompletedBy == "" {
		req.CompletedBy = auth.UserIDFromContext(c.Request().Context())
	}
	in, err := h.svc.Complete(c.Request().Context(), id, req)
	if err != nil {
		return echo.NewHTTPError(apperr.StatusCode(err), err.Error())
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.VerifiedBy == "" {
		req.VerifiedBy = auth.UserIDFromContext(c.Request().Context())
	}
	in, err := h.svc.Verify(c.Request().Context(), id, req)
	if err != nil {
		return echo.NewHTTPError(apperr.StatusCode(err), err.Error())
	}
	return c.JSON(http.StatusOK, in)
}
