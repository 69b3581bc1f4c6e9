package dispatch

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/caredispatch/internal/domain/fleet"
	"github.com/ehr/caredispatch/internal/platform/auth"
	"github.com/ehr/caredispatch/pkg/apperr"
	"github.com/ehr/caredispatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	intake := auth.RequireRole(auth.IncidentIntakeRoles...)
	api.POST("/incidents/:id/dispatch", h.Dispatch, intake)
	api.GET("/dispatch/candidates", h.Candidates, intake)
}

type dispatchRequest struct {
	VehicleID string `json:"vehicle_id"`
}

func (h *Handler) Dispatch(c echo.Context) error {
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	vehicleID, err := uuid.Parse(req.VehicleID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid vehicle_id")
	}
	res, err := h.svc.Dispatch(c.Request().Context(), incidentID, vehicleID)
	if err != nil {
		return echo.NewHTTPError(apperr.StatusCode(err), err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Candidates(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Candidates(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.StatusCode(err), err.Error())
	}
	now := h.svc.vehicles.Now()
	views := make([]fleet.VehicleView, 0, len(items))
	for _, v := range items {
		views = append(views, fleet.NewView(v, now))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}
