package incident

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
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
	api.GET("/incidents", h.ListIncidents)
	api.GET("/incidents/:id", h.GetIncident)
	api.GET("/incidents/:id/timeline", h.GetTimeline)

	intake := auth.RequireRole(auth.IncidentIntakeRoles...)
	api.POST("/incidents", h.ReportIncident, intake)
	api.POST("/incidents/:id/cancel", h.CancelIncident, intake)

	crew := api.Group("/incidents/:id", auth.RequireRole(auth.CrewRoles...))
	crew.POST("/advance", h.AdvanceIncident)
	crew.POST("/vitals", h.RecordVitals)
	crew.POST("/treatments", h.RecordTreatment)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.StatusCode(err), err.Error())
}

func incidentID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) ReportIncident(c echo.Context) error {
	var in Incident
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Report(c.Request().Context(), &in); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, &in)
}

func (h *Handler) GetIncident(c echo.Context) error {
	id, err := incidentID(c)
	if err != nil {
		return err
	}
	in, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handler) GetTimeline(c echo.Context) error {
	id, err := incidentID(c)
	if err != nil {
		return err
	}
	tl, err := h.svc.Timeline(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tl)
}

func (h *Handler) ListIncidents(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if s := c.QueryParam("status"); s != "" {
		status, err := lifecycle.ParseIncidentStatus(s)
		if err != nil {
			return httpError(err)
		}
		f.Status = status
	}
	if p := Priority(c.QueryParam("priority")); p != "" {
		if !p.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown priority")
		}
		f.Priority = p
	}
	if v := c.QueryParam("vehicle_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid vehicle_id")
		}
		f.VehicleID = id
	}

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type advanceRequest struct {
	Status string `json:"status"`
}

func (h *Handler) AdvanceIncident(c echo.Context) error {
	id, err := incidentID(c)
	if err != nil {
		return err
	}
	var req advanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target, err := lifecycle.ParseIncidentStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	in, err := h.svc.Advance(c.Request().Context(), id, target)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, in)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelIncident(c echo.Context) error {
	id, err := incidentID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := h.svc.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handler) RecordVitals(c echo.Context) error {
	id, err := incidentID(c)
	if err != nil {
		return err
	}
	var v VitalSigns
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if v.RecordedBy == "" {
		v.RecordedBy = auth.UserIDFromContext(c.Request().Context())
	}
	in, err := h.svc.RecordVitals(c.Request().Context(), id, v)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, in)
}

func (h *Handler) RecordTreatment(c echo.Context) error {
	id, err := incidentID(c)
	if err != nil {
		return err
	}
	var t Treatment
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if t.PerformedBy == "" {
		t.PerformedBy = auth.UserIDFromContext(c.Request().Context())
	}
	in, err := h.svc.RecordTreatment(c.Request().Context(), id, t)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, in)
}
