package fleet

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
	api.GET("/vehicles", h.ListVehicles)
	api.GET("/vehicles/:id", h.GetVehicle)

	api.POST("/vehicles", h.CreateVehicle, auth.RequireRole(auth.RoleFleetManager))

	crew := api.Group("/vehicles/:id", auth.RequireRole(auth.FleetRoles...))
	crew.POST("/out-of-service", h.ForceOutOfService)
	crew.POST("/return-to-service", h.ReturnToService)
	crew.POST("/maintenance", h.StartMaintenance)
	crew.POST("/checks", h.SubmitCheck)
	crew.POST("/crew", h.AssignCrew)
	crew.DELETE("/crew/:member_id", h.RemoveCrew)
	crew.POST("/equipment", h.AddEquipment)
	crew.PATCH("/equipment/:name", h.AdjustQuantity)
	crew.PUT("/location", h.UpdateLocation)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.StatusCode(err), err.Error())
}

func vehicleID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) respond(c echo.Context, code int, v *Vehicle) error {
	return c.JSON(code, NewView(v, h.svc.Now()))
}

func (h *Handler) CreateVehicle(c echo.Context) error {
	var v Vehicle
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &v); err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusCreated, &v)
}

func (h *Handler) GetVehicle(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

func (h *Handler) ListVehicles(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f VehicleFilter
	if s := c.QueryParam("status"); s != "" {
		status, err := lifecycle.ParseVehicleStatus(s)
		if err != nil {
			return httpError(err)
		}
		f.Status = status
	}
	f.Unbound = c.QueryParam("unbound") == "true"

	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	now := h.svc.Now()
	views := make([]VehicleView, 0, len(items))
	for _, v := range items {
		views = append(views, NewView(v, now))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) ForceOutOfService(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.ForceOutOfService(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

func (h *Handler) ReturnToService(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.ReturnToService(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

func (h *Handler) StartMaintenance(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.StartMaintenance(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

func (h *Handler) SubmitCheck(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	var chk Check
	if err := c.Bind(&chk); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if chk.CheckedBy == "" {
		chk.CheckedBy = auth.UserIDFromContext(c.Request().Context())
	}
	v, err := h.svc.SubmitCheck(c.Request().Context(), id, chk)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

func (h *Handler) AssignCrew(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	var m CrewMember
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AssignCrew(c.Request().Context(), id, m)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

func (h *Handler) RemoveCrew(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.RemoveCrew(c.Request().Context(), id, c.Param("member_id"))
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

func (h *Handler) AddEquipment(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	var e Equipment
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AddEquipment(c.Request().Context(), id, e)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

type adjustRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) AdjustQuantity(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	var req adjustRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AdjustQuantity(c.Request().Context(), id, c.Param("name"), req.Delta)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h *Handler) UpdateLocation(c echo.Context) error {
	id, err := vehicleID(c)
	if err != nil {
		return err
	}
	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.UpdateLocation(c.Request().Context(), id, req.Latitude, req.Longitude)
	if err != nil {
		return httpError(err)
	}
	return h.respond(c, http.StatusOK, v)
}
