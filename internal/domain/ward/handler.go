package ward

import (
	"context"
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
	api.GET("/wards", h.ListWards)
	api.GET("/wards/:id", h.GetWard)
	api.GET("/beds", h.ListBeds)
	api.GET("/beds/:id", h.GetBed)

	api.POST("/wards", h.CreateWard, auth.RequireRole(auth.RoleAdmin))
	api.POST("/wards/:id/beds", h.CreateBed, auth.RequireRole(auth.RoleAdmin))
	api.POST("/wards/:id/refresh", h.RefreshCapacity, auth.RequireRole(auth.BedRoles...))

	api.POST("/beds/:id/complete-cleaning", h.CompleteCleaning, auth.RequireRole(auth.CleaningRoles...))

	beds := api.Group("/beds/:id", auth.RequireRole(auth.BedRoles...))
	beds.POST("/reserve", h.bedAction((*Service).Reserve))
	beds.POST("/cancel-reservation", h.bedAction((*Service).CancelReservation))
	beds.POST("/maintenance", h.bedAction((*Service).SetMaintenance))
	beds.POST("/return-from-maintenance", h.bedAction((*Service).ReturnFromMaintenance))
	beds.POST("/out-of-service", h.bedAction((*Service).SetOutOfService))
	beds.POST("/return-to-service", h.bedAction((*Service).ReturnToService))
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.StatusCode(err), err.Error())
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateWard(c echo.Context) error {
	var w Ward
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWard(c.Request().Context(), &w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, &w)
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWards(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListWards(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RefreshCapacity(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.RefreshCapacity(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) CreateBed(c echo.Context) error {
	wardID, err := pathID(c)
	if err != nil {
		return err
	}
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.WardID = wardID
	if err := h.svc.CreateBed(c.Request().Context(), &b); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, &b)
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f BedFilter
	if s := c.QueryParam("ward_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid ward_id")
		}
		f.WardID = id
	}
	if s := c.QueryParam("status"); s != "" {
		status, err := lifecycle.ParseBedStatus(s)
		if err != nil {
			return httpError(err)
		}
		f.Status = status
	}
	items, total, err := h.svc.ListBeds(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type cleaningRequest struct {
	StaffID string `json:"staff_id"`
}

func (h *Handler) CompleteCleaning(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req cleaningRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.StaffID == "" {
		req.StaffID = auth.UserIDFromContext(c.Request().Context())
	}
	b, err := h.svc.CompleteCleaning(c.Request().Context(), id, req.StaffID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// bedAction adapts a body-less bed transition to a handler.
func (h *Handler) bedAction(op func(*Service, context.Context, uuid.UUID) (*Bed, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		b, err := op(h.svc, c.Request().Context(), id)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, b)
	}
}
