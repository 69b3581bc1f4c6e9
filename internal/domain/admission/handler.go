package admission

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	staff := auth.RequireRole(auth.BedRoles...)

	api.GET("/admissions", h.ListAdmissions)
	api.GET("/admissions/:id", h.GetAdmission)
	api.POST("/admissions", h.Admit, staff)
	api.PATCH("/admissions/:id/status", h.SetStatus, staff)
	api.POST("/admissions/:id/discharge", h.Discharge, staff)

	api.POST("/beds/transfer", h.Transfer, staff)
	api.POST("/beds/:id/assign", h.AssignBed, staff)
	api.POST("/beds/:id/release", h.ReleaseBed, staff)
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

type admitRequest struct {
	Admission
	BedID *uuid.UUID `json:"bed_id"`
}

func (h *Handler) Admit(c echo.Context) error {
	var req admitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	move, err := h.svc.Admit(c.Request().Context(), &req.Admission, req.BedID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, move)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f Filter
	if s := c.QueryParam("status"); s != "" {
		status, err := ParseStatus(s)
		if err != nil {
			return httpError(err)
		}
		f.Status = status
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	a, err := h.svc.SetStatus(c.Request().Context(), id, status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	move, err := h.svc.Discharge(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, move)
}

type assignRequest struct {
	AdmissionID string `json:"admission_id"`
}

func (h *Handler) AssignBed(c echo.Context) error {
	bedID, err := pathID(c)
	if err != nil {
		return err
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	admissionID, err := uuid.Parse(req.AdmissionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission_id")
	}
	move, err := h.svc.AssignBed(c.Request().Context(), bedID, admissionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, move)
}

func (h *Handler) ReleaseBed(c echo.Context) error {
	bedID, err := pathID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	move, err := h.svc.ReleaseBed(c.Request().Context(), bedID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, move)
}

type transferRequest struct {
	FromBedID string `json:"from_bed_id"`
	ToBedID   string `json:"to_bed_id"`
	Reason    string `json:"reason"`
}

func (h *Handler) Transfer(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	from, err := uuid.Parse(req.FromBedID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from_bed_id")
	}
	to, err := uuid.Parse(req.ToBedID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to_bed_id")
	}
	move, err := h.svc.Transfer(c.Request().Context(), from, to, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, move)
}
