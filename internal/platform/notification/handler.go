package notification

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes the retained notification history.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.GET("/notifications/stats", h.HandleStats, m...)
	g.GET("/notifications/:id", h.HandleGet, m...)
	g.GET("/notifications", h.HandleList, m...)
	g.POST("/notifications/:id/retry", h.HandleRetry, m...)
}

// HandleList handles GET /notifications?kind=...&limit=...
func (h *Handler) HandleList(c echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, h.manager.Recent(Kind(c.QueryParam("kind")), limit))
}

func (h *Handler) HandleGet(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, ok := h.manager.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if _, ok := h.manager.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	s, err := h.manager.Retry(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"backend": h.manager.Backend(),
		"counts":  h.manager.Stats(),
	})
}
