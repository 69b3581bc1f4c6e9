package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/ehr/caredispatch/internal/platform/auth"
	"github.com/ehr/caredispatch/internal/platform/db"
)

// MeasureDefinition is a named operational query.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
}

type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// ParamSince bounds incident measures to calls reported at or after an
// RFC 3339 instant. It defaults to 24 hours ago.
const ParamSince = "since"

const defaultWindow = 24 * time.Hour

var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "ward-occupancy",
		Name:        "Ward Occupancy",
		Description: "Beds per ward grouped by status",
		SQL: `SELECT w.name AS ward, b.status, COUNT(*) AS total
FROM beds b JOIN wards w ON w.id = b.ward_id
GROUP BY w.name, b.status ORDER BY w.name, b.status`,
		Parameters: []string{},
	},
	{
		ID:          "fleet-status",
		Name:        "Fleet Status",
		Description: "Vehicles grouped by type and status",
		SQL:         `SELECT vehicle_type, status, COUNT(*) AS total FROM vehicles GROUP BY vehicle_type, status ORDER BY vehicle_type, status`,
		Parameters:  []string{},
	},
	{
		ID:          "incident-volume",
		Name:        "Incident Volume",
		Description: "Incidents reported in the window grouped by priority and status",
		SQL: `SELECT priority, status, COUNT(*) AS total FROM incidents
WHERE reported_at >= $1 GROUP BY priority, status ORDER BY priority, status`,
		Parameters: []string{ParamSince},
	},
	{
		ID:          "response-times",
		Name:        "Response Times",
		Description: "Mean minutes from report to dispatch and to arrival on scene, by priority",
		SQL: `SELECT priority,
	COUNT(*) AS incidents,
	ROUND(AVG(EXTRACT(EPOCH FROM (dispatched_at - reported_at)) / 60)::numeric, 1) AS mean_minutes_to_dispatch,
	ROUND(AVG(EXTRACT(EPOCH FROM (on_scene_at - reported_at)) / 60)::numeric, 1) AS mean_minutes_to_scene
FROM incidents
WHERE reported_at >= $1 AND dispatched_at IS NOT NULL
GROUP BY priority ORDER BY priority`,
		Parameters: []string{ParamSince},
	},
	{
		ID:          "admissions-by-status",
		Name:        "Admissions by Status",
		Description: "Admissions grouped by status",
		SQL:         `SELECT status, COUNT(*) AS total FROM admissions GROUP BY status ORDER BY total DESC`,
		Parameters:  []string{},
	},
}

type Handler struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleDispatcher, auth.RoleFleetManager, auth.RoleDoctor))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure runs the measure against the caller's tenant schema.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	for _, p := range measure.Parameters {
		if v := c.QueryParam(p); v != "" {
			params[p] = v
		}
	}
	args, err := h.measureArgs(measure, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: h.now().UTC(),
		Results:     results,
		Parameters:  params,
	})
}

// measureArgs turns query parameters into positional SQL arguments in the
// order the measure declares them.
func (h *Handler) measureArgs(m *MeasureDefinition, params map[string]string) ([]any, error) {
	args := make([]any, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		switch p {
		case ParamSince:
			since := h.now().Add(-defaultWindow)
			if v, ok := params[p]; ok {
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", p)
				}
				since = t
			}
			args = append(args, since)
		default:
			return nil, fmt.Errorf("unsupported parameter %q", p)
		}
	}
	return args, nil
}

func (h *Handler) executeSQL(ctx context.Context, sql string, args ...any) ([]map[string]interface{}, error) {
	rows, err := db.Conn(ctx, h.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
