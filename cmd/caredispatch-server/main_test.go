package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/caredispatch/internal/config"
	"github.com/ehr/caredispatch/internal/domain/fleet"
	"github.com/ehr/caredispatch/internal/domain/ward"
	"github.com/ehr/caredispatch/internal/platform/auth"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "development",
		StoreBackend:   config.BackendMemory,
		CORSOrigins:    []string{"*"},
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		RequestTimeout: 5 * time.Second,
		TxMaxRetries:   3,
		NotifyBackend:  "log",
		NotifySubject:  "caredispatch",
		DefaultTenant:  "default",
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func do(t *testing.T, a *app, method, path, body, roles string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if roles != "" {
		req.Header.Set(auth.DevRolesHeader, roles)
		req.Header.Set(auth.DevSubjectHeader, "tester")
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestApp(t)

	code, body := do(t, a, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = do(t, a, http.MethodGet, "/health/db", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, config.BackendMemory, body["backend"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSeedDemo_Idempotent(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, seedDemo(ctx, a.services, zerolog.Nop()))
	require.NoError(t, seedDemo(ctx, a.services, zerolog.Nop()))

	wards, total, err := a.services.wards.ListWards(ctx, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, len(demoWards), total)
	for _, w := range wards {
		assert.Positive(t, w.Capacity.Total, w.Name)
	}
	_, vehicles, err := a.services.fleet.List(ctx, fleet.VehicleFilter{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, len(demoVehicles), vehicles)
}

// TestDispatchToAdmission walks an incident from the first call to a bed
// through the mounted routes.
func TestDispatchToAdmission(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, seedDemo(ctx, a.services, zerolog.Nop()))

	code, body := do(t, a, http.MethodPost, "/api/v1/incidents", `{
		"type": "cardiac",
		"priority": "critical",
		"description": "collapsed at bus stop",
		"caller": {"name": "Passer-by", "phone": "555-0100"},
		"location": {"address": "12 High Street"},
		"destination_facility": "City General"
	}`, auth.RoleDispatcher)
	require.Equal(t, http.StatusCreated, code, body)
	incidentID := body["id"].(string)

	code, body = do(t, a, http.MethodGet, "/api/v1/dispatch/candidates", "", auth.RoleDispatcher)
	require.Equal(t, http.StatusOK, code, body)
	candidates := body["data"].([]any)
	require.NotEmpty(t, candidates)
	vehicleID := candidates[0].(map[string]any)["id"].(string)

	code, body = do(t, a, http.MethodPost, "/api/v1/incidents/"+incidentID+"/dispatch", `{"vehicle_id":"`+vehicleID+`"}`, auth.RoleDispatcher)
	require.Equal(t, http.StatusOK, code, body)

	for _, s := range []string{"en_route", "on_scene", "transporting"} {
		code, body = do(t, a, http.MethodPost, "/api/v1/incidents/"+incidentID+"/advance", `{"status":"`+s+`"}`, auth.RoleParamedic)
		require.Equal(t, http.StatusOK, code, "%s: %v", s, body)
	}

	code, body = do(t, a, http.MethodPost, "/api/v1/incidents/"+incidentID+"/handover/complete", `{"summary":"ROSC on scene"}`, auth.RoleParamedic)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "completed", body["status"])

	code, body = do(t, a, http.MethodGet, "/api/v1/vehicles/"+vehicleID, "", auth.RoleDispatcher)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "available", body["status"])

	beds, _, err := a.services.wards.ListBeds(ctx, ward.BedFilter{}, 1, 0)
	require.NoError(t, err)
	require.Len(t, beds, 1)

	code, body = do(t, a, http.MethodPost, "/api/v1/admissions", `{
		"patient": {"name": "J. Doe"},
		"diagnosis": "post cardiac arrest",
		"incident_id": "`+incidentID+`",
		"bed_id": "`+beds[0].ID.String()+`"
	}`, auth.RoleNurse)
	require.Equal(t, http.StatusCreated, code, body)

	code, body = do(t, a, http.MethodGet, "/api/v1/beds/"+beds[0].ID.String(), "", auth.RoleNurse)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "occupied", body["status"])

	code, body = do(t, a, http.MethodGet, "/api/v1/notifications", "", auth.RoleDispatcher)
	require.Equal(t, http.StatusOK, code, body)
	code, _ = do(t, a, http.MethodGet, "/api/v1/notifications", "", auth.RoleNurse)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAuthMiddlewareModes(t *testing.T) {
	cfg := testConfig()
	assert.NotNil(t, authMiddleware(cfg))

	cfg.Env = "production"
	cfg.AuthSigningKey = strings.Repeat("k", 32)
	assert.Equal(t, "shared", cfg.ResolvedAuthMode())

	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	code, _ := do(t, a, http.MethodGet, "/api/v1/incidents", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMigrationsFS(t *testing.T) {
	entries, err := migrationsFS("").Open("001_core.sql")
	require.NoError(t, err)
	require.NoError(t, entries.Close())
}
