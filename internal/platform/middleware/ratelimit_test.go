package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func rateLimited(t *testing.T, h echo.HandlerFunc, e *echo.Echo, ip string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		if _, err := rateLimited(t, h, e, "10.0.0.1"); err != nil {
			t.Fatalf("request %d within burst rejected: %v", i, err)
		}
	}
	rec, err := rateLimited(t, h, e, "10.0.0.1")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected X-RateLimit-Remaining: 0")
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if _, err := rateLimited(t, h, e, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := rateLimited(t, h, e, "10.0.0.2"); err != nil {
		t.Fatalf("second client must have its own bucket: %v", err)
	}
	if _, err := rateLimited(t, h, e, "10.0.0.1"); err == nil {
		t.Fatal("first client should be limited")
	}
}

func TestRateLimit_TenantScoped(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	for _, tenant := range []string{"north", "south"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
		c := e.NewContext(req, httptest.NewRecorder())
		c.Set("jwt_tenant_id", tenant)
		if err := h(c); err != nil {
			t.Fatalf("tenant %s rejected: %v", tenant, err)
		}
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
