package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		header string
		jwt    string
		want   string
	}{
		{"default", "", "", "", "default"},
		{"query", "clinic_xyz", "", "", "clinic_xyz"},
		{"header over query", "query_tenant", "header_tenant", "", "header_tenant"},
		{"jwt over header", "query", "header", "jwt", "jwt"},
		{"empty jwt falls through", "", "header_tenant", "", "header_tenant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			target := "/"
			if tt.query != "" {
				target += "?tenant_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			c.Set("jwt_tenant_id", tt.jwt)

			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSchemaName(t *testing.T) {
	tests := []struct {
		input string
		want  string
		valid bool
	}{
		{"north_general", `"tenant_north_general"`, true},
		{"A1B2", `"tenant_A1B2"`, true},
		{"a-b", "", false},
		{"a.b", "", false},
		{"'; DROP TABLE beds", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := SchemaName(tt.input)
		if tt.valid {
			if err != nil || got != tt.want {
				t.Errorf("SchemaName(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
			}
			continue
		}
		if err == nil {
			t.Errorf("SchemaName(%q) should be rejected", tt.input)
		}
	}
}

func TestTenantMiddleware_RejectsInvalidTenant(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "bad tenant")
	c := e.NewContext(req, httptest.NewRecorder())

	// The pool is never touched for an invalid id.
	h := TenantMiddleware(nil, "default")(func(c echo.Context) error { return nil })
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestContextAccessors(t *testing.T) {
	if ConnFromContext(context.Background()) != nil {
		t.Error("expected nil conn from empty context")
	}
	ctx := context.WithValue(context.Background(), TenantIDKey, "test_tenant")
	if tid := TenantFromContext(ctx); tid != "test_tenant" {
		t.Errorf("expected test_tenant, got %s", tid)
	}
	if tid := TenantFromContext(context.Background()); tid != "" {
		t.Errorf("expected empty string, got %s", tid)
	}
}

func TestCreateTenantSchema_InvalidIDs(t *testing.T) {
	for _, id := range []string{"tenant-with-dash", "tenant.with.dot", "ten ant", "drop;table"} {
		if err := CreateTenantSchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}
