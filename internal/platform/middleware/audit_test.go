package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func runAudit(t *testing.T, rec *mockRecorder, logger zerolog.Logger, method, path string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(auth.WithSubject(context.Background(), "disp-1", auth.RoleDispatcher))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "rid-1")
	return Audit(logger, rec)(handler)(c)
}

func TestAudit_RecordsMutation(t *testing.T) {
	rec := &mockRecorder{}
	err := runAudit(t, rec, zerolog.Nop(), http.MethodPost, "/api/v1/incidents/4a1c/dispatch", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.entries[0]
	if got.Subject != "disp-1" || got.Resource != "incidents" || got.ResourceID != "4a1c" || got.Action != "dispatch" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.StatusCode != http.StatusOK || got.RequestID != "rid-1" {
		t.Errorf("unexpected status/request id %+v", got)
	}
}

func TestAudit_SkipsReadsAndOtherPaths(t *testing.T) {
	rec := &mockRecorder{}
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	_ = runAudit(t, rec, zerolog.Nop(), http.MethodGet, "/api/v1/vehicles", ok)
	_ = runAudit(t, rec, zerolog.Nop(), http.MethodPost, "/health", ok)
	if rec.count() != 0 {
		t.Errorf("expected no entries, got %d", rec.count())
	}
}

func TestAudit_CapturesErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	err := runAudit(t, rec, zerolog.Nop(), http.MethodPost, "/api/v1/beds/b1/assign", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "bed not available: status=occupied")
	})
	if err == nil {
		t.Fatal("handler error must propagate")
	}
	if rec.entries[0].StatusCode != http.StatusConflict {
		t.Errorf("expected 409 in entry, got %d", rec.entries[0].StatusCode)
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{err: errors.New("disk full")}
	err := runAudit(t, rec, zerolog.New(&buf), http.MethodDelete, "/api/v1/vehicles/v9", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	if err != nil {
		t.Fatalf("recorder failure must not fail the request: %v", err)
	}
	if !strings.Contains(buf.String(), "audit recorder failed") {
		t.Errorf("expected recorder failure in log, got %s", buf.String())
	}
}

func TestParseAuditPath(t *testing.T) {
	tests := []struct {
		path, method             string
		resource, id, action string
	}{
		{"/api/v1/incidents", http.MethodPost, "incidents", "", "create"},
		{"/api/v1/incidents/i1/advance", http.MethodPost, "incidents", "i1", "advance"},
		{"/api/v1/vehicles/v1", http.MethodPatch, "vehicles", "v1", "update"},
		{"/api/v1/vehicles/v1", http.MethodDelete, "vehicles", "v1", "delete"},
		{"/api/v1/wards/w1/beds/refresh", http.MethodPost, "wards", "w1", "beds/refresh"},
	}
	for _, tt := range tests {
		r, id, a := parseAuditPath(tt.path, tt.method)
		if r != tt.resource || id != tt.id || a != tt.action {
			t.Errorf("parseAuditPath(%s %s) = %s %s %s", tt.method, tt.path, r, id, a)
		}
	}
}
