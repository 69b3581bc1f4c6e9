package ward

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/caredispatch/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_CreateWardAndBed(t *testing.T) {
	h, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"name":"Ward A","department":"surgery"}`), rec)
	if err := h.CreateWard(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	wards, _, _ := h.svc.ListWards(context.Background(), 10, 0)
	if len(wards) != 1 {
		t.Fatalf("expected one ward, got %d", len(wards))
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, `{"label":"A1","bed_type":"general","status":"occupied"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(wards[0].ID.String())
	if err := h.CreateBed(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"available"`) {
		t.Errorf("new beds start available, got %s", rec.Body.String())
	}
}

func TestHandler_GetBed_Errors(t *testing.T) {
	h, e := newTestHandler()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	expectHTTPError(t, h.GetBed(c), http.StatusBadRequest)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	expectHTTPError(t, h.GetBed(c), http.StatusNotFound)
}

func TestHandler_ListBeds_Filters(t *testing.T) {
	h, e := newTestHandler()
	w, _ := mustWard(t, h.svc, "Ward A", "A1", "A2")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?ward_id="+w.ID.String()+"&status=available", nil), rec)
	if err := h.ListBeds(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("expected two beds, got %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?status=broken", nil), httptest.NewRecorder())
	expectHTTPError(t, h.ListBeds(c), http.StatusBadRequest)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?ward_id=x", nil), httptest.NewRecorder())
	expectHTTPError(t, h.ListBeds(c), http.StatusBadRequest)
}

func TestHandler_CompleteCleaning_DefaultsStaff(t *testing.T) {
	h, e := newTestHandler()
	_, beds := mustWard(t, h.svc, "Ward A", "A1")
	ctx := context.Background()
	if _, err := h.svc.Occupy(ctx, beds[0].ID, uuid.New()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.svc.Vacate(ctx, beds[0].ID, "Discharged"); err != nil {
		t.Fatal(err)
	}

	req := jsonRequest(http.MethodPost, `{}`)
	req = req.WithContext(auth.WithSubject(ctx, "hk-2", auth.RoleHousekeeping))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(beds[0].ID.String())
	if err := h.CompleteCleaning(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"completed_by":"hk-2"`) {
		t.Errorf("expected cleaner from subject, got %s", rec.Body.String())
	}
}

func TestHandler_RouteRoles(t *testing.T) {
	h, e := newTestHandler()
	_, beds := mustWard(t, h.svc, "Ward A", "A1")
	h.RegisterRoutes(e.Group("/api/v1"))

	tests := []struct {
		name string
		path string
		role string
		want int
	}{
		{"housekeeping cannot reserve", "/reserve", auth.RoleHousekeeping, http.StatusForbidden},
		{"nurse reserves", "/reserve", auth.RoleNurse, http.StatusOK},
		{"driver cannot cancel", "/cancel-reservation", auth.RoleDriver, http.StatusForbidden},
		{"admin cancels", "/cancel-reservation", auth.RoleAdmin, http.StatusOK},
		{"second cancel conflicts", "/cancel-reservation", auth.RoleDoctor, http.StatusConflict},
		{"housekeeping cannot clean an available bed", "/complete-cleaning", auth.RoleHousekeeping, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/beds/"+beds[0].ID.String()+tt.path, nil)
			req = req.WithContext(auth.WithSubject(context.Background(), "u1", tt.role))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
