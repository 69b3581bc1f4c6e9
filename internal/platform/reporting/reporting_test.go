package reporting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestPredefinedMeasures(t *testing.T) {
	expectedIDs := []string{
		"ward-occupancy",
		"fleet-status",
		"incident-volume",
		"response-times",
		"admissions-by-status",
	}
	if len(PredefinedMeasures) != len(expectedIDs) {
		t.Fatalf("expected %d predefined measures, got %d", len(expectedIDs), len(PredefinedMeasures))
	}
	for i, expectedID := range expectedIDs {
		if PredefinedMeasures[i].ID != expectedID {
			t.Errorf("expected measure[%d].ID = %s, got %s", i, expectedID, PredefinedMeasures[i].ID)
		}
	}
}

func TestPredefinedMeasures_Complete(t *testing.T) {
	for _, m := range PredefinedMeasures {
		if m.SQL == "" || m.Name == "" || m.Description == "" {
			t.Errorf("measure %s is missing sql, name or description", m.ID)
		}
		for i := range m.Parameters {
			placeholder := "$" + string(rune('1'+i))
			if !strings.Contains(m.SQL, placeholder) {
				t.Errorf("measure %s declares %d parameters but SQL has no %s", m.ID, len(m.Parameters), placeholder)
			}
		}
	}
}

func TestFindMeasure(t *testing.T) {
	if m := FindMeasure("ward-occupancy"); m == nil || m.Name != "Ward Occupancy" {
		t.Errorf("FindMeasure(ward-occupancy) = %+v", m)
	}
	if m := FindMeasure("patient-count"); m != nil {
		t.Errorf("expected nil for unknown measure, got %+v", m)
	}
}

func TestMeasureArgs(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	h := NewHandler(nil)
	h.now = func() time.Time { return now }

	args, err := h.measureArgs(FindMeasure("incident-volume"), map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 1 || !args[0].(time.Time).Equal(now.Add(-24*time.Hour)) {
		t.Errorf("default since = %v", args)
	}

	args, err = h.measureArgs(FindMeasure("response-times"), map[string]string{ParamSince: "2026-03-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !args[0].(time.Time).Equal(want) {
		t.Errorf("since = %v, want %v", args[0], want)
	}

	if _, err := h.measureArgs(FindMeasure("response-times"), map[string]string{ParamSince: "yesterday"}); err == nil {
		t.Error("expected error for malformed since")
	}

	args, err = h.measureArgs(FindMeasure("fleet-status"), nil)
	if err != nil || len(args) != 0 {
		t.Errorf("fleet-status args = %v, %v", args, err)
	}
}

func TestHandler_ListAndUnknown(t *testing.T) {
	e := echo.New()
	h := NewHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/reports/measures", nil)
	rec := httptest.NewRecorder()
	if err := h.ListMeasures(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []MeasureDefinition
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(PredefinedMeasures) {
		t.Errorf("listed %d measures, want %d", len(got), len(PredefinedMeasures))
	}

	req = httptest.NewRequest(http.MethodGet, "/reports/measures/nope/evaluate", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")
	err := h.EvaluateMeasure(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/reports/measures/incident-volume/evaluate?since=bad", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("incident-volume")
	err = h.EvaluateMeasure(c)
	he, ok = err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
