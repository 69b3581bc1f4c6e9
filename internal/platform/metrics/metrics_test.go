package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ehr/caredispatch/pkg/apperr"
)

func TestObserveError_CountsConflictsOnly(t *testing.T) {
	before := testutil.ToFloat64(Conflicts.WithLabelValues("dispatch"))

	ObserveError("dispatch", apperr.Conflict("vehicle not available"))
	ObserveError("dispatch", apperr.Validation("vehicle_id is required"))
	ObserveError("dispatch", nil)

	if got := testutil.ToFloat64(Conflicts.WithLabelValues("dispatch")) - before; got != 1 {
		t.Errorf("expected 1 new conflict, got %v", got)
	}
}

func TestSetWardBeds(t *testing.T) {
	SetWardBeds("icu", map[string]int{"available": 4, "occupied": 1})
	if got := testutil.ToFloat64(WardBeds.WithLabelValues("icu", "available")); got != 4 {
		t.Errorf("expected 4 available, got %v", got)
	}
	SetWardBeds("icu", map[string]int{"available": 3})
	if got := testutil.ToFloat64(WardBeds.WithLabelValues("icu", "available")); got != 3 {
		t.Errorf("expected gauge to be overwritten with 3, got %v", got)
	}
}

func TestHandler_ServesRegistry(t *testing.T) {
	Transition("bed", "occupied")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `caredispatch_transitions_total{entity="bed",to="occupied"}`) {
		t.Error("expected transitions counter in output")
	}
}
