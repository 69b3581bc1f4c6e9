package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/internal/platform/notification"
	"github.com/ehr/caredispatch/pkg/apperr"
)

type recordingNotifier struct {
	mu      sync.Mutex
	signals []notification.Signal
}

func (r *recordingNotifier) Notify(_ context.Context, s notification.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

func (r *recordingNotifier) kinds() []notification.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Kind
	for _, s := range r.signals {
		out = append(out, s.Kind)
	}
	return out
}

func newTestService() (*Service, *recordingNotifier) {
	svc := NewService(NewMemoryVehicleRepo(), db.NewLocalTransactor(3, zerolog.Nop()))
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, n
}

func mustVehicle(t *testing.T, svc *Service, callSign string) *Vehicle {
	t.Helper()
	v := &Vehicle{CallSign: callSign, Type: TypeAmbulance}
	if err := svc.Create(context.Background(), v); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	return v
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService()
	v := mustVehicle(t, svc, "MEDIC-1")
	if v.Status != lifecycle.VehicleAvailable || v.Version != 1 || v.ID == uuid.Nil {
		t.Errorf("unexpected new vehicle %+v", v)
	}

	tests := []struct {
		name string
		v    Vehicle
		kind apperr.Kind
	}{
		{"missing call sign", Vehicle{Type: TypeAmbulance}, apperr.KindValidation},
		{"bad type", Vehicle{CallSign: "X", Type: "hovercraft"}, apperr.KindValidation},
		{"duplicate call sign", Vehicle{CallSign: "MEDIC-1", Type: TypeTransport}, apperr.KindConflict},
		{"two drivers", Vehicle{CallSign: "MEDIC-2", Type: TypeAmbulance, Crew: []CrewMember{
			{MemberID: "a", Name: "A", Role: CrewDriver},
			{MemberID: "b", Name: "B", Role: CrewDriver},
		}}, apperr.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.v
			if err := svc.Create(context.Background(), &v); apperr.KindOf(err) != tt.kind {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestService_BindToIncident(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")
	inc := uuid.New()

	bound, err := svc.BindToIncident(ctx, v.ID, inc)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if bound.Status != lifecycle.VehicleDispatched || *bound.CurrentIncidentID != inc {
		t.Errorf("unexpected bound vehicle %+v", bound)
	}

	_, err = svc.BindToIncident(ctx, v.ID, uuid.New())
	if !apperr.IsConflict(err) {
		t.Fatalf("second bind should conflict, got %v", err)
	}

	got, _ := svc.Get(ctx, v.ID)
	if *got.CurrentIncidentID != inc {
		t.Error("failed bind must not change the binding")
	}
}

func TestService_BindRejectsSidelined(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")
	if _, err := svc.StartMaintenance(ctx, v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.BindToIncident(ctx, v.ID, uuid.New()); !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestService_MirrorStatus(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")
	inc := uuid.New()
	if _, err := svc.BindToIncident(ctx, v.ID, inc); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		incident lifecycle.IncidentStatus
		want     lifecycle.VehicleStatus
		bound    bool
	}{
		{lifecycle.IncidentEnRoute, lifecycle.VehicleEnRoute, true},
		{lifecycle.IncidentOnScene, lifecycle.VehicleOnScene, true},
		{lifecycle.IncidentTransporting, lifecycle.VehicleTransporting, true},
		{lifecycle.IncidentArrived, lifecycle.VehicleTransporting, true},
		{lifecycle.IncidentInTreatment, lifecycle.VehicleTransporting, true},
		{lifecycle.IncidentCompleted, lifecycle.VehicleAvailable, false},
	}
	for _, step := range steps {
		got, err := svc.MirrorStatus(ctx, v.ID, inc, step.incident)
		if err != nil {
			t.Fatalf("mirror %s: %v", step.incident, err)
		}
		if got.Status != step.want {
			t.Errorf("after %s: expected %s, got %s", step.incident, step.want, got.Status)
		}
		if (got.CurrentIncidentID != nil) != step.bound {
			t.Errorf("after %s: bound=%v", step.incident, got.CurrentIncidentID != nil)
		}
	}
}

func TestService_MirrorSkipsOtherIncident(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")
	if _, err := svc.BindToIncident(ctx, v.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}
	got, err := svc.MirrorStatus(ctx, v.ID, uuid.New(), lifecycle.IncidentCancelled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != lifecycle.VehicleDispatched || got.Version != 2 {
		t.Errorf("vehicle bound elsewhere must not change, got %s v%d", got.Status, got.Version)
	}
}

func TestService_ForceOutOfServiceKeepsBinding(t *testing.T) {
	svc, n := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")
	inc := uuid.New()
	if _, err := svc.BindToIncident(ctx, v.ID, inc); err != nil {
		t.Fatal(err)
	}

	got, err := svc.ForceOutOfService(ctx, v.ID, "brake warning")
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if got.Status != lifecycle.VehicleOutOfService || got.CurrentIncidentID == nil || *got.OutOfServiceReason != "brake warning" {
		t.Errorf("unexpected vehicle %+v", got)
	}

	// Incident progress no longer moves a sidelined vehicle.
	got, err = svc.MirrorStatus(ctx, v.ID, inc, lifecycle.IncidentOnScene)
	if err != nil || got.Status != lifecycle.VehicleOutOfService {
		t.Errorf("mirror onto sidelined vehicle: %s %v", got.Status, err)
	}

	// Return is blocked until the incident lets go.
	if _, err := svc.ReturnToService(ctx, v.ID); !apperr.IsConflict(err) {
		t.Errorf("return while bound should conflict, got %v", err)
	}
	got, err = svc.MirrorStatus(ctx, v.ID, inc, lifecycle.IncidentCompleted)
	if err != nil || got.Status != lifecycle.VehicleOutOfService || got.CurrentIncidentID != nil {
		t.Fatalf("release of sidelined vehicle: %+v %v", got, err)
	}
	got, err = svc.ReturnToService(ctx, v.ID)
	if err != nil || got.Status != lifecycle.VehicleAvailable || got.OutOfServiceReason != nil {
		t.Errorf("return to service: %+v %v", got, err)
	}

	if kinds := n.kinds(); len(kinds) != 1 || kinds[0] != notification.KindVehicleOutOfService {
		t.Errorf("expected one out-of-service signal, got %v", kinds)
	}
}

func TestService_ReturnToServiceRequiresSidelined(t *testing.T) {
	svc, _ := newTestService()
	v := mustVehicle(t, svc, "MEDIC-1")
	if _, err := svc.ReturnToService(context.Background(), v.ID); !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestService_SubmitCheck(t *testing.T) {
	svc, n := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")

	got, err := svc.SubmitCheck(ctx, v.ID, Check{CheckedBy: "tech-1", Items: []CheckItem{
		{Name: "brakes", Passed: true},
		{Name: "oxygen", Passed: true},
	}})
	if err != nil {
		t.Fatalf("passing check: %v", err)
	}
	if !got.LastCheck.Passed || got.Status != lifecycle.VehicleAvailable {
		t.Errorf("passing check should leave vehicle available, got %+v", got)
	}

	got, err = svc.SubmitCheck(ctx, v.ID, Check{CheckedBy: "tech-1", Items: []CheckItem{
		{Name: "brakes", Passed: false},
		{Name: "oxygen", Passed: true},
		{Name: "defibrillator", Passed: false},
	}})
	if err != nil {
		t.Fatalf("failing check: %v", err)
	}
	if got.Status != lifecycle.VehicleOutOfService {
		t.Errorf("failing check should sideline the vehicle, got %s", got.Status)
	}
	if *got.OutOfServiceReason != "failed check: brakes, defibrillator" {
		t.Errorf("unexpected reason %q", *got.OutOfServiceReason)
	}
	if len(n.kinds()) != 1 {
		t.Errorf("expected one signal, got %v", n.kinds())
	}

	if _, err := svc.SubmitCheck(ctx, v.ID, Check{CheckedBy: "tech-1"}); !apperr.IsValidation(err) {
		t.Errorf("empty check should be rejected, got %v", err)
	}
}

func TestService_Crew(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")

	if _, err := svc.AssignCrew(ctx, v.ID, CrewMember{MemberID: "d1", Name: "Dee", Role: CrewDriver}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AssignCrew(ctx, v.ID, CrewMember{MemberID: "p1", Name: "Pat", Role: CrewParamedic}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AssignCrew(ctx, v.ID, CrewMember{MemberID: "d2", Name: "Dan", Role: CrewDriver}); !apperr.IsConflict(err) {
		t.Errorf("second driver should conflict, got %v", err)
	}
	if _, err := svc.AssignCrew(ctx, v.ID, CrewMember{MemberID: "p1", Name: "Pat", Role: "emt"}); !apperr.IsConflict(err) {
		t.Errorf("same member twice should conflict, got %v", err)
	}

	got, err := svc.RemoveCrew(ctx, v.ID, "d1")
	if err != nil || len(got.Crew) != 1 || got.Crew[0].MemberID != "p1" {
		t.Fatalf("remove crew: %+v %v", got, err)
	}
	if _, err := svc.RemoveCrew(ctx, v.ID, "d1"); !apperr.IsNotFound(err) {
		t.Errorf("removing absent member should be not found, got %v", err)
	}
}

func TestService_Equipment(t *testing.T) {
	svc, n := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")

	if _, err := svc.AddEquipment(ctx, v.ID, Equipment{Name: "oxygen", Quantity: 4, MinQuantity: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddEquipment(ctx, v.ID, Equipment{Name: "oxygen", Quantity: 1}); !apperr.IsConflict(err) {
		t.Errorf("duplicate item should conflict, got %v", err)
	}

	got, err := svc.AdjustQuantity(ctx, v.ID, "oxygen", -2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Equipment[0].Quantity != 2 || len(got.LowStock()) != 1 {
		t.Errorf("expected low stock at the minimum, got %+v", got.Equipment)
	}
	if got.Status != lifecycle.VehicleAvailable {
		t.Error("low stock must not block the vehicle")
	}
	if kinds := n.kinds(); len(kinds) != 1 || kinds[0] != notification.KindVehicleLowStock {
		t.Errorf("expected a low stock signal, got %v", kinds)
	}

	if _, err := svc.AdjustQuantity(ctx, v.ID, "oxygen", -3); !apperr.IsValidation(err) {
		t.Errorf("negative quantity should be rejected, got %v", err)
	}
	if _, err := svc.AdjustQuantity(ctx, v.ID, "splint", 1); !apperr.IsNotFound(err) {
		t.Errorf("unknown item should be not found, got %v", err)
	}
}

func TestVehicle_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)
	v := &Vehicle{Equipment: []Equipment{
		{Name: "epinephrine", Quantity: 3, ExpiresAt: &past},
		{Name: "saline", Quantity: 3, ExpiresAt: &future},
		{Name: "splint", Quantity: 3},
	}}
	exp := v.Expired(now)
	if len(exp) != 1 || exp[0].Name != "epinephrine" {
		t.Errorf("unexpected expired list %+v", exp)
	}
}

func TestService_UpdateLocation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	v := mustVehicle(t, svc, "MEDIC-1")
	got, err := svc.UpdateLocation(ctx, v.ID, 51.5, -0.12)
	if err != nil || got.Location.Latitude != 51.5 {
		t.Fatalf("update location: %+v %v", got, err)
	}
	if _, err := svc.UpdateLocation(ctx, v.ID, 91, 0); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_ListAvailable(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a := mustVehicle(t, svc, "MEDIC-1")
	mustVehicle(t, svc, "MEDIC-2")
	if _, err := svc.BindToIncident(ctx, a.ID, uuid.New()); err != nil {
		t.Fatal(err)
	}
	items, total, err := svc.ListAvailable(ctx, 10, 0)
	if err != nil || total != 1 || items[0].CallSign != "MEDIC-2" {
		t.Errorf("unexpected available list %v (%d) %v", items, total, err)
	}
}

func TestMemoryVehicleRepo_StaleUpdate(t *testing.T) {
	repo := NewMemoryVehicleRepo()
	ctx := context.Background()
	v := &Vehicle{CallSign: "MEDIC-1", Type: TypeAmbulance, Status: lifecycle.VehicleAvailable}
	if err := repo.Create(ctx, v); err != nil {
		t.Fatal(err)
	}
	a, _ := repo.GetByID(ctx, v.ID)
	b, _ := repo.GetByID(ctx, v.ID)
	if err := repo.Update(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(ctx, b); !apperr.IsStale(err) {
		t.Errorf("second writer should be stale, got %v", err)
	}
}

func TestMemoryVehicleRepo_CopiesOut(t *testing.T) {
	repo := NewMemoryVehicleRepo()
	ctx := context.Background()
	v := &Vehicle{CallSign: "MEDIC-1", Type: TypeAmbulance, Equipment: []Equipment{{Name: "oxygen", Quantity: 1}}}
	if err := repo.Create(ctx, v); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetByID(ctx, v.ID)
	got.Equipment[0].Quantity = 99
	again, _ := repo.GetByID(ctx, v.ID)
	if again.Equipment[0].Quantity != 1 {
		t.Error("caller mutation leaked into the store")
	}
}
