package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/internal/platform/metrics"
	"github.com/ehr/caredispatch/internal/platform/notification"
	"github.com/ehr/caredispatch/pkg/apperr"
)

// errUnchanged ends a mutation without writing.
var errUnchanged = errors.New("unchanged")

type Service struct {
	vehicles VehicleRepository
	tx       db.Transactor
	notifier notification.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(vehicles VehicleRepository, tx db.Transactor) *Service {
	return &Service{
		vehicles: vehicles,
		tx:       tx,
		notifier: notification.Nop{},
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) SetNotifier(n notification.Notifier) { s.notifier = n }

func (s *Service) Now() time.Time { return s.now() }

// log prefers the request-scoped logger carried on ctx.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// mutate loads the vehicle, applies fn and writes it back under CAS, all in
// one transaction. A status change is counted once the transaction commits.
func (s *Service) mutate(ctx context.Context, op string, id uuid.UUID, fn func(v *Vehicle) error) (*Vehicle, error) {
	var out *Vehicle
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := s.vehicles.GetByID(ctx, id)
		if err != nil {
			return err
		}
		before := v.Status
		if err := fn(v); err != nil {
			if errors.Is(err, errUnchanged) {
				out = v
				return nil
			}
			return err
		}
		if err := s.vehicles.Update(ctx, v); err != nil {
			return err
		}
		if v.Status != before {
			to := string(v.Status)
			db.AfterCommit(ctx, func() { metrics.Transition("vehicle", to) })
		}
		out = v
		return nil
	})
	metrics.ObserveError(op, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -- Registry --

func (s *Service) Create(ctx context.Context, v *Vehicle) error {
	if strings.TrimSpace(v.CallSign) == "" {
		return apperr.Validation("call_sign is required")
	}
	if !v.Type.Valid() {
		return apperr.Validation("unknown vehicle type %q", v.Type)
	}
	v.Status = lifecycle.VehicleAvailable
	v.CurrentIncidentID = nil
	v.OutOfServiceReason = nil
	for _, e := range v.Equipment {
		if e.Name == "" || e.Quantity < 0 || e.MinQuantity < 0 {
			return apperr.Validation("equipment needs a name and non-negative quantities")
		}
	}
	now := s.now()
	for i := range v.Crew {
		if v.Crew[i].AssignedAt.IsZero() {
			v.Crew[i].AssignedAt = now
		}
	}
	if err := checkCrew(v.Crew); err != nil {
		return err
	}
	return s.vehicles.Create(ctx, v)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Vehicle, error) {
	var out *Vehicle
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.vehicles.GetByID(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) List(ctx context.Context, f VehicleFilter, limit, offset int) ([]*Vehicle, int, error) {
	var (
		out   []*Vehicle
		total int
	)
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, total, err = s.vehicles.List(ctx, f, limit, offset)
		return err
	})
	return out, total, err
}

// ListAvailable returns vehicles that can take a dispatch right now.
func (s *Service) ListAvailable(ctx context.Context, limit, offset int) ([]*Vehicle, int, error) {
	return s.List(ctx, VehicleFilter{Status: lifecycle.VehicleAvailable, Unbound: true}, limit, offset)
}

// -- Incident binding --

// BindToIncident claims an available, unbound vehicle for incidentID.
func (s *Service) BindToIncident(ctx context.Context, vehicleID, incidentID uuid.UUID) (*Vehicle, error) {
	return s.mutate(ctx, "vehicle.bind", vehicleID, func(v *Vehicle) error {
		if v.CurrentIncidentID != nil {
			return apperr.Conflict("vehicle %s not available: bound to incident %s", v.CallSign, *v.CurrentIncidentID)
		}
		next, err := lifecycle.VehicleTransition(v.Status, lifecycle.VehicleEvent{Kind: lifecycle.VehicleBind})
		if err != nil {
			return err
		}
		v.Status = next
		v.CurrentIncidentID = &incidentID
		return nil
	})
}

// MirrorStatus follows the bound incident. Terminal incident statuses free
// the vehicle; a sidelined vehicle keeps its status but still loses the
// binding. A vehicle no longer bound to incidentID is left alone.
func (s *Service) MirrorStatus(ctx context.Context, vehicleID, incidentID uuid.UUID, status lifecycle.IncidentStatus) (*Vehicle, error) {
	return s.mutate(ctx, "vehicle.mirror", vehicleID, func(v *Vehicle) error {
		if v.CurrentIncidentID == nil || *v.CurrentIncidentID != incidentID {
			s.log(ctx).Warn().
				Str("vehicle_id", vehicleID.String()).
				Str("incident_id", incidentID.String()).
				Msg("vehicle no longer bound to incident; status not mirrored")
			return errUnchanged
		}

		if status.Terminal() {
			next, err := lifecycle.VehicleTransition(v.Status, lifecycle.VehicleEvent{Kind: lifecycle.VehicleRelease})
			if err != nil {
				return err
			}
			v.Status = next
			v.CurrentIncidentID = nil
			return nil
		}

		target, ok := lifecycle.MirrorOf(status)
		if !ok {
			return errUnchanged
		}
		next, err := lifecycle.VehicleTransition(v.Status, lifecycle.Mirror(target))
		if err != nil {
			return err
		}
		if next == v.Status {
			return errUnchanged
		}
		v.Status = next
		return nil
	})
}

// -- Service status --

// ForceOutOfService sidelines the vehicle from any status. The incident
// binding is kept; the incident carries on without it.
func (s *Service) ForceOutOfService(ctx context.Context, id uuid.UUID, reason string) (*Vehicle, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("reason is required")
	}
	v, err := s.mutate(ctx, "vehicle.out_of_service", id, func(v *Vehicle) error {
		return s.forceOutOfService(v, reason)
	})
	if err != nil {
		return nil, err
	}
	s.notifyOutOfService(ctx, v)
	return v, nil
}

func (s *Service) forceOutOfService(v *Vehicle, reason string) error {
	next, err := lifecycle.VehicleTransition(v.Status, lifecycle.VehicleEvent{Kind: lifecycle.VehicleForceOutOfService})
	if err != nil {
		return err
	}
	v.Status = next
	v.OutOfServiceReason = &reason
	return nil
}

func (s *Service) ReturnToService(ctx context.Context, id uuid.UUID) (*Vehicle, error) {
	return s.mutate(ctx, "vehicle.return_to_service", id, func(v *Vehicle) error {
		if v.CurrentIncidentID != nil {
			return apperr.Conflict("vehicle %s still bound to incident %s", v.CallSign, *v.CurrentIncidentID)
		}
		next, err := lifecycle.VehicleTransition(v.Status, lifecycle.VehicleEvent{Kind: lifecycle.VehicleReturnToService})
		if err != nil {
			return err
		}
		v.Status = next
		v.OutOfServiceReason = nil
		return nil
	})
}

func (s *Service) StartMaintenance(ctx context.Context, id uuid.UUID) (*Vehicle, error) {
	return s.mutate(ctx, "vehicle.maintenance", id, func(v *Vehicle) error {
		if v.CurrentIncidentID != nil {
			return apperr.Conflict("vehicle %s still bound to incident %s", v.CallSign, *v.CurrentIncidentID)
		}
		next, err := lifecycle.VehicleTransition(v.Status, lifecycle.VehicleEvent{Kind: lifecycle.VehicleStartMaintenance})
		if err != nil {
			return err
		}
		v.Status = next
		return nil
	})
}

// SubmitCheck records a safety check. Any failed item takes the vehicle
// out of service with the failed item names as the reason.
func (s *Service) SubmitCheck(ctx context.Context, id uuid.UUID, check Check) (*Vehicle, error) {
	if check.CheckedBy == "" {
		return nil, apperr.Validation("checked_by is required")
	}
	if len(check.Items) == 0 {
		return nil, apperr.Validation("a check needs at least one item")
	}
	for _, it := range check.Items {
		if it.Name == "" {
			return nil, apperr.Validation("check item name is required")
		}
	}
	failed := check.FailedItems()
	check.Passed = len(failed) == 0
	if check.CheckedAt.IsZero() {
		check.CheckedAt = s.now()
	}

	v, err := s.mutate(ctx, "vehicle.check", id, func(v *Vehicle) error {
		v.LastCheck = &check
		if check.Passed {
			return nil
		}
		return s.forceOutOfService(v, "failed check: "+strings.Join(failed, ", "))
	})
	if err != nil {
		return nil, err
	}
	if !check.Passed {
		s.notifyOutOfService(ctx, v)
	}
	return v, nil
}

func (s *Service) notifyOutOfService(ctx context.Context, v *Vehicle) {
	reason := ""
	if v.OutOfServiceReason != nil {
		reason = *v.OutOfServiceReason
	}
	s.notifier.Notify(ctx, notification.Signal{
		Kind:     notification.KindVehicleOutOfService,
		Resource: v.ID.String(),
		Message:  fmt.Sprintf("vehicle %s out of service: %s", v.CallSign, reason),
		Data:     map[string]string{"call_sign": v.CallSign, "reason": reason},
	})
}

// -- Crew and equipment --

func checkCrew(crew []CrewMember) error {
	seen := map[string]bool{}
	roles := map[string]int{}
	for _, m := range crew {
		if m.MemberID == "" || m.Name == "" || m.Role == "" {
			return apperr.Validation("crew member needs member_id, name and role")
		}
		if seen[m.MemberID] {
			return apperr.Conflict("crew member %s assigned twice", m.MemberID)
		}
		seen[m.MemberID] = true
		roles[m.Role]++
	}
	for _, r := range []string{CrewDriver, CrewParamedic} {
		if roles[r] > 1 {
			return apperr.Conflict("vehicle already has a %s", r)
		}
	}
	return nil
}

func (s *Service) AssignCrew(ctx context.Context, id uuid.UUID, m CrewMember) (*Vehicle, error) {
	if m.AssignedAt.IsZero() {
		m.AssignedAt = s.now()
	}
	return s.mutate(ctx, "vehicle.assign_crew", id, func(v *Vehicle) error {
		crew := append(append([]CrewMember(nil), v.Crew...), m)
		if err := checkCrew(crew); err != nil {
			return err
		}
		v.Crew = crew
		return nil
	})
}

func (s *Service) RemoveCrew(ctx context.Context, id uuid.UUID, memberID string) (*Vehicle, error) {
	return s.mutate(ctx, "vehicle.remove_crew", id, func(v *Vehicle) error {
		i := v.crewIndex(memberID)
		if i < 0 {
			return apperr.NotFound("crew member", apperr.ID(memberID))
		}
		v.Crew = append(v.Crew[:i], v.Crew[i+1:]...)
		return nil
	})
}

func (s *Service) AddEquipment(ctx context.Context, id uuid.UUID, e Equipment) (*Vehicle, error) {
	if e.Name == "" {
		return nil, apperr.Validation("equipment name is required")
	}
	if e.Quantity < 0 || e.MinQuantity < 0 {
		return nil, apperr.Validation("equipment quantities must not be negative")
	}
	v, err := s.mutate(ctx, "vehicle.add_equipment", id, func(v *Vehicle) error {
		if v.equipmentIndex(e.Name) >= 0 {
			return apperr.Conflict("vehicle %s already carries %s", v.CallSign, e.Name)
		}
		v.Equipment = append(v.Equipment, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyLowStock(ctx, v, e)
	return v, nil
}

// AdjustQuantity adds delta to an equipment item. Low stock is reported, not
// blocked; only a negative result is rejected.
func (s *Service) AdjustQuantity(ctx context.Context, id uuid.UUID, name string, delta int) (*Vehicle, error) {
	var item Equipment
	v, err := s.mutate(ctx, "vehicle.adjust_quantity", id, func(v *Vehicle) error {
		i := v.equipmentIndex(name)
		if i < 0 {
			return apperr.NotFound("equipment", apperr.ID(name))
		}
		q := v.Equipment[i].Quantity + delta
		if q < 0 {
			return apperr.Validation("%s quantity would drop to %d", name, q)
		}
		v.Equipment[i].Quantity = q
		item = v.Equipment[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	if delta < 0 {
		s.notifyLowStock(ctx, v, item)
	}
	return v, nil
}

func (s *Service) notifyLowStock(ctx context.Context, v *Vehicle, e Equipment) {
	if !e.LowStock() {
		return
	}
	s.notifier.Notify(ctx, notification.Signal{
		Kind:     notification.KindVehicleLowStock,
		Resource: v.ID.String(),
		Message:  fmt.Sprintf("vehicle %s low on %s (%d, minimum %d)", v.CallSign, e.Name, e.Quantity, e.MinQuantity),
		Data:     map[string]string{"call_sign": v.CallSign, "item": e.Name},
	})
}

func (s *Service) UpdateLocation(ctx context.Context, id uuid.UUID, lat, lng float64) (*Vehicle, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, apperr.Validation("coordinates out of range: %f,%f", lat, lng)
	}
	return s.mutate(ctx, "vehicle.location", id, func(v *Vehicle) error {
		v.Location = &Location{Latitude: lat, Longitude: lng, UpdatedAt: s.now()}
		return nil
	})
}
