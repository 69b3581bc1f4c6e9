package incident

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/domain/fleet"
	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/internal/platform/metrics"
	"github.com/ehr/caredispatch/pkg/apperr"
)

// Vehicles is the part of the fleet registry an incident drives.
type Vehicles interface {
	BindToIncident(ctx context.Context, vehicleID, incidentID uuid.UUID) (*fleet.Vehicle, error)
	MirrorStatus(ctx context.Context, vehicleID, incidentID uuid.UUID, status lifecycle.IncidentStatus) (*fleet.Vehicle, error)
}

// ErrUnchanged can be returned from a Mutate callback to skip the write.
var ErrUnchanged = errors.New("unchanged")

type Service struct {
	incidents Repository
	vehicles  Vehicles
	tx        db.Transactor
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(incidents Repository, vehicles Vehicles, tx db.Transactor) *Service {
	return &Service{
		incidents: incidents,
		vehicles:  vehicles,
		tx:        tx,
		logger:    zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) Now() time.Time { return s.now() }

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// Report records a new incident in status reported.
func (s *Service) Report(ctx context.Context, in *Incident) error {
	if strings.TrimSpace(in.Type) == "" {
		return apperr.Validation("type is required")
	}
	if !in.Priority.Valid() {
		return apperr.Validation("unknown priority %q", in.Priority)
	}
	if strings.TrimSpace(in.Location.Address) == "" {
		return apperr.Validation("location.address is required")
	}
	if in.Caller.Name == "" && in.Caller.Phone == "" {
		return apperr.Validation("caller name or phone is required")
	}
	if in.Description == "" && in.Patient.Condition == "" {
		return apperr.Validation("description or patient condition is required")
	}
	if lat, lng := in.Location.Latitude, in.Location.Longitude; (lat == nil) != (lng == nil) ||
		(lat != nil && (*lat < -90 || *lat > 90 || *lng < -180 || *lng > 180)) {
		return apperr.Validation("location needs both coordinates within range")
	}

	now := s.now()
	in.IncidentNumber = NewNumber(now)
	in.Status = lifecycle.IncidentReported
	in.ReportedAt = nil
	in.Stamp(lifecycle.IncidentReported, now)
	in.VehicleID = nil
	in.CancelReason = nil
	in.Handover = Handover{}
	if in.VitalSigns == nil {
		in.VitalSigns = []VitalSigns{}
	}
	if in.Treatments == nil {
		in.Treatments = []Treatment{}
	}
	if err := s.incidents.Create(ctx, in); err != nil {
		return err
	}
	metrics.Transition("incident", string(in.Status))
	s.log(ctx).Info().
		Str("incident_id", in.ID.String()).
		Str("incident_number", in.IncidentNumber).
		Str("priority", string(in.Priority)).
		Msg("incident reported")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	var out *Incident
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.incidents.GetByID(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error) {
	var (
		out   []*Incident
		total int
	)
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, total, err = s.incidents.List(ctx, f, limit, offset)
		return err
	})
	return out, total, err
}

func (s *Service) Timeline(ctx context.Context, id uuid.UUID) ([]TimelineEntry, error) {
	in, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return in.Timeline(), nil
}

// Transition moves the incident along ev, lets fn adjust the record and
// applies the resulting vehicle effect, all in one transaction. fn runs
// before the effect so it can supply the vehicle for a dispatch.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, ev lifecycle.IncidentEvent, fn func(ctx context.Context, in *Incident) error) (*Incident, error) {
	in, _, err := s.TransitionWithVehicle(ctx, id, ev, fn)
	return in, err
}

// TransitionWithVehicle is Transition that also returns the vehicle as the
// effect left it. The vehicle is nil when the transition has no effect.
func (s *Service) TransitionWithVehicle(ctx context.Context, id uuid.UUID, ev lifecycle.IncidentEvent, fn func(ctx context.Context, in *Incident) error) (*Incident, *fleet.Vehicle, error) {
	var (
		out     *Incident
		vehicle *fleet.Vehicle
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		in, err := s.incidents.GetByID(ctx, id)
		if err != nil {
			return err
		}
		next, effect, err := lifecycle.IncidentTransition(in.Status, ev)
		if err != nil {
			return err
		}
		in.Status = next
		in.Stamp(next, s.now())
		if fn != nil {
			if err := fn(ctx, in); err != nil {
				return err
			}
		}
		v, err := s.applyEffect(ctx, in, effect)
		if err != nil {
			return err
		}
		if err := s.incidents.Update(ctx, in); err != nil {
			return err
		}
		to := string(next)
		db.AfterCommit(ctx, func() { metrics.Transition("incident", to) })
		out, vehicle = in, v
		return nil
	})
	metrics.ObserveError("incident."+string(ev.Kind), err)
	if err != nil {
		return nil, nil, err
	}
	return out, vehicle, nil
}

func (s *Service) applyEffect(ctx context.Context, in *Incident, effect lifecycle.VehicleEffect) (*fleet.Vehicle, error) {
	switch effect.Kind {
	case lifecycle.EffectBind:
		if in.VehicleID == nil {
			return nil, apperr.Validation("dispatch needs a vehicle")
		}
		return s.vehicles.BindToIncident(ctx, *in.VehicleID, in.ID)
	case lifecycle.EffectMirror, lifecycle.EffectRelease:
		if in.VehicleID == nil {
			return nil, nil
		}
		return s.vehicles.MirrorStatus(ctx, *in.VehicleID, in.ID, in.Status)
	}
	return nil, nil
}

// Advance moves the incident one step forward, or to cancelled.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, target lifecycle.IncidentStatus) (*Incident, error) {
	return s.Transition(ctx, id, lifecycle.Advance(target), nil)
}

// Cancel ends a non-terminal incident and frees its vehicle.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Incident, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("reason is required")
	}
	return s.Transition(ctx, id, lifecycle.Cancel(), func(_ context.Context, in *Incident) error {
		in.CancelReason = &reason
		return nil
	})
}

// Mutate applies fn to the incident without changing its status. Returning
// ErrUnchanged from fn ends the call without a write.
func (s *Service) Mutate(ctx context.Context, op string, id uuid.UUID, fn func(ctx context.Context, in *Incident) error) (*Incident, error) {
	var out *Incident
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		in, err := s.incidents.GetByID(ctx, id)
		if err != nil {
			return err
		}
		status := in.Status
		if err := fn(ctx, in); err != nil {
			if errors.Is(err, ErrUnchanged) {
				out = in
				return nil
			}
			return err
		}
		if in.Status != status {
			return apperr.Internal("incident status changed outside a transition", nil)
		}
		if err := s.incidents.Update(ctx, in); err != nil {
			return err
		}
		out = in
		return nil
	})
	metrics.ObserveError(op, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func openForCare(in *Incident) error {
	if in.Status.Terminal() {
		return apperr.Conflict("incident %s is %s", in.IncidentNumber, in.Status)
	}
	return nil
}

func (s *Service) RecordVitals(ctx context.Context, id uuid.UUID, v VitalSigns) (*Incident, error) {
	if v.RecordedBy == "" {
		return nil, apperr.Validation("recorded_by is required")
	}
	if v.empty() {
		return nil, apperr.Validation("at least one vital sign is required")
	}
	if v.OxygenSaturation != nil && (*v.OxygenSaturation < 0 || *v.OxygenSaturation > 100) {
		return nil, apperr.Validation("oxygen_saturation must be within 0-100")
	}
	if v.GCS != nil && (*v.GCS < 3 || *v.GCS > 15) {
		return nil, apperr.Validation("gcs must be within 3-15")
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = s.now()
	}
	return s.Mutate(ctx, "incident.vitals", id, func(_ context.Context, in *Incident) error {
		if err := openForCare(in); err != nil {
			return err
		}
		in.VitalSigns = append(in.VitalSigns, v)
		return nil
	})
}

func (s *Service) RecordTreatment(ctx context.Context, id uuid.UUID, t Treatment) (*Incident, error) {
	if t.PerformedBy == "" {
		return nil, apperr.Validation("performed_by is required")
	}
	if t.Procedure == "" && t.Medication == "" {
		return nil, apperr.Validation("procedure or medication is required")
	}
	if t.Medication != "" && t.Dose == "" {
		return nil, apperr.Validation("dose is required with medication")
	}
	if t.PerformedAt.IsZero() {
		t.PerformedAt = s.now()
	}
	return s.Mutate(ctx, "incident.treatment", id, func(_ context.Context, in *Incident) error {
		if err := openForCare(in); err != nil {
			return err
		}
		in.Treatments = append(in.Treatments, t)
		return nil
	})
}
