// Package admission tracks inpatient stays and moves patients in and out of
// beds. Every bed move touches the bed, its ward and the admission in one
// transaction.
package admission

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/domain/incident"
	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/internal/domain/ward"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/internal/platform/metrics"
	"github.com/ehr/caredispatch/pkg/apperr"
)

// Incidents resolves the incident an admission came from.
type Incidents interface {
	Get(ctx context.Context, id uuid.UUID) (*incident.Incident, error)
}

type Service struct {
	admissions Repository
	beds       *ward.Service
	incidents  Incidents
	tx         db.Transactor
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(admissions Repository, beds *ward.Service, incidents Incidents, tx db.Transactor) *Service {
	return &Service{
		admissions: admissions,
		beds:       beds,
		incidents:  incidents,
		tx:         tx,
		logger:     zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// BedMove is the outcome of an operation that occupied or vacated beds.
type BedMove struct {
	Admission *Admission `json:"admission"`
	From      *ward.Bed  `json:"from,omitempty"`
	To        *ward.Bed  `json:"to,omitempty"`
}

// Admit opens an admission in status waiting, and places the patient in
// bedID when one is given.
func (s *Service) Admit(ctx context.Context, a *Admission, bedID *uuid.UUID) (*BedMove, error) {
	if strings.TrimSpace(a.Patient.Name) == "" {
		return nil, apperr.Validation("patient.name is required")
	}
	a.Status = StatusWaiting
	a.AssignedBedID = nil
	a.DischargedAt = nil
	a.DischargeReason = ""
	if a.AdmittedAt.IsZero() {
		a.AdmittedAt = s.now()
	}

	var out *BedMove
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if a.IncidentID != nil {
			if _, err := s.incidents.Get(ctx, *a.IncidentID); err != nil {
				return err
			}
		}
		if err := s.admissions.Create(ctx, a); err != nil {
			return err
		}
		if bedID == nil {
			out = &BedMove{Admission: a}
			return nil
		}
		move, err := s.assign(ctx, *bedID, a.ID)
		out = move
		return err
	})
	metrics.ObserveError("admission.admit", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Admission, error) {
	var out *Admission
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.admissions.GetByID(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	var (
		out   []*Admission
		total int
	)
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, total, err = s.admissions.List(ctx, f, limit, offset)
		return err
	})
	return out, total, err
}

// AssignBed places the admission's patient in an available bed.
func (s *Service) AssignBed(ctx context.Context, bedID, admissionID uuid.UUID) (*BedMove, error) {
	var out *BedMove
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		move, err := s.assign(ctx, bedID, admissionID)
		out = move
		return err
	})
	metrics.ObserveError("admission.assign_bed", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) assign(ctx context.Context, bedID, admissionID uuid.UUID) (*BedMove, error) {
	a, err := s.admissions.GetByID(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if a.Status.Closed() {
		return nil, apperr.Conflict("admission %s is %s", a.ID, a.Status)
	}
	if a.AssignedBedID != nil {
		held, err := s.holds(ctx, a)
		if err != nil {
			return nil, err
		}
		if held {
			return nil, apperr.Conflict("admission %s already holds bed %s", a.ID, *a.AssignedBedID)
		}
		s.log(ctx).Warn().
			Str("admission_id", a.ID.String()).
			Str("bed_id", a.AssignedBedID.String()).
			Msg("clearing stale bed reference")
		a.AssignedBedID = nil
	}

	bed, err := s.beds.Occupy(ctx, bedID, a.ID)
	if err != nil {
		return nil, err
	}
	a.AssignedBedID = &bed.ID
	a.Status = StatusAdmitted
	if err := s.admissions.Update(ctx, a); err != nil {
		return nil, err
	}
	return &BedMove{Admission: a, To: bed}, nil
}

// holds reports whether the admission's bed reference is live.
func (s *Service) holds(ctx context.Context, a *Admission) (bool, error) {
	bed, err := s.beds.GetBed(ctx, *a.AssignedBedID)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bed.Status == lifecycle.BedOccupied && bed.CurrentOccupantID != nil && *bed.CurrentOccupantID == a.ID, nil
}

// ReleaseBed vacates the bed and closes its occupant's admission: as a
// transfer out when reason is ReasonTransferred, otherwise as a discharge.
func (s *Service) ReleaseBed(ctx context.Context, bedID uuid.UUID, reason string) (*BedMove, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("reason is required")
	}
	var out *BedMove
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bed, occupant, err := s.beds.Vacate(ctx, bedID, reason)
		if err != nil {
			return err
		}
		a, err := s.admissions.GetByID(ctx, occupant)
		if err != nil {
			return err
		}
		s.close(a, reason)
		if err := s.admissions.Update(ctx, a); err != nil {
			return err
		}
		out = &BedMove{Admission: a, From: bed}
		return nil
	})
	metrics.ObserveError("admission.release_bed", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) close(a *Admission, reason string) {
	now := s.now()
	a.Status = StatusDischarged
	if reason == ReasonTransferred {
		a.Status = StatusTransferred
	}
	a.DischargedAt = &now
	a.DischargeReason = reason
	a.AssignedBedID = nil
}

// Transfer moves the occupant of fromBedID into toBedID. Either both beds
// and both wards change or nothing does.
func (s *Service) Transfer(ctx context.Context, fromBedID, toBedID uuid.UUID, reason string) (*BedMove, error) {
	if fromBedID == toBedID {
		return nil, apperr.Validation("transfer needs two different beds")
	}
	if strings.TrimSpace(reason) == "" {
		reason = ReasonTransferred
	}
	var out *BedMove
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		from, occupant, err := s.beds.Vacate(ctx, fromBedID, reason)
		if err != nil {
			return err
		}
		a, err := s.admissions.GetByID(ctx, occupant)
		if err != nil {
			return err
		}
		to, err := s.beds.Occupy(ctx, toBedID, occupant)
		if err != nil {
			return err
		}
		a.AssignedBedID = &to.ID
		if err := s.admissions.Update(ctx, a); err != nil {
			return err
		}
		out = &BedMove{Admission: a, From: from, To: to}
		return nil
	})
	metrics.ObserveError("admission.transfer", err)
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info().
		Str("admission_id", out.Admission.ID.String()).
		Str("from_bed_id", fromBedID.String()).
		Str("to_bed_id", toBedID.String()).
		Msg("patient transferred")
	return out, nil
}

// SetStatus moves an open admission between admitted, in_treatment and
// waiting. Closing goes through Discharge or ReleaseBed.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Admission, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown admission status %q", status)
	}
	if status.Closed() {
		return nil, apperr.Validation("use discharge to close an admission")
	}
	var out *Admission
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.admissions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Closed() {
			return apperr.Conflict("admission %s is %s", a.ID, a.Status)
		}
		out = a
		if a.Status == status {
			return nil
		}
		a.Status = status
		return s.admissions.Update(ctx, a)
	})
	metrics.ObserveError("admission.set_status", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Discharge closes the admission, releasing its bed if it still holds one.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID, reason string) (*BedMove, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Discharged"
	}
	var out *BedMove
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.admissions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Closed() {
			return apperr.Conflict("admission %s is already %s", a.ID, a.Status)
		}
		move := &BedMove{Admission: a}
		if a.AssignedBedID != nil {
			held, err := s.holds(ctx, a)
			if err != nil {
				return err
			}
			if held {
				bed, _, err := s.beds.Vacate(ctx, *a.AssignedBedID, reason)
				if err != nil {
					return err
				}
				move.From = bed
			}
		}
		s.close(a, reason)
		if err := s.admissions.Update(ctx, a); err != nil {
			return err
		}
		out = move
		return nil
	})
	metrics.ObserveError("admission.discharge", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}
