package ward

import (
	"context"
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

type Service struct {
	wards    WardRepository
	beds     BedRepository
	tx       db.Transactor
	notifier notification.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(wards WardRepository, beds BedRepository, tx db.Transactor) *Service {
	return &Service{
		wards:    wards,
		beds:     beds,
		tx:       tx,
		notifier: notification.Nop{},
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) SetNotifier(n notification.Notifier) { s.notifier = n }

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// -- Wards --

func (s *Service) CreateWard(ctx context.Context, w *Ward) error {
	if strings.TrimSpace(w.Name) == "" {
		return apperr.Validation("ward name is required")
	}
	w.Capacity = Capacity{}
	now := s.now()
	w.CapacityRefreshedAt = &now
	return s.wards.Create(ctx, w)
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	var out *Ward
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.wards.GetByID(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) ListWards(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	var (
		out   []*Ward
		total int
	)
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, total, err = s.wards.List(ctx, limit, offset)
		return err
	})
	return out, total, err
}

// RefreshCapacity recounts the ward's beds and stores the tally. It joins
// the caller's transaction when there is one.
func (s *Service) RefreshCapacity(ctx context.Context, wardID uuid.UUID) (*Ward, error) {
	var out *Ward
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.refresh(ctx, wardID)
		out = w
		return err
	})
	metrics.ObserveError("ward.refresh", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) refresh(ctx context.Context, wardID uuid.UUID) (*Ward, error) {
	w, err := s.wards.GetForUpdate(ctx, wardID)
	if err != nil {
		return nil, err
	}
	counts, err := s.beds.CountByStatus(ctx, wardID)
	if err != nil {
		return nil, err
	}
	w.Capacity = CapacityOf(counts)
	now := s.now()
	w.CapacityRefreshedAt = &now
	if err := s.wards.Update(ctx, w); err != nil {
		return nil, err
	}
	name, byStatus := w.Name, w.Capacity.byStatus()
	db.AfterCommit(ctx, func() { metrics.SetWardBeds(name, byStatus) })
	return w, nil
}

// -- Beds --

func (s *Service) CreateBed(ctx context.Context, b *Bed) error {
	if strings.TrimSpace(b.Label) == "" {
		return apperr.Validation("bed label is required")
	}
	b.Status = lifecycle.BedAvailable
	b.CurrentOccupantID = nil
	b.OccupancyHistory = nil
	b.Housekeeping = Housekeeping{Status: HousekeepingNone}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.wards.GetByID(ctx, b.WardID); err != nil {
			return err
		}
		if err := s.beds.Create(ctx, b); err != nil {
			return err
		}
		_, err := s.refresh(ctx, b.WardID)
		return err
	})
	metrics.ObserveError("bed.create", err)
	return err
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	var out *Bed
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.beds.GetByID(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) ListBeds(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	var (
		out   []*Bed
		total int
	)
	err := s.tx.WithinRead(ctx, func(ctx context.Context) error {
		var err error
		out, total, err = s.beds.List(ctx, f, limit, offset)
		return err
	})
	return out, total, err
}

// transition moves the bed along ev, lets fn adjust the record, checks the
// occupancy invariants and writes the bed and its ward's capacity in one
// transaction.
func (s *Service) transition(ctx context.Context, op string, bedID uuid.UUID, ev lifecycle.BedEvent, fn func(ctx context.Context, b *Bed) error) (*Bed, error) {
	var out *Bed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.beds.GetByID(ctx, bedID)
		if err != nil {
			return err
		}
		next, err := lifecycle.BedTransition(b.Status, ev)
		if err != nil {
			return fmt.Errorf("bed %s: %w", b.Label, err)
		}
		b.Status = next
		if fn != nil {
			if err := fn(ctx, b); err != nil {
				return err
			}
		}
		if err := CheckBedInvariants(b); err != nil {
			return err
		}
		if err := s.beds.Update(ctx, b); err != nil {
			return err
		}
		if _, err := s.refresh(ctx, b.WardID); err != nil {
			return err
		}
		to := string(next)
		db.AfterCommit(ctx, func() { metrics.Transition("bed", to) })
		out = b
		return nil
	})
	metrics.ObserveError(op, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Occupy places occupantID in an available bed and opens a history entry.
func (s *Service) Occupy(ctx context.Context, bedID, occupantID uuid.UUID) (*Bed, error) {
	if occupantID == uuid.Nil {
		return nil, apperr.Validation("occupant id is required")
	}
	return s.transition(ctx, "bed.occupy", bedID, lifecycle.BedAssign, func(_ context.Context, b *Bed) error {
		b.CurrentOccupantID = &occupantID
		b.OccupancyHistory = append(b.OccupancyHistory, OccupancyEntry{
			OccupantID: occupantID,
			AdmittedAt: s.now(),
		})
		return nil
	})
}

// Vacate closes the open history entry, sends the bed to cleaning and
// returns the occupant that left. Housekeeping is notified on commit.
func (s *Service) Vacate(ctx context.Context, bedID uuid.UUID, reason string) (*Bed, uuid.UUID, error) {
	var occupant uuid.UUID
	b, err := s.transition(ctx, "bed.vacate", bedID, lifecycle.BedRelease, func(ctx context.Context, b *Bed) error {
		i := b.openEntry()
		if i < 0 || b.CurrentOccupantID == nil {
			return broken("bed %s occupied without an open history entry", b.ID)
		}
		now := s.now()
		hours := LengthOfStayHours(b.OccupancyHistory[i].AdmittedAt, now)
		b.OccupancyHistory[i].DischargedAt = &now
		b.OccupancyHistory[i].LengthOfStayHours = &hours
		b.OccupancyHistory[i].Reason = reason

		occupant = *b.CurrentOccupantID
		b.CurrentOccupantID = nil
		b.Housekeeping = Housekeeping{Status: HousekeepingPending, RequestedAt: &now}

		sig := notification.Signal{
			Kind:     notification.KindBedNeedsCleaning,
			Resource: b.ID.String(),
			Message:  fmt.Sprintf("bed %s needs cleaning", b.Label),
			Data:     map[string]string{"ward_id": b.WardID.String(), "label": b.Label},
		}
		db.AfterCommit(ctx, func() { s.notifier.Notify(ctx, sig) })
		return nil
	})
	if err != nil {
		return nil, uuid.Nil, err
	}
	return b, occupant, nil
}

func (s *Service) CompleteCleaning(ctx context.Context, bedID uuid.UUID, staffID string) (*Bed, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, apperr.Validation("staff id is required")
	}
	b, err := s.transition(ctx, "bed.complete_cleaning", bedID, lifecycle.BedCompleteCleaning, func(_ context.Context, b *Bed) error {
		now := s.now()
		b.Housekeeping.Status = HousekeepingDone
		b.Housekeeping.CompletedAt = &now
		b.Housekeeping.CompletedBy = staffID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("bed_id", bedID.String()).Str("staff_id", staffID).Msg("bed cleaned")
	return b, nil
}

func (s *Service) Reserve(ctx context.Context, bedID uuid.UUID) (*Bed, error) {
	return s.transition(ctx, "bed.reserve", bedID, lifecycle.BedReserve, nil)
}

func (s *Service) CancelReservation(ctx context.Context, bedID uuid.UUID) (*Bed, error) {
	return s.transition(ctx, "bed.cancel_reservation", bedID, lifecycle.BedCancelReservation, nil)
}

func (s *Service) SetMaintenance(ctx context.Context, bedID uuid.UUID) (*Bed, error) {
	return s.transition(ctx, "bed.maintenance", bedID, lifecycle.BedSetMaintenance, nil)
}

func (s *Service) ReturnFromMaintenance(ctx context.Context, bedID uuid.UUID) (*Bed, error) {
	return s.transition(ctx, "bed.return_from_maintenance", bedID, lifecycle.BedReturnFromMaintenance, nil)
}

func (s *Service) SetOutOfService(ctx context.Context, bedID uuid.UUID) (*Bed, error) {
	return s.transition(ctx, "bed.out_of_service", bedID, lifecycle.BedSetOutOfService, nil)
}

func (s *Service) ReturnToService(ctx context.Context, bedID uuid.UUID) (*Bed, error) {
	return s.transition(ctx, "bed.return_to_service", bedID, lifecycle.BedReturnToService, nil)
}
