// Package dispatch pairs a reported incident with an available vehicle.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/domain/fleet"
	"github.com/ehr/caredispatch/internal/domain/incident"
	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/internal/platform/notification"
	"github.com/ehr/caredispatch/pkg/apperr"
)

type Service struct {
	incidents *incident.Service
	vehicles  *fleet.Service
	notifier  notification.Notifier
	logger    zerolog.Logger
}

func NewService(incidents *incident.Service, vehicles *fleet.Service) *Service {
	return &Service{
		incidents: incidents,
		vehicles:  vehicles,
		notifier:  notification.Nop{},
		logger:    zerolog.Nop(),
	}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) SetNotifier(n notification.Notifier) { s.notifier = n }

// Result is the committed state of both sides of a dispatch.
type Result struct {
	Incident *incident.Incident `json:"incident"`
	Vehicle  *fleet.Vehicle     `json:"vehicle"`
}

// Dispatch binds vehicleID to incidentID. The incident must be reported and
// the vehicle available and unbound; otherwise nothing changes. Of two
// dispatches racing for one vehicle exactly one commits, the other sees a
// conflict on its re-read.
func (s *Service) Dispatch(ctx context.Context, incidentID, vehicleID uuid.UUID) (*Result, error) {
	if vehicleID == uuid.Nil {
		return nil, apperr.Validation("vehicle_id is required")
	}
	in, v, err := s.incidents.TransitionWithVehicle(ctx, incidentID, lifecycle.Dispatch(), func(ctx context.Context, in *incident.Incident) error {
		in.VehicleID = &vehicleID
		sig := notification.Signal{
			Kind:     notification.KindIncidentDispatched,
			Resource: in.ID.String(),
			Message:  fmt.Sprintf("incident %s dispatched", in.IncidentNumber),
			Data: map[string]string{
				"incident_number": in.IncidentNumber,
				"vehicle_id":      vehicleID.String(),
				"priority":        string(in.Priority),
			},
		}
		db.AfterCommit(ctx, func() { s.notifier.Notify(ctx, sig) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("incident_id", in.ID.String()).
		Str("vehicle_id", vehicleID.String()).
		Str("call_sign", v.CallSign).
		Msg("dispatched")
	return &Result{Incident: in, Vehicle: v}, nil
}

// Candidates lists vehicles that can take a dispatch now. No routing or
// distance ranking is applied.
func (s *Service) Candidates(ctx context.Context, limit, offset int) ([]*fleet.Vehicle, int, error) {
	return s.vehicles.ListAvailable(ctx, limit, offset)
}
