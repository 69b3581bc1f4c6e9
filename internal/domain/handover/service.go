// Package handover runs the two-step EMS to facility handover: the crew
// completes it, then receiving staff verify it.
package handover

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/domain/incident"
	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/internal/platform/notification"
	"github.com/ehr/caredispatch/pkg/apperr"
)

type CompleteRequest struct {
	Summary           string `json:"summary"`
	ReceivingFacility string `json:"receiving_facility"`
	PatientCondition  string `json:"patient_condition"`
	CompletedBy       string `json:"completed_by"`
}

type VerifyRequest struct {
	VerifiedBy string `json:"verified_by"`
	Notes      string `json:"notes"`
}

type Service struct {
	incidents *incident.Service
	notifier  notification.Notifier
	logger    zerolog.Logger
}

func NewService(incidents *incident.Service) *Service {
	return &Service{incidents: incidents, notifier: notification.Nop{}, logger: zerolog.Nop()}
}

func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *Service) SetNotifier(n notification.Notifier) { s.notifier = n }

// Complete hands the patient over. The incident must be transporting; it
// ends completed and its vehicle is freed in the same transaction.
func (s *Service) Complete(ctx context.Context, incidentID uuid.UUID, req CompleteRequest) (*incident.Incident, error) {
	if strings.TrimSpace(req.Summary) == "" {
		return nil, apperr.Validation("summary is required")
	}
	if req.CompletedBy == "" {
		return nil, apperr.Validation("completed_by is required")
	}
	in, err := s.incidents.Transition(ctx, incidentID, lifecycle.Handover(), func(ctx context.Context, in *incident.Incident) error {
		if in.ArrivedHospitalAt == nil {
			in.ArrivedHospitalAt = in.CompletedAt
		}
		facility := req.ReceivingFacility
		if facility == "" {
			facility = in.DestinationFacility
		}
		in.Handover = incident.Handover{
			Completed:         true,
			CompletedAt:       in.CompletedAt,
			CompletedBy:       req.CompletedBy,
			Summary:           req.Summary,
			ReceivingFacility: facility,
			PatientCondition:  req.PatientCondition,
		}
		s.notifyOnCommit(ctx, in, notification.KindHandoverCompleted, "handed over to "+facility)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("incident_id", in.ID.String()).Str("completed_by", req.CompletedBy).Msg("handover completed")
	return in, nil
}

// Verify confirms a completed handover. It never touches the incident
// status or the vehicle, and verifying twice returns the record unchanged.
func (s *Service) Verify(ctx context.Context, incidentID uuid.UUID, req VerifyRequest) (*incident.Incident, error) {
	if req.VerifiedBy == "" {
		return nil, apperr.Validation("verified_by is required")
	}
	return s.incidents.Mutate(ctx, "handover.verify", incidentID, func(ctx context.Context, in *incident.Incident) error {
		if !in.Handover.Completed {
			return apperr.Conflict("incident %s has no completed handover", in.IncidentNumber)
		}
		if in.Handover.Verified {
			return incident.ErrUnchanged
		}
		now := s.incidents.Now()
		in.Handover.Verified = true
		in.Handover.VerifiedAt = &now
		in.Handover.VerifiedBy = req.VerifiedBy
		in.Handover.Notes = req.Notes
		s.notifyOnCommit(ctx, in, notification.KindHandoverVerified, "verified by "+req.VerifiedBy)
		return nil
	})
}

func (s *Service) notifyOnCommit(ctx context.Context, in *incident.Incident, kind notification.Kind, detail string) {
	sig := notification.Signal{
		Kind:     kind,
		Resource: in.ID.String(),
		Message:  fmt.Sprintf("incident %s %s", in.IncidentNumber, detail),
		Data:     map[string]string{"incident_number": in.IncidentNumber},
	}
	db.AfterCommit(ctx, func() { s.notifier.Notify(ctx, sig) })
}
