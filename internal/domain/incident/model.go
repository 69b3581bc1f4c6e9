package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type Caller struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Patient struct {
	Name      string `json:"name,omitempty"`
	Age       *int   `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Condition string `json:"condition,omitempty"`
}

type Location struct {
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// VitalSigns is one set of observations taken by the crew. Unmeasured
// values stay nil.
type VitalSigns struct {
	RecordedAt       time.Time `json:"recorded_at"`
	RecordedBy       string    `json:"recorded_by"`
	HeartRate        *int      `json:"heart_rate,omitempty"`
	BPSystolic       *int      `json:"bp_systolic,omitempty"`
	BPDiastolic      *int      `json:"bp_diastolic,omitempty"`
	RespiratoryRate  *int      `json:"respiratory_rate,omitempty"`
	OxygenSaturation *float64  `json:"oxygen_saturation,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty"`
	GCS              *int      `json:"gcs,omitempty"`
	Note             string    `json:"note,omitempty"`
}

func (v VitalSigns) empty() bool {
	return v.HeartRate == nil && v.BPSystolic == nil && v.BPDiastolic == nil &&
		v.RespiratoryRate == nil && v.OxygenSaturation == nil && v.Temperature == nil && v.GCS == nil
}

type Treatment struct {
	PerformedAt time.Time `json:"performed_at"`
	PerformedBy string    `json:"performed_by"`
	Procedure   string    `json:"procedure,omitempty"`
	Medication  string    `json:"medication,omitempty"`
	Dose        string    `json:"dose,omitempty"`
	Note        string    `json:"note,omitempty"`
}

// Handover is the EMS-to-facility record. Completion and verification are
// separate steps taken by different people.
type Handover struct {
	Completed         bool       `json:"completed"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletedBy       string     `json:"completed_by,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	ReceivingFacility string     `json:"receiving_facility,omitempty"`
	PatientCondition  string     `json:"patient_condition,omitempty"`
	Verified          bool       `json:"verified"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerifiedBy        string     `json:"verified_by,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

// Incident maps to the incidents table. Incidents are never deleted.
type Incident struct {
	ID                  uuid.UUID                `db:"id" json:"id"`
	IncidentNumber      string                   `db:"incident_number" json:"incident_number"`
	Type                string                   `db:"incident_type" json:"type"`
	Priority            Priority                 `db:"priority" json:"priority"`
	Status              lifecycle.IncidentStatus `db:"status" json:"status"`
	Description         string                   `db:"description" json:"description,omitempty"`
	Caller              Caller                   `db:"caller" json:"caller"`
	Patient             Patient                  `db:"patient" json:"patient"`
	Location            Location                 `db:"location" json:"location"`
	ReportedAt          *time.Time               `db:"reported_at" json:"reported_at,omitempty"`
	DispatchedAt        *time.Time               `db:"dispatched_at" json:"dispatched_at,omitempty"`
	RespondedAt         *time.Time               `db:"responded_at" json:"responded_at,omitempty"`
	OnSceneAt           *time.Time               `db:"on_scene_at" json:"on_scene_at,omitempty"`
	TransportStartedAt  *time.Time               `db:"transport_started_at" json:"transport_started_at,omitempty"`
	ArrivedHospitalAt   *time.Time               `db:"arrived_hospital_at" json:"arrived_hospital_at,omitempty"`
	TreatmentStartedAt  *time.Time               `db:"treatment_started_at" json:"treatment_started_at,omitempty"`
	CompletedAt         *time.Time               `db:"completed_at" json:"completed_at,omitempty"`
	CancelReason        *string                  `db:"cancel_reason" json:"cancel_reason,omitempty"`
	VehicleID           *uuid.UUID               `db:"vehicle_id" json:"vehicle_id,omitempty"`
	DestinationFacility string                   `db:"destination_facility" json:"destination_facility,omitempty"`
	VitalSigns          []VitalSigns             `db:"vital_signs" json:"vital_signs"`
	Treatments          []Treatment              `db:"treatments" json:"treatments"`
	Handover            Handover                 `db:"handover" json:"handover"`
	Version             int                      `db:"version" json:"version"`
	CreatedAt           time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time                `db:"updated_at" json:"updated_at"`
}

// NewNumber builds a human readable incident number for the report day.
func NewNumber(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("INC-%s-%s", at.Format("20060102"), strings.ToUpper(suffix))
}

// stampField returns the timestamp field that records entry into s.
func (in *Incident) stampField(s lifecycle.IncidentStatus) **time.Time {
	switch s {
	case lifecycle.IncidentReported:
		return &in.ReportedAt
	case lifecycle.IncidentDispatched:
		return &in.DispatchedAt
	case lifecycle.IncidentEnRoute:
		return &in.RespondedAt
	case lifecycle.IncidentOnScene:
		return &in.OnSceneAt
	case lifecycle.IncidentTransporting:
		return &in.TransportStartedAt
	case lifecycle.IncidentArrived:
		return &in.ArrivedHospitalAt
	case lifecycle.IncidentInTreatment:
		return &in.TreatmentStartedAt
	case lifecycle.IncidentCompleted, lifecycle.IncidentCancelled:
		return &in.CompletedAt
	}
	return nil
}

// Stamp records entry into s at the given time. Already set stamps are kept.
func (in *Incident) Stamp(s lifecycle.IncidentStatus, at time.Time) {
	f := in.stampField(s)
	if f == nil || *f != nil {
		return
	}
	t := at
	*f = &t
}

type TimelineEntry struct {
	Status lifecycle.IncidentStatus `json:"status"`
	At     time.Time                `json:"at"`
}

// Timeline lists the statuses the incident has passed through, in order.
func (in *Incident) Timeline() []TimelineEntry {
	var out []TimelineEntry
	for _, s := range lifecycle.IncidentStatuses {
		if s == lifecycle.IncidentCompleted && in.Status == lifecycle.IncidentCancelled {
			continue
		}
		if s == lifecycle.IncidentCancelled && in.Status != lifecycle.IncidentCancelled {
			continue
		}
		if f := in.stampField(s); f != nil && *f != nil {
			out = append(out, TimelineEntry{Status: s, At: **f})
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (in *Incident) Clone() *Incident {
	c := *in
	for _, f := range []**time.Time{
		&c.ReportedAt, &c.DispatchedAt, &c.RespondedAt, &c.OnSceneAt, &c.TransportStartedAt,
		&c.ArrivedHospitalAt, &c.TreatmentStartedAt, &c.CompletedAt,
		&c.Handover.CompletedAt, &c.Handover.VerifiedAt,
	} {
		*f = cloneTime(*f)
	}
	if in.CancelReason != nil {
		r := *in.CancelReason
		c.CancelReason = &r
	}
	if in.VehicleID != nil {
		id := *in.VehicleID
		c.VehicleID = &id
	}
	if in.Patient.Age != nil {
		a := *in.Patient.Age
		c.Patient.Age = &a
	}
	if in.VitalSigns != nil {
		c.VitalSigns = append([]VitalSigns(nil), in.VitalSigns...)
	}
	if in.Treatments != nil {
		c.Treatments = append([]Treatment(nil), in.Treatments...)
	}
	return &c
}
