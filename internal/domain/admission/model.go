package admission

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/pkg/apperr"
)

type Status string

const (
	StatusAdmitted    Status = "admitted"
	StatusInTreatment Status = "in_treatment"
	StatusWaiting     Status = "waiting"
	StatusDischarged  Status = "discharged"
	StatusTransferred Status = "transferred"
)

// ReasonTransferred marks a bed release that ends the admission as a
// transfer out rather than a discharge.
const ReasonTransferred = "Transferred"

func (s Status) Valid() bool {
	switch s {
	case StatusAdmitted, StatusInTreatment, StatusWaiting, StatusDischarged, StatusTransferred:
		return true
	}
	return false
}

// Closed reports whether the admission has ended.
func (s Status) Closed() bool {
	return s == StatusDischarged || s == StatusTransferred
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", apperr.Validation("unknown admission status %q", v)
	}
	return s, nil
}

type Patient struct {
	Name   string `json:"name"`
	MRN    string `json:"mrn,omitempty"`
	Age    *int   `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// Admission maps to the admissions table. When AssignedBedID is set the bed
// names this admission as its occupant.
type Admission struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Patient         Patient    `db:"patient" json:"patient"`
	Diagnosis       string     `db:"diagnosis" json:"diagnosis,omitempty"`
	IncidentID      *uuid.UUID `db:"incident_id" json:"incident_id,omitempty"`
	AssignedBedID   *uuid.UUID `db:"assigned_bed_id" json:"assigned_bed_id"`
	Status          Status     `db:"status" json:"status"`
	AdmittedAt      time.Time  `db:"admitted_at" json:"admitted_at"`
	DischargedAt    *time.Time `db:"discharged_at" json:"discharged_at,omitempty"`
	DischargeReason string     `db:"discharge_reason" json:"discharge_reason,omitempty"`
	Version         int        `db:"version" json:"version"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (a *Admission) Clone() *Admission {
	c := *a
	if a.IncidentID != nil {
		id := *a.IncidentID
		c.IncidentID = &id
	}
	if a.AssignedBedID != nil {
		id := *a.AssignedBedID
		c.AssignedBedID = &id
	}
	if a.DischargedAt != nil {
		t := *a.DischargedAt
		c.DischargedAt = &t
	}
	if a.Patient.Age != nil {
		n := *a.Patient.Age
		c.Patient.Age = &n
	}
	return &c
}
