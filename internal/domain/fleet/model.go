package fleet

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
)

type VehicleType string

const (
	TypeAmbulance     VehicleType = "ambulance"
	TypeRapidResponse VehicleType = "rapid_response"
	TypeTransport     VehicleType = "transport"
)

func (t VehicleType) Valid() bool {
	switch t {
	case TypeAmbulance, TypeRapidResponse, TypeTransport:
		return true
	}
	return false
}

// Crew roles limited to one member per vehicle. Other roles are unrestricted.
const (
	CrewDriver    = "driver"
	CrewParamedic = "paramedic"
)

type CrewMember struct {
	MemberID   string    `json:"member_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	AssignedAt time.Time `json:"assigned_at"`
}

type Equipment struct {
	Name        string     `json:"name"`
	Quantity    int        `json:"quantity"`
	MinQuantity int        `json:"min_quantity"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// LowStock reports quantity at or below the configured minimum.
func (e Equipment) LowStock() bool {
	return e.Quantity <= e.MinQuantity
}

func (e Equipment) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CheckItem struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Note   string `json:"note,omitempty"`
}

// Check is a pre-shift safety check. Passed is derived from the items.
type Check struct {
	CheckedAt time.Time   `json:"checked_at"`
	CheckedBy string      `json:"checked_by"`
	Items     []CheckItem `json:"items"`
	Passed    bool        `json:"passed"`
}

func (c Check) FailedItems() []string {
	var failed []string
	for _, it := range c.Items {
		if !it.Passed {
			failed = append(failed, it.Name)
		}
	}
	return failed
}

// Vehicle maps to the vehicles table.
type Vehicle struct {
	ID                 uuid.UUID               `db:"id" json:"id"`
	CallSign           string                  `db:"call_sign" json:"call_sign"`
	Type               VehicleType             `db:"vehicle_type" json:"type"`
	Status             lifecycle.VehicleStatus `db:"status" json:"status"`
	Crew               []CrewMember            `db:"crew" json:"crew"`
	Equipment          []Equipment             `db:"equipment" json:"equipment"`
	CurrentIncidentID  *uuid.UUID              `db:"current_incident_id" json:"current_incident_id"`
	Location           *Location               `db:"location" json:"location,omitempty"`
	OutOfServiceReason *string                 `db:"out_of_service_reason" json:"out_of_service_reason,omitempty"`
	LastCheck          *Check                  `db:"last_check" json:"last_check,omitempty"`
	Version            int                     `db:"version" json:"version"`
	CreatedAt          time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time               `db:"updated_at" json:"updated_at"`
}

func (v *Vehicle) LowStock() []Equipment {
	var out []Equipment
	for _, e := range v.Equipment {
		if e.LowStock() {
			out = append(out, e)
		}
	}
	return out
}

func (v *Vehicle) Expired(now time.Time) []Equipment {
	var out []Equipment
	for _, e := range v.Equipment {
		if e.Expired(now) {
			out = append(out, e)
		}
	}
	return out
}

func (v *Vehicle) crewIndex(memberID string) int {
	for i, m := range v.Crew {
		if m.MemberID == memberID {
			return i
		}
	}
	return -1
}

func (v *Vehicle) equipmentIndex(name string) int {
	for i, e := range v.Equipment {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (v *Vehicle) Clone() *Vehicle {
	c := *v
	c.Crew = append([]CrewMember(nil), v.Crew...)
	c.Equipment = make([]Equipment, len(v.Equipment))
	for i, e := range v.Equipment {
		c.Equipment[i] = e
		if e.ExpiresAt != nil {
			t := *e.ExpiresAt
			c.Equipment[i].ExpiresAt = &t
		}
	}
	if v.Equipment == nil {
		c.Equipment = nil
	}
	if v.CurrentIncidentID != nil {
		id := *v.CurrentIncidentID
		c.CurrentIncidentID = &id
	}
	if v.Location != nil {
		loc := *v.Location
		c.Location = &loc
	}
	if v.OutOfServiceReason != nil {
		r := *v.OutOfServiceReason
		c.OutOfServiceReason = &r
	}
	if v.LastCheck != nil {
		chk := *v.LastCheck
		chk.Items = append([]CheckItem(nil), v.LastCheck.Items...)
		c.LastCheck = &chk
	}
	return &c
}

// VehicleView adds the derived stock conditions to a vehicle for API responses.
type VehicleView struct {
	*Vehicle
	LowStock []Equipment `json:"low_stock,omitempty"`
	Expired  []Equipment `json:"expired,omitempty"`
}

func NewView(v *Vehicle, now time.Time) VehicleView {
	return VehicleView{Vehicle: v, LowStock: v.LowStock(), Expired: v.Expired(now)}
}
