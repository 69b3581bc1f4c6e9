package ward

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/pkg/apperr"
)

// Capacity is derived from the ward's beds. Only refresh writes it.
type Capacity struct {
	Total        int `json:"total"`
	Available    int `json:"available"`
	Occupied     int `json:"occupied"`
	Reserved     int `json:"reserved"`
	Cleaning     int `json:"cleaning"`
	Maintenance  int `json:"maintenance"`
	OutOfService int `json:"out_of_service"`
}

// CapacityOf tallies per-status bed counts.
func CapacityOf(counts map[lifecycle.BedStatus]int) Capacity {
	c := Capacity{
		Available:    counts[lifecycle.BedAvailable],
		Occupied:     counts[lifecycle.BedOccupied],
		Reserved:     counts[lifecycle.BedReserved],
		Cleaning:     counts[lifecycle.BedCleaning],
		Maintenance:  counts[lifecycle.BedMaintenance],
		OutOfService: counts[lifecycle.BedOutOfService],
	}
	c.Total = c.Available + c.Occupied + c.Reserved + c.Cleaning + c.Maintenance + c.OutOfService
	return c
}

func (c Capacity) byStatus() map[string]int {
	return map[string]int{
		string(lifecycle.BedAvailable):    c.Available,
		string(lifecycle.BedOccupied):     c.Occupied,
		string(lifecycle.BedReserved):     c.Reserved,
		string(lifecycle.BedCleaning):     c.Cleaning,
		string(lifecycle.BedMaintenance):  c.Maintenance,
		string(lifecycle.BedOutOfService): c.OutOfService,
	}
}

// Ward maps to the wards table.
type Ward struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	Department          string     `db:"department" json:"department"`
	Capacity            Capacity   `db:"capacity" json:"capacity"`
	CapacityRefreshedAt *time.Time `db:"capacity_refreshed_at" json:"capacity_refreshed_at,omitempty"`
	Version             int        `db:"version" json:"version"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

func (w *Ward) Clone() *Ward {
	c := *w
	if w.CapacityRefreshedAt != nil {
		t := *w.CapacityRefreshedAt
		c.CapacityRefreshedAt = &t
	}
	return &c
}

type OccupancyEntry struct {
	OccupantID        uuid.UUID  `json:"occupant_id"`
	AdmittedAt        time.Time  `json:"admitted_at"`
	DischargedAt      *time.Time `json:"discharged_at,omitempty"`
	LengthOfStayHours *int       `json:"length_of_stay_hours,omitempty"`
	Reason            string     `json:"reason,omitempty"`
}

func (e OccupancyEntry) Open() bool { return e.DischargedAt == nil }

const (
	HousekeepingNone    = "none"
	HousekeepingPending = "pending"
	HousekeepingDone    = "done"
)

type Housekeeping struct {
	Status      string     `json:"status"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
}

// Bed maps to the beds table.
type Bed struct {
	ID                uuid.UUID           `db:"id" json:"id"`
	WardID            uuid.UUID           `db:"ward_id" json:"ward_id"`
	Label             string              `db:"label" json:"label"`
	BedType           string              `db:"bed_type" json:"bed_type"`
	Status            lifecycle.BedStatus `db:"status" json:"status"`
	CurrentOccupantID *uuid.UUID          `db:"current_occupant_id" json:"current_occupant_id"`
	OccupancyHistory  []OccupancyEntry    `db:"occupancy_history" json:"occupancy_history"`
	Housekeeping      Housekeeping        `db:"housekeeping" json:"housekeeping"`
	Version           int                 `db:"version" json:"version"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
}

func (b *Bed) Clone() *Bed {
	c := *b
	if b.CurrentOccupantID != nil {
		id := *b.CurrentOccupantID
		c.CurrentOccupantID = &id
	}
	if b.OccupancyHistory != nil {
		c.OccupancyHistory = make([]OccupancyEntry, len(b.OccupancyHistory))
		for i, e := range b.OccupancyHistory {
			c.OccupancyHistory[i] = e
			if e.DischargedAt != nil {
				t := *e.DischargedAt
				c.OccupancyHistory[i].DischargedAt = &t
			}
			if e.LengthOfStayHours != nil {
				n := *e.LengthOfStayHours
				c.OccupancyHistory[i].LengthOfStayHours = &n
			}
		}
	}
	hk := b.Housekeeping
	if hk.RequestedAt != nil {
		t := *hk.RequestedAt
		hk.RequestedAt = &t
	}
	if hk.CompletedAt != nil {
		t := *hk.CompletedAt
		hk.CompletedAt = &t
	}
	c.Housekeeping = hk
	return &c
}

// openEntry returns the index of the open occupancy entry, or -1.
func (b *Bed) openEntry() int {
	for i := len(b.OccupancyHistory) - 1; i >= 0; i-- {
		if b.OccupancyHistory[i].Open() {
			return i
		}
	}
	return -1
}

// LengthOfStayHours rounds the stay up to whole hours and never goes below zero.
func LengthOfStayHours(admitted, discharged time.Time) int {
	d := discharged.Sub(admitted)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours()))
}

func broken(format string, args ...interface{}) error {
	return apperr.Internal("bed invariant violated: "+fmt.Sprintf(format, args...), nil)
}

// CheckBedInvariants verifies that a bed is occupied exactly when it has an
// occupant, and that it then has exactly one open history entry for that
// occupant.
func CheckBedInvariants(b *Bed) error {
	if !b.Status.Valid() {
		return apperr.Validation("bed %s has unknown status %q", b.ID, b.Status)
	}
	open := 0
	var openFor uuid.UUID
	for _, e := range b.OccupancyHistory {
		if e.Open() {
			open++
			openFor = e.OccupantID
		}
	}

	occupied := b.Status == lifecycle.BedOccupied
	switch {
	case occupied && b.CurrentOccupantID == nil:
		return broken("bed %s occupied without occupant", b.ID)
	case !occupied && b.CurrentOccupantID != nil:
		return broken("bed %s is %s but has occupant %s", b.ID, b.Status, *b.CurrentOccupantID)
	case occupied && open != 1:
		return broken("bed %s occupied with %d open history entries", b.ID, open)
	case occupied && openFor != *b.CurrentOccupantID:
		return broken("bed %s open entry belongs to %s, occupant is %s", b.ID, openFor, *b.CurrentOccupantID)
	case !occupied && open != 0:
		return broken("bed %s is %s with %d open history entries", b.ID, b.Status, open)
	}
	return nil
}
