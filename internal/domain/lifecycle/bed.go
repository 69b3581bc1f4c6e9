package lifecycle

import (
	"github.com/ehr/caredispatch/pkg/apperr"
)

type BedStatus string

const (
	BedAvailable    BedStatus = "available"
	BedOccupied     BedStatus = "occupied"
	BedReserved     BedStatus = "reserved"
	BedCleaning     BedStatus = "cleaning"
	BedMaintenance  BedStatus = "maintenance"
	BedOutOfService BedStatus = "out_of_service"
)

var BedStatuses = []BedStatus{
	BedAvailable, BedOccupied, BedReserved, BedCleaning, BedMaintenance, BedOutOfService,
}

func (s BedStatus) Valid() bool {
	for _, v := range BedStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func ParseBedStatus(v string) (BedStatus, error) {
	s := BedStatus(v)
	if !s.Valid() {
		return "", apperr.Validation("unknown bed status %q", v)
	}
	return s, nil
}

type BedEvent string

const (
	BedAssign                BedEvent = "assign"
	BedRelease               BedEvent = "release"
	BedCompleteCleaning      BedEvent = "complete_cleaning"
	BedReserve               BedEvent = "reserve"
	BedCancelReservation     BedEvent = "cancel_reservation"
	BedSetMaintenance        BedEvent = "set_maintenance"
	BedReturnFromMaintenance BedEvent = "return_from_maintenance"
	BedSetOutOfService       BedEvent = "set_out_of_service"
	BedReturnToService       BedEvent = "return_to_service"
)

type bedEdge struct {
	from []BedStatus
	to   BedStatus
}

var notOccupied = []BedStatus{BedAvailable, BedReserved, BedCleaning, BedMaintenance, BedOutOfService}

var bedTable = map[BedEvent]bedEdge{
	BedAssign:                {from: []BedStatus{BedAvailable}, to: BedOccupied},
	BedRelease:               {from: []BedStatus{BedOccupied}, to: BedCleaning},
	BedCompleteCleaning:      {from: []BedStatus{BedCleaning}, to: BedAvailable},
	BedReserve:               {from: []BedStatus{BedAvailable}, to: BedReserved},
	BedCancelReservation:     {from: []BedStatus{BedReserved}, to: BedAvailable},
	BedSetMaintenance:        {from: without(notOccupied, BedMaintenance), to: BedMaintenance},
	BedReturnFromMaintenance: {from: []BedStatus{BedMaintenance}, to: BedAvailable},
	BedSetOutOfService:       {from: without(notOccupied, BedOutOfService), to: BedOutOfService},
	BedReturnToService:       {from: []BedStatus{BedOutOfService}, to: BedAvailable},
}

func without(list []BedStatus, s BedStatus) []BedStatus {
	out := make([]BedStatus, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// BedTransition validates ev against the bed table and returns the next status.
func BedTransition(current BedStatus, ev BedEvent) (BedStatus, error) {
	if !current.Valid() {
		return "", apperr.Validation("unknown bed status %q", current)
	}
	edge, ok := bedTable[ev]
	if !ok {
		return "", apperr.Validation("unknown bed event %q", ev)
	}
	for _, f := range edge.from {
		if f == current {
			return edge.to, nil
		}
	}
	if ev == BedAssign {
		return "", apperr.Conflict("bed not available: status=%s", current)
	}
	return "", illegal("bed", current, edge.to)
}
