package lifecycle

import (
	"github.com/ehr/caredispatch/pkg/apperr"
)

type VehicleStatus string

const (
	VehicleAvailable    VehicleStatus = "available"
	VehicleDispatched   VehicleStatus = "dispatched"
	VehicleEnRoute      VehicleStatus = "en_route"
	VehicleOnScene      VehicleStatus = "on_scene"
	VehicleTransporting VehicleStatus = "transporting"
	VehicleOutOfService VehicleStatus = "out_of_service"
	VehicleMaintenance  VehicleStatus = "maintenance"
)

var VehicleStatuses = []VehicleStatus{
	VehicleAvailable, VehicleDispatched, VehicleEnRoute, VehicleOnScene,
	VehicleTransporting, VehicleOutOfService, VehicleMaintenance,
}

// vehicleOrder ranks the incident-driven statuses so mirroring only moves forward.
var vehicleOrder = map[VehicleStatus]int{
	VehicleDispatched:   1,
	VehicleEnRoute:      2,
	VehicleOnScene:      3,
	VehicleTransporting: 4,
}

func (s VehicleStatus) Valid() bool {
	for _, v := range VehicleStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Active reports whether s is one of the statuses driven by a bound incident.
func (s VehicleStatus) Active() bool {
	_, ok := vehicleOrder[s]
	return ok
}

// Sidelined reports whether the vehicle was taken off the road independently
// of any incident. Incident mirroring never overrides a sidelined vehicle.
func (s VehicleStatus) Sidelined() bool {
	return s == VehicleOutOfService || s == VehicleMaintenance
}

func ParseVehicleStatus(v string) (VehicleStatus, error) {
	s := VehicleStatus(v)
	if !s.Valid() {
		return "", apperr.Validation("unknown vehicle status %q", v)
	}
	return s, nil
}

type VehicleEventKind string

const (
	VehicleBind              VehicleEventKind = "bind"
	VehicleMirror            VehicleEventKind = "mirror"
	VehicleRelease           VehicleEventKind = "release"
	VehicleForceOutOfService VehicleEventKind = "force_out_of_service"
	VehicleStartMaintenance  VehicleEventKind = "start_maintenance"
	VehicleReturnToService   VehicleEventKind = "return_to_service"
)

// VehicleEvent drives VehicleTransition. Target is only read for mirror.
type VehicleEvent struct {
	Kind   VehicleEventKind
	Target VehicleStatus
}

func Mirror(target VehicleStatus) VehicleEvent {
	return VehicleEvent{Kind: VehicleMirror, Target: target}
}

// VehicleTransition validates ev against the vehicle table. Mirror and release
// leave a sidelined vehicle where it is and report no error.
func VehicleTransition(current VehicleStatus, ev VehicleEvent) (VehicleStatus, error) {
	if !current.Valid() {
		return "", apperr.Validation("unknown vehicle status %q", current)
	}

	switch ev.Kind {
	case VehicleBind:
		if current != VehicleAvailable {
			return "", apperr.Conflict("vehicle not available: status=%s", current)
		}
		return VehicleDispatched, nil

	case VehicleMirror:
		if !ev.Target.Active() {
			return "", apperr.Validation("vehicle status %q cannot be mirrored", ev.Target)
		}
		if current.Sidelined() {
			return current, nil
		}
		if !current.Active() || vehicleOrder[ev.Target] < vehicleOrder[current] {
			return "", illegal("vehicle", current, ev.Target)
		}
		return ev.Target, nil

	case VehicleRelease:
		if current.Sidelined() {
			return current, nil
		}
		return VehicleAvailable, nil

	case VehicleForceOutOfService:
		return VehicleOutOfService, nil

	case VehicleStartMaintenance:
		if current != VehicleAvailable && current != VehicleOutOfService {
			return "", illegal("vehicle", current, VehicleMaintenance)
		}
		return VehicleMaintenance, nil

	case VehicleReturnToService:
		if !current.Sidelined() {
			return "", illegal("vehicle", current, VehicleAvailable)
		}
		return VehicleAvailable, nil
	}

	return "", apperr.Validation("unknown vehicle event %q", ev.Kind)
}
