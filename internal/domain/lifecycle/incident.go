// Package lifecycle holds the status machines for incidents, vehicles and beds.
// Every transition in the service goes through one of the functions here; the
// callers persist the result and apply the returned side effect.
package lifecycle

import (
	"github.com/ehr/caredispatch/pkg/apperr"
)

type IncidentStatus string

const (
	IncidentReported     IncidentStatus = "reported"
	IncidentDispatched   IncidentStatus = "dispatched"
	IncidentEnRoute      IncidentStatus = "en_route"
	IncidentOnScene      IncidentStatus = "on_scene"
	IncidentTransporting IncidentStatus = "transporting"
	IncidentArrived      IncidentStatus = "arrived"
	IncidentInTreatment  IncidentStatus = "in_treatment"
	IncidentCompleted    IncidentStatus = "completed"
	IncidentCancelled    IncidentStatus = "cancelled"
)

// IncidentStatuses lists every incident status in lifecycle order.
var IncidentStatuses = []IncidentStatus{
	IncidentReported, IncidentDispatched, IncidentEnRoute, IncidentOnScene,
	IncidentTransporting, IncidentArrived, IncidentInTreatment,
	IncidentCompleted, IncidentCancelled,
}

// incidentNext is the single forward successor of each non-terminal status.
var incidentNext = map[IncidentStatus]IncidentStatus{
	IncidentReported:     IncidentDispatched,
	IncidentDispatched:   IncidentEnRoute,
	IncidentEnRoute:      IncidentOnScene,
	IncidentOnScene:      IncidentTransporting,
	IncidentTransporting: IncidentArrived,
	IncidentArrived:      IncidentInTreatment,
	IncidentInTreatment:  IncidentCompleted,
}

func (s IncidentStatus) Terminal() bool {
	return s == IncidentCompleted || s == IncidentCancelled
}

func (s IncidentStatus) Valid() bool {
	for _, v := range IncidentStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Next returns the forward successor of s, if any.
func (s IncidentStatus) Next() (IncidentStatus, bool) {
	n, ok := incidentNext[s]
	return n, ok
}

func ParseIncidentStatus(v string) (IncidentStatus, error) {
	s := IncidentStatus(v)
	if !s.Valid() {
		return "", apperr.Validation("unknown incident status %q", v)
	}
	return s, nil
}

type IncidentEventKind string

const (
	IncidentAdvance  IncidentEventKind = "advance"
	IncidentDispatch IncidentEventKind = "dispatch"
	IncidentCancel   IncidentEventKind = "cancel"
	IncidentHandover IncidentEventKind = "handover"
)

// IncidentEvent drives IncidentTransition. Target is only read for advance.
type IncidentEvent struct {
	Kind   IncidentEventKind
	Target IncidentStatus
}

func Advance(target IncidentStatus) IncidentEvent {
	return IncidentEvent{Kind: IncidentAdvance, Target: target}
}

func Dispatch() IncidentEvent { return IncidentEvent{Kind: IncidentDispatch} }
func Cancel() IncidentEvent   { return IncidentEvent{Kind: IncidentCancel} }
func Handover() IncidentEvent { return IncidentEvent{Kind: IncidentHandover} }

type EffectKind string

const (
	EffectNone    EffectKind = "none"
	EffectBind    EffectKind = "bind"
	EffectMirror  EffectKind = "mirror"
	EffectRelease EffectKind = "release"
)

// VehicleEffect is what an incident transition asks of the bound vehicle.
// Status is set only for EffectMirror.
type VehicleEffect struct {
	Kind   EffectKind
	Status VehicleStatus
}

var noEffect = VehicleEffect{Kind: EffectNone}

// mirrored maps incident statuses that have a vehicle counterpart.
var mirrored = map[IncidentStatus]VehicleStatus{
	IncidentDispatched:   VehicleDispatched,
	IncidentEnRoute:      VehicleEnRoute,
	IncidentOnScene:      VehicleOnScene,
	IncidentTransporting: VehicleTransporting,
}

// MirrorOf returns the vehicle status that corresponds to an incident status.
// Arrived and InTreatment have none: the vehicle keeps whatever it had.
func MirrorOf(s IncidentStatus) (VehicleStatus, bool) {
	v, ok := mirrored[s]
	return v, ok
}

// IncidentTransition validates ev against the incident table and returns the
// next status together with the effect to apply to the bound vehicle.
func IncidentTransition(current IncidentStatus, ev IncidentEvent) (IncidentStatus, VehicleEffect, error) {
	if !current.Valid() {
		return "", noEffect, apperr.Validation("unknown incident status %q", current)
	}
	if current.Terminal() {
		return "", noEffect, apperr.Conflict("incident is %s: no further transitions", current)
	}

	switch ev.Kind {
	case IncidentDispatch:
		if current != IncidentReported {
			return "", noEffect, illegal("incident", current, IncidentDispatched)
		}
		return IncidentDispatched, VehicleEffect{Kind: EffectBind, Status: VehicleDispatched}, nil

	case IncidentAdvance:
		if !ev.Target.Valid() {
			return "", noEffect, apperr.Validation("unknown incident status %q", ev.Target)
		}
		if ev.Target == IncidentCancelled {
			return IncidentTransition(current, Cancel())
		}
		// Dispatched needs a vehicle; only the dispatch event supplies one.
		if ev.Target == IncidentDispatched {
			return "", noEffect, apperr.Conflict("incident enters %s only through dispatch", IncidentDispatched)
		}
		if next, ok := incidentNext[current]; !ok || next != ev.Target {
			return "", noEffect, illegal("incident", current, ev.Target)
		}
		if ev.Target == IncidentCompleted {
			return ev.Target, VehicleEffect{Kind: EffectRelease}, nil
		}
		if v, ok := mirrored[ev.Target]; ok {
			return ev.Target, VehicleEffect{Kind: EffectMirror, Status: v}, nil
		}
		return ev.Target, noEffect, nil

	case IncidentCancel:
		return IncidentCancelled, VehicleEffect{Kind: EffectRelease}, nil

	case IncidentHandover:
		if current != IncidentTransporting {
			return "", noEffect, apperr.Conflict("handover requires incident status %s, got %s", IncidentTransporting, current)
		}
		return IncidentCompleted, VehicleEffect{Kind: EffectRelease}, nil
	}

	return "", noEffect, apperr.Validation("unknown incident event %q", ev.Kind)
}

func illegal(entity string, from, to interface{}) error {
	return apperr.Conflict("illegal %s transition from %v to %v", entity, from, to)
}
