// Package lifecycle holds the trip state graph, who may drive each edge,
// and how a transition is stamped onto a trip.
package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

var graph = map[models.TripStatus][]models.TripStatus{
	models.TripStatusWaiting:         {models.TripStatusClaimed, models.TripStatusExpired, models.TripStatusCancelled},
	models.TripStatusClaimed:         {models.TripStatusEnRouteToPickup, models.TripStatusCancelled},
	models.TripStatusEnRouteToPickup: {models.TripStatusAtPickup, models.TripStatusCancelled},
	models.TripStatusAtPickup:        {models.TripStatusInProgress, models.TripStatusCancelled},
	models.TripStatusInProgress:      {models.TripStatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the graph
func CanTransition(from, to models.TripStatus) bool {
	for _, next := range graph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from s in one step
func Next(s models.TripStatus) []models.TripStatus {
	out := make([]models.TripStatus, len(graph[s]))
	copy(out, graph[s])
	return out
}

// IsTerminal reports whether s has no outgoing edges
func IsTerminal(s models.TripStatus) bool {
	return len(graph[s]) == 0
}

// HasDriver reports whether a trip in status s must carry an assigned driver
func HasDriver(s models.TripStatus) bool {
	switch s {
	case models.TripStatusWaiting, models.TripStatusCancelled, models.TripStatusExpired:
		return false
	}
	return true
}

// EffectiveStatus is the status every reader must act on: a waiting trip
// past its expiry is expired whether or not that was persisted.
func EffectiveStatus(trip *models.Trip, now time.Time) models.TripStatus {
	if trip.Status == models.TripStatusWaiting && !now.Before(trip.ExpiresAt) {
		return models.TripStatusExpired
	}
	return trip.Status
}

// IsClaimable reports whether a driver could claim trip at now
func IsClaimable(trip *models.Trip, now time.Time) bool {
	return EffectiveStatus(trip, now) == models.TripStatusWaiting && trip.AssignedDriverID == nil
}

// WithEffectiveStatus returns a copy of trip whose Status is the effective one
func WithEffectiveStatus(trip *models.Trip, now time.Time) *models.Trip {
	eff := EffectiveStatus(trip, now)
	if eff == trip.Status {
		return trip
	}
	c := trip.Clone()
	c.Status = eff
	return c
}

// CanRead reports whether actor may see trip. Drivers may browse waiting trips.
func CanRead(trip *models.Trip, actor models.Actor, now time.Time) bool {
	switch actor.Role {
	case models.RoleSystem:
		return true
	case models.RoleRider:
		return trip.RiderID == actor.ID
	case models.RoleDriver:
		if trip.IsAssignedTo(actor.ID) {
			return true
		}
		if trip.CancelledDriverID != nil && *trip.CancelledDriverID == actor.ID {
			return true
		}
		return EffectiveStatus(trip, now) == models.TripStatusWaiting
	}
	return false
}

// Authorize checks that actor may move trip to status to at now. The edge is
// evaluated against the effective status.
func Authorize(trip *models.Trip, actor models.Actor, to models.TripStatus, now time.Time) error {
	const op = "lifecycle.Authorize"

	if !to.Valid() {
		return apperror.New(apperror.KindValidation, op, "unknown status %q", to)
	}

	if to == models.TripStatusExpired {
		if trip.Status != models.TripStatusWaiting || now.Before(trip.ExpiresAt) {
			return apperror.New(apperror.KindInvalidTransition, op, "trip in %s is not past its waiting window", trip.Status)
		}
		if actor.Role != models.RoleSystem {
			return apperror.New(apperror.KindPermissionDenied, op, "only housekeeping may expire trips")
		}
		return nil
	}

	from := EffectiveStatus(trip, now)
	if !CanTransition(from, to) {
		return apperror.New(apperror.KindInvalidTransition, op, "cannot move trip from %s to %s", from, to)
	}

	switch to {
	case models.TripStatusClaimed:
		if actor.Role != models.RoleDriver {
			return apperror.New(apperror.KindPermissionDenied, op, "only drivers may claim trips")
		}
		if trip.AssignedDriverID != nil {
			return apperror.New(apperror.KindAlreadyTaken, op, "trip already has a driver")
		}
	case models.TripStatusCancelled:
		return authorizeCancel(trip, actor, from)
	default:
		if actor.Role != models.RoleDriver || !trip.IsAssignedTo(actor.ID) {
			return apperror.New(apperror.KindPermissionDenied, op, "only the assigned driver may advance this trip")
		}
	}
	return nil
}

func authorizeCancel(trip *models.Trip, actor models.Actor, from models.TripStatus) error {
	const op = "lifecycle.Authorize"

	isRider := actor.Role == models.RoleRider && trip.RiderID == actor.ID
	if from == models.TripStatusWaiting {
		if !isRider {
			return apperror.New(apperror.KindPermissionDenied, op, "only the rider may cancel a waiting trip")
		}
		return nil
	}

	isDriver := actor.Role == models.RoleDriver && trip.IsAssignedTo(actor.ID)
	if !isRider && !isDriver {
		return apperror.New(apperror.KindPermissionDenied, op, "only the rider or the assigned driver may cancel")
	}
	return nil
}

// Change describes a transition to stamp onto a trip
type Change struct {
	To       models.TripStatus
	Actor    models.Actor
	At       time.Time
	Reason   string
	DriverID uuid.UUID
	Driver   *models.DriverSnapshot
}

// Apply returns a copy of trip with the change stamped on it: status,
// updated_at, the transition timestamp and a bumped version. It does not
// authorize; call Authorize first.
func Apply(trip *models.Trip, ch Change) *models.Trip {
	next := trip.Clone()
	at := ch.At.UTC()

	next.Status = ch.To
	next.UpdatedAt = at
	next.Version = trip.Version + 1

	switch ch.To {
	case models.TripStatusClaimed:
		id := ch.DriverID
		next.AssignedDriverID = &id
		if ch.Driver != nil {
			snap := *ch.Driver
			next.AssignedDriverSnapshot = &snap
		}
		next.ClaimedAt = &at
	case models.TripStatusEnRouteToPickup:
		next.DepartedAt = &at
	case models.TripStatusAtPickup:
		next.ArrivedAt = &at
	case models.TripStatusInProgress:
		next.PickedUpAt = &at
	case models.TripStatusCompleted:
		next.CompletedAt = &at
	case models.TripStatusCancelled:
		next.CancelledAt = &at
		next.CancelledBy = ch.Actor.Role
		next.CancelReason = ch.Reason
		if next.AssignedDriverID != nil {
			next.CancelledDriverID = next.AssignedDriverID
			next.AssignedDriverID = nil
		}
	case models.TripStatusExpired:
		next.ExpiredAt = &at
	}
	return next
}
