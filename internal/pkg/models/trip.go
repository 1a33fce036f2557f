package models

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus is the persisted lifecycle state of a trip request
type TripStatus string

const (
	TripStatusWaiting         TripStatus = "waiting"
	TripStatusClaimed         TripStatus = "claimed"
	TripStatusEnRouteToPickup TripStatus = "en_route_to_pickup"
	TripStatusAtPickup        TripStatus = "at_pickup"
	TripStatusInProgress      TripStatus = "in_progress"
	TripStatusCompleted       TripStatus = "completed"
	TripStatusCancelled       TripStatus = "cancelled"
	TripStatusExpired         TripStatus = "expired"
)

// ActiveTripStatuses are the statuses a rider's "active trip" may be in
var ActiveTripStatuses = []TripStatus{
	TripStatusWaiting,
	TripStatusClaimed,
	TripStatusEnRouteToPickup,
	TripStatusAtPickup,
	TripStatusInProgress,
}

// Valid reports whether s is a known status
func (s TripStatus) Valid() bool {
	switch s {
	case TripStatusWaiting, TripStatusClaimed, TripStatusEnRouteToPickup, TripStatusAtPickup,
		TripStatusInProgress, TripStatusCompleted, TripStatusCancelled, TripStatusExpired:
		return true
	}
	return false
}

// ActorRole identifies who is acting on a trip
type ActorRole string

const (
	RoleRider  ActorRole = "rider"
	RoleDriver ActorRole = "driver"
	RoleSystem ActorRole = "system"
)

// Actor is the authenticated caller of a trip operation
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role ActorRole `json:"role"`
}

// Coordinate is a WGS84 point in degrees. (0,0) means unknown.
type Coordinate struct {
	Latitude  float64 `json:"lat" db:"lat"`
	Longitude float64 `json:"lng" db:"lng"`
}

// Place is a labelled point such as a pickup or destination
type Place struct {
	Label      string     `json:"label"`
	Coordinate Coordinate `json:"coordinate"`
}

// DriverSnapshot is the driver display info denormalized onto a trip at claim time
type DriverSnapshot struct {
	Name        string `json:"name"`
	VehicleType string `json:"vehicle_type"`
	Plate       string `json:"plate"`
}

// Trip is a rider's trip request and its lifecycle state
type Trip struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	RiderID          uuid.UUID  `json:"rider_id" db:"rider_id"`
	RiderDisplayName string     `json:"rider_display_name" db:"rider_display_name"`
	Pickup           Place      `json:"pickup"`
	Destination      Place      `json:"destination"`
	Status           TripStatus `json:"status" db:"status"`

	AssignedDriverID       *uuid.UUID      `json:"assigned_driver_id,omitempty" db:"assigned_driver_id"`
	AssignedDriverSnapshot *DriverSnapshot `json:"assigned_driver_snapshot,omitempty"`
	CancelledDriverID      *uuid.UUID      `json:"cancelled_driver_id,omitempty" db:"cancelled_driver_id"`
	CancelledBy            ActorRole       `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancelReason           string          `json:"cancel_reason,omitempty" db:"cancel_reason"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	DepartedAt  *time.Time `json:"departed_at,omitempty" db:"departed_at"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty" db:"arrived_at"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty" db:"picked_up_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty" db:"expired_at"`

	Version int64 `json:"version" db:"version"`
}

// IsAssignedTo reports whether driverID is the trip's current driver
func (t *Trip) IsAssignedTo(driverID uuid.UUID) bool {
	return t.AssignedDriverID != nil && *t.AssignedDriverID == driverID
}

// Clone returns a deep copy so feed subscribers never share mutable state
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	c := *t
	if t.AssignedDriverID != nil {
		id := *t.AssignedDriverID
		c.AssignedDriverID = &id
	}
	if t.CancelledDriverID != nil {
		id := *t.CancelledDriverID
		c.CancelledDriverID = &id
	}
	if t.AssignedDriverSnapshot != nil {
		s := *t.AssignedDriverSnapshot
		c.AssignedDriverSnapshot = &s
	}
	for _, p := range []**time.Time{&c.ClaimedAt, &c.DepartedAt, &c.ArrivedAt, &c.PickedUpAt, &c.CompletedAt, &c.CancelledAt, &c.ExpiredAt} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return &c
}

// CreateTripRequest is the rider's payload for posting a trip
type CreateTripRequest struct {
	RiderDisplayName string       `json:"rider_display_name" validate:"max=120"`
	Pickup           PlaceRequest `json:"pickup"`
	Destination      PlaceRequest `json:"destination"`
}

// PlaceRequest is a place as submitted by a client; the coordinate may be omitted when a label is given
type PlaceRequest struct {
	Label     string   `json:"label" validate:"required_without=Latitude,max=255"`
	Latitude  *float64 `json:"lat" validate:"omitempty,latitude"`
	Longitude *float64 `json:"lng" validate:"required_with=Latitude,omitempty,longitude"`
}

// AdvanceTripRequest moves a trip to the next status
type AdvanceTripRequest struct {
	To TripStatus `json:"to" validate:"required"`
}

// CancelTripRequest carries an optional cancellation reason
type CancelTripRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// Candidate is a trip ranked for a particular driver
type Candidate struct {
	Trip       *Trip    `json:"trip"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// TripEvent is published on the change bus after each committed write
type TripEvent struct {
	Type       string     `json:"type"`
	Trip       *Trip      `json:"trip"`
	From       TripStatus `json:"from,omitempty"`
	Actor      Actor      `json:"actor"`
	OccurredAt time.Time  `json:"occurred_at"`
}
