package models

import (
	"time"

	"github.com/google/uuid"
)

// Location is a sampled device position
type Location struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Coordinate returns the position without accuracy and time
func (l Location) Coordinate() Coordinate {
	return Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// DriverPresence is the ephemeral last-known state of a driver
type DriverPresence struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Location  Location  `json:"location"`
	Available bool      `json:"available"`
}

// PresenceUpdateRequest is a driver's location push
type PresenceUpdateRequest struct {
	Latitude   float64    `json:"lat" validate:"latitude"`
	Longitude  float64    `json:"lng" validate:"longitude"`
	AccuracyM  float64    `json:"accuracy_m" validate:"gte=0"`
	RecordedAt *time.Time `json:"recorded_at"`
	Available  *bool      `json:"available"`
}

// DriverRecord is a row of the drivers table
type DriverRecord struct {
	ID           uuid.UUID `db:"id"`
	FullName     *string   `db:"full_name"`
	VehicleType  *string   `db:"vehicle_type"`
	VehiclePlate *string   `db:"vehicle_plate"`
}

// LegacyUserRecord is a driver stored in the older users table
type LegacyUserRecord struct {
	ID           uuid.UUID `db:"id"`
	FullName     *string   `db:"fullname"`
	VehicleType  *string   `db:"vehicle_type"`
	VehiclePlate *string   `db:"vehicle_plate"`
}
