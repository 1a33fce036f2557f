package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	nr "github.com/piresc/nebengjek-dispatch/internal/pkg/newrelic"
	"github.com/piresc/nebengjek-dispatch/services/trips"
)

const tripColumns = `
	id, rider_id, rider_display_name,
	pickup_label, pickup_lat, pickup_lng,
	destination_label, destination_lat, destination_lng,
	status, assigned_driver_id, driver_name, driver_vehicle_type, driver_plate,
	cancelled_driver_id, cancelled_by, cancel_reason,
	created_at, updated_at, expires_at,
	claimed_at, departed_at, arrived_at, picked_up_at, completed_at, cancelled_at, expired_at,
	version`

// tripRow is the flat table shape of a trip
type tripRow struct {
	ID                uuid.UUID      `db:"id"`
	RiderID           uuid.UUID      `db:"rider_id"`
	RiderDisplayName  string         `db:"rider_display_name"`
	PickupLabel       string         `db:"pickup_label"`
	PickupLat         float64        `db:"pickup_lat"`
	PickupLng         float64        `db:"pickup_lng"`
	DestinationLabel  string         `db:"destination_label"`
	DestinationLat    float64        `db:"destination_lat"`
	DestinationLng    float64        `db:"destination_lng"`
	Status            string         `db:"status"`
	AssignedDriverID  uuid.NullUUID  `db:"assigned_driver_id"`
	DriverName        sql.NullString `db:"driver_name"`
	DriverVehicleType sql.NullString `db:"driver_vehicle_type"`
	DriverPlate       sql.NullString `db:"driver_plate"`
	CancelledDriverID uuid.NullUUID  `db:"cancelled_driver_id"`
	CancelledBy       string         `db:"cancelled_by"`
	CancelReason      string         `db:"cancel_reason"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	ExpiresAt         time.Time      `db:"expires_at"`
	ClaimedAt         sql.NullTime   `db:"claimed_at"`
	DepartedAt        sql.NullTime   `db:"departed_at"`
	ArrivedAt         sql.NullTime   `db:"arrived_at"`
	PickedUpAt        sql.NullTime   `db:"picked_up_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
	CancelledAt       sql.NullTime   `db:"cancelled_at"`
	ExpiredAt         sql.NullTime   `db:"expired_at"`
	Version           int64          `db:"version"`
}

func toRow(t *models.Trip) tripRow {
	row := tripRow{
		ID:                t.ID,
		RiderID:           t.RiderID,
		RiderDisplayName:  t.RiderDisplayName,
		PickupLabel:       t.Pickup.Label,
		PickupLat:         t.Pickup.Coordinate.Latitude,
		PickupLng:         t.Pickup.Coordinate.Longitude,
		DestinationLabel:  t.Destination.Label,
		DestinationLat:    t.Destination.Coordinate.Latitude,
		DestinationLng:    t.Destination.Coordinate.Longitude,
		Status:            string(t.Status),
		AssignedDriverID:  nullUUID(t.AssignedDriverID),
		CancelledDriverID: nullUUID(t.CancelledDriverID),
		CancelledBy:       string(t.CancelledBy),
		CancelReason:      t.CancelReason,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		ExpiresAt:         t.ExpiresAt,
		ClaimedAt:         nullTime(t.ClaimedAt),
		DepartedAt:        nullTime(t.DepartedAt),
		ArrivedAt:         nullTime(t.ArrivedAt),
		PickedUpAt:        nullTime(t.PickedUpAt),
		CompletedAt:       nullTime(t.CompletedAt),
		CancelledAt:       nullTime(t.CancelledAt),
		ExpiredAt:         nullTime(t.ExpiredAt),
		Version:           t.Version,
	}
	if s := t.AssignedDriverSnapshot; s != nil {
		row.DriverName = sql.NullString{String: s.Name, Valid: true}
		row.DriverVehicleType = sql.NullString{String: s.VehicleType, Valid: true}
		row.DriverPlate = sql.NullString{String: s.Plate, Valid: true}
	}
	return row
}

func (r tripRow) toModel() *models.Trip {
	t := &models.Trip{
		ID:               r.ID,
		RiderID:          r.RiderID,
		RiderDisplayName: r.RiderDisplayName,
		Pickup: models.Place{
			Label:      r.PickupLabel,
			Coordinate: models.Coordinate{Latitude: r.PickupLat, Longitude: r.PickupLng},
		},
		Destination: models.Place{
			Label:      r.DestinationLabel,
			Coordinate: models.Coordinate{Latitude: r.DestinationLat, Longitude: r.DestinationLng},
		},
		Status:       models.TripStatus(r.Status),
		CancelledBy:  models.ActorRole(r.CancelledBy),
		CancelReason: r.CancelReason,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		ExpiresAt:    r.ExpiresAt.UTC(),
		ClaimedAt:    timePtr(r.ClaimedAt),
		DepartedAt:   timePtr(r.DepartedAt),
		ArrivedAt:    timePtr(r.ArrivedAt),
		PickedUpAt:   timePtr(r.PickedUpAt),
		CompletedAt:  timePtr(r.CompletedAt),
		CancelledAt:  timePtr(r.CancelledAt),
		ExpiredAt:    timePtr(r.ExpiredAt),
		Version:      r.Version,
	}
	if r.AssignedDriverID.Valid {
		id := r.AssignedDriverID.UUID
		t.AssignedDriverID = &id
	}
	if r.CancelledDriverID.Valid {
		id := r.CancelledDriverID.UUID
		t.CancelledDriverID = &id
	}
	if r.DriverName.Valid || r.DriverVehicleType.Valid || r.DriverPlate.Valid {
		t.AssignedDriverSnapshot = &models.DriverSnapshot{
			Name:        r.DriverName.String,
			VehicleType: r.DriverVehicleType.String,
			Plate:       r.DriverPlate.String,
		}
	}
	return t
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// TripRepo is the Postgres implementation of trips.TripRepo
type TripRepo struct {
	db *sqlx.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sqlx.DB) trips.TripRepo {
	return &TripRepo{db: db}
}

// CreateTrip inserts a new waiting trip
func (r *TripRepo) CreateTrip(ctx context.Context, trip *models.Trip) error {
	defer nr.StartDatastoreSegment(ctx, "trips", "INSERT")()

	query := `
		INSERT INTO trips (` + tripColumns + `
		) VALUES (
			:id, :rider_id, :rider_display_name,
			:pickup_label, :pickup_lat, :pickup_lng,
			:destination_label, :destination_lat, :destination_lng,
			:status, :assigned_driver_id, :driver_name, :driver_vehicle_type, :driver_plate,
			:cancelled_driver_id, :cancelled_by, :cancel_reason,
			:created_at, :updated_at, :expires_at,
			:claimed_at, :departed_at, :arrived_at, :picked_up_at, :completed_at, :cancelled_at, :expired_at,
			:version
		)`

	if _, err := r.db.NamedExecContext(ctx, query, toRow(trip)); err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}
	return nil
}

// GetTrip retrieves a trip by ID
func (r *TripRepo) GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	defer nr.StartDatastoreSegment(ctx, "trips", "SELECT")()

	var row tripRow
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.New(apperror.KindNotFound, "repository.GetTrip", "trip %s not found", id)
		}
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return row.toModel(), nil
}

// ListWaiting returns the newest persisted-waiting trips. Expiry by clock is
// left to the reader.
func (r *TripRepo) ListWaiting(ctx context.Context, limit int) ([]*models.Trip, error) {
	defer nr.StartDatastoreSegment(ctx, "trips", "SELECT")()

	var rows []tripRow
	query := `SELECT ` + tripColumns + `
		FROM trips
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, models.TripStatusWaiting, limit); err != nil {
		return nil, fmt.Errorf("failed to list waiting trips: %w", err)
	}
	return toModels(rows), nil
}

// GetActiveTrip returns the rider's latest trip in an active status created
// at or after since, or nil when there is none
func (r *TripRepo) GetActiveTrip(ctx context.Context, riderID uuid.UUID, since time.Time) (*models.Trip, error) {
	defer nr.StartDatastoreSegment(ctx, "trips", "SELECT")()

	statuses := make([]string, len(models.ActiveTripStatuses))
	for i, s := range models.ActiveTripStatuses {
		statuses[i] = string(s)
	}

	var row tripRow
	query := `SELECT ` + tripColumns + `
		FROM trips
		WHERE rider_id = $1 AND status = ANY($2) AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1`
	if err := r.db.GetContext(ctx, &row, query, riderID, pq.Array(statuses), since); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active trip: %w", err)
	}
	return row.toModel(), nil
}

// ClaimTrip assigns driverID in one conditional statement. It returns nil
// without error when the precondition no longer holds.
func (r *TripRepo) ClaimTrip(ctx context.Context, id, driverID uuid.UUID, snapshot models.DriverSnapshot, now time.Time) (*models.Trip, error) {
	defer nr.StartDatastoreSegment(ctx, "trips", "UPDATE")()

	var row tripRow
	query := `
		UPDATE trips
		SET status = $2,
			assigned_driver_id = $3,
			driver_name = $4,
			driver_vehicle_type = $5,
			driver_plate = $6,
			claimed_at = $7,
			updated_at = $7,
			version = version + 1
		WHERE id = $1
			AND status = 'waiting'
			AND assigned_driver_id IS NULL
			AND expires_at > $7
		RETURNING ` + tripColumns
	err := r.db.GetContext(ctx, &row, query,
		id, models.TripStatusClaimed, driverID,
		snapshot.Name, snapshot.VehicleType, snapshot.Plate, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim trip: %w", err)
	}
	return row.toModel(), nil
}

// UpdateTrip writes trip only if the stored version still equals
// expectedVersion. It reports whether the row was written.
func (r *TripRepo) UpdateTrip(ctx context.Context, trip *models.Trip, expectedVersion int64) (bool, error) {
	defer nr.StartDatastoreSegment(ctx, "trips", "UPDATE")()

	query := `
		UPDATE trips
		SET status = :status,
			assigned_driver_id = :assigned_driver_id,
			driver_name = :driver_name,
			driver_vehicle_type = :driver_vehicle_type,
			driver_plate = :driver_plate,
			cancelled_driver_id = :cancelled_driver_id,
			cancelled_by = :cancelled_by,
			cancel_reason = :cancel_reason,
			updated_at = :updated_at,
			claimed_at = :claimed_at,
			departed_at = :departed_at,
			arrived_at = :arrived_at,
			picked_up_at = :picked_up_at,
			completed_at = :completed_at,
			cancelled_at = :cancelled_at,
			expired_at = :expired_at,
			version = :version
		WHERE id = :id AND version = :expected_version`

	args := struct {
		tripRow
		ExpectedVersion int64 `db:"expected_version"`
	}{toRow(trip), expectedVersion}

	result, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("failed to update trip: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ExpireStale converges up to limit waiting trips past their window to expired
// and returns them as written
func (r *TripRepo) ExpireStale(ctx context.Context, now time.Time, limit int) ([]*models.Trip, error) {
	defer nr.StartDatastoreSegment(ctx, "trips", "UPDATE")()

	var rows []tripRow
	query := `
		UPDATE trips
		SET status = 'expired',
			expired_at = $1,
			updated_at = $1,
			version = version + 1
		WHERE id IN (
			SELECT id FROM trips
			WHERE status = 'waiting' AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
			AND status = 'waiting'
			AND assigned_driver_id IS NULL
		RETURNING ` + tripColumns
	if err := r.db.SelectContext(ctx, &rows, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to expire stale trips: %w", err)
	}
	return toModels(rows), nil
}

func toModels(rows []tripRow) []*models.Trip {
	out := make([]*models.Trip, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}
