package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	nr "github.com/piresc/nebengjek-dispatch/internal/pkg/newrelic"
	"github.com/piresc/nebengjek-dispatch/services/trips"
)

// DriverRepo reads driver display info from the drivers and legacy users tables
type DriverRepo struct {
	db *sqlx.DB
}

// NewDriverRepository creates a new driver repository
func NewDriverRepository(db *sqlx.DB) trips.DriverRepo {
	return &DriverRepo{db: db}
}

// GetDriver returns the drivers row for id, or nil when absent
func (r *DriverRepo) GetDriver(ctx context.Context, id uuid.UUID) (*models.DriverRecord, error) {
	defer nr.StartDatastoreSegment(ctx, "drivers", "SELECT")()

	query := `SELECT id, full_name, vehicle_type, vehicle_plate FROM drivers WHERE id = $1`

	var driver models.DriverRecord
	if err := r.db.GetContext(ctx, &driver, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}
	return &driver, nil
}

// GetLegacyUser returns the users row for a driver registered before the drivers table existed
func (r *DriverRepo) GetLegacyUser(ctx context.Context, id uuid.UUID) (*models.LegacyUserRecord, error) {
	defer nr.StartDatastoreSegment(ctx, "users", "SELECT")()

	query := `SELECT id, fullname, vehicle_type, vehicle_plate FROM users WHERE id = $1 AND role = 'driver'`

	var user models.LegacyUserRecord
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get legacy user: %w", err)
	}
	return &user, nil
}
