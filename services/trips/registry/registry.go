// Package registry resolves the driver display snapshot stamped onto a trip at claim time.
package registry

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/services/trips"
)

// Unknown fills any field no source could provide
const Unknown = "Unknown"

// Registry looks a driver up in the drivers table first, then the legacy
// users table, field by field.
type Registry struct {
	repo trips.DriverRepo
}

// New creates a registry over repo
func New(repo trips.DriverRepo) *Registry {
	return &Registry{repo: repo}
}

// Snapshot never fails: lookup errors are logged and treated as missing data,
// so a claim is never blocked on display info.
func (r *Registry) Snapshot(ctx context.Context, driverID uuid.UUID) models.DriverSnapshot {
	var name, vehicle, plate string

	driver, err := r.repo.GetDriver(ctx, driverID)
	if err != nil {
		logger.WarnCtx(ctx, "Driver lookup failed",
			logger.String("driver_id", driverID.String()),
			logger.Err(err))
	} else if driver != nil {
		name = deref(driver.FullName)
		vehicle = deref(driver.VehicleType)
		plate = deref(driver.VehiclePlate)
	}

	if name == "" || vehicle == "" || plate == "" {
		legacy, err := r.repo.GetLegacyUser(ctx, driverID)
		if err != nil {
			logger.WarnCtx(ctx, "Legacy user lookup failed",
				logger.String("driver_id", driverID.String()),
				logger.Err(err))
		} else if legacy != nil {
			name = firstNonEmpty(name, deref(legacy.FullName))
			vehicle = firstNonEmpty(vehicle, deref(legacy.VehicleType))
			plate = firstNonEmpty(plate, deref(legacy.VehiclePlate))
		}
	}

	return models.DriverSnapshot{
		Name:        firstNonEmpty(name, Unknown),
		VehicleType: firstNonEmpty(vehicle, Unknown),
		Plate:       firstNonEmpty(plate, Unknown),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
