package trips

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

// TripRepo defines the interface for trip persistence. Every write is conditional.
// go:generate mockgen -destination=mocks/mock_repository.go -package=mocks github.com/piresc/nebengjek-dispatch/services/trips TripRepo,DriverRepo,PresenceRepo
type TripRepo interface {
	CreateTrip(ctx context.Context, trip *models.Trip) error
	GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	ListWaiting(ctx context.Context, limit int) ([]*models.Trip, error)
	GetActiveTrip(ctx context.Context, riderID uuid.UUID, since time.Time) (*models.Trip, error)
	ClaimTrip(ctx context.Context, id, driverID uuid.UUID, snapshot models.DriverSnapshot, now time.Time) (*models.Trip, error)
	UpdateTrip(ctx context.Context, trip *models.Trip, expectedVersion int64) (bool, error)
	ExpireStale(ctx context.Context, now time.Time, limit int) ([]*models.Trip, error)
}

// DriverRepo defines the read-only driver display lookups
type DriverRepo interface {
	GetDriver(ctx context.Context, id uuid.UUID) (*models.DriverRecord, error)
	GetLegacyUser(ctx context.Context, id uuid.UUID) (*models.LegacyUserRecord, error)
}

// PresenceRepo defines the interface for the ephemeral driver presence store
type PresenceRepo interface {
	SavePresence(ctx context.Context, presence models.DriverPresence, ttl time.Duration) error
	GetPresence(ctx context.Context, driverID uuid.UUID) (*models.DriverPresence, error)
	CountNearby(ctx context.Context, center models.Coordinate, radiusKm float64, limit int) (int, error)
}
