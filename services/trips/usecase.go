package trips

import (
	"context"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

// TripUC defines the interface for trip business logic
// go:generate mockgen -destination=mocks/mock_usecase.go -package=mocks github.com/piresc/nebengjek-dispatch/services/trips TripUC
type TripUC interface {
	CreateTrip(ctx context.Context, actor models.Actor, req models.CreateTripRequest) (*models.Trip, error)
	GetTrip(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Trip, error)
	ActiveTrip(ctx context.Context, actor models.Actor) (*models.Trip, error)
	OpenTrips(ctx context.Context, actor models.Actor) ([]*models.Trip, error)
	Candidates(ctx context.Context, actor models.Actor) ([]models.Candidate, error)
	ClaimTrip(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Trip, error)
	AdvanceTrip(ctx context.Context, actor models.Actor, id uuid.UUID, to models.TripStatus) (*models.Trip, error)
	CancelTrip(ctx context.Context, actor models.Actor, id uuid.UUID, reason string) (*models.Trip, error)
	UpdatePresence(ctx context.Context, actor models.Actor, req models.PresenceUpdateRequest) (*models.DriverPresence, error)
	ExpireStale(ctx context.Context) (int, error)
}
