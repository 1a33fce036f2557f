package trips

import (
	"context"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

// TripGW defines the interface for outbound trip and presence events
// go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/piresc/nebengjek-dispatch/services/trips TripGW
type TripGW interface {
	PublishTripUpdated(ctx context.Context, event models.TripEvent) error
	PublishDriverLocation(ctx context.Context, presence models.DriverPresence) error
}
