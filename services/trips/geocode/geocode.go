// Package geocode resolves free-text place labels to coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/circuitbreaker"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	nr "github.com/piresc/nebengjek-dispatch/internal/pkg/newrelic"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
	"googlemaps.github.io/maps"
)

const (
	// DefaultTTL is how long a cached geocode is kept
	DefaultTTL = 24 * time.Hour

	// biasKm is the half-width of the box used to bias results toward a reference point
	biasKm = 25.0
)

// Geocoder resolves label near an optional reference point. An unknown
// reference means no bias.
type Geocoder interface {
	Geocode(ctx context.Context, label string, near models.Coordinate) (models.Coordinate, error)
}

// GoogleGeocoder calls the Google Geocoding API behind a circuit breaker
type GoogleGeocoder struct {
	client  *maps.Client
	breaker *circuitbreaker.CircuitBreaker
	region  string
}

// NewGoogleGeocoder creates a geocoder for apiKey. Extra options are passed to the maps client.
func NewGoogleGeocoder(apiKey string, opts ...maps.ClientOption) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}

	cfg := circuitbreaker.DefaultConfig("google-geocoding")
	cfg.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, context.Canceled) && !apperror.IsKind(err, apperror.KindNotFound)
	}

	return &GoogleGeocoder{
		client:  client,
		breaker: circuitbreaker.New(cfg),
		region:  "id",
	}, nil
}

// Geocode returns the first result for label
func (g *GoogleGeocoder) Geocode(ctx context.Context, label string, near models.Coordinate) (models.Coordinate, error) {
	const op = "geocode.Geocode"

	req := &maps.GeocodingRequest{
		Address: label,
		Region:  g.region,
	}
	if !utils.IsUnknownLocation(near) {
		req.Bounds = boundsAround(near, biasKm)
	}

	var result models.Coordinate
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return nr.WithExternalSegment(ctx, "googlemaps", "Geocode", "https://maps.googleapis.com/maps/api/geocode/json", func() error {
			resp, err := g.client.Geocode(ctx, req)
			if err != nil {
				return apperror.Wrap(apperror.KindUnavailable, op, err)
			}
			if len(resp) == 0 {
				return apperror.New(apperror.KindNotFound, op, "no result for %q", label)
			}
			loc := resp[0].Geometry.Location
			result = models.Coordinate{Latitude: loc.Lat, Longitude: loc.Lng}
			return nil
		})
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return models.Coordinate{}, apperror.Wrap(apperror.KindUnavailable, op, err)
	}
	return result, err
}

func boundsAround(c models.Coordinate, km float64) *maps.LatLngBounds {
	dLat := km / 111.0
	dLng := dLat
	return &maps.LatLngBounds{
		NorthEast: maps.LatLng{Lat: c.Latitude + dLat, Lng: c.Longitude + dLng},
		SouthWest: maps.LatLng{Lat: c.Latitude - dLat, Lng: c.Longitude - dLng},
	}
}

// Nop never resolves anything; used when geocoding is disabled
type Nop struct{}

// Geocode always reports not found
func (Nop) Geocode(_ context.Context, label string, _ models.Coordinate) (models.Coordinate, error) {
	return models.Coordinate{}, apperror.New(apperror.KindNotFound, "geocode.Geocode", "geocoding disabled for %q", label)
}
