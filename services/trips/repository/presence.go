package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/services/trips"
)

// DefaultPresenceTTL is how long a driver stays visible after the last update
const DefaultPresenceTTL = 10 * time.Minute

// PresenceRepo keeps each driver's last known position in Redis: a hash per
// driver with a TTL, plus a member of a shared GEO set for radius counts.
type PresenceRepo struct {
	client redis.Cmdable
}

// NewPresenceRepository creates a new presence repository
func NewPresenceRepository(client redis.Cmdable) trips.PresenceRepo {
	return &PresenceRepo{client: client}
}

// SavePresence overwrites the driver's last known value
func (r *PresenceRepo) SavePresence(ctx context.Context, p models.DriverPresence, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	key := fmt.Sprintf(constants.KeyDriverPresence, p.DriverID)
	member := p.DriverID.String()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			constants.FieldLatitude:  strconv.FormatFloat(p.Location.Latitude, 'f', -1, 64),
			constants.FieldLongitude: strconv.FormatFloat(p.Location.Longitude, 'f', -1, 64),
			constants.FieldAccuracy:  strconv.FormatFloat(p.Location.AccuracyM, 'f', -1, 64),
			constants.FieldTimestamp: strconv.FormatInt(p.Location.RecordedAt.UnixMilli(), 10),
			constants.FieldAvailable: strconv.FormatBool(p.Available),
		})
		pipe.Expire(ctx, key, ttl)
		if p.Available {
			pipe.GeoAdd(ctx, constants.KeyDriverGeo, &redis.GeoLocation{
				Name:      member,
				Longitude: p.Location.Longitude,
				Latitude:  p.Location.Latitude,
			})
		} else {
			pipe.ZRem(ctx, constants.KeyDriverGeo, member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save driver presence: %w", err)
	}
	return nil
}

// GetPresence returns the last known value for driverID, or nil once it has expired
func (r *PresenceRepo) GetPresence(ctx context.Context, driverID uuid.UUID) (*models.DriverPresence, error) {
	key := fmt.Sprintf(constants.KeyDriverPresence, driverID)

	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get driver presence: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(values[constants.FieldLatitude], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(values[constants.FieldLongitude], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude: %w", err)
	}
	acc, _ := strconv.ParseFloat(values[constants.FieldAccuracy], 64)
	ts, err := strconv.ParseInt(values[constants.FieldTimestamp], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	available, _ := strconv.ParseBool(values[constants.FieldAvailable])

	return &models.DriverPresence{
		DriverID: driverID,
		Location: models.Location{
			Latitude:   lat,
			Longitude:  lng,
			AccuracyM:  acc,
			RecordedAt: time.UnixMilli(ts).UTC(),
		},
		Available: available,
	}, nil
}

// CountNearby counts available drivers within radiusKm of center, up to limit.
// GEO members outlive their hash, so each hit is checked for a live hash.
func (r *PresenceRepo) CountNearby(ctx context.Context, center models.Coordinate, radiusKm float64, limit int) (int, error) {
	locations, err := r.client.GeoRadius(ctx, constants.KeyDriverGeo, center.Longitude, center.Latitude, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Count:  limit,
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find nearby drivers: %w", err)
	}
	if len(locations) == 0 {
		return 0, nil
	}

	keys := make([]string, len(locations))
	for i, loc := range locations {
		keys[i] = fmt.Sprintf(constants.KeyDriverPresence, loc.Name)
	}
	live, err := r.client.Exists(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check driver presence: %w", err)
	}
	return int(live), nil
}
