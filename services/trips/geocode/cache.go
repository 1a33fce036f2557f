package geocode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/metrics"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
)

// DefaultPrecision is the geohash length of the reference cell in cache keys (~1.2 km)
const DefaultPrecision uint = 6

// Cache memoizes geocode results. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (models.Coordinate, bool, error)
	Set(ctx context.Context, key string, c models.Coordinate, ttl time.Duration) error
}

// CacheKey derives the key for label resolved near ref. Nearby references share a cell.
func CacheKey(label string, ref models.Coordinate, precision uint) string {
	cell := "none"
	if !utils.IsUnknownLocation(ref) {
		cell = utils.EncodeGeohash(ref, precision)
	}
	return fmt.Sprintf(constants.KeyGeocode, cell, utils.NormalizeAddress(label))
}

// RedisCache stores coordinates as "lat,lng" strings
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache creates a Redis backed cache
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Get looks key up
func (c *RedisCache) Get(ctx context.Context, key string) (models.Coordinate, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return models.Coordinate{}, false, nil
	}
	if err != nil {
		return models.Coordinate{}, false, fmt.Errorf("failed to read geocode cache: %w", err)
	}

	latStr, lngStr, ok := strings.Cut(val, ",")
	if !ok {
		return models.Coordinate{}, false, nil
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lng, err2 := strconv.ParseFloat(lngStr, 64)
	if err1 != nil || err2 != nil {
		return models.Coordinate{}, false, nil
	}
	return models.Coordinate{Latitude: lat, Longitude: lng}, true, nil
}

// Set stores coordinate under key
func (c *RedisCache) Set(ctx context.Context, key string, coord models.Coordinate, ttl time.Duration) error {
	val := strconv.FormatFloat(coord.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(coord.Longitude, 'f', -1, 64)
	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	return nil
}

// Cached decorates a Geocoder with a Cache. Cache failures degrade to a direct lookup.
type Cached struct {
	next      Geocoder
	cache     Cache
	ttl       time.Duration
	precision uint
}

// NewCached wraps next with cache
func NewCached(next Geocoder, cache Cache, ttl time.Duration, precision uint) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if precision == 0 {
		precision = DefaultPrecision
	}
	return &Cached{next: next, cache: cache, ttl: ttl, precision: precision}
}

// Geocode serves from the cache when possible
func (c *Cached) Geocode(ctx context.Context, label string, near models.Coordinate) (models.Coordinate, error) {
	key := CacheKey(label, near, c.precision)

	coord, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.WarnCtx(ctx, "Geocode cache read failed", logger.String("key", key), logger.Err(err))
	}
	if ok {
		metrics.GeocodeLookups.WithLabelValues("hit").Inc()
		return coord, nil
	}

	coord, err = c.next.Geocode(ctx, label, near)
	if err != nil {
		metrics.GeocodeLookups.WithLabelValues("error").Inc()
		return models.Coordinate{}, err
	}
	metrics.GeocodeLookups.WithLabelValues("miss").Inc()

	if err := c.cache.Set(ctx, key, coord, c.ttl); err != nil {
		logger.WarnCtx(ctx, "Geocode cache write failed", logger.String("key", key), logger.Err(err))
	}
	return coord, nil
}
