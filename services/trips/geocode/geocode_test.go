package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

var jakarta = models.Coordinate{Latitude: -6.2, Longitude: 106.8}

func geocodingServer(t *testing.T, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "Mall X", r.URL.Query().Get("address"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGoogleGeocoder(t *testing.T) {
	var calls int32
	srv := geocodingServer(t, `{"status":"OK","results":[{"geometry":{"location":{"lat":-6.22,"lng":106.82}}}]}`, &calls)

	g, err := NewGoogleGeocoder("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	coord, err := g.Geocode(context.Background(), "Mall X", jakarta)

	require.NoError(t, err)
	assert.Equal(t, models.Coordinate{Latitude: -6.22, Longitude: 106.82}, coord)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGoogleGeocoder_NoResults(t *testing.T) {
	var calls int32
	srv := geocodingServer(t, `{"status":"ZERO_RESULTS","results":[]}`, &calls)

	g, err := NewGoogleGeocoder("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = g.Geocode(context.Background(), "Mall X", models.Coordinate{})

	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestGoogleGeocoder_ServiceDown(t *testing.T) {
	var calls int32
	srv := geocodingServer(t, `{"status":"UNKNOWN_ERROR","results":[]}`, &calls)

	g, err := NewGoogleGeocoder("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = g.Geocode(context.Background(), "Mall X", jakarta)

	assert.True(t, errors.Is(err, apperror.ErrUnavailable))
}

func TestCacheKey(t *testing.T) {
	nearby := models.Coordinate{Latitude: -6.2001, Longitude: 106.8001}

	assert.Equal(t, CacheKey("Mall X", jakarta, 6), CacheKey("  mall   x. ", nearby, 6))
	assert.Equal(t, "geocode:none:mall x", CacheKey("Mall X", models.Coordinate{}, 6))
	assert.NotEqual(t, CacheKey("Mall X", jakarta, 6), CacheKey("Mall X", models.Coordinate{Latitude: -7.25, Longitude: 112.75}, 6))
}

type countingGeocoder struct {
	calls int
	coord models.Coordinate
	err   error
}

func (c *countingGeocoder) Geocode(context.Context, string, models.Coordinate) (models.Coordinate, error) {
	c.calls++
	return c.coord, c.err
}

func setupRedisCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisCache(client)
}

func TestCached_MemoizesByLabelAndReference(t *testing.T) {
	mr, cache := setupRedisCache(t)
	next := &countingGeocoder{coord: models.Coordinate{Latitude: -6.22, Longitude: 106.82}}
	g := NewCached(next, cache, time.Hour, 0)
	ctx := context.Background()

	first, err := g.Geocode(ctx, "Mall X", jakarta)
	require.NoError(t, err)
	second, err := g.Geocode(ctx, "mall x", jakarta)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, time.Hour, mr.TTL(CacheKey("Mall X", jakarta, DefaultPrecision)))

	// a different reference cell is a different entry
	_, err = g.Geocode(ctx, "Mall X", models.Coordinate{})
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	_, cache := setupRedisCache(t)
	next := &countingGeocoder{err: apperror.New(apperror.KindNotFound, "test", "nothing")}
	g := NewCached(next, cache, time.Hour, 0)

	_, err := g.Geocode(context.Background(), "Nowhere", jakarta)
	assert.Error(t, err)
	_, err = g.Geocode(context.Background(), "Nowhere", jakarta)
	assert.Error(t, err)

	assert.Equal(t, 2, next.calls)
}

func TestCached_CacheDownFallsThrough(t *testing.T) {
	mr, cache := setupRedisCache(t)
	mr.Close()
	next := &countingGeocoder{coord: jakarta}
	g := NewCached(next, cache, time.Hour, 0)

	coord, err := g.Geocode(context.Background(), "Monas", models.Coordinate{})

	require.NoError(t, err)
	assert.Equal(t, jakarta, coord)
}

func TestNop(t *testing.T) {
	_, err := Nop{}.Geocode(context.Background(), "Mall X", jakarta)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}
