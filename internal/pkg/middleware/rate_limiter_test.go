package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorRateLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	e := echo.New()
	limited := ActorRateLimiter("claim", 2, time.Minute, client)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	call := func(actorID string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
		c.Set(ContextActorID, actorID)
		require.NoError(t, limited(c))
		return rec
	}

	assert.Equal(t, http.StatusOK, call("driver-a").Code)
	rec := call("driver-a")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = call("driver-a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Separate actors have separate windows
	assert.Equal(t, http.StatusOK, call("driver-b").Code)

	assert.True(t, mr.TTL("rate:limit:claim:driver-a") > 0)

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, call("driver-a").Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	e := echo.New()
	limited := ActorRateLimiter("claim", 1, time.Minute, client)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	require.NoError(t, limited(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_DisabledWithoutRedis(t *testing.T) {
	called := false
	next := func(c echo.Context) error { called = true; return nil }
	h := ActorRateLimiter("claim", 1, time.Minute, nil)(next)

	e := echo.New()
	require.NoError(t, h(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())))
	assert.True(t, called)
}
