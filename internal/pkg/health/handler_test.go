package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPingHandler(t *testing.T) {
	t.Setenv("VERSION", "1.2.3")
	t.Setenv("GIT_COMMIT", "abc123")

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ping", nil), rec)

	require.NoError(t, NewPingHandler("dispatch")(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var info BuildInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "dispatch", info.ServiceName)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc123", info.GitCommit)
	assert.False(t, info.ServerTime.IsZero())
}

func TestService_CheckAll(t *testing.T) {
	svc := NewService()
	svc.AddChecker("postgres", CheckerFunc(func(ctx context.Context) error { return nil }))
	svc.AddChecker("redis", CheckerFunc(func(ctx context.Context) error { return errors.New("connection refused") }))
	svc.AddChecker("ignored", nil)

	assert.Equal(t, []string{"postgres", "redis"}, svc.Names())

	resp := svc.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "healthy", resp.Dependencies["postgres"].Status)
	assert.Equal(t, "unhealthy", resp.Dependencies["redis"].Status)
	assert.Equal(t, "connection refused", resp.Dependencies["redis"].Error)
}

func TestRegisterHealthEndpoints(t *testing.T) {
	healthy := true
	svc := NewService()
	svc.AddChecker("nats", CheckerFunc(func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("not connected")
	}))

	e := echo.New()
	RegisterHealthEndpoints(e, "dispatch", "v1", svc)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusOK, get("/health/live").Code)
	assert.Equal(t, http.StatusOK, get("/health/ready").Code)
	assert.Equal(t, http.StatusOK, get("/ping").Code)

	rec := get("/health/detailed")
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.Version)

	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/detailed").Code)
}
