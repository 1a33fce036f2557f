package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	jwtpkg "github.com/piresc/nebengjek-dispatch/internal/pkg/jwt"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/requestcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContextMiddleware_TripRouteAndActor(t *testing.T) {
	cfg := testJWTConfig()
	riderID := uuid.New()
	token, _, err := jwtpkg.GenerateToken(riderID, models.RoleRider, "Sari", cfg)
	require.NoError(t, err)

	var requestID, actorID, tripID string
	e := echo.New()
	e.Use(RequestContextMiddleware("dispatch-service"))
	e.POST("/v1/trips/:id/cancel", func(c echo.Context) error {
		ctx := c.Request().Context()
		requestID = requestcontext.GetRequestID(ctx)
		actorID = requestcontext.GetActorID(ctx)
		tripID = requestcontext.GetTripID(ctx)
		return c.NoContent(http.StatusNoContent)
	}, JWTAuthMiddleware(cfg.JWT))

	req := httptest.NewRequest(http.MethodPost, "/v1/trips/trip-42/cancel", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, riderID.String(), actorID)
	assert.Equal(t, "trip-42", tripID)
}

func TestRequestContextMiddleware_NoTripOutsideTripRoutes(t *testing.T) {
	var tripID string
	var reqCtx *requestcontext.RequestContext
	e := echo.New()
	e.Use(RequestContextMiddleware("dispatch-service"))
	e.GET("/v1/drivers/:id", func(c echo.Context) error {
		tripID = requestcontext.GetTripID(c.Request().Context())
		reqCtx = GetRequestContext(c)
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/drivers/d-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, tripID)
	require.NotNil(t, reqCtx)
	assert.Equal(t, "dispatch-service", reqCtx.ServiceName)
	assert.NotEmpty(t, reqCtx.RequestID)
}
