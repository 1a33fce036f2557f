package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEchoMiddleware_RecordsRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(EchoMiddleware())
	e.GET("/v1/trips/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/trips/:id", "200"))

	req := httptest.NewRequest(http.MethodGet, "/v1/trips/123", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/trips/:id", "200"))
	assert.Equal(t, before+1, after)
}

func TestRegisterEndpoint(t *testing.T) {
	e := echo.New()
	RegisterEndpoint(e)
	ClaimOutcomes.WithLabelValues("claimed").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dispatch_claim_outcomes_total")
}
