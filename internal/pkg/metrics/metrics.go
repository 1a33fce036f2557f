package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dispatch"

var (
	TripsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "trips_created_total", Help: "Trip requests created",
	})
	ClaimOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "claim_outcomes_total", Help: "Claim attempts by outcome",
	}, []string{"outcome"})
	ClaimLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "claim_latency_seconds", Help: "Conditional claim latency",
		Buckets: prometheus.DefBuckets,
	})
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "trip_transitions_total", Help: "Committed lifecycle transitions",
	}, []string{"from", "to"})
	TripsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "trips_expired_total", Help: "Waiting trips converged to expired by housekeeping",
	})
	CandidatesReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "candidates_returned", Help: "Candidates per proximity query",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})
	FeedSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "feed_subscriptions", Help: "Open trip feed subscriptions",
	})
	PresenceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "presence_updates_total", Help: "Driver presence updates accepted",
	})
	GeocodeLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "geocode_lookups_total", Help: "Geocode lookups by result",
	}, []string{"result"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency distribution",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// EchoMiddleware records request counts and latency labelled by route template
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := prometheus.Labels{
				"method": c.Request().Method,
				"path":   path,
				"status": strconv.Itoa(status),
			}
			HTTPRequestsTotal.With(labels).Inc()
			HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RegisterEndpoint exposes the default registry at /metrics
func RegisterEndpoint(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
