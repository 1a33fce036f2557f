package handler

import (
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/middleware"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	natspkg "github.com/piresc/nebengjek-dispatch/internal/pkg/nats"
	wspkg "github.com/piresc/nebengjek-dispatch/internal/pkg/websocket"
	"github.com/piresc/nebengjek-dispatch/services/trips"
	"github.com/piresc/nebengjek-dispatch/services/trips/feed"
	httpHandler "github.com/piresc/nebengjek-dispatch/services/trips/handler/http"
	natsHandler "github.com/piresc/nebengjek-dispatch/services/trips/handler/nats"
	wsHandler "github.com/piresc/nebengjek-dispatch/services/trips/handler/websocket"
)

// Handler combines all handlers for the dispatch service
type Handler struct {
	tripHTTP *httpHandler.TripHandler
	feedWS   *wsHandler.FeedHandler
	tripNATS *natsHandler.TripHandler
	cfg      *models.Config
}

// NewHandler creates a new combined handler
func NewHandler(
	tripUC trips.TripUC,
	hub *feed.Hub,
	natsClient *natspkg.Client,
	cfg *models.Config,
) *Handler {
	return &Handler{
		tripHTTP: httpHandler.NewTripHandler(tripUC),
		feedWS:   wsHandler.NewFeedHandler(wspkg.NewManager(cfg.JWT), hub),
		tripNATS: natsHandler.NewTripHandler(hub, natsClient),
		cfg:      cfg,
	}
}

// RegisterRoutes registers all HTTP routes. A nil redis client disables claim rate limiting.
func (h *Handler) RegisterRoutes(e *echo.Echo, redisClient *redis.Client) {
	// The websocket authenticates its own upgrade
	e.GET("/v1/ws", h.feedWS.HandleFeed)

	v1 := e.Group("/v1", middleware.JWTAuthMiddleware(h.cfg.JWT))

	rider := middleware.RequireRole(models.RoleRider)
	driver := middleware.RequireRole(models.RoleDriver)
	claimLimit := middleware.ActorRateLimiter("claim", h.cfg.Dispatch.ClaimRateLimit, h.cfg.Dispatch.ClaimRatePeriod, redisClient)

	tripGroup := v1.Group("/trips")
	tripGroup.POST("", h.tripHTTP.CreateTrip, rider)
	tripGroup.GET("/active", h.tripHTTP.ActiveTrip, rider)
	tripGroup.GET("/open", h.tripHTTP.OpenTrips, driver)
	tripGroup.GET("/candidates", h.tripHTTP.Candidates, driver)
	tripGroup.GET("/:id", h.tripHTTP.GetTrip)
	tripGroup.POST("/:id/claim", h.tripHTTP.ClaimTrip, driver, claimLimit)
	tripGroup.POST("/:id/advance", h.tripHTTP.AdvanceTrip, driver)
	tripGroup.POST("/:id/cancel", h.tripHTTP.CancelTrip)

	v1.PUT("/drivers/location", h.tripHTTP.UpdatePresence, driver)
}

// InitNATSConsumers initializes all NATS consumers
func (h *Handler) InitNATSConsumers() error {
	return h.tripNATS.InitNATSConsumers()
}

// Close stops the NATS consumers
func (h *Handler) Close() {
	h.tripNATS.Close()
}
