package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/converter"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/middleware"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
	"github.com/piresc/nebengjek-dispatch/services/trips"
)

// TripHandler handles HTTP requests for trip operations
type TripHandler struct {
	tripUC trips.TripUC
}

// NewTripHandler creates a new trip HTTP handler
func NewTripHandler(tripUC trips.TripUC) *TripHandler {
	return &TripHandler{
		tripUC: tripUC,
	}
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return utils.UnauthorizedResponse(c, "")
	}

	var req models.CreateTripRequest
	if err := c.Bind(&req); err != nil {
		return utils.BadRequestResponse(c, "Invalid request body")
	}
	if req.RiderDisplayName == "" {
		req.RiderDisplayName = middleware.ActorNameFromContext(c)
	}

	trip, err := h.tripUC.CreateTrip(c.Request().Context(), actor, req)
	if err != nil {
		return h.fail(c, err)
	}
	middleware.SetTripID(c, trip.ID.String())
	return utils.SuccessResponse(c, http.StatusCreated, "Trip created", trip)
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}

	trip, err := h.tripUC.GetTrip(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, http.StatusOK, "", trip)
}

// ActiveTrip handles GET /v1/trips/active. No active trip is a null payload, not a 404.
func (h *TripHandler) ActiveTrip(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return utils.UnauthorizedResponse(c, "")
	}

	trip, err := h.tripUC.ActiveTrip(c.Request().Context(), actor)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, utils.Response{Success: true, Data: trip})
}

// OpenTrips handles GET /v1/trips/open
func (h *TripHandler) OpenTrips(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return utils.UnauthorizedResponse(c, "")
	}

	open, err := h.tripUC.OpenTrips(c.Request().Context(), actor)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, http.StatusOK, "", open)
}

// Candidates handles GET /v1/trips/candidates
func (h *TripHandler) Candidates(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return utils.UnauthorizedResponse(c, "")
	}

	candidates, err := h.tripUC.Candidates(c.Request().Context(), actor)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, http.StatusOK, "", candidates)
}

// ClaimTrip handles POST /v1/trips/:id/claim
func (h *TripHandler) ClaimTrip(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}

	trip, err := h.tripUC.ClaimTrip(c.Request().Context(), actor, id)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, http.StatusOK, "Trip claimed", trip)
}

// AdvanceTrip handles POST /v1/trips/:id/advance
func (h *TripHandler) AdvanceTrip(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}

	var req models.AdvanceTripRequest
	if err := c.Bind(&req); err != nil || req.To == "" {
		return utils.BadRequestResponse(c, "Target status is required")
	}

	trip, err := h.tripUC.AdvanceTrip(c.Request().Context(), actor, id, req.To)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, http.StatusOK, "Trip updated", trip)
}

// CancelTrip handles POST /v1/trips/:id/cancel. The body is optional.
func (h *TripHandler) CancelTrip(c echo.Context) error {
	actor, id, err := h.actorAndID(c)
	if err != nil {
		return h.fail(c, err)
	}

	var req models.CancelTripRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return utils.BadRequestResponse(c, "Invalid request body")
		}
	}

	trip, err := h.tripUC.CancelTrip(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, http.StatusOK, "Trip cancelled", trip)
}

// UpdatePresence handles PUT /v1/drivers/location
func (h *TripHandler) UpdatePresence(c echo.Context) error {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return utils.UnauthorizedResponse(c, "")
	}

	var req models.PresenceUpdateRequest
	if err := c.Bind(&req); err != nil {
		return utils.BadRequestResponse(c, "Invalid request body")
	}

	presence, err := h.tripUC.UpdatePresence(c.Request().Context(), actor, req)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, http.StatusOK, "", presence)
}

func (h *TripHandler) actorAndID(c echo.Context) (models.Actor, uuid.UUID, error) {
	const op = "http.TripHandler"

	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		return models.Actor{}, uuid.Nil, apperror.New(apperror.KindPermissionDenied, op, "authentication required")
	}
	id, err := converter.ParseID("trip id", c.Param("id"))
	if err != nil {
		return actor, uuid.Nil, err
	}
	middleware.SetTripID(c, id.String())
	return actor, id, nil
}

func (h *TripHandler) fail(c echo.Context, err error) error {
	middleware.NoticeError(c, err)
	return utils.AppErrorResponse(c, err)
}
