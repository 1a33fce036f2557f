package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/metrics"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/validation"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
	"github.com/piresc/nebengjek-dispatch/services/trips"
	"github.com/piresc/nebengjek-dispatch/services/trips/geocode"
	"github.com/piresc/nebengjek-dispatch/services/trips/lifecycle"
	"github.com/piresc/nebengjek-dispatch/services/trips/matcher"
)

const (
	defaultWaitingWindow    = 15 * time.Minute
	defaultActiveTripWindow = 30 * time.Minute
	defaultOpenPageSize     = 50
	defaultNearbyLimit      = 20
	expireBatchSize         = 100

	// updateAttempts bounds re-reads after a lost version race
	updateAttempts = 2
)

// Claimer performs the conditional claim write
type Claimer interface {
	Claim(ctx context.Context, actor models.Actor, tripID uuid.UUID) (*models.Trip, error)
}

// tripUC implements the trips.TripUC interface
type tripUC struct {
	cfg      *models.Config
	repo     trips.TripRepo
	presence trips.PresenceRepo
	gateway  trips.TripGW
	claimer  Claimer
	geocoder geocode.Geocoder
	now      func() time.Time
}

// NewTripUC creates a new trip use case. A nil geocoder leaves labels unresolved.
func NewTripUC(
	cfg *models.Config,
	repo trips.TripRepo,
	presence trips.PresenceRepo,
	gw trips.TripGW,
	claimer Claimer,
	geocoder geocode.Geocoder,
) (trips.TripUC, error) {
	if cfg == nil || repo == nil || presence == nil || gw == nil || claimer == nil {
		return nil, fmt.Errorf("trip usecase: missing dependency")
	}
	if geocoder == nil {
		geocoder = geocode.Nop{}
	}
	return &tripUC{
		cfg:      cfg,
		repo:     repo,
		presence: presence,
		gateway:  gw,
		claimer:  claimer,
		geocoder: geocoder,
		now:      time.Now,
	}, nil
}

// CreateTrip posts a rider's trip request in waiting
func (uc *tripUC) CreateTrip(ctx context.Context, actor models.Actor, req models.CreateTripRequest) (*models.Trip, error) {
	const op = "usecase.CreateTrip"

	if actor.Role != models.RoleRider {
		return nil, apperror.New(apperror.KindPermissionDenied, op, "only riders may request trips")
	}
	if err := validation.Struct(op, req); err != nil {
		return nil, err
	}

	pickup := uc.resolvePlace(ctx, req.Pickup, models.Coordinate{})
	destination := uc.resolvePlace(ctx, req.Destination, pickup.Coordinate)

	now := uc.now().UTC()
	trip := &models.Trip{
		ID:               uuid.New(),
		RiderID:          actor.ID,
		RiderDisplayName: utils.SanitizeString(req.RiderDisplayName),
		Pickup:           pickup,
		Destination:      destination,
		Status:           models.TripStatusWaiting,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(uc.waitingWindow()),
		Version:          1,
	}

	if err := uc.repo.CreateTrip(ctx, trip); err != nil {
		logger.ErrorCtx(ctx, "Failed to create trip",
			logger.String("rider_id", actor.ID.String()),
			logger.Err(err))
		return nil, fmt.Errorf("failed to create trip: %w", err)
	}
	metrics.TripsCreated.Inc()

	nearby := uc.countNearby(ctx, trip.Pickup.Coordinate)
	logger.InfoCtx(ctx, "Trip created",
		logger.String("trip_id", trip.ID.String()),
		logger.String("rider_id", actor.ID.String()),
		logger.Int("nearby_drivers", nearby))

	uc.publish(ctx, constants.EventTripCreated, trip, "", actor)
	return trip, nil
}

// resolvePlace keeps submitted coordinates, otherwise geocodes the label near
// ref. A failed lookup leaves the coordinate unknown.
func (uc *tripUC) resolvePlace(ctx context.Context, req models.PlaceRequest, ref models.Coordinate) models.Place {
	place := models.Place{Label: strings.TrimSpace(req.Label)}
	if req.Latitude != nil && req.Longitude != nil {
		place.Coordinate = models.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
		return place
	}
	if place.Label == "" {
		return place
	}

	coord, err := uc.geocoder.Geocode(ctx, place.Label, ref)
	if err != nil {
		if !apperror.IsKind(err, apperror.KindNotFound) {
			logger.WarnCtx(ctx, "Geocoding failed, keeping place without coordinate",
				logger.String("label", place.Label),
				logger.Err(err))
		}
		return place
	}
	place.Coordinate = coord
	return place
}

func (uc *tripUC) countNearby(ctx context.Context, pickup models.Coordinate) int {
	if utils.IsUnknownLocation(pickup) {
		return 0
	}
	limit := uc.cfg.Dispatch.NearbyDriverLimit
	if limit <= 0 {
		limit = defaultNearbyLimit
	}
	n, err := uc.presence.CountNearby(ctx, pickup, uc.radiusKm(), limit)
	if err != nil {
		logger.WarnCtx(ctx, "Failed to count nearby drivers", logger.Err(err))
		return 0
	}
	return n
}

// GetTrip reads a trip with its effective status
func (uc *tripUC) GetTrip(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Trip, error) {
	const op = "usecase.GetTrip"

	trip, err := uc.repo.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}
	now := uc.now()
	if !lifecycle.CanRead(trip, actor, now) {
		return nil, apperror.New(apperror.KindPermissionDenied, op, "trip %s is not visible to this actor", id)
	}
	return lifecycle.WithEffectiveStatus(trip, now), nil
}

// ActiveTrip returns the rider's latest non-terminal trip inside the active
// window, or nil when there is none
func (uc *tripUC) ActiveTrip(ctx context.Context, actor models.Actor) (*models.Trip, error) {
	const op = "usecase.ActiveTrip"

	if actor.Role != models.RoleRider {
		return nil, apperror.New(apperror.KindPermissionDenied, op, "only riders have an active trip")
	}

	window := uc.cfg.Dispatch.ActiveTripWindow
	if window <= 0 {
		window = defaultActiveTripWindow
	}
	now := uc.now()
	trip, err := uc.repo.GetActiveTrip(ctx, actor.ID, now.Add(-window).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get active trip: %w", err)
	}
	if trip == nil || lifecycle.EffectiveStatus(trip, now) == models.TripStatusExpired {
		return nil, nil
	}
	return trip, nil
}

// OpenTrips returns a bounded page of trips that are still waiting by the clock
func (uc *tripUC) OpenTrips(ctx context.Context, actor models.Actor) ([]*models.Trip, error) {
	const op = "usecase.OpenTrips"

	if actor.Role != models.RoleDriver {
		return nil, apperror.New(apperror.KindPermissionDenied, op, "only drivers browse open trips")
	}

	page, err := uc.repo.ListWaiting(ctx, uc.openPageSize())
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting trips: %w", err)
	}

	now := uc.now()
	open := make([]*models.Trip, 0, len(page))
	for _, trip := range page {
		if lifecycle.IsClaimable(trip, now) {
			open = append(open, trip)
		}
	}
	return open, nil
}

// Candidates ranks open trips around the driver's last known presence. A
// driver without presence gets every open trip unranked.
func (uc *tripUC) Candidates(ctx context.Context, actor models.Actor) ([]models.Candidate, error) {
	open, err := uc.OpenTrips(ctx, actor)
	if err != nil {
		return nil, err
	}

	var loc models.Coordinate
	presence, err := uc.presence.GetPresence(ctx, actor.ID)
	if err != nil {
		logger.WarnCtx(ctx, "Presence lookup failed, ranking without location",
			logger.String("driver_id", actor.ID.String()),
			logger.Err(err))
	} else if presence != nil {
		loc = presence.Location.Coordinate()
	}

	candidates := matcher.Rank(loc, open, uc.now(), uc.radiusKm())
	metrics.CandidatesReturned.Observe(float64(len(candidates)))
	return candidates, nil
}

// ClaimTrip assigns the trip to the calling driver
func (uc *tripUC) ClaimTrip(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Trip, error) {
	trip, err := uc.claimer.Claim(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues(string(models.TripStatusWaiting), string(models.TripStatusClaimed)).Inc()
	uc.publish(ctx, constants.EventTripClaimed, trip, models.TripStatusWaiting, actor)
	return trip, nil
}

// AdvanceTrip moves an assigned trip one step forward
func (uc *tripUC) AdvanceTrip(ctx context.Context, actor models.Actor, id uuid.UUID, to models.TripStatus) (*models.Trip, error) {
	const op = "usecase.AdvanceTrip"

	switch to {
	case models.TripStatusClaimed:
		return nil, apperror.New(apperror.KindValidation, op, "trips are claimed through the claim operation")
	case models.TripStatusCancelled:
		return nil, apperror.New(apperror.KindValidation, op, "trips are cancelled through the cancel operation")
	case models.TripStatusExpired:
		return nil, apperror.New(apperror.KindPermissionDenied, op, "only housekeeping may expire trips")
	}
	return uc.transition(ctx, op, constants.EventTripTransitioned, id, lifecycle.Change{To: to, Actor: actor})
}

// CancelTrip cancels a trip on behalf of its rider or assigned driver
func (uc *tripUC) CancelTrip(ctx context.Context, actor models.Actor, id uuid.UUID, reason string) (*models.Trip, error) {
	const op = "usecase.CancelTrip"

	if err := validation.Struct(op, models.CancelTripRequest{Reason: reason}); err != nil {
		return nil, err
	}
	ch := lifecycle.Change{To: models.TripStatusCancelled, Actor: actor, Reason: utils.SanitizeString(reason)}
	return uc.transition(ctx, op, constants.EventTripCancelled, id, ch)
}

// transition authorizes and applies ch as a version-conditional write. A lost
// race re-reads the trip and authorizes again against the newer state.
func (uc *tripUC) transition(ctx context.Context, op, eventType string, id uuid.UUID, ch lifecycle.Change) (*models.Trip, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		trip, err := uc.repo.GetTrip(ctx, id)
		if err != nil {
			return nil, err
		}

		now := uc.now()
		if err := lifecycle.Authorize(trip, ch.Actor, ch.To, now); err != nil {
			return nil, err
		}

		ch.At = now
		from := lifecycle.EffectiveStatus(trip, now)
		next := lifecycle.Apply(trip, ch)

		ok, err := uc.repo.UpdateTrip(ctx, next, trip.Version)
		if err != nil {
			logger.ErrorCtx(ctx, "Failed to update trip",
				logger.String("trip_id", id.String()),
				logger.String("to", string(ch.To)),
				logger.Err(err))
			return nil, fmt.Errorf("failed to update trip: %w", err)
		}
		if !ok {
			logger.WarnCtx(ctx, "Trip changed concurrently, re-reading",
				logger.String("trip_id", id.String()),
				logger.Int64("expected_version", trip.Version))
			continue
		}

		metrics.Transitions.WithLabelValues(string(from), string(ch.To)).Inc()
		logger.InfoCtx(ctx, "Trip transitioned",
			logger.String("trip_id", id.String()),
			logger.String("from", string(from)),
			logger.String("to", string(ch.To)),
			logger.String("actor_role", string(ch.Actor.Role)))

		uc.publish(ctx, eventType, next, from, ch.Actor)
		return next, nil
	}
	return nil, apperror.New(apperror.KindAlreadyTaken, op, "trip %s keeps changing, try again", id)
}

// UpdatePresence stores the driver's last known position
func (uc *tripUC) UpdatePresence(ctx context.Context, actor models.Actor, req models.PresenceUpdateRequest) (*models.DriverPresence, error) {
	const op = "usecase.UpdatePresence"

	if actor.Role != models.RoleDriver {
		return nil, apperror.New(apperror.KindPermissionDenied, op, "only drivers report presence")
	}
	if err := validation.Struct(op, req); err != nil {
		return nil, err
	}

	recordedAt := uc.now().UTC()
	if req.RecordedAt != nil && !req.RecordedAt.IsZero() {
		recordedAt = req.RecordedAt.UTC()
	}
	available := true
	if req.Available != nil {
		available = *req.Available
	}

	presence := models.DriverPresence{
		DriverID: actor.ID,
		Location: models.Location{
			Latitude:   req.Latitude,
			Longitude:  req.Longitude,
			AccuracyM:  req.AccuracyM,
			RecordedAt: recordedAt,
		},
		Available: available,
	}

	if err := uc.presence.SavePresence(ctx, presence, uc.cfg.Dispatch.PresenceTTL); err != nil {
		return nil, apperror.Wrap(apperror.KindUnavailable, op, err)
	}
	metrics.PresenceUpdates.Inc()

	if err := uc.gateway.PublishDriverLocation(ctx, presence); err != nil {
		logger.WarnCtx(ctx, "Failed to publish driver location",
			logger.String("driver_id", actor.ID.String()),
			logger.Err(err))
	}
	return &presence, nil
}

// ExpireStale persists expired for waiting trips past their window and
// publishes each one. It returns how many trips were expired.
func (uc *tripUC) ExpireStale(ctx context.Context) (int, error) {
	system := models.Actor{Role: models.RoleSystem}
	total := 0

	for {
		expired, err := uc.repo.ExpireStale(ctx, uc.now().UTC(), expireBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to expire stale trips: %w", err)
		}
		for _, trip := range expired {
			metrics.TripsExpired.Inc()
			metrics.Transitions.WithLabelValues(string(models.TripStatusWaiting), string(models.TripStatusExpired)).Inc()
			uc.publish(ctx, constants.EventTripExpired, trip, models.TripStatusWaiting, system)
		}
		total += len(expired)

		if len(expired) < expireBatchSize || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		logger.InfoCtx(ctx, "Expired stale trips", logger.Int("count", total))
	}
	return total, nil
}

// publish puts a committed write on the change bus. The write already
// happened, so a bus failure is logged and not returned; subscribers
// resync on their next snapshot.
func (uc *tripUC) publish(ctx context.Context, eventType string, trip *models.Trip, from models.TripStatus, actor models.Actor) {
	event := models.TripEvent{
		Type:       eventType,
		Trip:       trip,
		From:       from,
		Actor:      actor,
		OccurredAt: uc.now().UTC(),
	}
	if err := uc.gateway.PublishTripUpdated(ctx, event); err != nil {
		logger.ErrorCtx(ctx, "Failed to publish trip event",
			logger.String("trip_id", trip.ID.String()),
			logger.String("type", eventType),
			logger.Err(err))
	}
}

func (uc *tripUC) waitingWindow() time.Duration {
	if uc.cfg.Dispatch.WaitingWindow > 0 {
		return uc.cfg.Dispatch.WaitingWindow
	}
	return defaultWaitingWindow
}

func (uc *tripUC) radiusKm() float64 {
	if uc.cfg.Dispatch.SearchRadiusKm > 0 {
		return uc.cfg.Dispatch.SearchRadiusKm
	}
	return matcher.DefaultRadiusKm
}

func (uc *tripUC) openPageSize() int {
	if uc.cfg.Dispatch.OpenPageSize > 0 {
		return uc.cfg.Dispatch.OpenPageSize
	}
	return defaultOpenPageSize
}
