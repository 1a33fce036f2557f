// Package claim resolves the race between drivers claiming the same trip.
package claim

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/metrics"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/services/trips"
)

// DefaultTimeout bounds a claim attempt end to end
const DefaultTimeout = 5 * time.Second

// Outcome is the typed result of a claim attempt
type Outcome string

const (
	OutcomeClaimed          Outcome = "claimed"
	OutcomeAlreadyTaken     Outcome = "already_taken"
	OutcomePermissionDenied Outcome = "permission_denied"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeNetworkError     Outcome = "network_error"
)

// OutcomeOf maps the error returned by Claim onto an outcome
func OutcomeOf(err error) Outcome {
	switch apperror.KindOf(err) {
	case "":
		return OutcomeClaimed
	case apperror.KindAlreadyTaken:
		return OutcomeAlreadyTaken
	case apperror.KindPermissionDenied:
		return OutcomePermissionDenied
	case apperror.KindNotFound:
		return OutcomeNotFound
	}
	return OutcomeNetworkError
}

// Snapshotter provides the driver display info stamped onto a claimed trip
type Snapshotter interface {
	Snapshot(ctx context.Context, driverID uuid.UUID) models.DriverSnapshot
}

// Resolver performs claims as a single conditional write
type Resolver struct {
	repo    trips.TripRepo
	drivers Snapshotter
	timeout time.Duration
	now     func() time.Time
}

// NewResolver creates a resolver. A non-positive timeout uses DefaultTimeout.
func NewResolver(repo trips.TripRepo, drivers Snapshotter, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{repo: repo, drivers: drivers, timeout: timeout, now: time.Now}
}

// WithClock overrides the clock used for the expiry precondition
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Claim assigns tripID to the calling driver. Exactly one concurrent caller wins;
// the rest get already_taken, which callers must not retry.
func (r *Resolver) Claim(ctx context.Context, actor models.Actor, tripID uuid.UUID) (*models.Trip, error) {
	start := time.Now()
	trip, err := r.claim(ctx, actor, tripID)

	outcome := OutcomeOf(err)
	metrics.ClaimOutcomes.WithLabelValues(string(outcome)).Inc()
	metrics.ClaimLatency.Observe(time.Since(start).Seconds())

	logger.InfoCtx(ctx, "Claim resolved",
		logger.String("trip_id", tripID.String()),
		logger.String("driver_id", actor.ID.String()),
		logger.String("outcome", string(outcome)),
		logger.Duration("latency", time.Since(start)))

	return trip, err
}

func (r *Resolver) claim(ctx context.Context, actor models.Actor, tripID uuid.UUID) (*models.Trip, error) {
	const op = "claim.Claim"

	if actor.Role != models.RoleDriver {
		return nil, apperror.New(apperror.KindPermissionDenied, op, "only drivers may claim trips")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snapshot := r.drivers.Snapshot(ctx, actor.ID)

	trip, err := r.repo.ClaimTrip(ctx, tripID, actor.ID, snapshot, r.now().UTC())
	if err != nil {
		return nil, transportError(op, err)
	}
	if trip != nil {
		return trip, nil
	}

	// Zero rows: tell a missing trip apart from a lost race.
	if _, err := r.repo.GetTrip(ctx, tripID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.New(apperror.KindNotFound, op, "trip %s not found", tripID)
		}
		return nil, transportError(op, err)
	}
	return nil, apperror.New(apperror.KindAlreadyTaken, op, "trip %s is no longer available", tripID)
}

func transportError(op string, err error) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	return apperror.Wrap(apperror.KindNetworkError, op, err)
}
