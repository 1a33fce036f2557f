package lifesync

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/sdk/dispatchclient"
	"github.com/piresc/nebengjek-dispatch/services/trips/lifecycle"
)

// DriverState is the driver's synchronized view of one trip
type DriverState struct {
	Trip   *models.Trip
	Status models.TripStatus
	// Action is the single forward step the driver may take next
	Action lifecycle.DriverAction
	// Target is the status Action moves to
	Target    models.TripStatus
	CanCancel bool
	Stale     bool
	Err       error
}

// Driver follows one trip the driver is assigned to
type Driver struct {
	tripID   uuid.UUID
	driverID uuid.UUID
	opts     options
	onChange func(DriverState)
	w        *watcher

	// guarded by w.mu
	state DriverState
}

// NewDriver creates a driver synchronizer for tripID. onChange must not call
// back into the synchronizer.
func NewDriver(feed TripFeed, driverID, tripID uuid.UUID, onChange func(DriverState), opts ...Option) (*Driver, error) {
	if feed == nil {
		return nil, errors.New("lifesync: feed is required")
	}
	if tripID == uuid.Nil {
		return nil, errors.New("lifesync: trip id is required")
	}
	d := &Driver{
		tripID:   tripID,
		driverID: driverID,
		opts:     buildOptions(opts),
		onChange: onChange,
		state:    DriverState{Action: lifecycle.ActionNone},
	}
	d.w = newWatcher("driver", func(ctx context.Context, h dispatchclient.Handler) (dispatchclient.Subscription, error) {
		return feed.WatchTrip(ctx, tripID, h)
	})
	return d, nil
}

// Start opens the trip subscription
func (d *Driver) Start(ctx context.Context) error {
	return d.w.subscribe(ctx, callbacks{
		snapshot: d.onSnapshot,
		update:   d.observe,
		fail:     d.onFail,
	})
}

// Reconnect resubscribes after a failure
func (d *Driver) Reconnect(ctx context.Context) error {
	return d.Start(ctx)
}

// State returns the current view
func (d *Driver) State() DriverState {
	d.w.mu.Lock()
	defer d.w.mu.Unlock()
	return d.state
}

// Close stops the subscription. No callback runs after it returns.
func (d *Driver) Close() {
	d.w.close()
}

func (d *Driver) onSnapshot(trips []*models.Trip) {
	for _, trip := range trips {
		if trip.ID != d.tripID {
			continue
		}
		if !d.w.freshLocked(trip) {
			if d.state.Stale {
				d.state.Stale = false
				d.state.Err = nil
				d.notifyLocked()
			}
			return
		}
		d.applyLocked(trip)
		return
	}
}

func (d *Driver) observe(trip *models.Trip) {
	if trip.ID != d.tripID || !d.w.freshLocked(trip) {
		return
	}
	d.applyLocked(trip)
}

func (d *Driver) applyLocked(trip *models.Trip) {
	status := lifecycle.EffectiveStatus(trip, d.opts.now())
	state := DriverState{Trip: trip.Clone(), Status: status, Action: lifecycle.ActionNone}
	// a trip reassigned away from this driver offers nothing
	if d.driverID == uuid.Nil || trip.IsAssignedTo(d.driverID) {
		state.Action, state.Target = lifecycle.NextDriverAction(status)
		state.CanCancel = lifecycle.CancelOffered(status)
	}
	d.state = state
	d.notifyLocked()
}

func (d *Driver) onFail(err error) {
	d.state.Stale = true
	d.state.Err = err
	d.notifyLocked()
}

func (d *Driver) notifyLocked() {
	if d.onChange != nil {
		d.onChange(d.state)
	}
}
