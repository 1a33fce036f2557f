package lifesync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/services/trips/lifecycle"
)

// DefaultPresentationDelay is how long driver_found is shown before driver_coming
const DefaultPresentationDelay = 4 * time.Second

// Phase is what the rider app presents
type Phase string

const (
	// PhaseNone means the rider has no active trip
	PhaseNone         Phase = "none"
	PhaseSearching    Phase = "searching"
	PhaseDriverFound  Phase = "driver_found"
	PhaseDriverComing Phase = "driver_coming"
	PhaseArrived      Phase = "arrived"
	// PhaseEnded covers completed, cancelled and expired trips
	PhaseEnded Phase = "ended"
)

// PhaseFor maps an authoritative status to the phase presented for it
func PhaseFor(s models.TripStatus) Phase {
	switch s {
	case models.TripStatusWaiting:
		return PhaseSearching
	case models.TripStatusClaimed:
		return PhaseDriverFound
	case models.TripStatusEnRouteToPickup:
		return PhaseDriverComing
	case models.TripStatusAtPickup, models.TripStatusInProgress:
		return PhaseArrived
	case "":
		return PhaseNone
	default:
		return PhaseEnded
	}
}

// RiderState is the rider's synchronized view
type RiderState struct {
	// Trip is the last known trip, kept while stale
	Trip *models.Trip
	// Status is the authoritative effective status; the presentation timer never changes it
	Status models.TripStatus
	Phase  Phase
	Stale  bool
	Err    error
}

// Rider follows the rider's active trip
type Rider struct {
	feed     ActiveFeed
	opts     options
	onChange func(RiderState)
	w        *watcher

	// guarded by w.mu
	state     RiderState
	timer     stopper
	timerSeq  int
	expiry    stopper
	expirySeq int
}

// NewRider creates a rider synchronizer. onChange is called with every new
// state and must not call back into the synchronizer.
func NewRider(feed ActiveFeed, onChange func(RiderState), opts ...Option) (*Rider, error) {
	if feed == nil {
		return nil, errors.New("lifesync: feed is required")
	}
	r := &Rider{
		feed:     feed,
		opts:     buildOptions(opts),
		onChange: onChange,
		state:    RiderState{Phase: PhaseNone},
	}
	r.w = newWatcher("rider", feed.WatchActive)
	return r, nil
}

// Start opens the active trip subscription. The current state is evaluated
// from the snapshot before any change is applied.
func (r *Rider) Start(ctx context.Context) error {
	return r.w.subscribe(ctx, callbacks{
		snapshot: r.onSnapshot,
		update:   r.observe,
		fail:     r.onFail,
	})
}

// Reconnect resubscribes after a failure, keeping the last known trip until
// the new snapshot arrives
func (r *Rider) Reconnect(ctx context.Context) error {
	return r.Start(ctx)
}

// State returns the current view, with a waiting trip past its window
// reported as expired
func (r *Rider) State() RiderState {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	st := r.state
	if st.Trip != nil && st.Status == models.TripStatusWaiting {
		if status := lifecycle.EffectiveStatus(st.Trip, r.opts.now()); status != st.Status {
			st.Status = status
			st.Phase = PhaseFor(status)
		}
	}
	return st
}

// Close stops the subscription and the presentation timer. No callback runs after it returns.
func (r *Rider) Close() {
	r.w.close()
	r.w.mu.Lock()
	r.stopTimerLocked()
	r.stopExpiryLocked()
	r.w.mu.Unlock()
}

func (r *Rider) onSnapshot(trips []*models.Trip) {
	if len(trips) == 0 {
		r.stopTimerLocked()
		r.stopExpiryLocked()
		r.state = RiderState{Phase: PhaseNone}
		r.notifyLocked()
		return
	}
	// the active query yields at most one trip
	trip := trips[0]
	if !r.w.freshLocked(trip) {
		if r.state.Stale {
			r.state.Stale = false
			r.state.Err = nil
			r.notifyLocked()
		}
		return
	}
	r.applyLocked(trip)
}

func (r *Rider) observe(trip *models.Trip) {
	if !r.w.freshLocked(trip) {
		return
	}
	r.applyLocked(trip)
}

func (r *Rider) applyLocked(trip *models.Trip) {
	status := lifecycle.EffectiveStatus(trip, r.opts.now())
	phase := PhaseFor(status)

	sameTrip := r.state.Trip != nil && r.state.Trip.ID == trip.ID
	switch {
	case phase == PhaseDriverFound && sameTrip && r.state.Phase == PhaseDriverComing:
		// presentation already advanced for this claim
		phase = PhaseDriverComing
	case phase == PhaseDriverFound:
		if !(sameTrip && r.state.Phase == PhaseDriverFound) {
			r.startTimerLocked(trip.ID)
		}
	default:
		r.stopTimerLocked()
	}

	r.state = RiderState{Trip: trip.Clone(), Status: status, Phase: phase}
	r.armExpiryLocked()
	r.notifyLocked()
}

func (r *Rider) onFail(err error) {
	r.state.Stale = true
	r.state.Err = err
	r.notifyLocked()
}

func (r *Rider) startTimerLocked(tripID uuid.UUID) {
	r.stopTimerLocked()
	seq := r.timerSeq
	r.timer = r.opts.afterFunc(r.opts.presentationDelay, func() {
		r.w.mu.Lock()
		defer r.w.mu.Unlock()
		if r.w.closed || r.timerSeq != seq {
			return
		}
		r.timer = nil
		if r.state.Trip == nil || r.state.Trip.ID != tripID || r.state.Phase != PhaseDriverFound {
			return
		}
		r.state.Phase = PhaseDriverComing
		r.notifyLocked()
	})
}

func (r *Rider) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	// a callback that already fired sees a newer sequence and does nothing
	r.timerSeq++
}

// armExpiryLocked schedules the switch to expired for a waiting trip, so the
// rider sees it end even when no write ever reports it
func (r *Rider) armExpiryLocked() {
	r.stopExpiryLocked()
	trip := r.state.Trip
	if trip == nil || r.state.Status != models.TripStatusWaiting || trip.ExpiresAt.IsZero() {
		return
	}

	seq := r.expirySeq
	r.expiry = r.opts.afterFunc(trip.ExpiresAt.Sub(r.opts.now()), func() {
		r.w.mu.Lock()
		defer r.w.mu.Unlock()
		if r.w.closed || r.expirySeq != seq {
			return
		}
		r.expiry = nil
		if r.state.Trip == nil || r.state.Trip.ID != trip.ID {
			return
		}
		status := lifecycle.EffectiveStatus(r.state.Trip, r.opts.now())
		if status == r.state.Status {
			// the clock is behind the timer
			r.armExpiryLocked()
			return
		}
		r.state.Status = status
		r.state.Phase = PhaseFor(status)
		r.notifyLocked()
	})
}

func (r *Rider) stopExpiryLocked() {
	if r.expiry != nil {
		r.expiry.Stop()
		r.expiry = nil
	}
	r.expirySeq++
}

func (r *Rider) notifyLocked() {
	if r.onChange != nil {
		r.onChange(r.state)
	}
}
