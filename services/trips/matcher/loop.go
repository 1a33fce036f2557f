package matcher

import (
	"sync"
	"time"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/services/trips/lifecycle"
)

type stopper interface {
	Stop() bool
}

// Loop reruns Rank whenever the driver's location or the open trip page
// changes and hands the fresh list to onChange. Every run is a full
// recomputation; consumers must not assume ordering carries over.
// A run is also scheduled for the earliest expiry among the open trips, so
// a trip that runs out its waiting window leaves the list without a write.
type Loop struct {
	mu        sync.Mutex
	location  models.Coordinate
	trips     []*models.Trip
	radiusKm  float64
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) stopper
	onChange  func([]models.Candidate)
	closed    bool

	expiry    stopper
	expirySeq int
}

// NewLoop creates a loop. now defaults to time.Now.
func NewLoop(radiusKm float64, now func() time.Time, onChange func([]models.Candidate)) *Loop {
	if now == nil {
		now = time.Now
	}
	return &Loop{
		radiusKm: radiusKm,
		now:      now,
		onChange: onChange,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// UpdateLocation records a new driver location; pass the zero Coordinate when unknown
func (l *Loop) UpdateLocation(loc models.Coordinate) {
	l.mu.Lock()
	l.location = loc
	l.emitLocked()
	l.mu.Unlock()
}

// UpdateTrips replaces the open trip page
func (l *Loop) UpdateTrips(trips []*models.Trip) {
	l.mu.Lock()
	l.trips = append(l.trips[:0:0], trips...)
	l.emitLocked()
	l.mu.Unlock()
}

// Current recomputes without notifying
func (l *Loop) Current() []models.Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Rank(l.location, l.trips, l.now(), l.radiusKm)
}

// Close stops further notifications. It returns after any in-flight callback.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.stopExpiryLocked()
	l.mu.Unlock()
}

func (l *Loop) emitLocked() {
	if l.closed || l.onChange == nil {
		return
	}
	now := l.now()
	l.onChange(Rank(l.location, l.trips, now, l.radiusKm))
	l.armExpiryLocked(now)
}

// armExpiryLocked schedules a rerun at the earliest expiry still ahead
func (l *Loop) armExpiryLocked(now time.Time) {
	l.stopExpiryLocked()

	var next time.Time
	for _, trip := range l.trips {
		if trip == nil || !lifecycle.IsClaimable(trip, now) || trip.ExpiresAt.IsZero() {
			continue
		}
		if next.IsZero() || trip.ExpiresAt.Before(next) {
			next = trip.ExpiresAt
		}
	}
	if next.IsZero() {
		return
	}

	seq := l.expirySeq
	l.expiry = l.afterFunc(next.Sub(now), func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed || l.expirySeq != seq {
			return
		}
		l.expiry = nil
		l.emitLocked()
	})
}

func (l *Loop) stopExpiryLocked() {
	if l.expiry != nil {
		l.expiry.Stop()
		l.expiry = nil
	}
	l.expirySeq++
}
