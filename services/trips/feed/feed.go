// Package feed fans committed trip writes out to live subscriptions.
//
// Every subscription is snapshot-then-diff: it gets the current result of its
// query when it opens and then only changes, deduplicated per trip by version.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/metrics"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/services/trips/lifecycle"
)

const queryTimeout = 5 * time.Second

// Source answers the queries subscriptions watch; the trips usecase satisfies it
type Source interface {
	GetTrip(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Trip, error)
	ActiveTrip(ctx context.Context, actor models.Actor) (*models.Trip, error)
	OpenTrips(ctx context.Context, actor models.Actor) ([]*models.Trip, error)
}

// Kind is what a subscription watches
type Kind string

const (
	KindTrip   Kind = "trip"
	KindActive Kind = "active"
	KindOpen   Kind = "open"
)

// Handler receives deliveries. Calls for one subscription never overlap.
// Handlers must not call Close on their own subscription. OnError is the
// last call: the subscription is already closed when it runs.
type Handler struct {
	OnSnapshot func(trips []*models.Trip)
	OnUpdate   func(trip *models.Trip)
	OnError    func(err error)
}

// Hub tracks open subscriptions
type Hub struct {
	source Source
	now    func() time.Time

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewHub creates a hub over source
func NewHub(source Source) *Hub {
	return &Hub{
		source: source,
		now:    time.Now,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Len returns the number of open subscriptions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// WatchTrip subscribes to a single trip the actor may read
func (h *Hub) WatchTrip(ctx context.Context, actor models.Actor, tripID uuid.UUID, handler Handler) (*Subscription, error) {
	return h.open(ctx, &Subscription{kind: KindTrip, actor: actor, tripID: tripID, handler: handler})
}

// WatchActive subscribes a rider to their active trip
func (h *Hub) WatchActive(ctx context.Context, actor models.Actor, handler Handler) (*Subscription, error) {
	if actor.Role != models.RoleRider {
		return nil, apperror.New(apperror.KindPermissionDenied, "feed.WatchActive", "only riders have an active trip")
	}
	return h.open(ctx, &Subscription{kind: KindActive, actor: actor, handler: handler})
}

// WatchOpen subscribes a driver to the page of open trips
func (h *Hub) WatchOpen(ctx context.Context, actor models.Actor, handler Handler) (*Subscription, error) {
	if actor.Role != models.RoleDriver {
		return nil, apperror.New(apperror.KindPermissionDenied, "feed.WatchOpen", "only drivers browse open trips")
	}
	return h.open(ctx, &Subscription{kind: KindOpen, actor: actor, handler: handler})
}

// open registers sub before the initial query so no write committed after
// the query can be missed; the version check drops anything the snapshot
// already covers.
func (h *Hub) open(ctx context.Context, sub *Subscription) (*Subscription, error) {
	sub.hub = h
	sub.seen = make(map[uuid.UUID]int64)

	sub.mu.Lock()
	defer sub.mu.Unlock()

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	result, err := sub.query(ctx)
	if err != nil {
		sub.closed = true
		h.remove(sub)
		return nil, err
	}

	metrics.FeedSubscriptions.Inc()
	sub.snapshot(result)
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Publish delivers a committed trip to every subscription it may concern
func (h *Hub) Publish(ctx context.Context, trip *models.Trip) {
	if trip == nil {
		return
	}

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.offer(ctx, trip)
	}
}

// Close ends every subscription
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Subscription is one live query
type Subscription struct {
	hub     *Hub
	kind    Kind
	actor   models.Actor
	tripID  uuid.UUID
	handler Handler

	mu      sync.Mutex
	closed  bool
	seen    map[uuid.UUID]int64
	current []uuid.UUID
}

// Kind returns what the subscription watches
func (s *Subscription) Kind() Kind {
	return s.kind
}

// Close stops deliveries. Once it returns no handler call is running or will start.
func (s *Subscription) Close() {
	s.mu.Lock()
	wasOpen := !s.closed
	s.closed = true
	s.mu.Unlock()

	if wasOpen {
		s.hub.remove(s)
		metrics.FeedSubscriptions.Dec()
	}
}

func (s *Subscription) query(ctx context.Context) ([]*models.Trip, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	switch s.kind {
	case KindTrip:
		trip, err := s.hub.source.GetTrip(ctx, s.actor, s.tripID)
		if err != nil {
			return nil, err
		}
		return []*models.Trip{trip}, nil
	case KindActive:
		trip, err := s.hub.source.ActiveTrip(ctx, s.actor)
		if err != nil {
			return nil, err
		}
		if trip == nil {
			return []*models.Trip{}, nil
		}
		return []*models.Trip{trip}, nil
	default:
		return s.hub.source.OpenTrips(ctx, s.actor)
	}
}

// relevant is a cheap prefilter so unrelated writes never trigger a query
func (s *Subscription) relevant(trip *models.Trip) bool {
	switch s.kind {
	case KindTrip:
		return trip.ID == s.tripID
	case KindActive:
		return trip.RiderID == s.actor.ID
	default:
		if trip.Status == models.TripStatusWaiting {
			return true
		}
		_, listed := s.seen[trip.ID]
		return listed
	}
}

func (s *Subscription) offer(ctx context.Context, trip *models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.relevant(trip) {
		return
	}
	if last, ok := s.seen[trip.ID]; ok && trip.Version <= last {
		return
	}

	if s.kind == KindTrip {
		now := s.hub.now()
		if !lifecycle.CanRead(trip, s.actor, now) {
			s.seen[trip.ID] = trip.Version
			s.fail(apperror.New(apperror.KindPermissionDenied, "feed.Publish", "trip %s is no longer visible", trip.ID))
			return
		}
		s.update(lifecycle.WithEffectiveStatus(trip, now))
		return
	}

	result, err := s.query(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "Feed re-query failed",
			logger.String("kind", string(s.kind)),
			logger.String("actor_id", s.actor.ID.String()),
			logger.Err(err))
		s.fail(err)
		return
	}

	// A rider's trip leaving the active query is still shown in its final state.
	if s.kind == KindActive && contains(s.current, trip.ID) && !containsTrip(result, trip.ID) {
		s.update(lifecycle.WithEffectiveStatus(trip, s.hub.now()))
	}
	s.diff(result)
}

// diff turns a fresh query result into an update when the same single
// document changed, or a snapshot when membership changed
func (s *Subscription) diff(result []*models.Trip) {
	if sameMembers(s.current, result) {
		for _, trip := range result {
			if last, ok := s.seen[trip.ID]; !ok || trip.Version > last {
				s.update(trip)
			}
		}
		return
	}
	s.snapshot(result)
}

func (s *Subscription) snapshot(result []*models.Trip) {
	s.current = s.current[:0]
	for _, trip := range result {
		s.current = append(s.current, trip.ID)
		s.seen[trip.ID] = trip.Version
	}
	if s.handler.OnSnapshot != nil {
		s.handler.OnSnapshot(clones(result))
	}
}

func (s *Subscription) update(trip *models.Trip) {
	s.seen[trip.ID] = trip.Version
	if s.handler.OnUpdate != nil {
		s.handler.OnUpdate(trip.Clone())
	}
}

// fail ends the subscription; callers hold s.mu
func (s *Subscription) fail(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.hub.remove(s)
	metrics.FeedSubscriptions.Dec()
	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
}

func sameMembers(ids []uuid.UUID, trips []*models.Trip) bool {
	if len(ids) != len(trips) {
		return false
	}
	for i, trip := range trips {
		if ids[i] != trip.ID {
			return false
		}
	}
	return true
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsTrip(trips []*models.Trip, id uuid.UUID) bool {
	for _, trip := range trips {
		if trip.ID == id {
			return true
		}
	}
	return false
}

func clones(trips []*models.Trip) []*models.Trip {
	out := make([]*models.Trip, len(trips))
	for i, trip := range trips {
		out[i] = trip.Clone()
	}
	return out
}
