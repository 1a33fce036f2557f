package dispatchclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/services/trips/matcher"
)

// CandidateWatch keeps a driver's ranked candidate list current on the device.
// It feeds the open trips feed and the driver's own emitted locations into a
// matcher loop, so it can be used as the tracker's sink.
type CandidateWatch struct {
	client *Client
	loop   *matcher.Loop

	mu    sync.Mutex
	trips map[uuid.UUID]*models.Trip
	order []uuid.UUID
	sub   Subscription
}

// WatchCandidates opens the open trips feed and reruns the matcher on every change.
// onChange receives each fresh list; onError receives the subscription failure.
func (c *Client) WatchCandidates(ctx context.Context, radiusKm float64, onChange func([]models.Candidate), onError func(error)) (*CandidateWatch, error) {
	if radiusKm <= 0 {
		radiusKm = matcher.DefaultRadiusKm
	}
	w := &CandidateWatch{
		client: c,
		loop:   matcher.NewLoop(radiusKm, nil, onChange),
		trips:  make(map[uuid.UUID]*models.Trip),
	}
	sub, err := c.WatchOpen(ctx, Handler{
		OnSnapshot: w.replace,
		OnUpdate:   w.update,
		OnError:    onError,
	})
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
	return w, nil
}

func (w *CandidateWatch) replace(trips []*models.Trip) {
	w.mu.Lock()
	w.trips = make(map[uuid.UUID]*models.Trip, len(trips))
	w.order = w.order[:0]
	for _, trip := range trips {
		w.trips[trip.ID] = trip
		w.order = append(w.order, trip.ID)
	}
	page := w.pageLocked()
	w.mu.Unlock()

	w.loop.UpdateTrips(page)
}

func (w *CandidateWatch) update(trip *models.Trip) {
	w.mu.Lock()
	prev, ok := w.trips[trip.ID]
	if !ok || prev.Version >= trip.Version {
		w.mu.Unlock()
		return
	}
	w.trips[trip.ID] = trip
	page := w.pageLocked()
	w.mu.Unlock()

	w.loop.UpdateTrips(page)
}

func (w *CandidateWatch) pageLocked() []*models.Trip {
	page := make([]*models.Trip, 0, len(w.order))
	for _, id := range w.order {
		page = append(page, w.trips[id])
	}
	return page
}

// PushLocation reranks with the new location and forwards it to the server
func (w *CandidateWatch) PushLocation(ctx context.Context, loc models.Location) error {
	w.loop.UpdateLocation(loc.Coordinate())
	return w.client.PushLocation(ctx, loc)
}

// Current returns the latest ranking without notifying
func (w *CandidateWatch) Current() []models.Candidate {
	return w.loop.Current()
}

// Close stops the feed subscription and the matcher loop
func (w *CandidateWatch) Close() {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	w.loop.Close()
}
