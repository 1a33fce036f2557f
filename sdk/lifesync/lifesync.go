// Package lifesync mirrors the authoritative trip status onto what the rider
// and driver apps present.
package lifesync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/sdk/dispatchclient"
)

// ActiveFeed opens the rider's active trip subscription
type ActiveFeed interface {
	WatchActive(ctx context.Context, h dispatchclient.Handler) (dispatchclient.Subscription, error)
}

// TripFeed opens a single trip subscription
type TripFeed interface {
	WatchTrip(ctx context.Context, id uuid.UUID, h dispatchclient.Handler) (dispatchclient.Subscription, error)
}

// Option configures a synchronizer
type Option func(*options)

type options struct {
	presentationDelay time.Duration
	now               func() time.Time
	afterFunc         func(d time.Duration, f func()) stopper
}

type stopper interface {
	Stop() bool
}

// WithPresentationDelay overrides DefaultPresentationDelay
func WithPresentationDelay(d time.Duration) Option {
	return func(o *options) {
		o.presentationDelay = d
	}
}

// WithClock overrides time.Now for expiry evaluation
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		presentationDelay: DefaultPresentationDelay,
		now:               time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// watcher owns one feed subscription and its (id, version) dedup state.
// Callbacks run under mu; after Close none of them reach the owner.
type watcher struct {
	name string
	open func(ctx context.Context, h dispatchclient.Handler) (dispatchclient.Subscription, error)

	mu     sync.Mutex
	sub    dispatchclient.Subscription
	gen    int
	closed bool
	seen   map[uuid.UUID]int64
}

func newWatcher(name string, open func(ctx context.Context, h dispatchclient.Handler) (dispatchclient.Subscription, error)) *watcher {
	return &watcher{name: name, open: open, seen: make(map[uuid.UUID]int64)}
}

// fresh reports whether trip carries a version not yet observed and records it
func (w *watcher) freshLocked(trip *models.Trip) bool {
	if v, ok := w.seen[trip.ID]; ok && v >= trip.Version {
		return false
	}
	w.seen[trip.ID] = trip.Version
	return true
}

type callbacks struct {
	snapshot func([]*models.Trip)
	update   func(*models.Trip)
	fail     func(error)
}

// subscribe replaces the current subscription. Events from older
// subscriptions are dropped by generation.
func (w *watcher) subscribe(ctx context.Context, cb callbacks) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.gen++
	gen := w.gen
	old := w.sub
	w.sub = nil
	w.mu.Unlock()

	if old != nil {
		old.Close()
	}

	guard := func(fn func()) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed || w.gen != gen {
			return
		}
		fn()
	}
	sub, err := w.open(ctx, dispatchclient.Handler{
		OnSnapshot: func(trips []*models.Trip) { guard(func() { cb.snapshot(trips) }) },
		OnUpdate:   func(trip *models.Trip) { guard(func() { cb.update(trip) }) },
		OnError:    func(err error) { guard(func() { cb.fail(err) }) },
	})
	if err != nil {
		logger.Warn("Trip subscription failed", logger.String("watcher", w.name), logger.Err(err))
		guard(func() { cb.fail(err) })
		return err
	}

	w.mu.Lock()
	if w.closed || w.gen != gen {
		w.mu.Unlock()
		sub.Close()
		return nil
	}
	w.sub = sub
	w.mu.Unlock()
	return nil
}

// close stops the subscription; no callback reaches the owner afterwards
func (w *watcher) close() {
	w.mu.Lock()
	w.closed = true
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}
