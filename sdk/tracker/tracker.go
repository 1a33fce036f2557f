// Package tracker samples the device position and decides which samples are
// worth sending to the server.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
)

// Mode selects the emission gates
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeActiveTrip Mode = "active_trip"
)

// State is the tracker's lifecycle state
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

const (
	// WatchTimeout bounds each watch request on the device
	WatchTimeout = 15 * time.Second
	// RefreshTimeout bounds a manual refresh
	RefreshTimeout = 10 * time.Second
	// DefaultMaxAge is the oldest cached fix the device may return to a watch
	DefaultMaxAge = 10 * time.Second

	sinkTimeout = 10 * time.Second
)

// gate is the pair of thresholds a sample must clear to be emitted
type gate struct {
	interval time.Duration
	meters   float64
}

var gates = map[Mode]gate{
	ModeNormal:     {interval: 30 * time.Second, meters: 30},
	ModeActiveTrip: {interval: 15 * time.Second, meters: 5},
}

// Options are passed to the device with every position request
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// Device is the platform location API
type Device interface {
	// CurrentPosition returns a single fix
	CurrentPosition(ctx context.Context, opts Options) (models.Location, error)
	// Watch streams fixes until the returned stop func is called
	Watch(opts Options, onSample func(models.Location), onError func(error)) (stop func(), err error)
}

// Sink receives emitted points
type Sink interface {
	PushLocation(ctx context.Context, loc models.Location) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, loc models.Location) error

// PushLocation calls f
func (f SinkFunc) PushLocation(ctx context.Context, loc models.Location) error {
	return f(ctx, loc)
}

// Config configures a Tracker
type Config struct {
	Device Device
	Sink   Sink
	// OnError receives the typed error that stopped the tracker
	OnError func(error)
	// MaxAge overrides DefaultMaxAge for watch requests
	MaxAge time.Duration
	// Now defaults to time.Now
	Now func() time.Time
}

// Tracker throttles device samples with a time gate and a distance gate.
// A sample is emitted only when it clears both.
type Tracker struct {
	device  Device
	sink    Sink
	onError func(error)
	maxAge  time.Duration
	now     func() time.Time

	mu    sync.Mutex
	mode  Mode
	state State
	err   error
	last  *models.Location
	stop  func()
	gen   int
}

// New creates an idle tracker
func New(cfg Config) (*Tracker, error) {
	if cfg.Device == nil {
		return nil, errors.New("tracker: device is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("tracker: sink is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		device:  cfg.Device,
		sink:    cfg.Sink,
		onError: cfg.OnError,
		maxAge:  cfg.MaxAge,
		now:     cfg.Now,
		mode:    ModeNormal,
		state:   StateIdle,
	}, nil
}

// Start begins watching in mode. Any previous watch is torn down first and
// the next sample is emitted unconditionally.
func (t *Tracker) Start(mode Mode) error {
	if _, ok := gates[mode]; !ok {
		return apperror.New(apperror.KindValidation, "tracker.Start", "unknown mode %q", mode)
	}

	t.mu.Lock()
	t.teardownLocked()
	t.gen++
	gen := t.gen
	t.mode = mode
	t.last = nil
	t.err = nil
	t.state = StateRunning
	opts := Options{HighAccuracy: mode == ModeActiveTrip, Timeout: WatchTimeout, MaxAge: t.maxAge}
	t.mu.Unlock()

	stop, err := t.safeWatch(opts,
		func(loc models.Location) { t.handleSample(gen, loc) },
		func(err error) { t.fail(gen, err) })
	if err != nil {
		typed := classify("tracker.Start", err)
		t.fail(gen, typed)
		return typed
	}

	t.mu.Lock()
	if t.gen != gen || t.state != StateRunning {
		// stopped or restarted while the watch was being opened
		t.mu.Unlock()
		stop()
		return t.Err()
	}
	t.stop = stop
	t.mu.Unlock()

	logger.Debug("Location tracker started", logger.String("mode", string(mode)))
	return nil
}

// SetMode switches the gates used for subsequent samples without restarting the watch
func (t *Tracker) SetMode(mode Mode) error {
	if _, ok := gates[mode]; !ok {
		return apperror.New(apperror.KindValidation, "tracker.SetMode", "unknown mode %q", mode)
	}
	t.mu.Lock()
	t.mode = mode
	t.mu.Unlock()
	return nil
}

// Refresh requests a high-accuracy fix and emits it regardless of the gates
func (t *Tracker) Refresh(ctx context.Context) (models.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, RefreshTimeout)
	defer cancel()

	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()

	loc, err := t.safeCurrentPosition(ctx, Options{HighAccuracy: true, Timeout: RefreshTimeout})
	if err != nil {
		typed := classify("tracker.Refresh", err)
		t.fail(gen, typed)
		return models.Location{}, typed
	}
	if loc.RecordedAt.IsZero() {
		loc.RecordedAt = t.now()
	}

	t.mu.Lock()
	t.last = &loc
	t.mu.Unlock()

	t.emit(loc)
	return loc, nil
}

// Stop tears down the watch and returns the tracker to idle
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.teardownLocked()
	t.gen++
	t.state = StateIdle
	t.mu.Unlock()
}

// State returns the current state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Mode returns the current mode
func (t *Tracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Err returns the error that stopped the tracker, if any
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// LastEmitted returns the last emitted point
func (t *Tracker) LastEmitted() (models.Location, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return models.Location{}, false
	}
	return *t.last, true
}

func (t *Tracker) handleSample(gen int, loc models.Location) {
	if loc.RecordedAt.IsZero() {
		loc.RecordedAt = t.now()
	}

	t.mu.Lock()
	if gen != t.gen || t.state != StateRunning {
		t.mu.Unlock()
		return
	}
	if !shouldEmit(t.last, loc, gates[t.mode]) {
		t.mu.Unlock()
		return
	}
	t.last = &loc
	t.mu.Unlock()

	t.emit(loc)
}

// shouldEmit reports whether loc clears both gates relative to the last emitted point
func shouldEmit(last *models.Location, loc models.Location, g gate) bool {
	if last == nil {
		return true
	}
	if loc.RecordedAt.Sub(last.RecordedAt) < g.interval {
		return false
	}
	return utils.DistanceMeters(last.Coordinate(), loc.Coordinate()) >= g.meters
}

func (t *Tracker) emit(loc models.Location) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := t.sink.PushLocation(ctx, loc); err != nil {
		logger.Warn("Failed to push location",
			logger.Float64("lat", loc.Latitude),
			logger.Float64("lng", loc.Longitude),
			logger.Err(err))
	}
}

// fail stops the tracker for good. Errors from a superseded watch are dropped.
func (t *Tracker) fail(gen int, err error) {
	typed := classify("tracker", err)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.teardownLocked()
	t.gen++
	t.state = StateStopped
	t.err = typed
	onError := t.onError
	t.mu.Unlock()

	logger.Warn("Location tracker stopped", logger.String("kind", string(apperror.KindOf(typed))), logger.Err(typed))
	if onError != nil {
		onError(typed)
	}
}

func (t *Tracker) teardownLocked() {
	if t.stop != nil {
		stop := t.stop
		t.stop = nil
		safeCall(stop)
	}
}

func (t *Tracker) safeWatch(opts Options, onSample func(models.Location), onError func(error)) (stop func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			stop, err = nil, apperror.New(apperror.KindUnavailable, "tracker.Watch", "device panicked: %v", r)
		}
	}()
	stop, err = t.device.Watch(opts, onSample, onError)
	if err == nil && stop == nil {
		stop = func() {}
	}
	return stop, err
}

func (t *Tracker) safeCurrentPosition(ctx context.Context, opts Options) (loc models.Location, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperror.New(apperror.KindUnavailable, "tracker.CurrentPosition", "device panicked: %v", r)
		}
	}()
	return t.device.CurrentPosition(ctx, opts)
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Device stop panicked", logger.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// classify narrows any device error to permission_denied, unavailable or timeout
func classify(op string, err error) error {
	var appErr *apperror.Error
	switch apperror.KindOf(err) {
	case apperror.KindPermissionDenied, apperror.KindUnavailable:
		return err
	case apperror.KindTimeout:
		if errors.As(err, &appErr) {
			return err
		}
		return apperror.Wrap(apperror.KindTimeout, op, err)
	default:
		return apperror.Wrap(apperror.KindUnavailable, op, err)
	}
}
