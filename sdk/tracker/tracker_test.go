package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// metersNorth offsets a latitude by roughly m meters
func metersNorth(lat, m float64) float64 {
	return lat + m/111195.0
}

func sample(offsetM float64, at time.Duration) models.Location {
	return models.Location{
		Latitude:   metersNorth(-6.2, offsetM),
		Longitude:  106.8,
		AccuracyM:  5,
		RecordedAt: t0.Add(at),
	}
}

type fakeDevice struct {
	mu        sync.Mutex
	opts      []Options
	onSample  func(models.Location)
	onError   func(error)
	stops     int
	watchErr  error
	current   models.Location
	currentFn func(ctx context.Context) (models.Location, error)
	refreshed []Options
}

func (d *fakeDevice) CurrentPosition(ctx context.Context, opts Options) (models.Location, error) {
	d.mu.Lock()
	d.refreshed = append(d.refreshed, opts)
	fn := d.currentFn
	loc := d.current
	d.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return loc, nil
}

func (d *fakeDevice) Watch(opts Options, onSample func(models.Location), onError func(error)) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watchErr != nil {
		return nil, d.watchErr
	}
	d.opts = append(d.opts, opts)
	d.onSample = onSample
	d.onError = onError
	return func() {
		d.mu.Lock()
		d.stops++
		d.mu.Unlock()
	}, nil
}

func (d *fakeDevice) push(loc models.Location) {
	d.mu.Lock()
	fn := d.onSample
	d.mu.Unlock()
	fn(loc)
}

func (d *fakeDevice) fail(err error) {
	d.mu.Lock()
	fn := d.onError
	d.mu.Unlock()
	fn(err)
}

type recordingSink struct {
	mu     sync.Mutex
	points []models.Location
	err    error
}

func (s *recordingSink) PushLocation(_ context.Context, loc models.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, loc)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

func newTracker(t *testing.T, device *fakeDevice, sink *recordingSink, onError func(error)) *Tracker {
	tr, err := New(Config{Device: device, Sink: sink, OnError: onError, Now: func() time.Time { return t0 }})
	require.NoError(t, err)
	return tr
}

func TestNew(t *testing.T) {
	_, err := New(Config{Sink: &recordingSink{}})
	assert.Error(t, err)

	_, err = New(Config{Device: &fakeDevice{}})
	assert.Error(t, err)

	tr, err := New(Config{Device: &fakeDevice{}, Sink: &recordingSink{}})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, tr.State())
	assert.Equal(t, ModeNormal, tr.Mode())
}

func TestTracker_Gates(t *testing.T) {
	testCases := []struct {
		name    string
		mode    Mode
		samples []models.Location
		emitted int
	}{
		{
			name:    "first sample always emitted",
			mode:    ModeNormal,
			samples: []models.Location{sample(0, 0)},
			emitted: 1,
		},
		{
			name:    "normal mode ten seconds and three meters",
			mode:    ModeNormal,
			samples: []models.Location{sample(0, 0), sample(3, 10*time.Second)},
			emitted: 1,
		},
		{
			name:    "normal mode enough time but too close",
			mode:    ModeNormal,
			samples: []models.Location{sample(0, 0), sample(3, 31*time.Second)},
			emitted: 1,
		},
		{
			name:    "normal mode far enough but too soon",
			mode:    ModeNormal,
			samples: []models.Location{sample(0, 0), sample(100, 20*time.Second)},
			emitted: 1,
		},
		{
			name:    "normal mode both gates cleared",
			mode:    ModeNormal,
			samples: []models.Location{sample(0, 0), sample(40, 31*time.Second)},
			emitted: 2,
		},
		{
			name:    "active trip mode both gates cleared",
			mode:    ModeActiveTrip,
			samples: []models.Location{sample(0, 0), sample(6, 16*time.Second)},
			emitted: 2,
		},
		{
			name:    "active trip mode too close",
			mode:    ModeActiveTrip,
			samples: []models.Location{sample(0, 0), sample(3, 16*time.Second)},
			emitted: 1,
		},
		{
			name: "gates measured from the last emitted point",
			mode: ModeActiveTrip,
			samples: []models.Location{
				sample(0, 0),
				sample(3, 16*time.Second),
				sample(6, 20*time.Second),
			},
			emitted: 2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			device := &fakeDevice{}
			sink := &recordingSink{}
			tr := newTracker(t, device, sink, nil)
			require.NoError(t, tr.Start(tc.mode))

			// Act
			for _, s := range tc.samples {
				device.push(s)
			}

			// Assert
			assert.Equal(t, tc.emitted, sink.count())
			last, ok := tr.LastEmitted()
			require.True(t, ok)
			assert.Equal(t, sink.points[len(sink.points)-1], last)
		})
	}
}

func TestTracker_StartOptions(t *testing.T) {
	device := &fakeDevice{}
	tr := newTracker(t, device, &recordingSink{}, nil)

	require.NoError(t, tr.Start(ModeNormal))
	require.NoError(t, tr.Start(ModeActiveTrip))

	require.Len(t, device.opts, 2)
	assert.Equal(t, Options{Timeout: WatchTimeout, MaxAge: DefaultMaxAge}, device.opts[0])
	assert.Equal(t, Options{HighAccuracy: true, Timeout: WatchTimeout, MaxAge: DefaultMaxAge}, device.opts[1])
	assert.Equal(t, 1, device.stops, "restart must tear down the previous watch")
	assert.Equal(t, StateRunning, tr.State())

	assert.Error(t, tr.Start(Mode("turbo")))
}

func TestTracker_RestartEmitsFirstSample(t *testing.T) {
	device := &fakeDevice{}
	sink := &recordingSink{}
	tr := newTracker(t, device, sink, nil)

	require.NoError(t, tr.Start(ModeNormal))
	device.push(sample(0, 0))
	require.NoError(t, tr.Start(ModeNormal))
	device.push(sample(1, time.Second))

	assert.Equal(t, 2, sink.count())
}

func TestTracker_StaleWatchIgnored(t *testing.T) {
	device := &fakeDevice{}
	sink := &recordingSink{}
	tr := newTracker(t, device, sink, nil)

	require.NoError(t, tr.Start(ModeNormal))
	stale := device.onSample
	tr.Stop()

	stale(sample(0, 0))

	assert.Equal(t, 0, sink.count())
	assert.Equal(t, StateIdle, tr.State())
	assert.Equal(t, 1, device.stops)
}

func TestTracker_SetMode(t *testing.T) {
	device := &fakeDevice{}
	sink := &recordingSink{}
	tr := newTracker(t, device, sink, nil)

	require.NoError(t, tr.Start(ModeNormal))
	device.push(sample(0, 0))
	require.NoError(t, tr.SetMode(ModeActiveTrip))
	device.push(sample(10, 16*time.Second))

	assert.Equal(t, 2, sink.count())
	assert.Len(t, device.opts, 1)
	assert.Error(t, tr.SetMode(Mode("")))
}

func TestTracker_Refresh(t *testing.T) {
	// Arrange
	device := &fakeDevice{current: sample(1, time.Second)}
	sink := &recordingSink{}
	tr := newTracker(t, device, sink, nil)
	require.NoError(t, tr.Start(ModeNormal))
	device.push(sample(0, 0))

	// Act
	loc, err := tr.Refresh(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, sample(1, time.Second), loc)
	assert.Equal(t, 2, sink.count(), "refresh bypasses both gates")
	require.Len(t, device.refreshed, 1)
	assert.True(t, device.refreshed[0].HighAccuracy)
	assert.Equal(t, RefreshTimeout, device.refreshed[0].Timeout)

	// gates now run from the refreshed point
	device.push(sample(40, 20*time.Second))
	assert.Equal(t, 2, sink.count())
}

func TestTracker_RefreshBounded(t *testing.T) {
	device := &fakeDevice{currentFn: func(ctx context.Context) (models.Location, error) {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(RefreshTimeout), deadline, time.Second)
		return models.Location{}, context.DeadlineExceeded
	}}
	var reported error
	tr := newTracker(t, device, &recordingSink{}, func(err error) { reported = err })

	_, err := tr.Refresh(context.Background())

	assert.True(t, apperror.IsKind(err, apperror.KindTimeout))
	assert.Equal(t, err, reported)
	assert.Equal(t, StateStopped, tr.State())
}

func TestTracker_Failures(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantKind apperror.Kind
	}{
		{
			name:     "permission denied",
			err:      apperror.New(apperror.KindPermissionDenied, "device", "location permission revoked"),
			wantKind: apperror.KindPermissionDenied,
		},
		{
			name:     "timeout",
			err:      context.DeadlineExceeded,
			wantKind: apperror.KindTimeout,
		},
		{
			name:     "untyped becomes unavailable",
			err:      errors.New("gps off"),
			wantKind: apperror.KindUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			device := &fakeDevice{}
			sink := &recordingSink{}
			var reported []error
			tr := newTracker(t, device, sink, func(err error) { reported = append(reported, err) })
			require.NoError(t, tr.Start(ModeActiveTrip))

			// Act
			device.fail(tc.err)
			device.push(sample(0, 0))

			// Assert
			require.Len(t, reported, 1)
			assert.Equal(t, tc.wantKind, apperror.KindOf(reported[0]))
			assert.Equal(t, StateStopped, tr.State())
			assert.Equal(t, reported[0], tr.Err())
			assert.Equal(t, 0, sink.count(), "a stopped tracker emits nothing")
			assert.Equal(t, 1, device.stops)
		})
	}
}

func TestTracker_WatchRejected(t *testing.T) {
	device := &fakeDevice{watchErr: apperror.New(apperror.KindPermissionDenied, "device", "denied")}
	var reported error
	tr := newTracker(t, device, &recordingSink{}, func(err error) { reported = err })

	err := tr.Start(ModeNormal)

	assert.True(t, apperror.IsKind(err, apperror.KindPermissionDenied))
	assert.Equal(t, err, reported)
	assert.Equal(t, StateStopped, tr.State())
}

func TestTracker_DevicePanicContained(t *testing.T) {
	device := &panickyDevice{}
	tr, err := New(Config{Device: device, Sink: &recordingSink{}})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		err = tr.Start(ModeNormal)
	})
	assert.True(t, apperror.IsKind(err, apperror.KindUnavailable))

	assert.NotPanics(t, func() {
		_, err = tr.Refresh(context.Background())
	})
	assert.True(t, apperror.IsKind(err, apperror.KindUnavailable))
}

type panickyDevice struct{}

func (panickyDevice) CurrentPosition(context.Context, Options) (models.Location, error) {
	panic("driver crashed")
}

func (panickyDevice) Watch(Options, func(models.Location), func(error)) (func(), error) {
	panic("driver crashed")
}

func TestTracker_SinkErrorKeepsRunning(t *testing.T) {
	device := &fakeDevice{}
	sink := &recordingSink{err: apperror.New(apperror.KindNetworkError, "sink", "offline")}
	tr := newTracker(t, device, sink, nil)
	require.NoError(t, tr.Start(ModeActiveTrip))

	device.push(sample(0, 0))
	device.push(sample(10, 20*time.Second))

	assert.Equal(t, 2, sink.count())
	assert.Equal(t, StateRunning, tr.State())
}
