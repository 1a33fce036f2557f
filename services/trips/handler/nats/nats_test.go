package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	natsserver "github.com/nats-io/nats-server/v2/test"
	natspkg "github.com/piresc/nebengjek-dispatch/internal/pkg/nats"
)

var testNatsURL = "nats://127.0.0.1:8372"

func TestMain(m *testing.M) {
	opts := natsserver.DefaultTestOptions
	opts.Port = 8372
	testNatsServer := natsserver.RunServer(&opts)
	code := m.Run()
	testNatsServer.Shutdown()
	os.Exit(code)
}

type recorder struct {
	mu    sync.Mutex
	trips []*models.Trip
}

func (r *recorder) Publish(_ context.Context, trip *models.Trip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips = append(r.trips, trip)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trips)
}

func TestTripHandler_DeliversBusEventsToFeed(t *testing.T) {
	// Arrange
	client, err := natspkg.NewClient(testNatsURL)
	require.NoError(t, err)
	defer client.Close()

	rec := &recorder{}
	handler := NewTripHandler(rec, client)
	require.NoError(t, handler.InitNATSConsumers())
	defer handler.Close()

	trip := &models.Trip{ID: uuid.New(), Status: models.TripStatusClaimed, Version: 2}
	data, err := json.Marshal(models.TripEvent{Type: constants.EventTripClaimed, Trip: trip})
	require.NoError(t, err)

	// Act
	require.NoError(t, client.Publish(fmt.Sprintf(constants.SubjectTripUpdated, trip.ID), data))
	require.NoError(t, client.Publish(fmt.Sprintf(constants.SubjectTripUpdated, uuid.New()), []byte("{not json")))
	require.NoError(t, client.Flush())

	// Assert
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, trip.ID, rec.trips[0].ID)
	assert.Equal(t, int64(2), rec.trips[0].Version)
}

func TestTripHandler_HandleTripUpdated_Invalid(t *testing.T) {
	handler := NewTripHandler(&recorder{}, nil)

	assert.Error(t, handler.handleTripUpdated([]byte("nope")))
	assert.Error(t, handler.handleTripUpdated([]byte(`{"type":"trip.created"}`)))
}
