package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	jwtpkg "github.com/piresc/nebengjek-dispatch/internal/pkg/jwt"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	wspkg "github.com/piresc/nebengjek-dispatch/internal/pkg/websocket"
	"github.com/piresc/nebengjek-dispatch/services/trips/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// source is a feed.Source over a fixed set of trips
type source struct {
	mu    sync.Mutex
	trips map[uuid.UUID]*models.Trip
}

func (s *source) GetTrip(_ context.Context, _ models.Actor, id uuid.UUID) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "source.GetTrip", "trip %s not found", id)
	}
	return trip.Clone(), nil
}

func (s *source) ActiveTrip(_ context.Context, actor models.Actor) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, trip := range s.trips {
		if trip.RiderID == actor.ID {
			return trip.Clone(), nil
		}
	}
	return nil, nil
}

func (s *source) OpenTrips(context.Context, models.Actor) ([]*models.Trip, error) {
	return nil, nil
}

func (s *source) put(trip *models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[trip.ID] = trip.Clone()
}

const secret = "feed-secret"

func dial(t *testing.T, srv *httptest.Server, actor models.Actor) *websocket.Conn {
	cfg := &models.Config{JWT: models.JWTConfig{Secret: secret, Expiration: 5}}
	token, _, err := jwtpkg.GenerateToken(actor.ID, actor.Role, "", cfg)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.WSMessage{Event: event, Data: raw}))
}

func read(t *testing.T, conn *websocket.Conn, out interface{}) string {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg models.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	if out != nil {
		require.NoError(t, json.Unmarshal(msg.Data, out))
	}
	return msg.Event
}

func setup(t *testing.T) (*httptest.Server, *source, *feed.Hub) {
	src := &source{trips: make(map[uuid.UUID]*models.Trip)}
	hub := feed.NewHub(src)
	t.Cleanup(hub.Close)

	handler := NewFeedHandler(wspkg.NewManager(models.JWTConfig{Secret: secret}), hub)
	e := echo.New()
	e.GET("/v1/ws", handler.HandleFeed)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, src, hub
}

func TestFeedHandler_WatchActiveSnapshotThenUpdate(t *testing.T) {
	srv, src, hub := setup(t)
	rider := models.Actor{ID: uuid.New(), Role: models.RoleRider}
	conn := dial(t, srv, rider)

	// Empty snapshot first
	send(t, conn, constants.EventWatchActive, models.WatchRequest{SubscriptionID: "active"})
	var snap models.FeedSnapshot
	assert.Equal(t, constants.EventSnapshot, read(t, conn, &snap))
	assert.Equal(t, "active", snap.SubscriptionID)
	assert.Empty(t, snap.Trips)

	// New trip changes membership
	trip := &models.Trip{
		ID: uuid.New(), RiderID: rider.ID, Status: models.TripStatusWaiting,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(15 * time.Minute), Version: 1,
	}
	src.put(trip)
	hub.Publish(context.Background(), trip)

	assert.Equal(t, constants.EventSnapshot, read(t, conn, &snap))
	require.Len(t, snap.Trips, 1)
	assert.Equal(t, trip.ID, snap.Trips[0].ID)

	// Same member, newer version
	claimed := trip.Clone()
	claimed.Status = models.TripStatusClaimed
	driverID := uuid.New()
	claimed.AssignedDriverID = &driverID
	claimed.Version = 2
	src.put(claimed)
	hub.Publish(context.Background(), claimed)

	var update models.FeedUpdate
	assert.Equal(t, constants.EventTripUpdated, read(t, conn, &update))
	assert.Equal(t, "active", update.SubscriptionID)
	assert.Equal(t, models.TripStatusClaimed, update.Trip.Status)

	// Replay of an observed version is dropped; unwatch stops deliveries
	hub.Publish(context.Background(), claimed)
	send(t, conn, constants.EventUnwatch, models.UnwatchRequest{SubscriptionID: "active"})
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeedHandler_Errors(t *testing.T) {
	srv, _, _ := setup(t)
	rider := models.Actor{ID: uuid.New(), Role: models.RoleRider}
	conn := dial(t, srv, rider)

	var feedErr models.FeedError
	send(t, conn, constants.EventWatchOpen, models.WatchRequest{SubscriptionID: "open"})
	assert.Equal(t, constants.EventSubscriptionError, read(t, conn, &feedErr))
	assert.Equal(t, "open", feedErr.SubscriptionID)
	assert.Equal(t, string(apperror.KindPermissionDenied), feedErr.Code)

	missing := uuid.New()
	send(t, conn, constants.EventWatchTrip, models.WatchRequest{SubscriptionID: "t1", TripID: &missing})
	assert.Equal(t, constants.EventSubscriptionError, read(t, conn, &feedErr))
	assert.Equal(t, string(apperror.KindNotFound), feedErr.Code)

	send(t, conn, constants.EventWatchTrip, models.WatchRequest{SubscriptionID: "t2"})
	assert.Equal(t, constants.EventSubscriptionError, read(t, conn, &feedErr))
	assert.Equal(t, string(apperror.KindValidation), feedErr.Code)

	var wsErr models.WSErrorMessage
	send(t, conn, "dance", struct{}{})
	assert.Equal(t, constants.EventError, read(t, conn, &wsErr))
	assert.Equal(t, constants.ErrorUnknownEvent, wsErr.Code)

	send(t, conn, constants.EventWatchActive, models.WatchRequest{})
	assert.Equal(t, constants.EventError, read(t, conn, &wsErr))
	assert.Equal(t, constants.ErrorValidationFailed, wsErr.Code)

	send(t, conn, constants.EventWatchActive, models.WatchRequest{SubscriptionID: "a"})
	assert.Equal(t, constants.EventSnapshot, read(t, conn, nil))
	send(t, conn, constants.EventWatchActive, models.WatchRequest{SubscriptionID: "a"})
	assert.Equal(t, constants.EventError, read(t, conn, &wsErr))
	assert.Equal(t, constants.ErrorDuplicateWatch, wsErr.Code)
}

func TestFeedHandler_DisconnectClosesSubscriptions(t *testing.T) {
	srv, _, hub := setup(t)
	rider := models.Actor{ID: uuid.New(), Role: models.RoleRider}
	conn := dial(t, srv, rider)

	send(t, conn, constants.EventWatchActive, models.WatchRequest{SubscriptionID: "a"})
	assert.Equal(t, constants.EventSnapshot, read(t, conn, nil))
	assert.Equal(t, 1, hub.Len())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeedHandler_HiddenTripEndsSubscription(t *testing.T) {
	srv, src, hub := setup(t)
	loser := models.Actor{ID: uuid.New(), Role: models.RoleDriver}
	conn := dial(t, srv, loser)

	trip := &models.Trip{
		ID: uuid.New(), RiderID: uuid.New(), Status: models.TripStatusWaiting,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(15 * time.Minute), Version: 1,
	}
	src.put(trip)

	send(t, conn, constants.EventWatchTrip, models.WatchRequest{SubscriptionID: "t", TripID: &trip.ID})
	assert.Equal(t, constants.EventSnapshot, read(t, conn, nil))

	winnerID := uuid.New()
	for i, status := range []models.TripStatus{models.TripStatusClaimed, models.TripStatusEnRouteToPickup, models.TripStatusAtPickup} {
		next := trip.Clone()
		next.Status = status
		next.AssignedDriverID = &winnerID
		next.Version = int64(i + 2)
		hub.Publish(context.Background(), next)
	}

	var feedErr models.FeedError
	assert.Equal(t, constants.EventSubscriptionError, read(t, conn, &feedErr))
	assert.Equal(t, "t", feedErr.SubscriptionID)
	assert.Equal(t, string(apperror.KindPermissionDenied), feedErr.Code)
	assert.Equal(t, 0, hub.Len())

	// the id is free again and the next frame is the new snapshot, not a second error
	send(t, conn, constants.EventWatchTrip, models.WatchRequest{SubscriptionID: "t", TripID: &trip.ID})
	var snap models.FeedSnapshot
	assert.Equal(t, constants.EventSnapshot, read(t, conn, &snap))
	assert.Equal(t, "t", snap.SubscriptionID)
}
