package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	wspkg "github.com/piresc/nebengjek-dispatch/internal/pkg/websocket"
	"github.com/piresc/nebengjek-dispatch/services/trips/feed"
)

// FeedHandler serves the live trip feed over websocket
type FeedHandler struct {
	manager *wspkg.Manager
	hub     *feed.Hub
}

// NewFeedHandler creates a new feed websocket handler
func NewFeedHandler(manager *wspkg.Manager, hub *feed.Hub) *FeedHandler {
	return &FeedHandler{
		manager: manager,
		hub:     hub,
	}
}

// HandleFeed handles GET /v1/ws
func (h *FeedHandler) HandleFeed(c echo.Context) error {
	return h.manager.HandleConnection(c, h.serve)
}

func (h *FeedHandler) serve(client *wspkg.Client) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &session{client: client, manager: h.manager, hub: h.hub, subs: make(map[string]*feed.Subscription)}
	defer s.closeAll()

	logger.Info("Feed client connected",
		logger.String("client_id", client.ID),
		logger.String("actor_id", client.Actor.ID.String()),
		logger.String("role", string(client.Actor.Role)))

	for {
		var msg models.WSMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Feed connection closed unexpectedly",
					logger.String("client_id", client.ID),
					logger.Err(err))
			}
			return nil
		}
		s.handle(ctx, &msg)
	}
}

// session holds the subscriptions opened over one connection
type session struct {
	client  *wspkg.Client
	manager *wspkg.Manager
	hub     *feed.Hub

	mu   sync.Mutex
	subs map[string]*feed.Subscription
}

func (s *session) handle(ctx context.Context, msg *models.WSMessage) {
	switch msg.Event {
	case constants.EventWatchTrip, constants.EventWatchActive, constants.EventWatchOpen:
		var req models.WatchRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError(constants.ErrorInvalidFormat, "Invalid watch request")
			return
		}
		s.watch(ctx, msg.Event, req)
	case constants.EventUnwatch:
		var req models.UnwatchRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError(constants.ErrorInvalidFormat, "Invalid unwatch request")
			return
		}
		s.unwatch(req.SubscriptionID)
	default:
		s.sendError(constants.ErrorUnknownEvent, fmt.Sprintf("Unknown event %q", msg.Event))
	}
}

func (s *session) watch(ctx context.Context, event string, req models.WatchRequest) {
	if req.SubscriptionID == "" {
		s.sendError(constants.ErrorValidationFailed, "subscription_id is required")
		return
	}

	s.mu.Lock()
	if _, exists := s.subs[req.SubscriptionID]; exists {
		s.mu.Unlock()
		s.sendError(constants.ErrorDuplicateWatch, fmt.Sprintf("Subscription %s already open", req.SubscriptionID))
		return
	}
	// Reserve the id so a concurrent duplicate is rejected while the snapshot loads.
	s.subs[req.SubscriptionID] = nil
	s.mu.Unlock()

	handler := s.handlerFor(req.SubscriptionID)
	actor := s.client.Actor

	var sub *feed.Subscription
	var err error
	switch event {
	case constants.EventWatchTrip:
		if req.TripID == nil {
			err = apperror.New(apperror.KindValidation, "feed.WatchTrip", "trip_id is required")
			break
		}
		sub, err = s.hub.WatchTrip(ctx, actor, *req.TripID, handler)
	case constants.EventWatchActive:
		sub, err = s.hub.WatchActive(ctx, actor, handler)
	default:
		sub, err = s.hub.WatchOpen(ctx, actor, handler)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		delete(s.subs, req.SubscriptionID)
		s.sendFeedError(req.SubscriptionID, err)
		return
	}
	if _, reserved := s.subs[req.SubscriptionID]; !reserved {
		// failed between the snapshot and here
		return
	}
	s.subs[req.SubscriptionID] = sub
}

func (s *session) forget(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *session) unwatch(id string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if ok && sub != nil {
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (s *session) closeAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*feed.Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Close()
		}
	}
}

func (s *session) handlerFor(id string) feed.Handler {
	return feed.Handler{
		OnSnapshot: func(trips []*models.Trip) {
			s.send(constants.EventSnapshot, models.FeedSnapshot{SubscriptionID: id, Trips: trips})
		},
		OnUpdate: func(trip *models.Trip) {
			s.send(constants.EventTripUpdated, models.FeedUpdate{SubscriptionID: id, Trip: trip})
		},
		OnError: func(err error) {
			// the hub has already dropped the subscription
			s.forget(id)
			s.sendFeedError(id, err)
		},
	}
}

func (s *session) sendFeedError(id string, err error) {
	kind := apperror.KindOf(err)
	message := err.Error()
	if kind == apperror.KindInternal {
		logger.Error("Feed subscription failed", logger.String("subscription_id", id), logger.Err(err))
		message = "Operation failed"
	}
	s.send(constants.EventSubscriptionError, models.FeedError{
		SubscriptionID: id,
		Code:           string(kind),
		Message:        message,
	})
}

func (s *session) sendError(code, message string) {
	if err := s.manager.SendErrorMessage(s.client, code, message); err != nil {
		logger.Warn("Failed to send feed error", logger.String("client_id", s.client.ID), logger.Err(err))
	}
}

func (s *session) send(event string, data interface{}) {
	if err := s.client.Send(event, data); err != nil {
		logger.Warn("Failed to deliver feed frame",
			logger.String("client_id", s.client.ID),
			logger.String("event", event),
			logger.Err(err))
	}
}
