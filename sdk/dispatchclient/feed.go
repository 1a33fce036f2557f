package dispatchclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

// Handler receives the events of one feed subscription. Callbacks of a
// subscription never run concurrently with each other.
type Handler struct {
	// OnSnapshot receives the full result set, first on open and again whenever membership changes
	OnSnapshot func(trips []*models.Trip)
	// OnUpdate receives a changed trip that stays in the result set
	OnUpdate func(trip *models.Trip)
	// OnError ends the subscription
	OnError func(err error)
}

// Subscription is an open feed subscription
type Subscription interface {
	// Close stops the subscription. It returns only after no further
	// callback can start and must not be called from inside a callback.
	Close()
}

// WatchTrip subscribes to one trip
func (c *Client) WatchTrip(ctx context.Context, id uuid.UUID, h Handler) (Subscription, error) {
	return c.watch(ctx, constants.EventWatchTrip, &id, h)
}

// WatchActive subscribes to the calling rider's active trip
func (c *Client) WatchActive(ctx context.Context, h Handler) (Subscription, error) {
	return c.watch(ctx, constants.EventWatchActive, nil, h)
}

// WatchOpen subscribes to the open trips page
func (c *Client) WatchOpen(ctx context.Context, h Handler) (Subscription, error) {
	return c.watch(ctx, constants.EventWatchOpen, nil, h)
}

func (c *Client) watch(ctx context.Context, event string, tripID *uuid.UUID, h Handler) (Subscription, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	sub := &subscription{id: uuid.NewString(), conn: conn, handler: h}
	conn.add(sub)

	raw, err := json.Marshal(models.WatchRequest{SubscriptionID: sub.id, TripID: tripID})
	if err != nil {
		conn.remove(sub.id)
		return nil, apperror.Wrap(apperror.KindInternal, "dispatchclient.watch", err)
	}
	if err := conn.write(models.WSMessage{Event: event, Data: raw}); err != nil {
		conn.remove(sub.id)
		return nil, err
	}
	return sub, nil
}

// connection returns the live feed connection, dialing a new one if needed
func (c *Client) connection(ctx context.Context) (*feedConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, apperror.New(apperror.KindUnavailable, "dispatchclient.connect", "client closed")
	}
	if c.conn != nil && !c.conn.isDone() {
		return c.conn, nil
	}

	header := http.Header{}
	if token := c.api.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, apperror.New(kindForStatus(resp.StatusCode), "dispatchclient.connect", "feed rejected: %s", resp.Status)
		}
		if ctx.Err() != nil {
			return nil, apperror.Wrap(apperror.KindTimeout, "dispatchclient.connect", err)
		}
		return nil, apperror.Wrap(apperror.KindNetworkError, "dispatchclient.connect", err)
	}

	conn := &feedConn{ws: ws, subs: make(map[string]*subscription), done: make(chan struct{})}
	go conn.readLoop()
	c.conn = conn
	return conn, nil
}

func kindForStatus(status int) apperror.Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperror.KindPermissionDenied
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return apperror.KindUnavailable
	default:
		return apperror.KindNetworkError
	}
}

// feedConn is one websocket carrying many subscriptions
type feedConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	subs     map[string]*subscription
	closing  bool
	done     chan struct{}
	doneOnce sync.Once
}

func (fc *feedConn) add(sub *subscription) {
	fc.mu.Lock()
	fc.subs[sub.id] = sub
	fc.mu.Unlock()
}

func (fc *feedConn) remove(id string) *subscription {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	sub := fc.subs[id]
	delete(fc.subs, id)
	return sub
}

func (fc *feedConn) lookup(id string) *subscription {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.subs[id]
}

func (fc *feedConn) write(msg models.WSMessage) error {
	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()
	if err := fc.ws.WriteJSON(msg); err != nil {
		return apperror.Wrap(apperror.KindNetworkError, "dispatchclient.write", err)
	}
	return nil
}

func (fc *feedConn) isDone() bool {
	select {
	case <-fc.done:
		return true
	default:
		return false
	}
}

func (fc *feedConn) close() error {
	fc.mu.Lock()
	fc.closing = true
	fc.mu.Unlock()
	err := fc.ws.Close()
	<-fc.done
	return err
}

func (fc *feedConn) readLoop() {
	var readErr error
	for {
		var msg models.WSMessage
		if err := fc.ws.ReadJSON(&msg); err != nil {
			readErr = err
			break
		}
		fc.dispatch(&msg)
	}

	fc.mu.Lock()
	closing := fc.closing
	subs := fc.subs
	fc.subs = make(map[string]*subscription)
	fc.mu.Unlock()
	fc.doneOnce.Do(func() { close(fc.done) })

	if closing {
		for _, sub := range subs {
			sub.stop()
		}
		return
	}

	logger.Warn("Feed connection lost", logger.Int("subscriptions", len(subs)), logger.Err(readErr))
	err := apperror.Wrap(apperror.KindNetworkError, "dispatchclient.feed", readErr)
	for _, sub := range subs {
		sub.fail(err)
	}
}

func (fc *feedConn) dispatch(msg *models.WSMessage) {
	switch msg.Event {
	case constants.EventSnapshot:
		var snap models.FeedSnapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			logger.Warn("Invalid feed snapshot", logger.Err(err))
			return
		}
		if sub := fc.lookup(snap.SubscriptionID); sub != nil {
			sub.snapshot(snap.Trips)
		}
	case constants.EventTripUpdated:
		var update models.FeedUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			logger.Warn("Invalid feed update", logger.Err(err))
			return
		}
		if sub := fc.lookup(update.SubscriptionID); sub != nil && update.Trip != nil {
			sub.update(update.Trip)
		}
	case constants.EventSubscriptionError:
		var feedErr models.FeedError
		if err := json.Unmarshal(msg.Data, &feedErr); err != nil {
			logger.Warn("Invalid feed error", logger.Err(err))
			return
		}
		if sub := fc.remove(feedErr.SubscriptionID); sub != nil {
			kind := apperror.Kind(feedErr.Code)
			if kind == "" {
				kind = apperror.KindInternal
			}
			sub.fail(apperror.New(kind, "dispatchclient.feed", "%s", feedErr.Message))
		}
	case constants.EventError:
		var wsErr models.WSErrorMessage
		_ = json.Unmarshal(msg.Data, &wsErr)
		logger.Warn("Feed error",
			logger.String("code", wsErr.Code),
			logger.String("message", wsErr.Message))
	default:
		logger.Debug("Ignoring feed event", logger.String("event", msg.Event))
	}
}

// subscription serializes callbacks under mu so Close can wait out an in-flight one
type subscription struct {
	id      string
	conn    *feedConn
	handler Handler

	mu     sync.Mutex
	closed bool
}

func (s *subscription) snapshot(trips []*models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.handler.OnSnapshot == nil {
		return
	}
	s.handler.OnSnapshot(trips)
}

func (s *subscription) update(trip *models.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.handler.OnUpdate == nil {
		return
	}
	s.handler.OnUpdate(trip)
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Close stops the subscription and tells the server to drop it
func (s *subscription) Close() {
	s.stop()
	if s.conn.remove(s.id) == nil {
		return
	}
	raw, _ := json.Marshal(models.UnwatchRequest{SubscriptionID: s.id})
	if err := s.conn.write(models.WSMessage{Event: constants.EventUnwatch, Data: raw}); err != nil {
		logger.Debug("Failed to send unwatch", logger.String("subscription_id", s.id), logger.Err(err))
	}
}
