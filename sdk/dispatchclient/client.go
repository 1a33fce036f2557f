// Package dispatchclient is the device-side client of the dispatch service.
// It wraps the REST API and the live trip feed.
package dispatchclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	httppkg "github.com/piresc/nebengjek-dispatch/internal/pkg/http"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
)

// ClaimTimeout bounds a claim round trip
const ClaimTimeout = 5 * time.Second

// Config configures a Client
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Dialer overrides websocket.DefaultDialer
	Dialer *websocket.Dialer
}

// Client talks to the dispatch service on behalf of one actor
type Client struct {
	api    *httppkg.Client
	wsURL  string
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *feedConn
	closed bool
}

// New creates a client. The feed connection is opened lazily by the first watch.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("dispatchclient: base URL is required")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	api := httppkg.NewClient(httppkg.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
	})
	return &Client{
		api:    api,
		wsURL:  toWebsocketURL(api.BaseURL()) + "/v1/ws",
		dialer: dialer,
	}, nil
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// SetToken replaces the bearer token used by later requests and connections
func (c *Client) SetToken(token string) {
	c.api.SetToken(token)
}

// envelope mirrors the server's success body; Data must hold a pointer
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateTrip requests a ride
func (c *Client) CreateTrip(ctx context.Context, req models.CreateTripRequest) (*models.Trip, error) {
	var trip *models.Trip
	if err := c.api.PostJSON(ctx, "/v1/trips", req, &envelope{Data: &trip}); err != nil {
		return nil, err
	}
	return trip, nil
}

// GetTrip fetches a trip visible to the caller
func (c *Client) GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	var trip *models.Trip
	if err := c.api.GetJSON(ctx, "/v1/trips/"+id.String(), &envelope{Data: &trip}); err != nil {
		return nil, err
	}
	return trip, nil
}

// ActiveTrip returns the rider's active trip, or nil when there is none
func (c *Client) ActiveTrip(ctx context.Context) (*models.Trip, error) {
	var trip *models.Trip
	if err := c.api.GetJSON(ctx, "/v1/trips/active", &envelope{Data: &trip}); err != nil {
		return nil, err
	}
	return trip, nil
}

// OpenTrips returns the claimable trips page
func (c *Client) OpenTrips(ctx context.Context) ([]*models.Trip, error) {
	var trips []*models.Trip
	if err := c.api.GetJSON(ctx, "/v1/trips/open", &envelope{Data: &trips}); err != nil {
		return nil, err
	}
	return trips, nil
}

// Candidates returns the server-ranked candidate list for the calling driver
func (c *Client) Candidates(ctx context.Context) ([]models.Candidate, error) {
	var candidates []models.Candidate
	if err := c.api.GetJSON(ctx, "/v1/trips/candidates", &envelope{Data: &candidates}); err != nil {
		return nil, err
	}
	return candidates, nil
}

// ClaimTrip claims a waiting trip. A lost race is already_taken and is never retried.
func (c *Client) ClaimTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	ctx, cancel := context.WithTimeout(ctx, ClaimTimeout)
	defer cancel()

	var trip *models.Trip
	err := c.api.PostJSON(ctx, "/v1/trips/"+id.String()+"/claim", nil, &envelope{Data: &trip})
	if err != nil {
		if apperror.IsKind(err, apperror.KindTimeout) {
			return nil, apperror.Wrap(apperror.KindNetworkError, "dispatchclient.ClaimTrip", err)
		}
		return nil, err
	}
	return trip, nil
}

// AdvanceTrip moves an assigned trip to its next status
func (c *Client) AdvanceTrip(ctx context.Context, id uuid.UUID, to models.TripStatus) (*models.Trip, error) {
	var trip *models.Trip
	req := models.AdvanceTripRequest{To: to}
	if err := c.api.PostJSON(ctx, "/v1/trips/"+id.String()+"/advance", req, &envelope{Data: &trip}); err != nil {
		return nil, err
	}
	return trip, nil
}

// CancelTrip cancels a trip with an optional reason
func (c *Client) CancelTrip(ctx context.Context, id uuid.UUID, reason string) (*models.Trip, error) {
	var trip *models.Trip
	req := models.CancelTripRequest{Reason: reason}
	if err := c.api.PostJSON(ctx, "/v1/trips/"+id.String()+"/cancel", req, &envelope{Data: &trip}); err != nil {
		return nil, err
	}
	return trip, nil
}

// UpdatePresence pushes a driver presence update
func (c *Client) UpdatePresence(ctx context.Context, req models.PresenceUpdateRequest) error {
	return c.api.PutJSON(ctx, "/v1/drivers/location", req, nil)
}

// PushLocation sends an emitted tracker point as an available-driver presence update
func (c *Client) PushLocation(ctx context.Context, loc models.Location) error {
	recordedAt := loc.RecordedAt
	req := models.PresenceUpdateRequest{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		AccuracyM: loc.AccuracyM,
	}
	if !recordedAt.IsZero() {
		req.RecordedAt = &recordedAt
	}
	if err := c.UpdatePresence(ctx, req); err != nil {
		return fmt.Errorf("push location: %w", err)
	}
	return nil
}

// Close closes the feed connection. Open subscriptions stop without an error callback.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.close()
}
