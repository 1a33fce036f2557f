package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSErrorMessage represents an error message sent over WebSocket
type WSErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WatchRequest opens a feed subscription. SubscriptionID is chosen by the client.
type WatchRequest struct {
	SubscriptionID string     `json:"subscription_id"`
	TripID         *uuid.UUID `json:"trip_id,omitempty"`
}

// UnwatchRequest closes a feed subscription
type UnwatchRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// FeedSnapshot is the full result set delivered when a subscription opens or its query result changes
type FeedSnapshot struct {
	SubscriptionID string  `json:"subscription_id"`
	Trips          []*Trip `json:"trips"`
}

// FeedUpdate is a single-document change delivered to a subscription
type FeedUpdate struct {
	SubscriptionID string `json:"subscription_id"`
	Trip           *Trip  `json:"trip"`
}

// FeedError reports a subscription failure
type FeedError struct {
	SubscriptionID string `json:"subscription_id"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}
