package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	natspkg "github.com/piresc/nebengjek-dispatch/internal/pkg/nats"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
)

// deliverTimeout bounds the re-queries one bus message may trigger
const deliverTimeout = 10 * time.Second

// Publisher fans a committed trip out to feed subscriptions; satisfied by *feed.Hub
type Publisher interface {
	Publish(ctx context.Context, trip *models.Trip)
}

// TripHandler feeds the change bus into the live feed
type TripHandler struct {
	publisher  Publisher
	natsClient *natspkg.Client
	subs       []*nats.Subscription
}

// NewTripHandler creates a new trip NATS handler
func NewTripHandler(publisher Publisher, client *natspkg.Client) *TripHandler {
	return &TripHandler{
		publisher:  publisher,
		natsClient: client,
		subs:       make([]*nats.Subscription, 0),
	}
}

// InitNATSConsumers subscribes to every trip change
func (h *TripHandler) InitNATSConsumers() error {
	sub, err := h.natsClient.Subscribe(constants.SubjectTripAll, func(msg *nats.Msg) {
		if err := h.handleTripUpdated(msg.Data); err != nil {
			logger.Error("Error handling trip update",
				logger.String("subject", msg.Subject),
				logger.String("payload", utils.Truncate(string(msg.Data), 256)),
				logger.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to trip updates: %w", err)
	}
	h.subs = append(h.subs, sub)
	return nil
}

// Close unsubscribes all consumers
func (h *TripHandler) Close() {
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("Failed to unsubscribe", logger.String("subject", sub.Subject), logger.Err(err))
		}
	}
	h.subs = h.subs[:0]
}

func (h *TripHandler) handleTripUpdated(data []byte) error {
	var event models.TripEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal trip event: %w", err)
	}
	if event.Trip == nil {
		return fmt.Errorf("trip event %q carries no trip", event.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	logger.Debug("Trip update received",
		logger.String("trip_id", event.Trip.ID.String()),
		logger.String("type", event.Type),
		logger.Int64("version", event.Trip.Version))

	h.publisher.Publish(ctx, event.Trip)
	return nil
}
