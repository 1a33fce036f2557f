package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/converter"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/models"
	natspkg "github.com/piresc/nebengjek-dispatch/internal/pkg/nats"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/retry"
	"github.com/piresc/nebengjek-dispatch/services/trips"
)

// AuditPublisher ships lifecycle audit records; satisfied by the NSQ producer
type AuditPublisher interface {
	Publish(topic string, message interface{}) error
}

// LocationStream ships accepted driver positions; satisfied by the Kafka producer
type LocationStream interface {
	PublishJSON(ctx context.Context, key string, value interface{}) error
}

// AuditRecord is one committed lifecycle write
type AuditRecord struct {
	TripID     string            `json:"trip_id"`
	Type       string            `json:"type"`
	From       models.TripStatus `json:"from,omitempty"`
	To         models.TripStatus `json:"to"`
	Version    int64             `json:"version"`
	ActorID    string            `json:"actor_id"`
	ActorRole  models.ActorRole  `json:"actor_role"`
	DriverID   string            `json:"driver_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// TripGW publishes trip changes on the NATS bus. The audit and location
// sinks are optional and best effort.
type TripGW struct {
	nats       *natspkg.Client
	audit      AuditPublisher
	auditTopic string
	locations  LocationStream
	retrier    *retry.Retrier
}

// NewTripGW creates the trip gateway. audit and locations may be nil.
func NewTripGW(natsClient *natspkg.Client, audit AuditPublisher, auditTopic string, locations LocationStream) trips.TripGW {
	if auditTopic == "" {
		auditTopic = constants.TopicTripAudit
	}
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.BaseDelay = 50 * time.Millisecond
	return &TripGW{
		nats:       natsClient,
		audit:      audit,
		auditTopic: auditTopic,
		locations:  locations,
		retrier:    retry.New(cfg, nil),
	}
}

// PublishTripUpdated publishes the full trip on trip.updated.{id}
func (g *TripGW) PublishTripUpdated(ctx context.Context, event models.TripEvent) error {
	const op = "gateway.PublishTripUpdated"
	if event.Trip == nil {
		return apperror.New(apperror.KindValidation, op, "event has no trip")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trip event: %w", err)
	}
	subject := fmt.Sprintf(constants.SubjectTripUpdated, event.Trip.ID)

	err = g.retrier.Execute(ctx, func(ctx context.Context) error {
		if err := g.nats.Publish(subject, data); err != nil {
			return apperror.Wrap(apperror.KindNetworkError, op, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.publishAudit(ctx, event)
	return nil
}

func (g *TripGW) publishAudit(ctx context.Context, event models.TripEvent) {
	if g.audit == nil {
		return
	}
	record := AuditRecord{
		TripID:     event.Trip.ID.String(),
		Type:       event.Type,
		From:       event.From,
		To:         event.Trip.Status,
		Version:    event.Trip.Version,
		ActorID:    event.Actor.ID.String(),
		ActorRole:  event.Actor.Role,
		DriverID:   converter.UUIDPtrToStr(event.Trip.AssignedDriverID),
		Reason:     event.Trip.CancelReason,
		OccurredAt: event.OccurredAt,
	}
	if err := g.audit.Publish(g.auditTopic, record); err != nil {
		logger.WarnCtx(ctx, "Failed to publish trip audit record",
			logger.String("trip_id", record.TripID),
			logger.Err(err))
	}
}

// PublishDriverLocation fans an accepted position out to NATS and the location stream
func (g *TripGW) PublishDriverLocation(ctx context.Context, presence models.DriverPresence) error {
	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal driver presence: %w", err)
	}
	if err := g.nats.Publish(constants.SubjectDriverLocation, data); err != nil {
		return apperror.Wrap(apperror.KindNetworkError, "gateway.PublishDriverLocation", err)
	}

	if g.locations != nil {
		if err := g.locations.PublishJSON(ctx, presence.DriverID.String(), presence); err != nil {
			logger.WarnCtx(ctx, "Failed to stream driver location",
				logger.String("driver_id", presence.DriverID.String()),
				logger.Err(err))
		}
	}
	return nil
}
