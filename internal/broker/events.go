package broker

import (
	"context"
	"encoding/json"
	"time"

	"bookshop-service/internal/models"
	"bookshop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher emits analytics facts to the event stream. It is strictly
// fire-and-forget: publish failures are logged and swallowed so analytics can
// never break the flow that emitted them.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, logger: util.GetLogger()}
}

// Track publishes one analytics fact.
func (ep *EventPublisher) Track(ctx context.Context, eventType string, metadata map[string]interface{}) {
	var rawMeta json.RawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			ep.logger.Error("Failed to marshal event metadata",
				zap.String("type", eventType), zap.Error(err))
			return
		}
		rawMeta = b
	}

	event := models.TrackedEvent{
		EventID:   uuid.New().String(),
		Type:      eventType,
		Metadata:  rawMeta,
		Timestamp: time.Now(),
	}

	if err := ep.producer.PublishEvent(ctx, eventType, event); err != nil {
		ep.logger.Error("Failed to publish analytics event",
			zap.String("type", eventType), zap.Error(err))
	}
}
