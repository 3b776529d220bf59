package orders

import (
	"context"
	"encoding/json"
	"fmt"

	"orderpipeline/internal/platform/kafka"
	"orderpipeline/internal/platform/observability"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// CorrelationHeader carries an opaque per-hop identifier used only for
// logging. Each publish mints a fresh one; ids are never propagated across a
// chain — end-to-end visibility comes from the trace context headers instead.
const CorrelationHeader = "correlation-id"

// Publisher serializes order events onto the orders topic. It is used both
// for workflow-advance publishes and for retry republishes.
type Publisher interface {
	Publish(ctx context.Context, eventName string, payload json.RawMessage, occurrences int) error
}

type KafkaPublisher struct {
	producer kafka.Producer
	logger   observability.Logger
}

func NewPublisher(producer kafka.Producer, logger observability.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		logger:   logger,
	}
}

// Publish builds the envelope and writes one message. The returned error is
// informational: callers log it and move on, they never retry the publish.
func (p *KafkaPublisher) Publish(ctx context.Context, eventName string, payload json.RawMessage, occurrences int) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	event := OrderEvent{
		EventName:   eventName,
		Payload:     payload,
		Occurrences: occurrences,
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("❌ Failed to serialize order event",
			zap.Error(err),
			zap.String("event_name", eventName),
		)
		return fmt.Errorf("serialize order event: %w", err)
	}

	correlationID := uuid.NewString()
	msg := kafkago.Message{
		Key:   []byte(correlationID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: CorrelationHeader, Value: []byte(correlationID)},
		},
	}

	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		p.logger.Error("❌ Failed to publish order event",
			zap.Error(err),
			zap.String("event_name", eventName),
			zap.String("correlation_id", correlationID),
		)
		return fmt.Errorf("publish order event: %w", err)
	}

	p.logger.Info("📤 Published order event",
		zap.String("event_name", eventName),
		zap.Int("occurrences", occurrences),
		zap.String("correlation_id", correlationID),
	)
	return nil
}

// MessageCorrelationID returns the correlation id header of an inbound
// message, or empty when the producer did not attach one.
func MessageCorrelationID(msg kafkago.Message) string {
	for _, header := range msg.Headers {
		if header.Key == CorrelationHeader {
			return string(header.Value)
		}
	}
	return ""
}
