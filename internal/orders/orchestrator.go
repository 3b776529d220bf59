package orders

import (
	"context"
	"encoding/json"

	"orderpipeline/internal/config"
	"orderpipeline/internal/orders/review"
	"orderpipeline/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Orchestrator turns one raw queue message into zero or more new queue
// messages and at most one fulfillment side effect. No failure crosses this
// boundary: every error path ends in a log line, a republish or a
// manual-review row, which is what makes per-message isolation in the drainer
// effective.
type Orchestrator struct {
	fulfillment FulfillmentClient
	publisher   Publisher
	review      review.Store
	logger      observability.Logger
	tracer      observability.Tracer
}

func NewOrchestrator(
	fulfillment FulfillmentClient,
	publisher Publisher,
	reviewStore review.Store,
	logger observability.Logger,
	tracer observability.Tracer,
) *Orchestrator {
	return &Orchestrator{
		fulfillment: fulfillment,
		publisher:   publisher,
		review:      reviewStore,
		logger:      logger,
		tracer:      tracer,
	}
}

// Orchestrate handles one raw queue message: decode, gate on the retry
// budget, increment the attempt counter, route by event name and act on the
// fulfillment verdict.
//
// The budget gate runs before the increment: events entering at occurrences
// 0, 1 and 2 are dispatched, an event arriving at 3 is discarded. A logical
// event therefore gets at most three handler dispatches; the republish after
// the third attempt carries occurrences 3 and dies at the gate on arrival.
func (o *Orchestrator) Orchestrate(ctx context.Context, msg kafkago.Message) {
	msgCtx := o.extractTraceContext(ctx, msg.Headers)

	event, err := DecodeOrderEvent(msg.Value)
	if err != nil {
		o.logger.Error("❌ Undecodable order event dropped",
			zap.Error(err),
			zap.ByteString("raw_value", msg.Value),
		)
		return
	}

	if event.Occurrences >= config.MaxOccurrences {
		o.logger.Warn("Order event exhausted its retry budget, dropping",
			zap.String("event_name", event.EventName),
			zap.Int("occurrences", event.Occurrences),
		)
		return
	}
	event.Occurrences++

	msgCtx, span := o.tracer.Start(msgCtx, "orchestrate_order_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.event_name", event.EventName),
		attribute.Int("order.occurrences", event.Occurrences),
	)

	switch event.EventName {
	case EventMakeLemonade:
		o.handleMakeLemonade(msgCtx, span, event)
	case EventMakePizza:
		o.handleMakePizza(msgCtx, span, event)
	case EventDeliverBill:
		o.handleDeliverBill(msgCtx, span)
	default:
		span.SetStatus(codes.Error, "unknown event name")
		o.logger.Warn("Unknown order event dropped",
			zap.String("event_name", event.EventName),
		)
	}
}

func (o *Orchestrator) handleMakeLemonade(ctx context.Context, span trace.Span, event OrderEvent) {
	var req LemonadeRequest
	if !o.decodePayload(event, &req) {
		return
	}

	verdict, resp := o.fulfillment.CreateLemonade(ctx, req)
	switch {
	case verdict.Successful:
		span.SetStatus(codes.Ok, "lemonade created")
		o.logger.Info("✅ Lemonade created",
			zap.String("secret_ingredient", resp.SecretIngredient),
		)
		// The secret ingredient flows from the lemonade response into the
		// pizza that follows it.
		next := PizzaRequest{
			Name:        DefaultPizzaName,
			Ingredients: []string{resp.SecretIngredient},
		}
		o.advance(ctx, span, EventMakePizza, next)
	case verdict.Retryable:
		o.retry(ctx, span, event, verdict)
	default:
		o.sendToReview(ctx, span, event, verdict)
	}
}

func (o *Orchestrator) handleMakePizza(ctx context.Context, span trace.Span, event OrderEvent) {
	var req PizzaRequest
	if !o.decodePayload(event, &req) {
		return
	}

	verdict, _ := o.fulfillment.CreatePizza(ctx, req)
	switch {
	case verdict.Successful:
		span.SetStatus(codes.Ok, "pizza created")
		o.logger.Info("✅ Pizza created", zap.String("pizza", req.Name))
		o.advance(ctx, span, EventDeliverBill, nil)
	case verdict.Retryable:
		o.retry(ctx, span, event, verdict)
	default:
		o.sendToReview(ctx, span, event, verdict)
	}
}

// handleDeliverBill is the terminal workflow step: fire and forget, no
// verdict branching and no further publish.
func (o *Orchestrator) handleDeliverBill(ctx context.Context, span trace.Span) {
	if err := o.fulfillment.DeliverBill(ctx); err != nil {
		span.SetStatus(codes.Error, "bill delivery failed")
		o.logger.Error("❌ Bill delivery failed", zap.Error(err))
		return
	}
	span.SetStatus(codes.Ok, "bill delivered")
	o.logger.Info("✅ Bill delivered, order chain complete")
}

func (o *Orchestrator) decodePayload(event OrderEvent, dst interface{ Validate() error }) bool {
	err := json.Unmarshal(event.Payload, dst)
	if err == nil {
		err = dst.Validate()
	}
	if err != nil {
		o.logger.Error("❌ Undecodable order payload dropped",
			zap.Error(err),
			zap.String("event_name", event.EventName),
			zap.ByteString("payload", event.Payload),
		)
		return false
	}
	return true
}

// advance publishes the next workflow step with a fresh attempt counter. A
// nil payload publishes the empty object.
func (o *Orchestrator) advance(ctx context.Context, span trace.Span, eventName string, payload any) {
	raw := json.RawMessage("{}")
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			span.SetStatus(codes.Error, "serialize next step")
			o.logger.Error("❌ Failed to serialize next workflow step",
				zap.Error(err),
				zap.String("event_name", eventName),
			)
			return
		}
	}

	if err := o.publisher.Publish(ctx, eventName, raw, config.PublishedOccurrences); err != nil {
		// The publish is never retried; park the step for manual review so
		// the chain is not silently lost.
		span.SetStatus(codes.Error, "publish next step")
		o.saveFailed(ctx, OrderEvent{
			EventName:   eventName,
			Payload:     raw,
			Occurrences: config.PublishedOccurrences,
		}, "publish failed: "+err.Error(), 0)
	}
}

// retry republishes the same event with the already-incremented counter.
func (o *Orchestrator) retry(ctx context.Context, span trace.Span, event OrderEvent, verdict Verdict) {
	span.SetStatus(codes.Error, "retryable fulfillment failure")
	o.logger.Warn("Retryable fulfillment failure, republishing",
		zap.String("event_name", event.EventName),
		zap.Int("occurrences", event.Occurrences),
		zap.Int("status_code", verdict.StatusCode),
		zap.String("error_message", verdict.ErrorMessage),
	)

	if err := o.publisher.Publish(ctx, event.EventName, event.Payload, event.Occurrences); err != nil {
		o.saveFailed(ctx, event, "retry publish failed: "+err.Error(), verdict.StatusCode)
	}
}

func (o *Orchestrator) sendToReview(ctx context.Context, span trace.Span, event OrderEvent, verdict Verdict) {
	span.SetStatus(codes.Error, "non-retryable fulfillment failure")
	o.logger.Error("❌ Non-retryable fulfillment failure, parking for manual review",
		zap.String("event_name", event.EventName),
		zap.Int("status_code", verdict.StatusCode),
		zap.String("error_message", verdict.ErrorMessage),
		zap.String("response_body", verdict.ResponseBody),
	)
	o.saveFailed(ctx, event, verdict.ErrorMessage, verdict.StatusCode)
}

func (o *Orchestrator) saveFailed(ctx context.Context, event OrderEvent, reason string, statusCode int) {
	failed := review.FailedOrder{
		EventName:   event.EventName,
		Payload:     string(event.Payload),
		Occurrences: event.Occurrences,
		Reason:      reason,
		StatusCode:  statusCode,
	}
	if err := o.review.Save(ctx, failed); err != nil {
		o.logger.Error("❌ Failed to save order for manual review",
			zap.Error(err),
			zap.String("event_name", event.EventName),
		)
	}
}

// extractTraceContext extracts OpenTelemetry trace context from Kafka message headers
func (o *Orchestrator) extractTraceContext(ctx context.Context, headers []kafkago.Header) context.Context {
	propagator := otel.GetTextMapPropagator()
	carrier := propagation.MapCarrier{}

	for _, header := range headers {
		carrier[string(header.Key)] = string(header.Value)
	}

	return propagator.Extract(ctx, carrier)
}
