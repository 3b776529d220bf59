package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProducer struct {
	written []kafkago.Message
	err     error
}

func (p *fakeProducer) WriteMessage(ctx context.Context, msg kafkago.Message) error {
	p.written = append(p.written, msg)
	return p.err
}

func (p *fakeProducer) Close() error { return nil }

func TestPublish_BuildsEnvelope(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, zap.NewNop())

	err := p.Publish(context.Background(), EventMakeLemonade, json.RawMessage(`{"sugarSpoons":2}`), 1)
	require.NoError(t, err)
	require.Len(t, producer.written, 1)

	var event OrderEvent
	require.NoError(t, json.Unmarshal(producer.written[0].Value, &event))
	assert.Equal(t, EventMakeLemonade, event.EventName)
	assert.JSONEq(t, `{"sugarSpoons":2}`, string(event.Payload))
	assert.Equal(t, 1, event.Occurrences)
}

func TestPublish_EmptyPayloadDefaultsToObject(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), EventDeliverBill, nil, 1))

	var event OrderEvent
	require.NoError(t, json.Unmarshal(producer.written[0].Value, &event))
	assert.JSONEq(t, `{}`, string(event.Payload))
}

func TestPublish_MintsFreshCorrelationID(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), EventMakeLemonade, json.RawMessage(`{"sugarSpoons":1}`), 1))
	require.NoError(t, p.Publish(context.Background(), EventMakeLemonade, json.RawMessage(`{"sugarSpoons":1}`), 2))

	first := MessageCorrelationID(producer.written[0])
	second := MessageCorrelationID(producer.written[1])
	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	// Ids are per hop, never reused across publishes.
	assert.NotEqual(t, first, second)
}

func TestPublish_TransportFailureSurfacesAsError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	p := NewPublisher(producer, zap.NewNop())

	err := p.Publish(context.Background(), EventMakePizza, json.RawMessage(`{"name":"Margherita"}`), 2)
	assert.Error(t, err)
	// The attempt still went to the transport exactly once.
	assert.Len(t, producer.written, 1)
}

func TestMessageCorrelationID_MissingHeader(t *testing.T) {
	assert.Empty(t, MessageCorrelationID(kafkago.Message{}))
}
