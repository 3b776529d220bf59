package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"orderpipeline/internal/orders/review"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type fakeFulfillment struct {
	lemonadeVerdict Verdict
	lemonadeResp    LemonadeResponse
	lemonadeCalls   int
	lastLemonade    LemonadeRequest

	pizzaVerdict Verdict
	pizzaResp    PizzaResponse
	pizzaCalls   int
	lastPizza    PizzaRequest

	billErr   error
	billCalls int
}

func (f *fakeFulfillment) CreateLemonade(ctx context.Context, req LemonadeRequest) (Verdict, LemonadeResponse) {
	f.lemonadeCalls++
	f.lastLemonade = req
	return f.lemonadeVerdict, f.lemonadeResp
}

func (f *fakeFulfillment) CreatePizza(ctx context.Context, req PizzaRequest) (Verdict, PizzaResponse) {
	f.pizzaCalls++
	f.lastPizza = req
	return f.pizzaVerdict, f.pizzaResp
}

func (f *fakeFulfillment) DeliverBill(ctx context.Context) error {
	f.billCalls++
	return f.billErr
}

func (f *fakeFulfillment) totalCalls() int {
	return f.lemonadeCalls + f.pizzaCalls + f.billCalls
}

type publishedEvent struct {
	eventName   string
	payload     json.RawMessage
	occurrences int
}

type fakePublisher struct {
	published []publishedEvent
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, eventName string, payload json.RawMessage, occurrences int) error {
	p.published = append(p.published, publishedEvent{eventName: eventName, payload: payload, occurrences: occurrences})
	return p.err
}

type fakeReviewStore struct {
	saved []review.FailedOrder
	err   error
}

func (s *fakeReviewStore) Save(ctx context.Context, failed review.FailedOrder) error {
	s.saved = append(s.saved, failed)
	return s.err
}

func newTestOrchestrator(f *fakeFulfillment, p *fakePublisher, r *fakeReviewStore) *Orchestrator {
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewOrchestrator(f, p, r, zap.NewNop(), tracer)
}

func eventMessage(t *testing.T, eventName string, payload string, occurrences int) kafkago.Message {
	t.Helper()
	value, err := json.Marshal(OrderEvent{
		EventName:   eventName,
		Payload:     json.RawMessage(payload),
		Occurrences: occurrences,
	})
	require.NoError(t, err)
	return kafkago.Message{Value: value}
}

func TestOrchestrate_LemonadeSuccessAdvancesToPizza(t *testing.T) {
	fulfillment := &fakeFulfillment{
		lemonadeVerdict: SuccessVerdict(200),
		lemonadeResp:    LemonadeResponse{IsSuccessful: true, SecretIngredient: "Mushrooms"},
	}
	publisher := &fakePublisher{}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	o.Orchestrate(context.Background(), eventMessage(t, EventMakeLemonade, `{"sugarSpoons":2}`, 0))

	assert.Equal(t, 1, fulfillment.lemonadeCalls)
	assert.Equal(t, 2, fulfillment.lastLemonade.SugarSpoons)

	require.Len(t, publisher.published, 1)
	next := publisher.published[0]
	assert.Equal(t, EventMakePizza, next.eventName)
	assert.Equal(t, 1, next.occurrences)

	var pizza PizzaRequest
	require.NoError(t, json.Unmarshal(next.payload, &pizza))
	assert.Equal(t, "Margherita", pizza.Name)
	assert.Equal(t, []string{"Mushrooms"}, pizza.Ingredients)

	assert.Empty(t, reviewStore.saved)
}

func TestOrchestrate_LemonadeRetryableFailureRepublishes(t *testing.T) {
	fulfillment := &fakeFulfillment{
		lemonadeVerdict: RetryableVerdict(503, "fulfillment service failure", ""),
	}
	publisher := &fakePublisher{}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	o.Orchestrate(context.Background(), eventMessage(t, EventMakeLemonade, `{"sugarSpoons":2}`, 0))

	require.Len(t, publisher.published, 1)
	retry := publisher.published[0]
	assert.Equal(t, EventMakeLemonade, retry.eventName)
	assert.JSONEq(t, `{"sugarSpoons":2}`, string(retry.payload))
	assert.Equal(t, 1, retry.occurrences)
	assert.Empty(t, reviewStore.saved)
}

func TestOrchestrate_RetryCarriesIncrementedCounter(t *testing.T) {
	fulfillment := &fakeFulfillment{
		pizzaVerdict: RetryableVerdict(500, "fulfillment service failure", ""),
	}
	publisher := &fakePublisher{}
	o := newTestOrchestrator(fulfillment, publisher, &fakeReviewStore{})

	o.Orchestrate(context.Background(), eventMessage(t, EventMakePizza, `{"name":"Margherita","ingredients":["Mushrooms"]}`, 2))

	require.Len(t, publisher.published, 1)
	assert.Equal(t, EventMakePizza, publisher.published[0].eventName)
	assert.Equal(t, 3, publisher.published[0].occurrences)
}

func TestOrchestrate_RetryBudgetExhaustedDropsWithoutSideEffects(t *testing.T) {
	for _, occurrences := range []int{3, 4} {
		fulfillment := &fakeFulfillment{lemonadeVerdict: SuccessVerdict(200)}
		publisher := &fakePublisher{}
		reviewStore := &fakeReviewStore{}
		o := newTestOrchestrator(fulfillment, publisher, reviewStore)

		o.Orchestrate(context.Background(), eventMessage(t, EventMakeLemonade, `{"sugarSpoons":2}`, occurrences))

		assert.Zero(t, fulfillment.totalCalls(), "occurrences=%d", occurrences)
		assert.Empty(t, publisher.published, "occurrences=%d", occurrences)
		assert.Empty(t, reviewStore.saved, "occurrences=%d", occurrences)
	}
}

func TestOrchestrate_PizzaSuccessPublishesBill(t *testing.T) {
	fulfillment := &fakeFulfillment{
		pizzaVerdict: SuccessVerdict(200),
		pizzaResp:    PizzaResponse{IsSuccessful: true},
	}
	publisher := &fakePublisher{}
	o := newTestOrchestrator(fulfillment, publisher, &fakeReviewStore{})

	o.Orchestrate(context.Background(), eventMessage(t, EventMakePizza, `{"name":"Margherita","ingredients":["Mushrooms"]}`, 0))

	assert.Equal(t, 1, fulfillment.pizzaCalls)
	assert.Equal(t, "Margherita", fulfillment.lastPizza.Name)

	require.Len(t, publisher.published, 1)
	bill := publisher.published[0]
	assert.Equal(t, EventDeliverBill, bill.eventName)
	assert.JSONEq(t, `{}`, string(bill.payload))
	assert.Equal(t, 1, bill.occurrences)
}

func TestOrchestrate_DeliverBillIsTerminal(t *testing.T) {
	fulfillment := &fakeFulfillment{}
	publisher := &fakePublisher{}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	o.Orchestrate(context.Background(), eventMessage(t, EventDeliverBill, `{}`, 0))

	assert.Equal(t, 1, fulfillment.billCalls)
	assert.Empty(t, publisher.published)
	assert.Empty(t, reviewStore.saved)
}

func TestOrchestrate_DeliverBillFailureOnlyLogs(t *testing.T) {
	fulfillment := &fakeFulfillment{billErr: errors.New("billing unreachable")}
	publisher := &fakePublisher{}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	o.Orchestrate(context.Background(), eventMessage(t, EventDeliverBill, `{}`, 0))

	assert.Equal(t, 1, fulfillment.billCalls)
	assert.Empty(t, publisher.published)
	assert.Empty(t, reviewStore.saved)
}

func TestOrchestrate_NonRetryableFailureParksForReview(t *testing.T) {
	fulfillment := &fakeFulfillment{
		lemonadeVerdict: PermanentVerdict(400, "fulfillment rejected request", `{"error":"too sweet"}`),
	}
	publisher := &fakePublisher{}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	o.Orchestrate(context.Background(), eventMessage(t, EventMakeLemonade, `{"sugarSpoons":2}`, 1))

	assert.Empty(t, publisher.published)
	require.Len(t, reviewStore.saved, 1)
	failed := reviewStore.saved[0]
	assert.Equal(t, EventMakeLemonade, failed.EventName)
	assert.Equal(t, 2, failed.Occurrences)
	assert.Equal(t, 400, failed.StatusCode)
	assert.JSONEq(t, `{"sugarSpoons":2}`, failed.Payload)
}

func TestOrchestrate_MalformedEnvelopeDropped(t *testing.T) {
	fulfillment := &fakeFulfillment{}
	publisher := &fakePublisher{}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	o.Orchestrate(context.Background(), kafkago.Message{Value: []byte(`not json at all`)})
	o.Orchestrate(context.Background(), kafkago.Message{Value: []byte(`{"payload":{},"occurrences":0}`)})

	assert.Zero(t, fulfillment.totalCalls())
	assert.Empty(t, publisher.published)
	assert.Empty(t, reviewStore.saved)
}

func TestOrchestrate_MalformedPayloadDropped(t *testing.T) {
	fulfillment := &fakeFulfillment{lemonadeVerdict: SuccessVerdict(200)}
	publisher := &fakePublisher{}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	// sugarSpoons missing entirely
	o.Orchestrate(context.Background(), eventMessage(t, EventMakeLemonade, `{}`, 0))
	// payload is the wrong shape
	o.Orchestrate(context.Background(), eventMessage(t, EventMakeLemonade, `["nope"]`, 0))

	assert.Zero(t, fulfillment.totalCalls())
	assert.Empty(t, publisher.published)
	assert.Empty(t, reviewStore.saved)
}

func TestOrchestrate_UnknownEventDropped(t *testing.T) {
	fulfillment := &fakeFulfillment{}
	publisher := &fakePublisher{}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	o.Orchestrate(context.Background(), eventMessage(t, "MAKE_SUSHI", `{}`, 0))

	assert.Zero(t, fulfillment.totalCalls())
	assert.Empty(t, publisher.published)
	assert.Empty(t, reviewStore.saved)
}

func TestOrchestrate_AdvancePublishFailureParksForReview(t *testing.T) {
	fulfillment := &fakeFulfillment{
		lemonadeVerdict: SuccessVerdict(200),
		lemonadeResp:    LemonadeResponse{IsSuccessful: true, SecretIngredient: "Basil"},
	}
	publisher := &fakePublisher{err: errors.New("broker down")}
	reviewStore := &fakeReviewStore{}
	o := newTestOrchestrator(fulfillment, publisher, reviewStore)

	o.Orchestrate(context.Background(), eventMessage(t, EventMakeLemonade, `{"sugarSpoons":2}`, 0))

	// One publish attempt, no retry of the publish itself.
	require.Len(t, publisher.published, 1)
	require.Len(t, reviewStore.saved, 1)
	assert.Equal(t, EventMakePizza, reviewStore.saved[0].EventName)
	assert.Contains(t, reviewStore.saved[0].Reason, "publish failed")
}
