package orders

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names form the closed routing vocabulary carried on the queue.
// Anything else is dropped as unknown.
const (
	EventMakeLemonade = "MAKE_LEMONADE"
	EventMakePizza    = "MAKE_PIZZA"
	EventDeliverBill  = "DELIVER_BILL"
)

// DefaultPizzaName is the pizza ordered when a lemonade step advances the
// workflow.
const DefaultPizzaName = "Margherita"

// OrderEvent is the envelope carried on the orders topic. A retry is a brand
// new event with the same name and payload and an incremented counter, not a
// broker-level redelivery of the original message.
type OrderEvent struct {
	EventName   string          `json:"eventName"`
	Payload     json.RawMessage `json:"payload"`
	Occurrences int             `json:"occurrences"`
}

// DecodeOrderEvent parses a raw queue message into an envelope.
func DecodeOrderEvent(raw []byte) (OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	if event.EventName == "" {
		return OrderEvent{}, errors.New("decode order event: missing eventName")
	}
	return event, nil
}

type LemonadeRequest struct {
	SugarSpoons int `json:"sugarSpoons"`
}

func (r LemonadeRequest) Validate() error {
	if r.SugarSpoons <= 0 {
		return errors.New("sugarSpoons must be positive")
	}
	return nil
}

type LemonadeResponse struct {
	IsSuccessful     bool   `json:"isSuccessful"`
	SecretIngredient string `json:"secretIngredient"`
}

type PizzaRequest struct {
	Name        string   `json:"name"`
	Ingredients []string `json:"ingredients"`
}

func (r PizzaRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

type PizzaResponse struct {
	IsSuccessful bool `json:"isSuccessful"`
}
