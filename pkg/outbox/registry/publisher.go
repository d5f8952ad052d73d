// Package registry resolves outbox rows into the topic and typed payload the
// publisher sends them with.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/oakline-backend/pkg/config"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	"github.com/angelmondragon/oakline-backend/pkg/outbox"
	"github.com/angelmondragon/oakline-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish; the dispatcher
// dead-letters it instead of backing off.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func payloadOf[T any]() func() any {
	return func() any { return new(T) }
}

// schema lists every event this service emits with the aggregate it belongs to.
var schema = map[enums.OutboxEventType]struct {
	aggregate enums.OutboxAggregateType
	payload   func() any
}{
	enums.EventOrderCreated:       {enums.AggregateOrder, payloadOf[payloads.OrderCreatedEvent]()},
	enums.EventOrderPaid:          {enums.AggregateOrder, payloadOf[payloads.OrderPaidEvent]()},
	enums.EventOrderRecovered:     {enums.AggregateOrder, payloadOf[payloads.OrderPaidEvent]()},
	enums.EventOrderCancelled:     {enums.AggregateOrder, payloadOf[payloads.OrderCancelledEvent]()},
	enums.EventOrderExpired:       {enums.AggregateOrder, payloadOf[payloads.OrderExpiredEvent]()},
	enums.EventOrderRefunded:      {enums.AggregateOrder, payloadOf[payloads.OrderRefundedEvent]()},
	enums.EventOrderShipped:       {enums.AggregateOrder, payloadOf[payloads.OrderShippedEvent]()},
	enums.EventOrderDelivered:     {enums.AggregateOrder, payloadOf[payloads.OrderDeliveredEvent]()},
	enums.EventRefundManualReview: {enums.AggregateOrder, payloadOf[payloads.RefundManualReviewEvent]()},
	enums.EventReturnProcessed:    {enums.AggregateReturn, payloadOf[payloads.ReturnProcessedEvent]()},
	enums.EventProductRestocked:   {enums.AggregateProduct, payloadOf[payloads.ProductRestockedEvent]()},
}

// NewEventRegistry routes every event to the domain topic. Consumers filter
// on the event_type attribute.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("domain topic is required")
	}
	entries := make(map[enums.OutboxEventType]EventDescriptor, len(schema))
	for eventType, s := range schema {
		entries[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  s.aggregate,
			Topic:          cfg.DomainTopic,
			PayloadFactory: s.payload,
		}
	}
	return &EventRegistry{entries: entries}, nil
}

func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the row itself is malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s envelope: %w", event.EventType, err))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
