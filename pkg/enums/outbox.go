package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateProduct OutboxAggregateType = "product"
	AggregateReturn  OutboxAggregateType = "return"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateProduct,
	AggregateReturn,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order.created"
	EventOrderPaid          OutboxEventType = "order.paid"
	EventOrderRecovered     OutboxEventType = "order.recovered"
	EventOrderCancelled     OutboxEventType = "order.cancelled"
	EventOrderExpired       OutboxEventType = "order.expired"
	EventOrderRefunded      OutboxEventType = "order.refunded"
	EventOrderShipped       OutboxEventType = "order.shipped"
	EventOrderDelivered     OutboxEventType = "order.delivered"
	EventReturnProcessed    OutboxEventType = "return.processed"
	EventRefundManualReview OutboxEventType = "refund.manual_review"
	EventProductRestocked   OutboxEventType = "product.restocked"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderRecovered,
	EventOrderCancelled,
	EventOrderExpired,
	EventOrderRefunded,
	EventOrderShipped,
	EventOrderDelivered,
	EventReturnProcessed,
	EventRefundManualReview,
	EventProductRestocked,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
