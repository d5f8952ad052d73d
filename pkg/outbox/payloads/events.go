package payloads

import (
	"time"

	"github.com/angelmondragon/oakline-backend/pkg/enums"
	"github.com/google/uuid"
)

// OrderItemLine is the line summary carried by order events.
type OrderItemLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// OrderCreatedEvent is emitted once stock is reserved for a new order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      string          `json:"user_id"`
	AmountCents int64           `json:"amount_cents"`
	Currency    string          `json:"currency"`
	Items       []OrderItemLine `json:"items"`
}

// OrderPaidEvent is emitted when a payment is confirmed, including zombie recoveries.
type OrderPaidEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentID       uuid.UUID `json:"payment_id"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Recovered       bool      `json:"recovered"`
	PaidAt          time.Time `json:"paid_at"`
}

// OrderCancelledEvent is emitted when a pending order is abandoned.
type OrderCancelledEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	Reason        string              `json:"reason"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	CancelledAt   time.Time           `json:"cancelled_at"`
}

// OrderExpiredEvent is emitted by the expiry sweep.
type OrderExpiredEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiredAt time.Time `json:"expired_at"`
}

// OrderRefundedEvent is emitted when money goes back to the customer.
type OrderRefundedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	AmountCents   int64               `json:"amount_cents"`
	RefundID      string              `json:"refund_id,omitempty"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Reason        string              `json:"reason"`
	RefundedAt    time.Time           `json:"refunded_at"`
}

// OrderShippedEvent is emitted for every shipment.
type OrderShippedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	ShipmentID     uuid.UUID         `json:"shipment_id"`
	Carrier        string            `json:"carrier"`
	TrackingNumber string            `json:"tracking_number"`
	Status         enums.OrderStatus `json:"status"`
}

// OrderDeliveredEvent is emitted when the carrier confirms delivery.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// ReturnProcessedEvent summarises a completed return.
type ReturnProcessedEvent struct {
	ReturnID   uuid.UUID `json:"return_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Restocked  int       `json:"restocked_units"`
	WrittenOff int       `json:"written_off_units"`
}

// RefundManualReviewEvent flags a refund that needs a human.
type RefundManualReviewEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	AmountCents     int64     `json:"amount_cents"`
	Error           string    `json:"error"`
}

// ProductRestockedEvent is emitted for manual restocks.
type ProductRestockedEvent struct {
	ProductID     uuid.UUID `json:"product_id"`
	BatchID       uuid.UUID `json:"batch_id"`
	Quantity      int       `json:"quantity"`
	StockQuantity int       `json:"stock_quantity"`
}
