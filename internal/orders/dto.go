package orders

import (
	"time"

	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItemView is an order line as returned by the API.
type OrderItemView struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Image     *string         `json:"image,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// PaymentView is the recorded payment, if any.
type PaymentView struct {
	ID            uuid.UUID           `json:"id"`
	AmountCents   int64               `json:"amount_cents"`
	Currency      string              `json:"currency"`
	Provider      string              `json:"provider"`
	Status        enums.PaymentStatus `json:"status"`
	TransactionID string              `json:"transaction_id"`
	CreatedAt     time.Time           `json:"created_at"`
}

// OrderDetail is the API view of an order with items and payment.
type OrderDetail struct {
	ID            uuid.UUID           `json:"id"`
	UserID        string              `json:"user_id"`
	Email         string              `json:"email"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	AmountCents   int64               `json:"amount_cents"`
	Currency      string              `json:"currency"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	CancelledAt   *time.Time          `json:"cancelled_at,omitempty"`
	RefundedAt    *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	Items         []OrderItemView     `json:"items"`
	Payment       *PaymentView        `json:"payment,omitempty"`
}

func NewOrderDetail(order models.Order) OrderDetail {
	detail := OrderDetail{
		ID:            order.ID,
		UserID:        order.UserID,
		Email:         order.Email,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		AmountCents:   order.AmountCents,
		Currency:      order.Currency,
		PaidAt:        order.PaidAt,
		CancelledAt:   order.CancelledAt,
		RefundedAt:    order.RefundedAt,
		CreatedAt:     order.CreatedAt,
		Items:         make([]OrderItemView, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		detail.Items = append(detail.Items, OrderItemView{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	if p := order.Payment; p != nil {
		detail.Payment = &PaymentView{
			ID:            p.ID,
			AmountCents:   p.AmountCents,
			Currency:      p.Currency,
			Provider:      p.Provider,
			Status:        p.Status,
			TransactionID: p.TransactionID,
			CreatedAt:     p.CreatedAt,
		}
	}
	return detail
}

// InventoryItems converts order lines into inventory items.
func InventoryItems(order models.Order) []inventory.Item {
	items := make([]inventory.Item, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, inventory.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}

// ShipmentLine requests quantity units of one order item.
type ShipmentLine struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required"`
	Quantity    int       `json:"quantity" validate:"required,min=1"`
}

// ShipmentInput records a parcel. An empty Items ships everything left.
type ShipmentInput struct {
	OrderID        uuid.UUID
	Carrier        string
	TrackingNumber string
	Items          []ShipmentLine
}

// ShipmentResult reports the new shipment and the order's status after it.
type ShipmentResult struct {
	ShipmentID uuid.UUID         `json:"shipment_id"`
	Status     enums.OrderStatus `json:"status"`
	Shipped    int               `json:"shipped_units"`
	Remaining  int               `json:"remaining_units"`
}
