package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/oakline-backend/pkg/enums"
)

// ReturnRequest records goods coming back for an order. Its ID is the
// reference on RETURN ledger entries.
type ReturnRequest struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	Reason            string             `gorm:"column:reason;not null"`
	Status            enums.ReturnStatus `gorm:"column:status;type:return_status;not null"`
	RefundAmountCents int64              `gorm:"column:refund_amount_cents;not null;default:0"`
	AdminNotes        *string            `gorm:"column:admin_notes"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	Items             []ReturnItem       `gorm:"foreignKey:ReturnID"`
}

func (r *ReturnRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ReturnItem is one product line that came back, resellable or not. The sum
// over an order's returns bounds what can still be returned.
type ReturnItem struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ReturnID  uuid.UUID             `gorm:"column:return_id;type:uuid;not null;index"`
	ProductID uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	Quantity  int                   `gorm:"column:quantity;not null"`
	Condition enums.ReturnCondition `gorm:"column:item_condition;type:return_condition;not null"`
}

func (i *ReturnItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
