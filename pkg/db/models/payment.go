package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/oakline-backend/pkg/enums"
)

// Payment is created once per confirmed order and never updated afterwards,
// apart from the refund bookkeeping on Status.
type Payment struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex:payments_order_id_key"`
	AmountCents   int64               `gorm:"column:amount_cents;not null"`
	Currency      string              `gorm:"column:currency;not null"`
	Provider      string              `gorm:"column:provider;not null"`
	Status        enums.PaymentStatus `gorm:"column:status;type:payment_status;not null"`
	TransactionID string              `gorm:"column:transaction_id;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
