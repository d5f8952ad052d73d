package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/oakline-backend/pkg/enums"
)

// InventoryTransaction is an append-only stock ledger entry. Quantity is
// negative for SALE and non-negative otherwise.
type InventoryTransaction struct {
	ID          uuid.UUID                      `gorm:"column:id;type:uuid;primaryKey"`
	ProductID   uuid.UUID                      `gorm:"column:product_id;type:uuid;not null;index"`
	Type        enums.InventoryTransactionType `gorm:"column:type;type:inventory_transaction_type;not null"`
	Quantity    int                            `gorm:"column:quantity;not null"`
	ReferenceID uuid.UUID                      `gorm:"column:reference_id;type:uuid;not null;index"`
	UnitCost    *decimal.Decimal               `gorm:"column:unit_cost;type:numeric(12,2)"`
	UnitPrice   *decimal.Decimal               `gorm:"column:unit_price;type:numeric(12,2)"`
	Reason      string                         `gorm:"column:reason;not null"`
	CreatedAt   time.Time                      `gorm:"column:created_at;autoCreateTime"`
}

func (t *InventoryTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
