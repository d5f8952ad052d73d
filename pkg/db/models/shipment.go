package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Shipment struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID      `gorm:"column:order_id;type:uuid;not null;index"`
	Carrier        string         `gorm:"column:carrier;not null"`
	TrackingNumber string         `gorm:"column:tracking_number;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	Items          []ShipmentItem `gorm:"foreignKey:ShipmentID"`
}

func (s *Shipment) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type ShipmentItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ShipmentID  uuid.UUID `gorm:"column:shipment_id;type:uuid;not null;index"`
	OrderItemID uuid.UUID `gorm:"column:order_item_id;type:uuid;not null"`
	Quantity    int       `gorm:"column:quantity;not null"`
}

func (i *ShipmentItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
