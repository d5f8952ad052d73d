package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/oakline-backend/internal/notifications"
	"github.com/angelmondragon/oakline-backend/pkg/db"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/outbox"
	"github.com/angelmondragon/oakline-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service covers order reads and the fulfillment transitions after payment.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Allocate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CreateShipment(ctx context.Context, input ShipmentInput) (*ShipmentResult, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type service struct {
	repo     Repository
	tx       db.TxRunner
	outbox   outbox.Emitter
	notifier notifications.Notifier
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx db.TxRunner, emitter outbox.Emitter, notifier notifications.Notifier) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	return &service{repo: repo, tx: tx, outbox: emitter, notifier: notifier}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return order, nil
}

func (s *service) Allocate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.move(ctx, id, enums.OrderStatusAllocated, nil, nil)
}

func (s *service) MarkDelivered(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.move(ctx, id, enums.OrderStatusDelivered, nil, func(tx *gorm.DB, order *models.Order) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data:          payloads.OrderDeliveredEvent{OrderID: order.ID, DeliveredAt: time.Now().UTC()},
		})
	})
}

// move applies a single status transition under a row lock.
func (s *service) move(ctx context.Context, id uuid.UUID, to enums.OrderStatus, updates map[string]any, after func(tx *gorm.DB, order *models.Order) error) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, id)
		if err != nil {
			return mapLoadError(err)
		}
		result = order
		if order.Status == to {
			return nil
		}
		if err := CheckTransition(order.Status, to); err != nil {
			return err
		}
		ok, err := repo.TransitionStatus(ctx, order.ID, order.Status, to, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
		}
		order.Status = to
		if after != nil {
			return after(tx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) CreateShipment(ctx context.Context, input ShipmentInput) (*ShipmentResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	carrier := strings.TrimSpace(input.Carrier)
	tracking := strings.TrimSpace(input.TrackingNumber)
	if carrier == "" || tracking == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier and tracking number are required")
	}

	var (
		result   *ShipmentResult
		order    *models.Order
		shipment *models.Shipment
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = repo.LockByID(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}
		if !Shippable(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in status %s cannot be shipped", order.Status))
		}

		shipped, err := repo.ShippedQuantities(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipped quantities")
		}
		lines, err := planShipment(*order, shipped, input.Items)
		if err != nil {
			return err
		}

		shipment = &models.Shipment{OrderID: order.ID, Carrier: carrier, TrackingNumber: tracking}
		units := 0
		for _, line := range lines {
			shipment.Items = append(shipment.Items, models.ShipmentItem{OrderItemID: line.OrderItemID, Quantity: line.Quantity})
			shipped[line.OrderItemID] += line.Quantity
			units += line.Quantity
		}
		if err := repo.CreateShipment(ctx, shipment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
		}

		remaining := 0
		for _, item := range order.Items {
			if left := item.Quantity - shipped[item.ID]; left > 0 {
				remaining += left
			}
		}
		next := enums.OrderStatusPartiallyShipped
		if remaining == 0 {
			next = enums.OrderStatusShipped
		}
		if next != order.Status {
			ok, err := repo.TransitionStatus(ctx, order.ID, order.Status, next, nil)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
			}
			order.Status = next
		}

		result = &ShipmentResult{ShipmentID: shipment.ID, Status: next, Shipped: units, Remaining: remaining}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderShippedEvent{
				OrderID:        order.ID,
				ShipmentID:     shipment.ID,
				Carrier:        carrier,
				TrackingNumber: tracking,
				Status:         next,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.OrderShipped(ctx, *order, *shipment)
	return result, nil
}

// planShipment validates requested lines against what is still unshipped.
func planShipment(order models.Order, shipped map[uuid.UUID]int, requested []ShipmentLine) ([]ShipmentLine, error) {
	ordered := make(map[uuid.UUID]int, len(order.Items))
	for _, item := range order.Items {
		ordered[item.ID] = item.Quantity
	}

	if len(requested) == 0 {
		var lines []ShipmentLine
		for _, item := range order.Items {
			if left := item.Quantity - shipped[item.ID]; left > 0 {
				lines = append(lines, ShipmentLine{OrderItemID: item.ID, Quantity: left})
			}
		}
		if len(lines) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has nothing left to ship")
		}
		return lines, nil
	}

	merged := make(map[uuid.UUID]int, len(requested))
	var sequence []uuid.UUID
	for _, line := range requested {
		qty, ok := ordered[line.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("order item %s does not belong to order", line.OrderItemID))
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment quantity must be positive")
		}
		if _, seen := merged[line.OrderItemID]; !seen {
			sequence = append(sequence, line.OrderItemID)
		}
		merged[line.OrderItemID] += line.Quantity
		if shipped[line.OrderItemID]+merged[line.OrderItemID] > qty {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("order item %s would ship more than ordered", line.OrderItemID))
		}
	}
	lines := make([]ShipmentLine, 0, len(sequence))
	for _, id := range sequence {
		lines = append(lines, ShipmentLine{OrderItemID: id, Quantity: merged[id]})
	}
	return lines, nil
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
