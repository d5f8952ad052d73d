package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/internal/orders"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/outbox"
	"github.com/angelmondragon/oakline-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	defaultReservationTTL  = 30 * time.Minute
	defaultExpiryBatchSize = 50
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type reservationReleaser interface {
	ReleaseReservation(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []inventory.Item) error
}

type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Orders    orders.Repository
	Inventory reservationReleaser
	Outbox    outboxEmitter
	TTL       time.Duration
	BatchSize int
}

// NewOrderExpiryJob builds the sweep that cancels CREATED orders whose
// reservation outlived the checkout window.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	return &orderExpiryJob{
		logg:      params.Logger,
		db:        params.DB,
		orders:    params.Orders,
		inventory: params.Inventory,
		outbox:    params.Outbox,
		ttl:       ttl,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg      *logger.Logger
	db        txRunner
	orders    orders.Repository
	inventory reservationReleaser
	outbox    outboxEmitter
	ttl       time.Duration
	batch     int
	now       func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

// Run expires one batch. A failing order does not stop the rest; all
// failures are returned together.
func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	stale, err := j.orders.ListExpired(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query expired orders: %w", err)
	}

	var errs error
	expired := 0
	for _, order := range stale {
		ok, err := j.expireOrder(ctx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(stale),
		"expired":    expired,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "order expiry sweep complete")
	return errs
}

// expireOrder re-reads the order under lock; a payment that landed after the
// listing query wins.
func (j *orderExpiryJob) expireOrder(ctx context.Context, order models.Order) (bool, error) {
	expired := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.orders.WithTx(tx)
		current, err := repo.LockByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != enums.OrderStatusCreated {
			return nil
		}
		if err := j.inventory.ReleaseReservation(ctx, tx, current.ID, orders.InventoryItems(*current)); err != nil {
			return err
		}
		now := j.now().UTC()
		ok, err := repo.TransitionStatus(ctx, current.ID, enums.OrderStatusCreated, enums.OrderStatusCancelled, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
			"cancelled_at":   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s left CREATED while locked", current.ID)
		}
		expired = true
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   current.ID,
			OccurredAt:    now,
			Data: payloads.OrderExpiredEvent{
				OrderID:   current.ID,
				CreatedAt: current.CreatedAt,
				ExpiredAt: now,
			},
		})
	})
	if err != nil {
		return false, err
	}
	if expired {
		j.logg.Info(j.logg.WithOrderID(ctx, order.ID.String()), "order expired")
	}
	return expired, nil
}
