package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/oakline-backend/internal/alerts"
	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/internal/ledger"
	"github.com/angelmondragon/oakline-backend/internal/notifications"
	"github.com/angelmondragon/oakline-backend/internal/orders"
	"github.com/angelmondragon/oakline-backend/pkg/db"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/outbox"
	"github.com/angelmondragon/oakline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/oakline-backend/pkg/stripe"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RefundReasonAdmin            = "requested_by_admin"
	RefundReasonStockUnavailable = "stock_unavailable_after_expiry"
)

type refunder interface {
	Refund(ctx context.Context, input stripe.RefundInput) (string, error)
}

// Service handles goods coming back and money going back.
type Service interface {
	ProcessReturn(ctx context.Context, input ReturnInput) (*ReturnResult, error)
	RefundOrder(ctx context.Context, orderID uuid.UUID) (*RefundResult, error)
	RetryRefund(ctx context.Context, orderID uuid.UUID) (*RefundResult, error)
	SettleRefund(ctx context.Context, orderID uuid.UUID, reason string) (*RefundResult, error)
}

// ReturnLine is one returned product and the shape it came back in.
type ReturnLine struct {
	ProductID uuid.UUID             `json:"product_id" validate:"required"`
	Quantity  int                   `json:"quantity" validate:"required,min=1"`
	Condition enums.ReturnCondition `json:"condition" validate:"required,oneof=RESELLABLE DAMAGED"`
}

type ReturnInput struct {
	OrderID uuid.UUID
	Reason  string
	Notes   *string
	Items   []ReturnLine
}

type ReturnResult struct {
	ReturnID   uuid.UUID          `json:"return_id"`
	OrderID    uuid.UUID          `json:"order_id"`
	Status     enums.ReturnStatus `json:"status"`
	Restocked  int                `json:"restocked_units"`
	WrittenOff int                `json:"written_off_units"`
}

// RefundResult reports where the money stands. PaymentStatus stays
// REFUND_PENDING when the provider call failed and a manual review was raised.
type RefundResult struct {
	OrderID       uuid.UUID           `json:"order_id"`
	RefundID      string              `json:"refund_id,omitempty"`
	AmountCents   int64               `json:"amount_cents"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
}

// Pending reports whether the provider refund still has to happen.
func (r *RefundResult) Pending() bool {
	return r != nil && r.PaymentStatus == enums.PaymentStatusRefundPending
}

type ServiceParams struct {
	DB        db.TxRunner
	Repo      Repository
	Orders    orders.Repository
	Inventory inventory.Service
	Refunds   refunder
	Outbox    outbox.Emitter
	Notifier  notifications.Notifier
	Alerts    alerts.Alerter
	Logger    *logger.Logger
}

type service struct {
	tx        db.TxRunner
	repo      Repository
	orders    orders.Repository
	inventory inventory.Service
	refunds   refunder
	outbox    outbox.Emitter
	notifier  notifications.Notifier
	alerts    alerts.Alerter
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Repo == nil:
		return nil, fmt.Errorf("returns repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory service required")
	case params.Refunds == nil:
		return nil, fmt.Errorf("refund client required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Alerts == nil:
		return nil, fmt.Errorf("alerter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:        params.DB,
		repo:      params.Repo,
		orders:    params.Orders,
		inventory: params.Inventory,
		refunds:   params.Refunds,
		outbox:    params.Outbox,
		notifier:  params.Notifier,
		alerts:    params.Alerts,
		logg:      params.Logger,
	}, nil
}

// ProcessReturn records a completed return. Resellable units go back on the
// shelf, damaged ones only leave an audit entry.
func (s *service) ProcessReturn(ctx context.Context, input ReturnInput) (*ReturnResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return reason required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one returned item is required")
	}

	var result *ReturnResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.WithTx(tx).LockByID(ctx, input.OrderID)
		if err != nil {
			return loadError(err)
		}
		if !orders.Returnable(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in %s has no sold goods to return", order.Status))
		}
		repo := s.repo.WithTx(tx)
		returned, err := repo.ReturnedQuantities(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load returned quantities")
		}
		lines, err := checkReturn(*order, returned, input.Items)
		if err != nil {
			return err
		}
		resellable, damaged := splitByCondition(lines)

		request := &models.ReturnRequest{
			OrderID:    order.ID,
			Reason:     reason,
			Status:     enums.ReturnStatusCompleted,
			AdminNotes: input.Notes,
			Items:      lines,
		}
		if err := repo.Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return request")
		}
		if len(resellable) > 0 {
			if err := s.inventory.ProcessReturn(ctx, tx, request.ID, resellable, ledger.ReasonReturnResellable); err != nil {
				return err
			}
		}
		if len(damaged) > 0 {
			if err := s.inventory.RecordWriteOff(ctx, tx, request.ID, damaged); err != nil {
				return err
			}
		}

		result = &ReturnResult{
			ReturnID:   request.ID,
			OrderID:    order.ID,
			Status:     request.Status,
			Restocked:  units(resellable),
			WrittenOff: units(damaged),
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnProcessed,
			AggregateType: enums.AggregateReturn,
			AggregateID:   request.ID,
			Data: payloads.ReturnProcessedEvent{
				ReturnID:   request.ID,
				OrderID:    order.ID,
				Restocked:  result.Restocked,
				WrittenOff: result.WrittenOff,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RefundOrder refunds a paid order in full and puts back in stock whatever
// earlier returns have not. The order is committed as REFUNDED/REFUND_PENDING
// before the provider is called, then settled.
func (s *service) RefundOrder(ctx context.Context, orderID uuid.UUID) (*RefundResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return loadError(err)
		}
		switch order.Status {
		case enums.OrderStatusRefunded, enums.OrderStatusCancelled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already cancelled or refunded")
		}
		if order.Payment == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment to refund")
		}
		if err := orders.CheckTransition(order.Status, enums.OrderStatusRefunded); err != nil {
			return err
		}

		ok, err := repo.TransitionStatus(ctx, orderID, order.Status, enums.OrderStatusRefunded, map[string]any{
			"payment_status": enums.PaymentStatusRefundPending,
			"refunded_at":    time.Now().UTC(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
		}
		if err := repo.UpdatePaymentStatus(ctx, orderID, enums.PaymentStatusRefundPending); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		returned, err := s.repo.WithTx(tx).ReturnedQuantities(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load returned quantities")
		}
		restock := outstanding(*order, returned)
		if len(restock) == 0 {
			return nil
		}
		return s.inventory.ProcessReturn(ctx, tx, orderID, restock, ledger.ReasonRefundRestock)
	})
	if err != nil {
		return nil, err
	}
	return s.SettleRefund(ctx, orderID, RefundReasonAdmin)
}

// RetryRefund re-issues the provider refund for an order stuck in REFUND_PENDING.
func (s *service) RetryRefund(ctx context.Context, orderID uuid.UUID) (*RefundResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.SettleRefund(s.logg.WithOrderID(ctx, orderID.String()), orderID, RefundReasonAdmin)
}

// SettleRefund calls the provider for an order already marked REFUNDED with
// payment REFUND_PENDING. A provider failure leaves the payment pending,
// raises a critical alert and queues a manual-review event; it is reported
// through the result, not as an error.
func (s *service) SettleRefund(ctx context.Context, orderID uuid.UUID, reason string) (*RefundResult, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, loadError(err)
	}
	if order.Status != enums.OrderStatusRefunded || order.PaymentStatus != enums.PaymentStatusRefundPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("no refund pending for order in %s/%s", order.Status, order.PaymentStatus))
	}

	intentID := paymentIntentOf(*order)
	refundID, refundErr := s.issue(ctx, order, intentID, reason)
	if refundErr != nil {
		s.alerts.Raise(ctx, alerts.SeverityCritical, "refund failed", map[string]any{
			"order_id":          order.ID.String(),
			"payment_intent_id": intentID,
			"amount_cents":      order.AmountCents,
			"reason":            reason,
			"cause":             refundErr.Error(),
		})
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventRefundManualReview,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.RefundManualReviewEvent{
					OrderID:         order.ID,
					PaymentIntentID: intentID,
					AmountCents:     order.AmountCents,
					Error:           refundErr.Error(),
				},
			})
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue manual refund review")
		}
		return &RefundResult{
			OrderID:       order.ID,
			AmountCents:   order.AmountCents,
			OrderStatus:   order.Status,
			PaymentStatus: enums.PaymentStatusRefundPending,
		}, nil
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		locked, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return loadError(err)
		}
		if locked.PaymentStatus != enums.PaymentStatusRefundPending {
			return nil
		}
		if err := repo.Update(ctx, orderID, map[string]any{"payment_status": enums.PaymentStatusRefunded}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
		}
		if err := repo.UpdatePaymentStatus(ctx, orderID, enums.PaymentStatusRefunded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: payloads.OrderRefundedEvent{
				OrderID:       orderID,
				AmountCents:   order.AmountCents,
				RefundID:      refundID,
				PaymentStatus: enums.PaymentStatusRefunded,
				Reason:        reason,
				RefundedAt:    now,
			},
		})
	})
	if err != nil {
		// The money has moved; RetryRefund will re-settle with the same idempotency key.
		s.logg.Error(s.logg.WithField(ctx, "refund_id", refundID), "record settled refund", err)
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "refund_id", refundID), "refund issued")
	s.notifier.OrderRefunded(ctx, *order)
	return &RefundResult{
		OrderID:       order.ID,
		RefundID:      refundID,
		AmountCents:   order.AmountCents,
		OrderStatus:   order.Status,
		PaymentStatus: enums.PaymentStatusRefunded,
	}, nil
}

func (s *service) issue(ctx context.Context, order *models.Order, intentID, reason string) (string, error) {
	if intentID == "" {
		return "", errors.New("order has no payment intent")
	}
	return s.refunds.Refund(ctx, stripe.RefundInput{
		PaymentIntentID: intentID,
		OrderID:         order.ID.String(),
		Reason:          reason,
	})
}

func paymentIntentOf(order models.Order) string {
	if order.PaymentIntentID != nil && *order.PaymentIntentID != "" {
		return *order.PaymentIntentID
	}
	if order.Payment != nil {
		return order.Payment.TransactionID
	}
	return ""
}

// checkReturn validates the lines against what the order still has out:
// ordered quantity minus everything earlier returns brought back.
func checkReturn(order models.Order, returned map[uuid.UUID]int, lines []ReturnLine) ([]models.ReturnItem, error) {
	ordered := orderedQuantities(order)
	requested := make(map[uuid.UUID]int, len(lines))
	items := make([]models.ReturnItem, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == uuid.Nil || line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "each returned item needs a product and a positive quantity")
		}
		if !line.Condition.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown return condition %q", line.Condition))
		}
		if _, ok := ordered[line.ProductID]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s is not part of the order", line.ProductID))
		}
		requested[line.ProductID] += line.Quantity
		if left := ordered[line.ProductID] - returned[line.ProductID]; requested[line.ProductID] > left {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("cannot return %d of product %s: %d left to return", requested[line.ProductID], line.ProductID, left)).
				WithDetails(map[string]any{
					"product_id": line.ProductID.String(),
					"ordered":    ordered[line.ProductID],
					"returned":   returned[line.ProductID],
					"requested":  requested[line.ProductID],
				})
		}
		items = append(items, models.ReturnItem{ProductID: line.ProductID, Quantity: line.Quantity, Condition: line.Condition})
	}
	return items, nil
}

func splitByCondition(lines []models.ReturnItem) (resellable, damaged []inventory.Item) {
	for _, line := range lines {
		item := inventory.Item{ProductID: line.ProductID, Quantity: line.Quantity}
		if line.Condition == enums.ReturnConditionResellable {
			resellable = append(resellable, item)
		} else {
			damaged = append(damaged, item)
		}
	}
	return resellable, damaged
}

// outstanding lists the units of the order no return has brought back yet.
func outstanding(order models.Order, returned map[uuid.UUID]int) []inventory.Item {
	var items []inventory.Item
	for productID, qty := range orderedQuantities(order) {
		if left := qty - returned[productID]; left > 0 {
			items = append(items, inventory.Item{ProductID: productID, Quantity: left})
		}
	}
	return items
}

func orderedQuantities(order models.Order) map[uuid.UUID]int {
	ordered := make(map[uuid.UUID]int, len(order.Items))
	for _, item := range order.Items {
		ordered[item.ProductID] += item.Quantity
	}
	return ordered
}

func units(items []inventory.Item) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func loadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
