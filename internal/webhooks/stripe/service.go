package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/oakline-backend/internal/alerts"
	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/internal/notifications"
	"github.com/angelmondragon/oakline-backend/internal/orders"
	"github.com/angelmondragon/oakline-backend/internal/returns"
	"github.com/angelmondragon/oakline-backend/pkg/db"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/metrics"
	"github.com/angelmondragon/oakline-backend/pkg/outbox"
	"github.com/angelmondragon/oakline-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

const paymentProvider = "Stripe"

// Outcome is what handling one event did. OutcomeFailed is answered with
// 500 when the error is retryable and acknowledged otherwise.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeRecovered        Outcome = "recovered"
	OutcomeRefunded         Outcome = "refunded"
	OutcomeRefundPending    Outcome = "refund_pending"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeNotCancellable   Outcome = "not_cancellable"
	OutcomeAwaitingPayment  Outcome = "awaiting_payment"
	OutcomeOrderNotFound    Outcome = "order_not_found"
	OutcomeMissingOrderID   Outcome = "missing_order_id"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeFailed           Outcome = "failed"
)

const (
	cancelReasonExpired       = "checkout_expired"
	cancelReasonPaymentFailed = "payment_failed"
)

// errRecoveryFailed aborts the recovery transaction so the order can be refunded.
var errRecoveryFailed = errors.New("zombie recovery failed")

type refundSettler interface {
	SettleRefund(ctx context.Context, orderID uuid.UUID, reason string) (*returns.RefundResult, error)
}

type ServiceParams struct {
	DB        db.TxRunner
	Orders    orders.Repository
	Inventory inventory.Service
	Refunds   refundSettler
	Outbox    outbox.Emitter
	Notifier  notifications.Notifier
	Alerts    alerts.Alerter
	Metrics   *metrics.WebhookMetrics
	Logger    *logger.Logger
}

// Service reconciles Stripe payment events with orders and stock. Every
// transition re-reads the order under a row lock, so any interleaving of
// duplicate deliveries, the expiry sweep and late payments settles to one
// consistent state.
type Service struct {
	tx        db.TxRunner
	orders    orders.Repository
	inventory inventory.Service
	refunds   refundSettler
	outbox    outbox.Emitter
	notifier  notifications.Notifier
	alerts    alerts.Alerter
	metrics   *metrics.WebhookMetrics
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Inventory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory service required")
	}
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if params.Alerts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "alerter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		tx:        params.DB,
		orders:    params.Orders,
		inventory: params.Inventory,
		refunds:   params.Refunds,
		outbox:    params.Outbox,
		notifier:  params.Notifier,
		alerts:    params.Alerts,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// paymentEvent is the provider-neutral part of a Stripe event.
type paymentEvent struct {
	orderID         uuid.UUID
	rawOrderID      string
	sessionID       string
	paymentIntentID string
	amountCents     int64
	currency        string
	paid            bool
}

// HandleEvent applies one verified Stripe event. Infrastructure errors come
// back as retryable DEPENDENCY errors; a typed domain error means
// redelivery would fail the same way. Both raise a critical alert.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithEventID(ctx, event.ID)
	ctx = s.logg.WithField(ctx, "event_type", string(event.Type))

	outcome, err := s.dispatch(ctx, event)
	if err != nil {
		outcome = OutcomeFailed
		s.alerts.Raise(ctx, alerts.SeverityCritical, "payment webhook processing failed", map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"cause":      err.Error(),
		})
	}
	s.metrics.Observe(string(event.Type), string(outcome))
	s.logg.Info(s.logg.WithField(ctx, "outcome", string(outcome)), "stripe event handled")
	return outcome, err
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (Outcome, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		evt, err := parseSession(event.Data.Raw)
		if err != nil {
			return OutcomeFailed, err
		}
		if !evt.paid {
			// Delayed payment methods complete the session before funds arrive.
			return OutcomeAwaitingPayment, nil
		}
		return s.withOrder(ctx, evt, s.paymentSucceeded)
	case stripe.EventTypeCheckoutSessionExpired:
		evt, err := parseSession(event.Data.Raw)
		if err != nil {
			return OutcomeFailed, err
		}
		return s.withOrder(ctx, evt, s.cancelFor(cancelReasonExpired))
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		evt, err := parseSession(event.Data.Raw)
		if err != nil {
			return OutcomeFailed, err
		}
		return s.withOrder(ctx, evt, s.cancelFor(cancelReasonPaymentFailed))
	case stripe.EventTypePaymentIntentPaymentFailed:
		evt, err := parsePaymentIntent(event.Data.Raw)
		if err != nil {
			return OutcomeFailed, err
		}
		return s.withOrder(ctx, evt, s.cancelFor(cancelReasonPaymentFailed))
	default:
		return OutcomeIgnored, nil
	}
}

// withOrder resolves the order reference and turns a missing order into an
// acknowledged no-op: redelivery can never make it appear.
func (s *Service) withOrder(ctx context.Context, evt paymentEvent, fn func(context.Context, paymentEvent) (Outcome, error)) (Outcome, error) {
	if evt.orderID == uuid.Nil {
		s.logg.Warn(s.logg.WithField(ctx, "order_ref", evt.rawOrderID), "stripe event carries no usable order id")
		return OutcomeMissingOrderID, nil
	}
	ctx = s.logg.WithOrderID(ctx, evt.orderID.String())
	outcome, err := fn(ctx, evt)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.alerts.Raise(ctx, alerts.SeverityWarning, "payment event for unknown order", map[string]any{
			"order_id":   evt.orderID.String(),
			"session_id": evt.sessionID,
		})
		return OutcomeOrderNotFound, nil
	}
	if err != nil {
		return OutcomeFailed, asTransient(err)
	}
	return outcome, nil
}

func (s *Service) paymentSucceeded(ctx context.Context, evt paymentEvent) (Outcome, error) {
	var (
		outcome Outcome
		order   *models.Order
		cause   error
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		var err error
		order, err = repo.LockByID(ctx, evt.orderID)
		if err != nil {
			return err
		}
		if alreadyPaid(*order) {
			outcome = OutcomeAlreadyProcessed
			return nil
		}

		items := orders.InventoryItems(*order)
		switch order.Status {
		case enums.OrderStatusCancelled:
			// Zombie order: the sweep released the reservation before payment cleared.
			if err := s.inventory.RecoverSale(ctx, tx, order.ID, items); err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
					cause = err
					return errRecoveryFailed
				}
				return err
			}
			outcome = OutcomeRecovered
		case enums.OrderStatusCreated:
			if err := s.inventory.ConfirmSale(ctx, tx, order.ID, items); err != nil {
				return err
			}
			outcome = OutcomeConfirmed
		default:
			s.logg.Warn(s.logg.WithField(ctx, "status", string(order.Status)), "payment received for order that cannot be paid")
			outcome = OutcomeIgnored
			return nil
		}
		return s.markPaid(ctx, tx, order, evt, outcome == OutcomeRecovered)
	})
	if errors.Is(err, errRecoveryFailed) {
		return s.refundZombie(ctx, evt, cause)
	}
	if err != nil {
		return OutcomeFailed, err
	}

	switch outcome {
	case OutcomeRecovered:
		s.alerts.Raise(ctx, alerts.SeverityWarning, "zombie order recovered", map[string]any{
			"order_id":   order.ID.String(),
			"session_id": evt.sessionID,
		})
		s.notifier.OrderConfirmed(ctx, *order)
	case OutcomeConfirmed:
		s.notifier.OrderConfirmed(ctx, *order)
	}
	return outcome, nil
}

// markPaid moves the locked order to PAID and records its Payment.
func (s *Service) markPaid(ctx context.Context, tx *gorm.DB, order *models.Order, evt paymentEvent, recovered bool) error {
	if err := orders.CheckTransition(order.Status, enums.OrderStatusPaid); err != nil {
		return err
	}
	repo := s.orders.WithTx(tx)
	now := time.Now().UTC()
	updates := map[string]any{
		"payment_status": enums.PaymentStatusCompleted,
		"paid_at":        now,
	}
	if evt.paymentIntentID != "" {
		updates["payment_intent_id"] = evt.paymentIntentID
	}
	ok, err := repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusPaid, updates)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
	}

	payment := newPayment(*order, evt, enums.PaymentStatusCompleted)
	if err := repo.CreatePayment(ctx, payment); err != nil {
		return err
	}
	order.Status = enums.OrderStatusPaid
	order.PaymentStatus = enums.PaymentStatusCompleted
	order.PaidAt = &now
	order.Payment = payment

	eventType := enums.EventOrderPaid
	if recovered {
		eventType = enums.EventOrderRecovered
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderPaidEvent{
			OrderID:         order.ID,
			PaymentID:       payment.ID,
			AmountCents:     payment.AmountCents,
			Currency:        payment.Currency,
			PaymentIntentID: evt.paymentIntentID,
			Recovered:       recovered,
			PaidAt:          now,
		},
	})
}

// refundZombie handles a late payment whose stock is gone. The order is
// committed as REFUNDED with payment REFUND_PENDING before the provider is
// called, so a redelivered event can no longer recover it.
func (s *Service) refundZombie(ctx context.Context, evt paymentEvent, cause error) (Outcome, error) {
	marked := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.LockByID(ctx, evt.orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusCancelled || alreadyPaid(*order) {
			return nil
		}
		updates := map[string]any{
			"payment_status": enums.PaymentStatusRefundPending,
			"refunded_at":    time.Now().UTC(),
		}
		if evt.paymentIntentID != "" {
			updates["payment_intent_id"] = evt.paymentIntentID
		}
		ok, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusCancelled, enums.OrderStatusRefunded, updates)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		marked = true
		return repo.CreatePayment(ctx, newPayment(*order, evt, enums.PaymentStatusRefundPending))
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if !marked {
		return OutcomeAlreadyProcessed, nil
	}

	fields := map[string]any{
		"order_id":          evt.orderID.String(),
		"payment_intent_id": evt.paymentIntentID,
		"amount_cents":      evt.amountCents,
	}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	s.alerts.Raise(ctx, alerts.SeverityCritical, "zombie order refunded: stock unavailable", fields)

	result, err := s.refunds.SettleRefund(ctx, evt.orderID, returns.RefundReasonStockUnavailable)
	if err != nil {
		// The order is already REFUNDED; a redelivery would be a no-op, so the
		// pending refund is left to RetryRefund.
		s.logg.Error(ctx, "settle zombie refund", err)
		return OutcomeRefundPending, nil
	}
	if result.Pending() {
		return OutcomeRefundPending, nil
	}
	return OutcomeRefunded, nil
}

// cancelFor releases the reservation of an order whose checkout ended
// without payment. Only CREATED orders still hold one.
func (s *Service) cancelFor(reason string) func(context.Context, paymentEvent) (Outcome, error) {
	return func(ctx context.Context, evt paymentEvent) (Outcome, error) {
		outcome := OutcomeNotCancellable
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.orders.WithTx(tx)
			order, err := repo.LockByID(ctx, evt.orderID)
			if err != nil {
				return err
			}
			if order.Status != enums.OrderStatusCreated {
				return nil
			}
			if err := s.inventory.ReleaseReservation(ctx, tx, order.ID, orders.InventoryItems(*order)); err != nil {
				return err
			}
			now := time.Now().UTC()
			ok, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusCreated, enums.OrderStatusCancelled, map[string]any{
				"payment_status": enums.PaymentStatusFailed,
				"cancelled_at":   now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
			}
			outcome = OutcomeCancelled
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCancelled,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.OrderCancelledEvent{
					OrderID:       order.ID,
					Reason:        reason,
					PaymentStatus: enums.PaymentStatusFailed,
					CancelledAt:   now,
				},
			})
		})
		if err != nil {
			return OutcomeFailed, err
		}
		return outcome, nil
	}
}

// newPayment records the captured charge, preferring the amounts Stripe reports.
func newPayment(order models.Order, evt paymentEvent, status enums.PaymentStatus) *models.Payment {
	amount := evt.amountCents
	if amount <= 0 {
		amount = order.AmountCents
	}
	currency := evt.currency
	if currency == "" {
		currency = order.Currency
	}
	if currency == "" {
		currency = "usd"
	}
	return &models.Payment{
		OrderID:       order.ID,
		AmountCents:   amount,
		Currency:      currency,
		Provider:      paymentProvider,
		Status:        status,
		TransactionID: evt.paymentIntentID,
	}
}

// alreadyPaid reports whether a payment-succeeded event was already applied
// to this order, directly or by a later transition.
func alreadyPaid(order models.Order) bool {
	if order.Payment != nil {
		return true
	}
	switch order.Status {
	case enums.OrderStatusPaid,
		enums.OrderStatusAllocated,
		enums.OrderStatusPartiallyShipped,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
		enums.OrderStatusRefunded:
		return true
	}
	return order.PaymentStatus.Captured()
}

func parseSession(raw json.RawMessage) (paymentEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return paymentEvent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	ref := session.Metadata["orderId"]
	if strings.TrimSpace(ref) == "" {
		ref = session.ClientReferenceID
	}
	evt := paymentEvent{
		rawOrderID:  ref,
		orderID:     parseOrderID(ref),
		sessionID:   session.ID,
		amountCents: session.AmountTotal,
		currency:    strings.ToLower(string(session.Currency)),
		paid:        session.PaymentStatus != stripe.CheckoutSessionPaymentStatusUnpaid,
	}
	if session.PaymentIntent != nil {
		evt.paymentIntentID = session.PaymentIntent.ID
	}
	return evt, nil
}

func parsePaymentIntent(raw json.RawMessage) (paymentEvent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return paymentEvent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	ref := intent.Metadata["orderId"]
	return paymentEvent{
		rawOrderID:      ref,
		orderID:         parseOrderID(ref),
		paymentIntentID: intent.ID,
		amountCents:     intent.Amount,
		currency:        strings.ToLower(string(intent.Currency)),
	}, nil
}

func parseOrderID(ref string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(ref))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func asTransient(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile payment event")
}
