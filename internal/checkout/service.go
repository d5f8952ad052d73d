package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/oakline-backend/internal/inventory"
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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	cancelReasonOutOfStock    = "insufficient_stock"
	cancelReasonSessionFailed = "payment_session_failed"
)

var hundred = decimal.NewFromInt(100)

type sessionCreator interface {
	CreateCheckoutSession(ctx context.Context, input stripe.SessionInput) (*stripe.Session, error)
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Service turns a shopper's basket into a reserved order and a hosted
// payment page.
type Service interface {
	Checkout(ctx context.Context, input Input) (*Result, error)
}

// LineInput is one requested product.
type LineInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// Input captures a checkout request.
type Input struct {
	UserID string
	Email  string
	Items  []LineInput
}

// Result points the shopper at the payment page for the new order.
type Result struct {
	OrderID     uuid.UUID `json:"order_id"`
	SessionID   string    `json:"session_id"`
	URL         string    `json:"url"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

// Options carries the tunables read from config.CheckoutConfig and StripeConfig.
type Options struct {
	Currency        string
	ReservationTTL  time.Duration
	SuccessURL      string
	CancelURL       string
	RateLimit       int
	RateLimitWindow time.Duration
}

type ServiceParams struct {
	DB        db.TxRunner
	Repo      Repository
	Orders    orders.Repository
	Inventory inventory.Service
	Outbox    outbox.Emitter
	Payments  sessionCreator
	Limiter   rateLimiter
	Logger    *logger.Logger
	Options   Options
}

type service struct {
	tx        db.TxRunner
	repo      Repository
	orders    orders.Repository
	inventory inventory.Service
	outbox    outbox.Emitter
	payments  sessionCreator
	limiter   rateLimiter
	logg      *logger.Logger
	opts      Options
}

// NewService builds the checkout service. Limiter is optional.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment session creator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	opts := params.Options
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = "usd"
	}
	opts.Currency = strings.ToLower(opts.Currency)
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 30 * time.Minute
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	return &service{
		tx:        params.DB,
		repo:      params.Repo,
		orders:    params.Orders,
		inventory: params.Inventory,
		outbox:    params.Outbox,
		payments:  params.Payments,
		limiter:   params.Limiter,
		logg:      params.Logger,
		opts:      opts,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input Input) (*Result, error) {
	userID := strings.TrimSpace(input.UserID)
	email := strings.TrimSpace(input.Email)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
	}
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email required")
	}
	lines, err := mergeLines(input.Items)
	if err != nil {
		return nil, err
	}
	if err := s.allow(ctx, userID); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.ProductsByID(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	order, err := buildOrder(userID, email, s.opts.Currency, lines, products)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(s.logg.WithUserID(ctx, userID), order.ID.String())
	reserveItems := orders.InventoryItems(*order)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := s.inventory.ReserveStock(ctx, tx, order.ID, reserveItems); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: userID, Role: "customer"},
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				UserID:      userID,
				AmountCents: order.AmountCents,
				Currency:    order.Currency,
				Items:       eventLines(reserveItems),
			},
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			s.recordRejected(ctx, order)
		}
		return nil, err
	}

	session, err := s.payments.CreateCheckoutSession(ctx, stripe.SessionInput{
		OrderID:       order.ID.String(),
		UserID:        userID,
		CustomerEmail: email,
		Currency:      order.Currency,
		Lines:         sessionLines(*order),
		SuccessURL:    s.opts.SuccessURL,
		CancelURL:     s.opts.CancelURL,
		Lifetime:      s.opts.ReservationTTL,
	})
	if err != nil {
		s.logg.Error(ctx, "create checkout session", err)
		if cancelErr := s.abandon(ctx, order.ID, reserveItems); cancelErr != nil {
			s.logg.Error(ctx, "release reservation after session failure", cancelErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
	}

	if err := s.orders.Update(ctx, order.ID, map[string]any{"checkout_session_id": session.ID}); err != nil {
		// Webhooks resolve the order from session metadata, so this is not fatal.
		s.logg.Warn(s.logg.WithField(ctx, "session_id", session.ID), "store checkout session id: "+err.Error())
	}
	s.logg.Info(s.logg.WithField(ctx, "session_id", session.ID), "checkout session created")

	return &Result{
		OrderID:     order.ID,
		SessionID:   session.ID,
		URL:         session.URL,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
	}, nil
}

func (s *service) allow(ctx context.Context, userID string) error {
	if s.limiter == nil || s.opts.RateLimit <= 0 {
		return nil
	}
	ok, count, err := s.limiter.FixedWindowAllow(ctx, "checkout:"+userID, int64(s.opts.RateLimit), s.opts.RateLimitWindow)
	if err != nil {
		// Fail open while Redis is unavailable.
		s.logg.Warn(ctx, "checkout rate limiter unavailable: "+err.Error())
		return nil
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many checkout attempts").
			WithDetails(map[string]any{"attempts": count, "limit": s.opts.RateLimit})
	}
	return nil
}

// recordRejected persists an out-of-stock attempt as a cancelled order so it
// stays visible to support. It holds no reservation.
func (s *service) recordRejected(ctx context.Context, order *models.Order) {
	now := time.Now().UTC()
	order.Status = enums.OrderStatusCancelled
	order.PaymentStatus = enums.PaymentStatusFailed
	order.CancelledAt = &now
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, cancelledEvent(order.ID, cancelReasonOutOfStock, now))
	})
	if err != nil {
		s.logg.Error(ctx, "record rejected order", err)
	}
}

// abandon releases the reservation of an order whose payment page could not
// be opened.
func (s *service) abandon(ctx context.Context, orderID uuid.UUID, items []inventory.Item) error {
	now := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusCreated {
			return nil
		}
		if err := s.inventory.ReleaseReservation(ctx, tx, orderID, items); err != nil {
			return err
		}
		ok, err := repo.TransitionStatus(ctx, orderID, enums.OrderStatusCreated, enums.OrderStatusCancelled, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
			"cancelled_at":   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("order changed concurrently")
		}
		return s.outbox.Emit(ctx, tx, cancelledEvent(orderID, cancelReasonSessionFailed, now))
	})
}

func cancelledEvent(orderID uuid.UUID, reason string, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data: payloads.OrderCancelledEvent{
			OrderID:       orderID,
			Reason:        reason,
			PaymentStatus: enums.PaymentStatusFailed,
			CancelledAt:   at,
		},
	}
}

// mergeLines validates quantities and folds repeated products into one line.
func mergeLines(items []LineInput) ([]LineInput, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	merged := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Quantity < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for product %s must be at least 1", item.ProductID))
		}
		merged[item.ProductID] += item.Quantity
	}
	lines := make([]LineInput, 0, len(merged))
	for id, qty := range merged {
		lines = append(lines, LineInput{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID.String() < lines[j].ProductID.String() })
	return lines, nil
}

// buildOrder snapshots name, price and image so later catalog edits do not
// change what the shopper agreed to pay.
func buildOrder(userID, email, currency string, lines []LineInput, products map[uuid.UUID]models.Product) (*models.Order, error) {
	order := &models.Order{
		ID:            uuid.New(),
		UserID:        userID,
		Email:         email,
		Status:        enums.OrderStatusCreated,
		PaymentStatus: enums.PaymentStatusPending,
		Currency:      currency,
		Items:         make([]models.OrderItem, 0, len(lines)),
	}
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", line.ProductID))
		}
		order.Items = append(order.Items, models.OrderItem{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			Price:     product.Price,
			Name:      product.Name,
			Image:     product.ImageURL,
		})
		order.AmountCents += toCents(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	if order.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	return order, nil
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func sessionLines(order models.Order) []stripe.SessionLine {
	out := make([]stripe.SessionLine, 0, len(order.Items))
	for _, item := range order.Items {
		line := stripe.SessionLine{
			Name:            item.Name,
			UnitAmountCents: toCents(item.Price),
			Quantity:        int64(item.Quantity),
		}
		if item.Image != nil {
			line.ImageURL = *item.Image
		}
		out = append(out, line)
	}
	return out
}

func eventLines(items []inventory.Item) []payloads.OrderItemLine {
	out := make([]payloads.OrderItemLine, 0, len(items))
	for _, item := range items {
		out = append(out, payloads.OrderItemLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}
