package returns

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/oakline-backend/internal/alerts"
	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/internal/ledger"
	"github.com/angelmondragon/oakline-backend/internal/orders"
	"github.com/angelmondragon/oakline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/outbox"
	"github.com/angelmondragon/oakline-backend/pkg/stripe"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRefunder struct {
	refundFn func(input stripe.RefundInput) (string, error)
	calls    []stripe.RefundInput
}

func (f *fakeRefunder) Refund(ctx context.Context, input stripe.RefundInput) (string, error) {
	f.calls = append(f.calls, input)
	if f.refundFn != nil {
		return f.refundFn(input)
	}
	return "re_" + input.OrderID[:8], nil
}

type fakeNotifier struct {
	refunded int
}

func (f *fakeNotifier) OrderConfirmed(ctx context.Context, order models.Order) {}
func (f *fakeNotifier) OrderShipped(ctx context.Context, order models.Order, shipment models.Shipment) {}
func (f *fakeNotifier) OrderRefunded(ctx context.Context, order models.Order) { f.refunded++ }

type raised struct {
	severity alerts.Severity
	title    string
}

type fakeAlerter struct {
	raised []raised
}

func (f *fakeAlerter) Raise(ctx context.Context, severity alerts.Severity, title string, fields map[string]any) {
	f.raised = append(f.raised, raised{severity: severity, title: title})
}

type returnsEnv struct {
	svc       Service
	conn      *gorm.DB
	inventory inventory.Service
	ledger    ledger.Service
	refunds   *fakeRefunder
	notifier  *fakeNotifier
	alerts    *fakeAlerter
}

func newReturnsEnv(t *testing.T) *returnsEnv {
	t.Helper()
	client, conn := dbtest.NewClient(t)
	logg := logger.New(logger.Options{ServiceName: "test"})
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	inv, err := inventory.NewService(inventory.ServiceParams{
		DB:     client,
		Repo:   inventory.NewRepository(conn),
		Ledger: ledgerSvc,
		Logger: logg,
	})
	require.NoError(t, err)

	env := &returnsEnv{
		conn:      conn,
		inventory: inv,
		ledger:    ledgerSvc,
		refunds:   &fakeRefunder{},
		notifier:  &fakeNotifier{},
		alerts:    &fakeAlerter{},
	}
	env.svc, err = NewService(ServiceParams{
		DB:        client,
		Repo:      NewRepository(conn),
		Orders:    orders.NewRepository(conn),
		Inventory: inv,
		Refunds:   env.refunds,
		Outbox:    outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier:  env.notifier,
		Alerts:    env.alerts,
		Logger:    logg,
	})
	require.NoError(t, err)
	return env
}

// paidOrder creates a product with the given stock and a PAID order that
// bought qty units of it through reserve and confirm.
func (e *returnsEnv) paidOrder(t *testing.T, stock, qty int) (models.Product, models.Order) {
	t.Helper()
	ctx := context.Background()
	product, err := e.inventory.CreateProduct(ctx, inventory.CreateProductInput{
		SKU:          "SKU-" + uuid.NewString()[:8],
		Name:         "Linen Armchair",
		Price:        decimal.RequireFromString("250.00"),
		CostPrice:    decimal.RequireFromString("120.00"),
		InitialStock: stock,
	})
	require.NoError(t, err)

	intent := "pi_" + uuid.NewString()[:12]
	order := models.Order{
		UserID:          "user-1",
		Email:           "ada@example.com",
		Status:          enums.OrderStatusPaid,
		PaymentStatus:   enums.PaymentStatusCompleted,
		AmountCents:     int64(qty) * 25000,
		Currency:        "usd",
		PaymentIntentID: &intent,
		Items: []models.OrderItem{{
			ProductID: product.ID,
			Quantity:  qty,
			Price:     product.Price,
			Name:      product.Name,
		}},
	}
	require.NoError(t, orders.NewRepository(e.conn).Create(ctx, &order))
	require.NoError(t, e.conn.Create(&models.Payment{
		OrderID:       order.ID,
		AmountCents:   order.AmountCents,
		Currency:      "usd",
		Provider:      "Stripe",
		Status:        enums.PaymentStatusCompleted,
		TransactionID: intent,
	}).Error)

	items := []inventory.Item{{ProductID: product.ID, Quantity: qty}}
	require.NoError(t, e.inventory.ReserveStock(ctx, nil, order.ID, items))
	require.NoError(t, e.inventory.ConfirmSale(ctx, nil, order.ID, items))
	return *product, order
}

func (e *returnsEnv) stock(t *testing.T, id uuid.UUID) *inventory.StockLevel {
	t.Helper()
	level, err := e.inventory.Stock(context.Background(), id)
	require.NoError(t, err)
	return level
}

func (e *returnsEnv) reloadOrder(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, e.conn.Preload("Payment").First(&order, "id = ?", id).Error)
	return order
}

func (e *returnsEnv) events(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func (e *returnsEnv) assertLedgerMatches(t *testing.T, id uuid.UUID) {
	t.Helper()
	var product models.Product
	require.NoError(t, e.conn.First(&product, "id = ?", id).Error)
	history, err := e.ledger.History(context.Background(), id)
	require.NoError(t, err)
	rec := ledger.Reconstruct(product, history)
	require.Truef(t, rec.Matches, "ledger drift: %+v", rec)
}

func TestProcessReturn_ResellableAndDamaged(t *testing.T) {
	env := newReturnsEnv(t)
	product, order := env.paidOrder(t, 10, 3)
	require.Equal(t, 7, env.stock(t, product.ID).StockQuantity)

	res, err := env.svc.ProcessReturn(context.Background(), ReturnInput{
		OrderID: order.ID,
		Reason:  "Changed mind",
		Items: []ReturnLine{
			{ProductID: product.ID, Quantity: 2, Condition: enums.ReturnConditionResellable},
			{ProductID: product.ID, Quantity: 1, Condition: enums.ReturnConditionDamaged},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Restocked)
	assert.Equal(t, 1, res.WrittenOff)
	assert.Equal(t, enums.ReturnStatusCompleted, res.Status)

	level := env.stock(t, product.ID)
	assert.Equal(t, 9, level.StockQuantity)
	assert.Zero(t, level.ReservedStock)

	history, err := env.ledger.ForReference(context.Background(), res.ReturnID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	reasons := []string{history[0].Reason, history[1].Reason}
	assert.ElementsMatch(t, []string{ledger.ReasonReturnResellable, ledger.ReasonReturnDamaged}, reasons)
	env.assertLedgerMatches(t, product.ID)
	assert.EqualValues(t, 1, env.events(t, enums.EventReturnProcessed))
}

func TestProcessReturn_RejectsForeignOrExcessItems(t *testing.T) {
	env := newReturnsEnv(t)
	product, order := env.paidOrder(t, 10, 2)
	ctx := context.Background()

	_, err := env.svc.ProcessReturn(ctx, ReturnInput{
		OrderID: order.ID,
		Reason:  "Wrong item",
		Items:   []ReturnLine{{ProductID: uuid.New(), Quantity: 1, Condition: enums.ReturnConditionResellable}},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = env.svc.ProcessReturn(ctx, ReturnInput{
		OrderID: order.ID,
		Reason:  "Too many",
		Items: []ReturnLine{
			{ProductID: product.ID, Quantity: 2, Condition: enums.ReturnConditionResellable},
			{ProductID: product.ID, Quantity: 1, Condition: enums.ReturnConditionDamaged},
		},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = env.svc.ProcessReturn(ctx, ReturnInput{
		OrderID: uuid.New(),
		Reason:  "Missing",
		Items:   []ReturnLine{{ProductID: product.ID, Quantity: 1, Condition: enums.ReturnConditionResellable}},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	assert.Equal(t, 8, env.stock(t, product.ID).StockQuantity, "rejected returns leave stock untouched")
	var count int64
	require.NoError(t, env.conn.Model(&models.ReturnRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRefundOrder_RefundsAndRestocks(t *testing.T) {
	env := newReturnsEnv(t)
	product, order := env.paidOrder(t, 5, 2)

	res, err := env.svc.RefundOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, res.PaymentStatus)
	assert.False(t, res.Pending())
	assert.NotEmpty(t, res.RefundID)

	require.Len(t, env.refunds.calls, 1)
	assert.Equal(t, *order.PaymentIntentID, env.refunds.calls[0].PaymentIntentID)
	assert.Equal(t, order.ID.String(), env.refunds.calls[0].OrderID)

	got := env.reloadOrder(t, order.ID)
	assert.Equal(t, enums.OrderStatusRefunded, got.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, got.PaymentStatus)
	require.NotNil(t, got.Payment)
	assert.Equal(t, enums.PaymentStatusRefunded, got.Payment.Status)
	assert.NotNil(t, got.RefundedAt)

	assert.Equal(t, 5, env.stock(t, product.ID).StockQuantity)
	env.assertLedgerMatches(t, product.ID)
	assert.Equal(t, 1, env.notifier.refunded)
	assert.EqualValues(t, 1, env.events(t, enums.EventOrderRefunded))

	_, err = env.svc.RefundOrder(context.Background(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Len(t, env.refunds.calls, 1)
}

func TestRefundOrder_ProviderFailureLeavesRefundPending(t *testing.T) {
	env := newReturnsEnv(t)
	product, order := env.paidOrder(t, 5, 1)
	env.refunds.refundFn = func(stripe.RefundInput) (string, error) { return "", errors.New("card network timeout") }

	res, err := env.svc.RefundOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, res.Pending())

	got := env.reloadOrder(t, order.ID)
	assert.Equal(t, enums.OrderStatusRefunded, got.Status)
	assert.Equal(t, enums.PaymentStatusRefundPending, got.PaymentStatus)
	assert.Equal(t, 5, env.stock(t, product.ID).StockQuantity)
	assert.Zero(t, env.notifier.refunded)
	assert.EqualValues(t, 1, env.events(t, enums.EventRefundManualReview))
	require.Len(t, env.alerts.raised, 1)
	assert.Equal(t, alerts.SeverityCritical, env.alerts.raised[0].severity)

	env.refunds.refundFn = nil
	res, err = env.svc.RetryRefund(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, res.PaymentStatus)
	assert.Equal(t, enums.PaymentStatusRefunded, env.reloadOrder(t, order.ID).PaymentStatus)
	assert.Equal(t, 1, env.notifier.refunded)
	assert.Equal(t, 5, env.stock(t, product.ID).StockQuantity, "retry never restocks twice")

	_, err = env.svc.RetryRefund(context.Background(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestRefundOrder_RejectsUnpaidOrders(t *testing.T) {
	env := newReturnsEnv(t)
	order := models.Order{
		UserID:        "user-1",
		Email:         "ada@example.com",
		Status:        enums.OrderStatusCreated,
		PaymentStatus: enums.PaymentStatusPending,
		AmountCents:   1000,
		Currency:      "usd",
	}
	require.NoError(t, env.conn.Create(&order).Error)

	_, err := env.svc.RefundOrder(context.Background(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, env.refunds.calls)

	_, err = env.svc.RefundOrder(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestProcessReturn_CapsAtUnitsNotYetReturned(t *testing.T) {
	env := newReturnsEnv(t)
	ctx := context.Background()
	product, order := env.paidOrder(t, 5, 2)

	first, err := env.svc.ProcessReturn(ctx, ReturnInput{
		OrderID: order.ID,
		Reason:  "Changed mind",
		Items:   []ReturnLine{{ProductID: product.ID, Quantity: 2, Condition: enums.ReturnConditionResellable}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Restocked)
	assert.Equal(t, 5, env.stock(t, product.ID).StockQuantity)

	for i := 0; i < 2; i++ {
		_, err = env.svc.ProcessReturn(ctx, ReturnInput{
			OrderID: order.ID,
			Reason:  "Changed mind again",
			Items:   []ReturnLine{{ProductID: product.ID, Quantity: 1, Condition: enums.ReturnConditionResellable}},
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "unexpected error %v", err)
	}
	assert.Equal(t, 5, env.stock(t, product.ID).StockQuantity, "rejected returns add no stock")

	requests, err := NewRepository(env.conn).ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Len(t, requests[0].Items, 1)
	assert.Equal(t, 2, requests[0].Items[0].Quantity)

	res, err := env.svc.RefundOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, res.PaymentStatus)
	assert.Equal(t, 5, env.stock(t, product.ID).StockQuantity, "refund restocks nothing already returned")
	history, err := env.ledger.ForReference(ctx, order.ID)
	require.NoError(t, err)
	for _, entry := range history {
		assert.NotEqual(t, enums.InventoryTxReturn, entry.Type)
	}
	env.assertLedgerMatches(t, product.ID)
}

func TestRefundOrder_RestocksOnlyOutstandingUnits(t *testing.T) {
	env := newReturnsEnv(t)
	ctx := context.Background()
	product, order := env.paidOrder(t, 10, 3)

	_, err := env.svc.ProcessReturn(ctx, ReturnInput{
		OrderID: order.ID,
		Reason:  "Arrived broken",
		Items:   []ReturnLine{{ProductID: product.ID, Quantity: 1, Condition: enums.ReturnConditionDamaged}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, env.stock(t, product.ID).StockQuantity)

	_, err = env.svc.RefundOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, env.stock(t, product.ID).StockQuantity, "the written-off unit stays out of stock")

	history, err := env.ledger.ForReference(ctx, order.ID)
	require.NoError(t, err)
	var restocked int
	for _, entry := range history {
		if entry.Type == enums.InventoryTxReturn {
			assert.Equal(t, ledger.ReasonRefundRestock, entry.Reason)
			restocked += entry.Quantity
		}
	}
	assert.Equal(t, 2, restocked)
	env.assertLedgerMatches(t, product.ID)

	_, err = env.svc.ProcessReturn(ctx, ReturnInput{
		OrderID: order.ID,
		Reason:  "After refund",
		Items:   []ReturnLine{{ProductID: product.ID, Quantity: 1, Condition: enums.ReturnConditionResellable}},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "unexpected error %v", err)
	assert.Equal(t, 9, env.stock(t, product.ID).StockQuantity)
}

func TestProcessReturn_RejectsOrdersWithoutCapturedSale(t *testing.T) {
	for _, status := range []enums.OrderStatus{
		enums.OrderStatusCreated,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefunded,
	} {
		t.Run(string(status), func(t *testing.T) {
			env := newReturnsEnv(t)
			product, order := env.paidOrder(t, 5, 2)
			require.NoError(t, env.conn.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", status).Error)

			_, err := env.svc.ProcessReturn(context.Background(), ReturnInput{
				OrderID: order.ID,
				Reason:  "Never kept it",
				Items:   []ReturnLine{{ProductID: product.ID, Quantity: 2, Condition: enums.ReturnConditionResellable}},
			})
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "unexpected error %v", err)
			assert.Equal(t, 3, env.stock(t, product.ID).StockQuantity)

			var count int64
			require.NoError(t, env.conn.Model(&models.ReturnRequest{}).Count(&count).Error)
			assert.Zero(t, count)
		})
	}
}
