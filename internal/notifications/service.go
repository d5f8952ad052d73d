package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/email"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// Notifier sends customer email for order lifecycle changes. Delivery is
// best-effort: failures are logged and never returned, so callers can run it
// after their transaction has committed.
type Notifier interface {
	OrderConfirmed(ctx context.Context, order models.Order)
	OrderShipped(ctx context.Context, order models.Order, shipment models.Shipment)
	OrderRefunded(ctx context.Context, order models.Order)
}

type service struct {
	sender email.Sender
	logg   *logger.Logger
}

func NewService(sender email.Sender, logg *logger.Logger) Notifier {
	return &service{sender: sender, logg: logg}
}

func (s *service) OrderConfirmed(ctx context.Context, order models.Order) {
	var lines strings.Builder
	for _, item := range order.Items {
		fmt.Fprintf(&lines, "%d x %s @ %s\n", item.Quantity, item.Name, item.Price.StringFixed(2))
	}
	body := fmt.Sprintf("Thanks for your order %s.\n\n%s\nTotal: %s %s\n",
		shortID(order), lines.String(), formatCents(order.AmountCents), strings.ToUpper(order.Currency))
	s.deliver(ctx, order, "Order confirmed", body)
}

func (s *service) OrderShipped(ctx context.Context, order models.Order, shipment models.Shipment) {
	body := fmt.Sprintf("Order %s is on its way with %s.\nTracking number: %s\n",
		shortID(order), shipment.Carrier, shipment.TrackingNumber)
	s.deliver(ctx, order, "Your order has shipped", body)
}

func (s *service) OrderRefunded(ctx context.Context, order models.Order) {
	body := fmt.Sprintf("We have refunded %s %s for order %s. It can take 5-10 business days to appear on your statement.\n",
		formatCents(order.AmountCents), strings.ToUpper(order.Currency), shortID(order))
	s.deliver(ctx, order, "Your refund is on its way", body)
}

func (s *service) deliver(ctx context.Context, order models.Order, subject, body string) {
	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	if strings.TrimSpace(order.Email) == "" {
		s.logg.Warn(logCtx, "order has no email address, notification skipped")
		return
	}
	err := s.sender.Send(ctx, email.Message{
		To:      order.Email,
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		s.logg.Error(logCtx, "send "+strings.ToLower(subject)+" email", err)
	}
}

func shortID(order models.Order) string {
	id := order.ID.String()
	return strings.ToUpper(id[:8])
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
