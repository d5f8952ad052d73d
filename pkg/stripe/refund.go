package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
)

// RefundInput refunds a payment intent, in full when AmountCents is zero.
type RefundInput struct {
	PaymentIntentID string
	AmountCents     int64
	OrderID         string
	Reason          string
}

// Refund issues a refund and returns its Stripe id. The order id keys the
// request so a retried call cannot refund twice.
func (c *Client) Refund(ctx context.Context, input RefundInput) (string, error) {
	if c == nil || c.backend == nil {
		return "", errors.New("stripe client not initialized")
	}
	params, err := buildRefundParams(input)
	if err != nil {
		return "", err
	}
	params.Context = ctx

	ref, err := c.backend.NewRefund(params)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func buildRefundParams(input RefundInput) (*stripe.RefundParams, error) {
	pi := strings.TrimSpace(input.PaymentIntentID)
	if pi == "" {
		return nil, errors.New("payment intent id is required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(pi),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if input.AmountCents > 0 {
		params.Amount = stripe.Int64(input.AmountCents)
	}
	if input.OrderID != "" {
		params.AddMetadata("orderId", input.OrderID)
		params.SetIdempotencyKey("refund-" + input.OrderID)
	}
	if input.Reason != "" {
		params.AddMetadata("reason", input.Reason)
	}
	return params, nil
}
