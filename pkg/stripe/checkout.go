package stripe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
)

// Stripe rejects checkout sessions that expire sooner than 30 minutes after creation.
const minSessionLifetime = 31 * time.Minute

// SessionLine is one product line shown on the hosted checkout page.
type SessionLine struct {
	Name            string
	ImageURL        string
	UnitAmountCents int64
	Quantity        int64
}

// SessionInput describes a hosted checkout session for one order.
type SessionInput struct {
	OrderID       string
	UserID        string
	CustomerEmail string
	Currency      string
	Lines         []SessionLine
	SuccessURL    string
	CancelURL     string
	Lifetime      time.Duration
}

// Session is the part of the created session callers need.
type Session struct {
	ID  string
	URL string
}

// CreateCheckoutSession opens a payment-mode session tagged with the order
// id in metadata, client_reference_id and the payment intent metadata, so
// every later webhook can be traced back to the order.
func (c *Client) CreateCheckoutSession(ctx context.Context, input SessionInput) (*Session, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("stripe client not initialized")
	}
	params, err := buildSessionParams(input, time.Now())
	if err != nil {
		return nil, err
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-session-" + input.OrderID)

	sess, err := c.backend.NewCheckoutSession(params)
	if err != nil {
		return nil, err
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func buildSessionParams(input SessionInput, now time.Time) (*stripe.CheckoutSessionParams, error) {
	if strings.TrimSpace(input.OrderID) == "" {
		return nil, errors.New("order id is required")
	}
	if len(input.Lines) == 0 {
		return nil, errors.New("at least one line is required")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	lifetime := input.Lifetime
	if lifetime < minSessionLifetime {
		lifetime = minSessionLifetime
	}

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(input.Lines))
	for _, line := range input.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(line.Name),
		}
		if line.ImageURL != "" {
			product.Images = []*string{stripe.String(line.ImageURL)}
		}
		lines = append(lines, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(line.UnitAmountCents),
				ProductData: product,
			},
			Quantity: stripe.Int64(line.Quantity),
		})
	}

	metadata := map[string]string{"orderId": input.OrderID, "userId": input.UserID}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lines,
		SuccessURL:        stripe.String(input.SuccessURL),
		CancelURL:         stripe.String(input.CancelURL),
		ClientReferenceID: stripe.String(input.OrderID),
		ExpiresAt:         stripe.Int64(now.Add(lifetime).Unix()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if input.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(input.CustomerEmail)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return params, nil
}
