package stripe

import (
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"
)

// backend is the slice of the Stripe API the client calls.
type backend interface {
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type resourceBackend struct{}

func (resourceBackend) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return session.New(params)
}

func (resourceBackend) NewRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return refund.New(params)
}
