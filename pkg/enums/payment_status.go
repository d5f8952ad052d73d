package enums

import "fmt"

// PaymentStatus tracks the money side of an order and its payment record.
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusCompleted     PaymentStatus = "COMPLETED"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusRefundPending PaymentStatus = "REFUND_PENDING"
	PaymentStatusRefunded      PaymentStatus = "REFUNDED"
)

func (p PaymentStatus) String() string {
	return string(p)
}

// Captured reports whether the provider has taken the customer's money at
// some point, including payments that are since being refunded.
func (p PaymentStatus) Captured() bool {
	switch p {
	case PaymentStatusCompleted, PaymentStatusRefundPending, PaymentStatusRefunded:
		return true
	}
	return false
}

func (p PaymentStatus) IsValid() bool {
	return p == PaymentStatusPending || p == PaymentStatusFailed || p.Captured()
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	if p := PaymentStatus(value); p.IsValid() {
		return p, nil
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
