package orders

import (
	"fmt"

	"github.com/angelmondragon/oakline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
)

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	// Cancelling only releases a reservation; paid orders leave through REFUNDED.
	enums.OrderStatusCreated: {
		enums.OrderStatusPaid,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusPaid: {
		enums.OrderStatusAllocated,
		enums.OrderStatusPartiallyShipped,
		enums.OrderStatusShipped,
		enums.OrderStatusRefunded,
	},
	enums.OrderStatusAllocated: {
		enums.OrderStatusPartiallyShipped,
		enums.OrderStatusShipped,
	},
	enums.OrderStatusPartiallyShipped: {
		enums.OrderStatusShipped,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusDelivered,
		enums.OrderStatusRefunded,
	},
	enums.OrderStatusDelivered: {
		enums.OrderStatusRefunded,
	},
	// A cancelled order whose payment clears late is either recovered or refunded.
	enums.OrderStatusCancelled: {
		enums.OrderStatusPaid,
		enums.OrderStatusRefunded,
	},
	enums.OrderStatusFailed: {
		enums.OrderStatusCancelled,
	},
}

// CanTransition reports whether from -> to is a legal move. Staying in the
// same state is always allowed and treated as a no-op by callers.
func CanTransition(from, to enums.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a STATE_CONFLICT error for illegal moves.
func CheckTransition(from, to enums.OrderStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", from, to))
}

// Shippable reports whether fulfillment may record a shipment in this state.
func Shippable(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusPaid, enums.OrderStatusAllocated, enums.OrderStatusPartiallyShipped:
		return true
	}
	return false
}

// Returnable reports whether goods of an order in this state may come back.
// Only orders with a captured sale qualify.
func Returnable(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusPaid, enums.OrderStatusAllocated, enums.OrderStatusPartiallyShipped,
		enums.OrderStatusShipped, enums.OrderStatusDelivered:
		return true
	}
	return false
}
