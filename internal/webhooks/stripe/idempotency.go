package stripewebhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/oakline-backend/pkg/outbox/idempotency"
)

// ConsumerName scopes Stripe event markers in Redis.
const ConsumerName = "stripe-webhook"

// IdempotencyGuard claims Stripe event ids so a redelivery of a handled
// event is acknowledged without touching the database, and two concurrent
// deliveries of one event never both reconcile it.
type IdempotencyGuard struct {
	manager  *idempotency.Manager
	consumer string
}

func NewIdempotencyGuard(manager *idempotency.Manager, consumer string) (*IdempotencyGuard, error) {
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if consumer == "" {
		consumer = ConsumerName
	}
	return &IdempotencyGuard{manager: manager, consumer: consumer}, nil
}

func (g *IdempotencyGuard) Claim(ctx context.Context, eventID string) (idempotency.State, error) {
	state, err := g.manager.Claim(ctx, g.consumer, eventID)
	if err != nil {
		return state, fmt.Errorf("claim stripe event %s: %w", eventID, err)
	}
	return state, nil
}

func (g *IdempotencyGuard) Complete(ctx context.Context, eventID string) error {
	return g.manager.Complete(ctx, g.consumer, eventID)
}

// Release forgets eventID so the provider's retry is processed.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	return g.manager.Release(ctx, g.consumer, eventID)
}
