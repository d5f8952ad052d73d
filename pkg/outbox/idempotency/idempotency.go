// Package idempotency dedupes at-least-once deliveries, such as provider
// webhooks, with a Redis marker per consumer and event id.
//
// A delivery first claims its event with a short lease. Finishing it turns
// the marker into a long-lived "done" record; failing it drops the marker
// so the redelivery runs again. A worker that dies mid-event only blocks
// redeliveries until the lease runs out.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	pkgredis "github.com/angelmondragon/oakline-backend/pkg/redis"
)

const (
	markerProcessing = "processing"
	markerDone       = "done"

	// DefaultLease bounds how long a claimed event stays blocked if its
	// worker never completes or releases it.
	DefaultLease = 2 * time.Minute
)

// State is the outcome of claiming an event.
type State int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed State = iota
	// InFlight means another delivery holds the claim.
	InFlight
	// Done means the event was already handled.
	Done
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	}
	return "unknown"
}

// Manager holds markers under ol:idempotency:evt:<consumer>:<event_id>.
type Manager struct {
	store pkgredis.IdempotencyStore
	ttl   time.Duration
	lease time.Duration
}

// NewManager keeps done markers for ttl. A zero ttl keeps them forever.
func NewManager(store pkgredis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	lease := DefaultLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &Manager{store: store, ttl: ttl, lease: lease}, nil
}

// Claim takes the event for the caller unless another delivery holds it or
// it was already done.
func (m *Manager) Claim(ctx context.Context, consumer, eventID string) (State, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return InFlight, err
	}
	ok, err := m.store.SetNX(ctx, key, markerProcessing, m.lease)
	if err != nil {
		return InFlight, err
	}
	if ok {
		return Claimed, nil
	}
	marker, err := m.store.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return InFlight, err
	}
	if marker == markerDone {
		return Done, nil
	}
	// Either still processing or the lease lapsed between the two calls;
	// both are safe to report as in flight.
	return InFlight, nil
}

// Complete records the event as handled.
func (m *Manager) Complete(ctx context.Context, consumer, eventID string) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markerDone, m.ttl)
}

// Release drops a claim so the next delivery runs the event again.
func (m *Manager) Release(ctx context.Context, consumer, eventID string) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer, eventID string) (string, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID), nil
}
