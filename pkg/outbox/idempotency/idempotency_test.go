package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memStore struct {
	data   map[string]string
	ttls   map[string]time.Duration
	failOn string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (s *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.data[key] = value.(string)
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.failOn == "setnx" {
		return false, errors.New("redis down")
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value.(string)
	s.ttls[key] = ttl
	return true, nil
}

func (s *memStore) IdempotencyKey(scope, id string) string {
	return "ol:idempotency:" + scope + ":" + id
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

const eventKey = "ol:idempotency:evt:stripe-webhook:evt_1"

func TestClaimCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m, err := NewManager(store, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	state, err := m.Claim(ctx, "stripe-webhook", " evt_1 ")
	if err != nil || state != Claimed {
		t.Fatalf("first claim: state=%s err=%v", state, err)
	}
	if store.ttls[eventKey] != DefaultLease {
		t.Fatalf("claim should hold a lease, ttl=%s", store.ttls[eventKey])
	}

	if state, _ := m.Claim(ctx, "stripe-webhook", "evt_1"); state != InFlight {
		t.Fatalf("concurrent claim: state=%s", state)
	}

	if err := m.Complete(ctx, "stripe-webhook", "evt_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if store.ttls[eventKey] != 24*time.Hour {
		t.Fatalf("done marker ttl=%s", store.ttls[eventKey])
	}
	if state, _ := m.Claim(ctx, "stripe-webhook", "evt_1"); state != Done {
		t.Fatalf("redelivery after completion: state=%s", state)
	}
}

func TestReleaseLetsRedeliveryRun(t *testing.T) {
	ctx := context.Background()
	m, _ := NewManager(newMemStore(), time.Hour)

	if state, _ := m.Claim(ctx, "stripe-webhook", "evt_1"); state != Claimed {
		t.Fatalf("state=%s", state)
	}
	if err := m.Release(ctx, "stripe-webhook", "evt_1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if state, _ := m.Claim(ctx, "stripe-webhook", "evt_1"); state != Claimed {
		t.Fatalf("expected a fresh claim after release, got %s", state)
	}
}

func TestLeaseNeverOutlivesTTL(t *testing.T) {
	store := newMemStore()
	m, _ := NewManager(store, 30*time.Second)
	_, _ = m.Claim(context.Background(), "stripe-webhook", "evt_1")
	if store.ttls[eventKey] != 30*time.Second {
		t.Fatalf("lease=%s", store.ttls[eventKey])
	}
}

func TestClaimErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m, _ := NewManager(store, time.Hour)

	if _, err := m.Claim(ctx, "", "evt_1"); err == nil {
		t.Fatal("expected consumer error")
	}
	if _, err := m.Claim(ctx, "stripe-webhook", "  "); err == nil {
		t.Fatal("expected event id error")
	}
	store.failOn = "setnx"
	if state, err := m.Claim(ctx, "stripe-webhook", "evt_1"); err == nil || state == Claimed {
		t.Fatalf("store failure must not grant a claim: state=%s err=%v", state, err)
	}
}

func TestNewManagerValidates(t *testing.T) {
	if _, err := NewManager(nil, time.Hour); err == nil {
		t.Fatal("expected nil store error")
	}
	if _, err := NewManager(newMemStore(), -time.Second); err == nil {
		t.Fatal("expected negative ttl error")
	}
}
