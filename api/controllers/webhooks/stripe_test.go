package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	stripewebhook "github.com/angelmondragon/oakline-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/oakline-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/outbox/idempotency"
	pkgstripe "github.com/angelmondragon/oakline-backend/pkg/stripe"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

const testSecret = "whsec_test"

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t, testSecret)
	service := &fakeStripeWebhookService{outcome: stripewebhook.OutcomeConfirmed}
	handler := StripeWebhook(service, newVerifier(), newGuard(t), nil)

	rec := post(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), string(stripewebhook.OutcomeConfirmed)) {
		t.Fatalf("expected outcome in body, got %s", rec.Body.String())
	}

	rec = post(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), string(stripewebhook.OutcomeDuplicate)) {
		t.Fatalf("expected duplicate outcome, got %s", rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, testSecret)
	_, forged := buildSignedEvent(t, "whsec_other")
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, newVerifier(), newGuard(t), nil)

	for name, header := range map[string]string{"missing": "", "garbage": "t=1,v1=invalid", "wrong secret": forged} {
		rec := post(handler, payload, header)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "SIGNATURE_INVALID") {
			t.Fatalf("%s: expected SIGNATURE_INVALID, got %s", name, rec.Body.String())
		}
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_OversizedPayloadRejected(t *testing.T) {
	payload := append([]byte(`{"id":"evt_big","padding":"`), bytes.Repeat([]byte("x"), maxPayloadBytes)...)
	payload = append(payload, `"}`...)
	header := buildStripeSignatureHeader(payload, testSecret, time.Now().Unix())
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, newVerifier(), newGuard(t), nil)

	rec := post(handler, payload, header)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), string(pkgerrors.CodePayloadTooLarge)) {
		t.Fatalf("expected PAYLOAD_TOO_LARGE, got %s", rec.Body.String())
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked for an oversized payload")
	}
}

func TestStripeWebhook_FailureAllowsRedelivery(t *testing.T) {
	payload, header := buildSignedEvent(t, testSecret)
	service := &fakeStripeWebhookService{err: errors.New("db unavailable")}
	handler := StripeWebhook(service, newVerifier(), newGuard(t), nil)

	rec := post(handler, payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db unavailable") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}

	service.err = nil
	service.outcome = stripewebhook.OutcomeConfirmed
	rec = post(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery to reach the service, calls=%d", service.calls)
	}
}

func TestStripeWebhook_PermanentFailureIsAcknowledged(t *testing.T) {
	payload, header := buildSignedEvent(t, testSecret)
	service := &fakeStripeWebhookService{err: pkgerrors.New(pkgerrors.CodeValidation, "session metadata has no order id")}
	handler := StripeWebhook(service, newVerifier(), newGuard(t), nil)

	rec := post(handler, payload, header)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), string(stripewebhook.OutcomeFailed)) {
		t.Fatalf("expected 200 with failed outcome, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = post(handler, payload, header)
	if !strings.Contains(rec.Body.String(), string(stripewebhook.OutcomeDuplicate)) || service.calls != 1 {
		t.Fatalf("redelivery should be deduped, calls=%d body=%s", service.calls, rec.Body.String())
	}
}

func TestStripeWebhook_ConcurrentDeliveryConflicts(t *testing.T) {
	payload, header := buildSignedEvent(t, testSecret)
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	guard := newGuard(t)
	if state, err := guard.Claim(context.Background(), event.ID); err != nil || state != idempotency.Claimed {
		t.Fatalf("pre-claim: state=%s err=%v", state, err)
	}

	service := &fakeStripeWebhookService{outcome: stripewebhook.OutcomeConfirmed}
	rec := post(StripeWebhook(service, newVerifier(), guard, nil), payload, header)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while another delivery holds the claim, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service must not run for an in-flight event")
	}
}

func TestStripeWebhook_UnconfiguredHandler(t *testing.T) {
	payload, header := buildSignedEvent(t, testSecret)
	rec := post(StripeWebhook(nil, newVerifier(), newGuard(t), nil), payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func post(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func newVerifier() *pkgstripe.Client {
	client, err := pkgstripe.NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_123", Secret: testSecret}, nil)
	if err != nil {
		panic(err)
	}
	return client
}

func newGuard(t *testing.T) *stripewebhook.IdempotencyGuard {
	t.Helper()
	manager, err := idempotency.NewManager(newInMemoryStore(), time.Minute)
	if err != nil {
		t.Fatalf("manager setup: %v", err)
	}
	guard, err := stripewebhook.NewIdempotencyGuard(manager, stripewebhook.ConsumerName)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func buildSignedEvent(t *testing.T, secret string) ([]byte, string) {
	t.Helper()
	session := map[string]any{
		"id":             "cs_test_" + uuid.NewString()[:8],
		"object":         "checkout.session",
		"payment_status": "paid",
		"metadata":       map[string]string{"orderId": uuid.NewString()},
	}
	rawSession, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypeCheckoutSessionCompleted,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: rawSession},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, buildStripeSignatureHeader(payload, secret, time.Now().Unix())
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	calls   int
	outcome stripewebhook.Outcome
	err     error
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error) {
	f.calls++
	if f.err != nil {
		return stripewebhook.OutcomeFailed, f.err
	}
	return f.outcome, nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("oak:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
