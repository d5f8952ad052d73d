package controllers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/oakline-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/oakline-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
)

type stubCheckoutService struct {
	checkout func(ctx context.Context, input checkoutsvc.Input) (*checkoutsvc.Result, error)
	inputs   []checkoutsvc.Input
}

func (s *stubCheckoutService) Checkout(ctx context.Context, input checkoutsvc.Input) (*checkoutsvc.Result, error) {
	s.inputs = append(s.inputs, input)
	return s.checkout(ctx, input)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
}

func TestCheckout(t *testing.T) {
	productID := uuid.New()
	orderID := uuid.New()
	svc := &stubCheckoutService{checkout: func(ctx context.Context, input checkoutsvc.Input) (*checkoutsvc.Result, error) {
		return &checkoutsvc.Result{OrderID: orderID, SessionID: "cs_test_1", URL: "https://pay.test/cs_test_1", AmountCents: 4999, Currency: "usd"}, nil
	}}
	handler := Checkout(svc, testLogger())

	makeRequest := func(ctx context.Context, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body)).WithContext(ctx)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	shopper := middleware.WithUserID(context.Background(), "user-1")
	valid := `{"email":"ada@example.com","items":[{"product_id":"` + productID.String() + `","quantity":2}]}`

	t.Run("created", func(t *testing.T) {
		rec := makeRequest(shopper, valid)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), orderID.String()) {
			t.Fatalf("expected order id in body, got %s", rec.Body.String())
		}
		last := svc.inputs[len(svc.inputs)-1]
		if last.UserID != "user-1" || len(last.Items) != 1 || last.Items[0].Quantity != 2 {
			t.Fatalf("unexpected input %+v", last)
		}
	})

	t.Run("missing shopper", func(t *testing.T) {
		rec := makeRequest(context.Background(), valid)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("invalid items", func(t *testing.T) {
		before := len(svc.inputs)
		for _, body := range []string{
			`{"email":"ada@example.com","items":[]}`,
			`{"email":"ada@example.com","items":[{"product_id":"` + productID.String() + `","quantity":0}]}`,
			`{"email":"not-an-email","items":[{"product_id":"` + productID.String() + `","quantity":1}]}`,
			`{"email":"ada@example.com","items":[{"product_id":"` + productID.String() + `","quantity":1}],"coupon":"x"}`,
		} {
			rec := makeRequest(shopper, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 for %s, got %d", body, rec.Code)
			}
		}
		if len(svc.inputs) != before {
			t.Fatalf("service must not be called for invalid bodies")
		}
	})

	t.Run("out of stock", func(t *testing.T) {
		svc.checkout = func(ctx context.Context, input checkoutsvc.Input) (*checkoutsvc.Result, error) {
			return nil, pkgerrors.InsufficientStock(productID.String(), 2, 1)
		}
		rec := makeRequest(shopper, valid)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "INSUFFICIENT_STOCK") {
			t.Fatalf("expected INSUFFICIENT_STOCK, got %s", rec.Body.String())
		}
	})
}
