package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
		exposed   bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true, exposed: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found", exposed: true},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true, exposed: true},
		{code: CodeInsufficientStock, status: http.StatusConflict, publicMsg: "out of stock", detailsOK: true, exposed: true},
		{code: CodeSignatureInvalid, status: http.StatusBadRequest, publicMsg: "invalid signature"},
		{code: CodePayloadTooLarge, status: http.StatusRequestEntityTooLarge, publicMsg: "payload too large", exposed: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
		if meta.ExposeMessage != tt.exposed {
			t.Fatalf("code %s expected expose message %v got %v", tt.code, tt.exposed, meta.ExposeMessage)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestPublicMessageHidesInternalText(t *testing.T) {
	if got := New(CodeNotFound, "order 42 not found").PublicMessage(); got != "order 42 not found" {
		t.Fatalf("expected exposed message, got %q", got)
	}
	if got := New(CodeNotFound, "").PublicMessage(); got != "resource not found" {
		t.Fatalf("expected fallback message, got %q", got)
	}
	if got := Wrap(CodeDependency, stdErrors.New("dial tcp 10.0.0.3"), "redis get").PublicMessage(); got != "dependency unavailable" {
		t.Fatalf("dependency message leaked: %q", got)
	}
	var nilErr *Error
	if got := nilErr.PublicMessage(); got != "internal server error" {
		t.Fatalf("nil error message %q", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "load order")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if got := wrapped.Error(); got != "DEPENDENCY_ERROR: load order: boom" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsCodeFindsTypedErrorThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("reserve: %w", InsufficientStock("p-1", 3, 1))
	if !IsCode(err, CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock code")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatalf("unexpected not found match")
	}
	details, ok := As(err).Details().(InsufficientStockDetails)
	if !ok {
		t.Fatalf("expected insufficient stock details, got %T", As(err).Details())
	}
	if details.ProductID != "p-1" || details.Requested != 3 || details.Available != 1 {
		t.Fatalf("unexpected details %+v", details)
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Fatal("nil error should not be retryable")
	}
	if !Retryable(stdErrors.New("connection reset")) {
		t.Fatal("untyped errors should be retryable")
	}
	if Retryable(New(CodeNotFound, "order not found")) {
		t.Fatal("not found should not be retryable")
	}
	if !Retryable(Wrap(CodeDependency, stdErrors.New("timeout"), "stripe refund")) {
		t.Fatal("dependency errors should be retryable")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}
