package email

import (
	"context"
	"errors"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/angelmondragon/oakline-backend/pkg/config"
)

func newTestClient(responses ...func() (*rest.Response, error)) (*Client, *int) {
	calls := 0
	client := &Client{
		from:     mail.NewEmail("Oakline", "orders@oakline.example"),
		attempts: 3,
		send: func(ctx context.Context, msg *mail.SGMailV3) (*rest.Response, error) {
			fn := responses[calls]
			calls++
			return fn()
		},
	}
	return client, &calls
}

func status(code int) func() (*rest.Response, error) {
	return func() (*rest.Response, error) { return &rest.Response{StatusCode: code}, nil }
}

func TestSendSucceeds(t *testing.T) {
	client, calls := newTestClient(status(202))
	if err := client.Send(context.Background(), Message{To: "ada@example.com", Subject: "Order confirmed"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected one call, got %d", *calls)
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	client, calls := newTestClient(
		func() (*rest.Response, error) { return nil, errors.New("connection reset") },
		status(503),
		status(202),
	)
	if err := client.Send(context.Background(), Message{To: "ada@example.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 3 {
		t.Fatalf("expected three calls, got %d", *calls)
	}
}

func TestSendStopsOnPermanentFailure(t *testing.T) {
	client, calls := newTestClient(status(400), status(202))
	err := client.Send(context.Background(), Message{To: "ada@example.com"})
	var perm permanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected no retry, got %d calls", *calls)
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	client, _ := newTestClient()
	if err := client.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewWithoutKeyOnlyLogs(t *testing.T) {
	sender := New(config.SendgridConfig{}, nil)
	if _, ok := sender.(*logOnly); !ok {
		t.Fatalf("expected log-only sender, got %T", sender)
	}
	if err := sender.Send(context.Background(), Message{To: "ada@example.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
