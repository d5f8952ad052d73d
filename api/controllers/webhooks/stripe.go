package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/angelmondragon/oakline-backend/api/responses"
	stripewebhook "github.com/angelmondragon/oakline-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/outbox/idempotency"
	"github.com/stripe/stripe-go/v84"
)

const maxPayloadBytes = 1 << 16

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error)
}

// EventGuard claims delivered event ids for the duration of one delivery.
type EventGuard interface {
	Claim(ctx context.Context, eventID string) (idempotency.State, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

// EventVerifier checks the Stripe-Signature header against the raw payload.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
}

type webhookResponse struct {
	EventID string                `json:"event_id"`
	Outcome stripewebhook.Outcome `json:"outcome"`
}

// StripeWebhook verifies and reconciles Stripe payment events. A transient
// failure is answered with 500 and the claim is dropped so Stripe's retry
// runs again; a permanent one is acknowledged with outcome "failed". A
// delivery racing one still in progress gets 409, which Stripe also retries.
// Bodies over maxPayloadBytes get 413 before the signature is checked.
func StripeWebhook(svc StripeWebhookService, client EventVerifier, guard EventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler not configured"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodePayloadTooLarge, err, fmt.Sprintf("webhook payload exceeds %d bytes", tooLarge.Limit)))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "stripe signature missing"))
			return
		}

		event, err := client.VerifyEvent(payload, sigHeader)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "invalid stripe signature"))
			return
		}

		state, err := guard.Claim(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check event idempotency"))
			return
		}
		switch state {
		case idempotency.Done:
			responses.WriteSuccess(w, webhookResponse{EventID: event.ID, Outcome: stripewebhook.OutcomeDuplicate})
			return
		case idempotency.InFlight:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "event is already being processed"))
			return
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil && !pkgerrors.Retryable(err) {
			// Redelivery cannot fix a permanent failure.
			if logg != nil {
				logg.Warn(logg.WithFields(logg.WithEventID(ctx, event.ID), map[string]any{"error": err.Error()}), "stripe event failed permanently")
			}
			outcome, err = stripewebhook.OutcomeFailed, nil
		}
		if err != nil {
			if relErr := guard.Release(ctx, event.ID); relErr != nil && logg != nil {
				logg.Error(logg.WithEventID(ctx, event.ID), "failed to release webhook event claim", relErr)
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "process stripe event"))
			return
		}
		if err := guard.Complete(ctx, event.ID); err != nil && logg != nil {
			// The lease still covers the event; a later redelivery is deduped
			// by the reconciler's own state checks.
			logg.Error(logg.WithEventID(ctx, event.ID), "failed to record webhook event as done", err)
		}

		responses.WriteSuccess(w, webhookResponse{EventID: event.ID, Outcome: outcome})
	}
}
