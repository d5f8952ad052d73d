package controllers

import (
	"net/http"

	"github.com/angelmondragon/oakline-backend/api/middleware"
	"github.com/angelmondragon/oakline-backend/api/responses"
	"github.com/angelmondragon/oakline-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/oakline-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
)

type checkoutRequest struct {
	Email string                  `json:"email" validate:"required,email"`
	Items []checkoutsvc.LineInput `json:"items" validate:"required,min=1,max=50,dive"`
}

// Checkout reserves stock for the shopper's basket and returns the hosted
// payment page for the new order.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "shopper identity required"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Checkout(r.Context(), checkoutsvc.Input{
			UserID: userID,
			Email:  validators.SanitizeString(payload.Email, 254),
			Items:  payload.Items,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
