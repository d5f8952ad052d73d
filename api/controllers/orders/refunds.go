package orders

import (
	"context"
	"net/http"

	"github.com/angelmondragon/oakline-backend/api/responses"
	"github.com/angelmondragon/oakline-backend/api/validators"
	"github.com/angelmondragon/oakline-backend/internal/returns"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/google/uuid"
)

type refundFunc func(ctx context.Context, orderID uuid.UUID) (*returns.RefundResult, error)

func refundHandler(logg *logger.Logger, refund refundFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := refund(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if result.Pending() {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
