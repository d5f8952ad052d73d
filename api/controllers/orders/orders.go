package orders

import (
	"net/http"

	"github.com/angelmondragon/oakline-backend/api/middleware"
	"github.com/angelmondragon/oakline-backend/api/responses"
	"github.com/angelmondragon/oakline-backend/api/validators"
	internalorders "github.com/angelmondragon/oakline-backend/internal/orders"
	"github.com/angelmondragon/oakline-backend/internal/returns"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
)

type shipmentRequest struct {
	Carrier        string                        `json:"carrier" validate:"required,max=64"`
	TrackingNumber string                        `json:"tracking_number" validate:"required,max=128"`
	Items          []internalorders.ShipmentLine `json:"items" validate:"omitempty,dive"`
}

type returnRequest struct {
	Reason string               `json:"reason" validate:"required,max=500"`
	Notes  *string              `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Items  []returns.ReturnLine `json:"items" validate:"required,min=1,dive"`
}

// Detail returns one of the calling shopper's orders. Orders owned by someone
// else are reported as missing.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if order.UserID != middleware.UserIDFromContext(r.Context()) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDetail(*order))
	}
}

func Allocate(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Allocate(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDetail(*order))
	}
}

// CreateShipment records a parcel against a paid order. Omitting items ships
// everything not yet shipped.
func CreateShipment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload shipmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CreateShipment(r.Context(), internalorders.ShipmentInput{
			OrderID:        orderID,
			Carrier:        validators.SanitizeString(payload.Carrier, 64),
			TrackingNumber: validators.SanitizeString(payload.TrackingNumber, 128),
			Items:          payload.Items,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func MarkDelivered(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.MarkDelivered(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDetail(*order))
	}
}

// ProcessReturn takes items back from a delivered order. Resellable units go
// back on the shelf, damaged ones are written off.
func ProcessReturn(svc returns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload returnRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ProcessReturn(r.Context(), returns.ReturnInput{
			OrderID: orderID,
			Reason:  validators.SanitizeString(payload.Reason, 500),
			Notes:   payload.Notes,
			Items:   payload.Items,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Refund returns a paid order's money. A provider failure still answers 202
// with payment_status REFUND_PENDING; the retry endpoint finishes it.
func Refund(svc returns.Service, logg *logger.Logger) http.HandlerFunc {
	return refundHandler(logg, svc.RefundOrder)
}

func RetryRefund(svc returns.Service, logg *logger.Logger) http.HandlerFunc {
	return refundHandler(logg, svc.RetryRefund)
}
