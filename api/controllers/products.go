package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/oakline-backend/api/responses"
	"github.com/angelmondragon/oakline-backend/api/validators"
	"github.com/angelmondragon/oakline-backend/internal/inventory"
	"github.com/angelmondragon/oakline-backend/internal/ledger"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type productFinder interface {
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type createProductRequest struct {
	SKU          string          `json:"sku" validate:"required,max=64,sku"`
	Name         string          `json:"name" validate:"required,max=200"`
	ImageURL     *string         `json:"image_url,omitempty" validate:"omitempty,url"`
	Price        decimal.Decimal `json:"price" validate:"money"`
	CostPrice    decimal.Decimal `json:"cost_price" validate:"money"`
	InitialStock int             `json:"initial_stock" validate:"min=0"`
}

type restockRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type ledgerResponse struct {
	Reconstruction *ledger.Reconstruction        `json:"reconstruction"`
	Entries        []models.InventoryTransaction `json:"entries"`
	NextCursor     string                        `json:"next_cursor,omitempty"`
}

// ProductStock returns the live counters for one product.
func ProductStock(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.PathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		level, err := svc.Stock(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, level)
	}
}

func AdminCreateProduct(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := svc.CreateProduct(r.Context(), inventory.CreateProductInput{
			SKU:          validators.SanitizeString(payload.SKU, 64),
			Name:         validators.SanitizeString(payload.Name, 200),
			ImageURL:     payload.ImageURL,
			Price:        payload.Price,
			CostPrice:    payload.CostPrice,
			InitialStock: payload.InitialStock,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, product)
	}
}

// AdminRestock adds received units to a product's shelf stock.
func AdminRestock(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.PathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		level, err := svc.Restock(r.Context(), productID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, level)
	}
}

// AdminProductLedger pages through a product's inventory movements and
// reports the stock the full ledger implies next to the live counters.
// Query: limit (1-100), cursor (from next_cursor).
func AdminProductLedger(products productFinder, svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.PathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := products.FindProduct(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product"))
			return
		}
		if product == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "product not found"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.HistoryPage(r.Context(), productID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reconstruction, err := svc.Reconstruct(r.Context(), *product)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconstruct ledger"))
			return
		}
		responses.WriteSuccess(w, ledgerResponse{
			Reconstruction: reconstruction,
			Entries:        page.Entries,
			NextCursor:     page.NextCursor,
		})
	}
}
