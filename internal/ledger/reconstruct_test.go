package ledger

import (
	"testing"

	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestReconstructMatchesCounters(t *testing.T) {
	productID := uuid.New()
	order := uuid.New()
	zombie := uuid.New()
	ret := uuid.New()
	price := decimal.RequireFromString("100.00")
	cost := decimal.RequireFromString("40.00")

	entries := []models.InventoryTransaction{
		{ProductID: productID, Type: enums.InventoryTxReserve, Quantity: 3, ReferenceID: order, Reason: ReasonOrderReservation},
		{ProductID: productID, Type: enums.InventoryTxSale, Quantity: -3, ReferenceID: order, UnitPrice: &price, UnitCost: &cost, Reason: ReasonOrderPaid},
		{ProductID: productID, Type: enums.InventoryTxReserve, Quantity: 2, ReferenceID: zombie, Reason: ReasonOrderReservation},
		{ProductID: productID, Type: enums.InventoryTxRelease, Quantity: 2, ReferenceID: zombie, Reason: ReasonReservationReleased},
		{ProductID: productID, Type: enums.InventoryTxSale, Quantity: -2, ReferenceID: zombie, UnitPrice: &price, UnitCost: &cost, Reason: ReasonZombieRecovery},
		{ProductID: productID, Type: enums.InventoryTxReturn, Quantity: 1, ReferenceID: ret, Reason: ReasonReturnResellable},
		{ProductID: productID, Type: enums.InventoryTxReturn, Quantity: 0, ReferenceID: ret, Reason: ReasonReturnDamaged},
		{ProductID: productID, Type: enums.InventoryTxReserve, Quantity: 1, ReferenceID: uuid.New(), Reason: ReasonOrderReservation},
		{ProductID: uuid.New(), Type: enums.InventoryTxReturn, Quantity: 99, ReferenceID: ret, Reason: ReasonRestock},
	}
	product := models.Product{ID: productID, InitialStock: 10, StockQuantity: 6, ReservedStock: 1}

	got := Reconstruct(product, entries)
	if !got.Matches {
		t.Fatalf("expected reconstruction to match: %+v", got)
	}
	if got.ExpectedStock != 6 || got.Sold != 5 || got.Returned != 1 {
		t.Fatalf("unexpected totals %+v", got)
	}
	if got.EntriesApplied != 8 {
		t.Fatalf("expected foreign product entry to be skipped, applied=%d", got.EntriesApplied)
	}
	if !got.Margin.Equal(decimal.RequireFromString("300.00")) {
		t.Fatalf("unexpected margin %s", got.Margin)
	}
}

func TestReconstructDetectsDrift(t *testing.T) {
	productID := uuid.New()
	product := models.Product{ID: productID, InitialStock: 5, StockQuantity: 4}

	got := Reconstruct(product, nil)
	if got.Matches {
		t.Fatal("expected drift to be reported")
	}
	if got.ExpectedStock != 5 || got.ActualStock != 4 {
		t.Fatalf("unexpected reconstruction %+v", got)
	}
}
