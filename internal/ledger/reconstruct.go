package ledger

import (
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconstruction compares live counters with what the ledger implies.
type Reconstruction struct {
	ProductID      uuid.UUID       `json:"product_id"`
	InitialStock   int             `json:"initial_stock"`
	Returned       int             `json:"returned"`
	Sold           int             `json:"sold"`
	ExpectedStock  int             `json:"expected_stock"`
	ActualStock    int             `json:"actual_stock"`
	ExpectedHeld   int             `json:"expected_reserved"`
	ActualHeld     int             `json:"actual_reserved"`
	Revenue        decimal.Decimal `json:"revenue"`
	CostOfGoods    decimal.Decimal `json:"cost_of_goods"`
	Margin         decimal.Decimal `json:"margin"`
	Matches        bool            `json:"matches"`
	EntriesApplied int             `json:"entries_applied"`
}

// Reconstruct replays entries on top of the product's initial stock.
// stock = initial + sum(RETURN) - |sum(SALE)|. Reservations held are
// RESERVE - RELEASE - sales that consumed a reservation; zombie recoveries
// deduct live stock and never held one.
func Reconstruct(product models.Product, entries []models.InventoryTransaction) Reconstruction {
	r := Reconstruction{
		ProductID:    product.ID,
		InitialStock: product.InitialStock,
		ActualStock:  product.StockQuantity,
		ActualHeld:   product.ReservedStock,
		Revenue:      decimal.Zero,
		CostOfGoods:  decimal.Zero,
	}

	for _, entry := range entries {
		if entry.ProductID != product.ID {
			continue
		}
		r.EntriesApplied++
		switch entry.Type {
		case enums.InventoryTxReserve:
			r.ExpectedHeld += entry.Quantity
		case enums.InventoryTxRelease:
			r.ExpectedHeld -= entry.Quantity
		case enums.InventoryTxReturn:
			r.Returned += entry.Quantity
		case enums.InventoryTxSale:
			units := -entry.Quantity
			r.Sold += units
			if entry.Reason != ReasonZombieRecovery {
				r.ExpectedHeld -= units
			}
			qty := decimal.NewFromInt(int64(units))
			if entry.UnitPrice != nil {
				r.Revenue = r.Revenue.Add(entry.UnitPrice.Mul(qty))
			}
			if entry.UnitCost != nil {
				r.CostOfGoods = r.CostOfGoods.Add(entry.UnitCost.Mul(qty))
			}
		}
	}

	r.ExpectedStock = r.InitialStock + r.Returned - r.Sold
	r.Margin = r.Revenue.Sub(r.CostOfGoods)
	r.Matches = r.ExpectedStock == r.ActualStock && r.ExpectedHeld == r.ActualHeld
	return r
}
