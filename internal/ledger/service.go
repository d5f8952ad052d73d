package ledger

import (
	"context"
	"fmt"

	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service records and reads inventory ledger entries.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entries []Entry) error
	History(ctx context.Context, productID uuid.UUID) ([]models.InventoryTransaction, error)
	HistoryPage(ctx context.Context, productID uuid.UUID, params pagination.Params) (*Page, error)
	ForReference(ctx context.Context, referenceID uuid.UUID) ([]models.InventoryTransaction, error)
	Reconstruct(ctx context.Context, product models.Product) (*Reconstruction, error)
}

// Entry is the immutable input for one ledger row. Quantity is the signed
// effect: negative for SALE.
type Entry struct {
	ProductID   uuid.UUID
	Type        enums.InventoryTransactionType
	Quantity    int
	ReferenceID uuid.UUID
	UnitCost    *decimal.Decimal
	UnitPrice   *decimal.Decimal
	Reason      string
}

// Page is one window of a product's ledger, oldest first.
type Page struct {
	Entries    []models.InventoryTransaction `json:"entries"`
	NextCursor string                        `json:"next_cursor,omitempty"`
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// Record validates entries and appends them inside tx. tx must be the
// transaction that mutates the matching product counters.
func (s *service) Record(ctx context.Context, tx *gorm.DB, entries []Entry) error {
	if tx == nil {
		return fmt.Errorf("ledger entries must be recorded inside a transaction")
	}
	rows := make([]models.InventoryTransaction, 0, len(entries))
	for _, entry := range entries {
		if err := entry.validate(); err != nil {
			return err
		}
		rows = append(rows, models.InventoryTransaction{
			ProductID:   entry.ProductID,
			Type:        entry.Type,
			Quantity:    entry.Quantity,
			ReferenceID: entry.ReferenceID,
			UnitCost:    entry.UnitCost,
			UnitPrice:   entry.UnitPrice,
			Reason:      entry.Reason,
		})
	}
	return s.repo.WithTx(tx).Append(ctx, rows)
}

func (s *service) History(ctx context.Context, productID uuid.UUID) ([]models.InventoryTransaction, error) {
	if productID == uuid.Nil {
		return nil, fmt.Errorf("product id is required")
	}
	return s.repo.ListByProduct(ctx, productID)
}

func (s *service) HistoryPage(ctx context.Context, productID uuid.UUID, params pagination.Params) (*Page, error) {
	if productID == uuid.Nil {
		return nil, fmt.Errorf("product id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByProductAfter(ctx, productID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, err
	}
	page := &Page{Entries: rows}
	if len(rows) > limit {
		page.Entries = rows[:limit]
		last := page.Entries[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (s *service) ForReference(ctx context.Context, referenceID uuid.UUID) ([]models.InventoryTransaction, error) {
	if referenceID == uuid.Nil {
		return nil, fmt.Errorf("reference id is required")
	}
	return s.repo.ListByReference(ctx, referenceID)
}

func (s *service) Reconstruct(ctx context.Context, product models.Product) (*Reconstruction, error) {
	entries, err := s.History(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	result := Reconstruct(product, entries)
	return &result, nil
}

func (e Entry) validate() error {
	if e.ProductID == uuid.Nil {
		return fmt.Errorf("product id is required")
	}
	if e.ReferenceID == uuid.Nil {
		return fmt.Errorf("reference id is required")
	}
	if e.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	switch e.Type {
	case enums.InventoryTxReserve, enums.InventoryTxRelease:
		if e.Quantity <= 0 {
			return fmt.Errorf("%s quantity must be positive, got %d", e.Type, e.Quantity)
		}
	case enums.InventoryTxReturn:
		if e.Quantity < 0 {
			return fmt.Errorf("RETURN quantity must not be negative, got %d", e.Quantity)
		}
	case enums.InventoryTxSale:
		if e.Quantity >= 0 {
			return fmt.Errorf("SALE quantity must be negative, got %d", e.Quantity)
		}
	default:
		return fmt.Errorf("invalid inventory transaction type %q", e.Type)
	}
	if e.Type != enums.InventoryTxSale && (e.UnitCost != nil || e.UnitPrice != nil) {
		return fmt.Errorf("unit cost and price are captured on SALE only")
	}
	return nil
}
