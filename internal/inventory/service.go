package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/oakline-backend/internal/ledger"
	"github.com/angelmondragon/oakline-backend/pkg/db"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/logger"
	"github.com/angelmondragon/oakline-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Item is a product quantity carried by an order or return.
type Item struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// StockLevel is the public view of a product's counters.
type StockLevel struct {
	ProductID     uuid.UUID `json:"product_id"`
	StockQuantity int       `json:"stock_quantity"`
	ReservedStock int       `json:"reserved_stock"`
	Available     int       `json:"available"`
}

// Service is the only writer of product stock counters. Every mutating call
// runs in one transaction: the caller's tx when given, otherwise its own.
// Counter updates and their ledger entries commit together or not at all.
type Service interface {
	ReserveStock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []Item) error
	ConfirmSale(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []Item) error
	ReleaseReservation(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []Item) error
	ProcessReturn(ctx context.Context, tx *gorm.DB, returnID uuid.UUID, items []Item, reason string) error
	RecordWriteOff(ctx context.Context, tx *gorm.DB, returnID uuid.UUID, items []Item) error
	RecoverSale(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []Item) error
	Restock(ctx context.Context, productID uuid.UUID, qty int) (*StockLevel, error)
	CreateProduct(ctx context.Context, input CreateProductInput) (*models.Product, error)
	Stock(ctx context.Context, productID uuid.UUID) (*StockLevel, error)
}

// CreateProductInput seeds a product and its opening stock.
type CreateProductInput struct {
	SKU          string
	Name         string
	ImageURL     *string
	Price        decimal.Decimal
	CostPrice    decimal.Decimal
	InitialStock int
}

type ServiceParams struct {
	DB      db.TxRunner
	Repo    Repository
	Ledger  ledger.Service
	Logger  *logger.Logger
	Metrics *metrics.InventoryMetrics
}

type service struct {
	tx      db.TxRunner
	repo    Repository
	ledger  ledger.Service
	logg    *logger.Logger
	metrics *metrics.InventoryMetrics
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("inventory tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:      params.DB,
		repo:    params.Repo,
		ledger:  params.Ledger,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) ReserveStock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []Item) error {
	lines, err := normalize(orderID, items)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		products, err := lockAll(ctx, repo, lines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			p := products[line.ProductID]
			if p.Available() < line.Quantity {
				return pkgerrors.InsufficientStock(p.ID.String(), line.Quantity, p.Available())
			}
		}

		entries := make([]ledger.Entry, 0, len(lines))
		for _, line := range lines {
			ok, err := repo.Reserve(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
			}
			if !ok {
				return currentShortfall(ctx, repo, line)
			}
			entries = append(entries, ledger.Entry{
				ProductID:   line.ProductID,
				Type:        enums.InventoryTxReserve,
				Quantity:    line.Quantity,
				ReferenceID: orderID,
				Reason:      ledger.ReasonOrderReservation,
			})
		}
		return s.record(ctx, tx, entries)
	})
	s.observe(ctx, "reserve", orderID, lines, err)
	return err
}

func (s *service) ConfirmSale(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []Item) error {
	lines, err := normalize(orderID, items)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		products, err := lockAll(ctx, repo, lines)
		if err != nil {
			return err
		}

		entries := make([]ledger.Entry, 0, len(lines))
		for _, line := range lines {
			ok, err := repo.ConsumeReservation(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm sale")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("no reservation of %d units held for product %s", line.Quantity, line.ProductID))
			}
			entries = append(entries, saleEntry(products[line.ProductID], orderID, line.Quantity, ledger.ReasonOrderPaid))
		}
		return s.record(ctx, tx, entries)
	})
	s.observe(ctx, "confirm_sale", orderID, lines, err)
	return err
}

func (s *service) ReleaseReservation(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []Item) error {
	lines, err := normalize(orderID, items)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := lockAll(ctx, repo, lines); err != nil {
			return err
		}

		entries := make([]ledger.Entry, 0, len(lines))
		for _, line := range lines {
			ok, err := repo.Release(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release reservation")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot release %d units for product %s: not reserved", line.Quantity, line.ProductID))
			}
			entries = append(entries, ledger.Entry{
				ProductID:   line.ProductID,
				Type:        enums.InventoryTxRelease,
				Quantity:    line.Quantity,
				ReferenceID: orderID,
				Reason:      ledger.ReasonReservationReleased,
			})
		}
		return s.record(ctx, tx, entries)
	})
	s.observe(ctx, "release", orderID, lines, err)
	return err
}

// ProcessReturn puts returned units back on the shelf. Reservations are untouched.
func (s *service) ProcessReturn(ctx context.Context, tx *gorm.DB, returnID uuid.UUID, items []Item, reason string) error {
	lines, err := normalize(returnID, items)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = ledger.ReasonReturnApproved
	}

	err = s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := lockAll(ctx, repo, lines); err != nil {
			return err
		}

		entries := make([]ledger.Entry, 0, len(lines))
		for _, line := range lines {
			ok, err := repo.AddStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "process return")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", line.ProductID))
			}
			entries = append(entries, ledger.Entry{
				ProductID:   line.ProductID,
				Type:        enums.InventoryTxReturn,
				Quantity:    line.Quantity,
				ReferenceID: returnID,
				Reason:      reason,
			})
		}
		return s.record(ctx, tx, entries)
	})
	s.observe(ctx, "return", returnID, lines, err)
	return err
}

// RecordWriteOff logs damaged returns without adding sellable stock.
func (s *service) RecordWriteOff(ctx context.Context, tx *gorm.DB, returnID uuid.UUID, items []Item) error {
	lines, err := normalize(returnID, items)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, tx, func(tx *gorm.DB) error {
		if _, err := lockAll(ctx, s.repo.WithTx(tx), lines); err != nil {
			return err
		}
		entries := make([]ledger.Entry, 0, len(lines))
		for _, line := range lines {
			entries = append(entries, ledger.Entry{
				ProductID:   line.ProductID,
				Type:        enums.InventoryTxReturn,
				Quantity:    0,
				ReferenceID: returnID,
				Reason:      ledger.ReasonReturnDamaged,
			})
		}
		return s.record(ctx, tx, entries)
	})
	s.observe(ctx, "write_off", returnID, lines, err)
	return err
}

// RecoverSale deducts live stock for an order whose reservation was already
// released. Either every line is deducted or none is.
func (s *service) RecoverSale(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, items []Item) error {
	lines, err := normalize(orderID, items)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		products, err := lockAll(ctx, repo, lines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			p := products[line.ProductID]
			if p.Available() < line.Quantity {
				return pkgerrors.InsufficientStock(p.ID.String(), line.Quantity, p.Available())
			}
		}

		entries := make([]ledger.Entry, 0, len(lines))
		for _, line := range lines {
			ok, err := repo.DeductAvailable(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recover sale")
			}
			if !ok {
				return currentShortfall(ctx, repo, line)
			}
			entries = append(entries, saleEntry(products[line.ProductID], orderID, line.Quantity, ledger.ReasonZombieRecovery))
		}
		return s.record(ctx, tx, entries)
	})
	s.observe(ctx, "recover_sale", orderID, lines, err)
	return err
}

func (s *service) Restock(ctx context.Context, productID uuid.UUID, qty int) (*StockLevel, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "restock quantity must be positive")
	}
	batchID := uuid.New()
	var level *StockLevel
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.ProcessReturn(ctx, tx, batchID, []Item{{ProductID: productID, Quantity: qty}}, ledger.ReasonRestock); err != nil {
			return err
		}
		product, err := s.repo.WithTx(tx).FindProduct(ctx, productID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}
		level = levelOf(*product)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return level, nil
}

func (s *service) CreateProduct(ctx context.Context, input CreateProductInput) (*models.Product, error) {
	if strings.TrimSpace(input.SKU) == "" || strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku and name are required")
	}
	if input.InitialStock < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initial stock must not be negative")
	}
	if input.Price.IsNegative() || input.CostPrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prices must not be negative")
	}

	product := &models.Product{
		SKU:           strings.TrimSpace(input.SKU),
		Name:          strings.TrimSpace(input.Name),
		ImageURL:      input.ImageURL,
		Price:         input.Price.Round(2),
		CostPrice:     input.CostPrice.Round(2),
		StockQuantity: input.InitialStock,
		InitialStock:  input.InitialStock,
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "sku already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create product")
	}
	return product, nil
}

func (s *service) Stock(ctx context.Context, productID uuid.UUID) (*StockLevel, error) {
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return levelOf(*product), nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.tx.WithTx(ctx, fn)
}

func (s *service) record(ctx context.Context, tx *gorm.DB, entries []ledger.Entry) error {
	if err := s.ledger.Record(ctx, tx, entries); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record inventory ledger")
	}
	return nil
}

func (s *service) observe(ctx context.Context, op string, ref uuid.UUID, lines []Item, err error) {
	units := 0
	for _, line := range lines {
		units += line.Quantity
	}
	result := "ok"
	switch {
	case err == nil:
	case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
		result = "insufficient_stock"
		logCtx := s.logg.WithFields(ctx, map[string]any{"operation": op, "reference_id": ref.String()})
		s.logg.Warn(logCtx, err.Error())
	default:
		result = "error"
	}
	s.metrics.Observe(op, result, units)
}

// normalize validates items, merges duplicate products, and sorts by id.
func normalize(referenceID uuid.UUID, items []Item) ([]Item, error) {
	if referenceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	merged := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for product %s must be positive", item.ProductID))
		}
		merged[item.ProductID] += item.Quantity
	}
	lines := make([]Item, 0, len(merged))
	for id, qty := range merged {
		lines = append(lines, Item{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID.String() < lines[j].ProductID.String() })
	return lines, nil
}

func lockAll(ctx context.Context, repo Repository, lines []Item) (map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := repo.LockProducts(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock products")
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", id))
		}
	}
	return products, nil
}

// currentShortfall reports the stock seen after a guarded update lost a race.
func currentShortfall(ctx context.Context, repo Repository, line Item) error {
	product, err := repo.FindProduct(ctx, line.ProductID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload product")
	}
	available := 0
	if product != nil {
		available = product.Available()
	}
	return pkgerrors.InsufficientStock(line.ProductID.String(), line.Quantity, available)
}

func saleEntry(product models.Product, orderID uuid.UUID, qty int, reason string) ledger.Entry {
	cost := product.CostPrice
	price := product.Price
	return ledger.Entry{
		ProductID:   product.ID,
		Type:        enums.InventoryTxSale,
		Quantity:    -qty,
		ReferenceID: orderID,
		UnitCost:    &cost,
		UnitPrice:   &price,
		Reason:      reason,
	}
}

func levelOf(p models.Product) *StockLevel {
	return &StockLevel{
		ProductID:     p.ID,
		StockQuantity: p.StockQuantity,
		ReservedStock: p.ReservedStock,
		Available:     p.Available(),
	}
}
