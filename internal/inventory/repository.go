package inventory

import (
	"context"
	"errors"
	"sort"

	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository owns every write to products.stock_quantity and
// products.reserved_stock. Each guarded update reports whether its
// precondition held at write time.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	Reserve(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	ConsumeReservation(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	Release(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	DeductAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	AddStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockProducts reads the rows FOR UPDATE in id order so concurrent callers
// always acquire locks in the same sequence.
func (r *repository) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	var rows []models.Product
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]models.Product, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) CreateProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *repository) Reserve(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE products
		SET reserved_stock = reserved_stock + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock_quantity - reserved_stock >= ?
	`, qty, productID, qty)
}

func (r *repository) ConsumeReservation(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE products
		SET reserved_stock = reserved_stock - ?,
			stock_quantity = stock_quantity - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved_stock >= ? AND stock_quantity >= ?
	`, qty, qty, productID, qty, qty)
}

func (r *repository) Release(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE products
		SET reserved_stock = reserved_stock - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved_stock >= ?
	`, qty, productID, qty)
}

// DeductAvailable removes units that were never reserved. Units held by
// other orders are not eligible.
func (r *repository) DeductAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stock_quantity - reserved_stock >= ?
	`, qty, productID, qty)
}

func (r *repository) AddStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, qty, productID)
}

func (r *repository) guardedUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	res := r.db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
