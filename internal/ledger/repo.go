package ledger

import (
	"context"

	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists inventory ledger entries. There is no update or delete.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, entries []models.InventoryTransaction) error
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.InventoryTransaction, error)
	ListByProductAfter(ctx context.Context, productID uuid.UUID, after *pagination.Cursor, limit int) ([]models.InventoryTransaction, error)
	ListByReference(ctx context.Context, referenceID uuid.UUID) ([]models.InventoryTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, entries []models.InventoryTransaction) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.InventoryTransaction, error) {
	var entries []models.InventoryTransaction
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListByProductAfter returns up to limit entries strictly after the cursor in
// (created_at, id) order.
func (r *repository) ListByProductAfter(ctx context.Context, productID uuid.UUID, after *pagination.Cursor, limit int) ([]models.InventoryTransaction, error) {
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if after != nil {
		query = query.Where("(created_at > ?) OR (created_at = ? AND id > ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}
	var entries []models.InventoryTransaction
	if err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListByReference(ctx context.Context, referenceID uuid.UUID) ([]models.InventoryTransaction, error) {
	var entries []models.InventoryTransaction
	if err := r.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
