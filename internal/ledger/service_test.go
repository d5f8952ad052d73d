package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	"github.com/angelmondragon/oakline-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fakeRepository struct {
	appendFn func(ctx context.Context, entries []models.InventoryTransaction) error
	boundTx  *gorm.DB
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	f.boundTx = tx
	return f
}

func (f *fakeRepository) Append(ctx context.Context, entries []models.InventoryTransaction) error {
	if f.appendFn != nil {
		return f.appendFn(ctx, entries)
	}
	return nil
}

func (f *fakeRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.InventoryTransaction, error) {
	return nil, nil
}

func (f *fakeRepository) ListByProductAfter(ctx context.Context, productID uuid.UUID, after *pagination.Cursor, limit int) ([]models.InventoryTransaction, error) {
	return nil, nil
}

func (f *fakeRepository) ListByReference(ctx context.Context, referenceID uuid.UUID) ([]models.InventoryTransaction, error) {
	return nil, nil
}

func TestService_RecordAppendsInsideTx(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	var appended []models.InventoryTransaction
	repo.appendFn = func(ctx context.Context, entries []models.InventoryTransaction) error {
		appended = entries
		return nil
	}

	cost := decimal.RequireFromString("120.00")
	price := decimal.RequireFromString("349.99")
	tx := &gorm.DB{}
	productID := uuid.New()
	orderID := uuid.New()
	err = svc.Record(context.Background(), tx, []Entry{
		{ProductID: productID, Type: enums.InventoryTxReserve, Quantity: 2, ReferenceID: orderID, Reason: ReasonOrderReservation},
		{ProductID: productID, Type: enums.InventoryTxSale, Quantity: -2, ReferenceID: orderID, UnitCost: &cost, UnitPrice: &price, Reason: ReasonOrderPaid},
	})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if repo.boundTx != tx {
		t.Fatal("expected repository to be bound to the caller transaction")
	}
	if len(appended) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(appended))
	}
	if appended[1].Quantity != -2 || appended[1].UnitPrice == nil || !appended[1].UnitPrice.Equal(price) {
		t.Fatalf("unexpected sale row %+v", appended[1])
	}
}

func TestService_RecordValidation(t *testing.T) {
	productID := uuid.New()
	ref := uuid.New()
	cost := decimal.NewFromInt(1)

	tests := []struct {
		name  string
		entry Entry
	}{
		{name: "missing product", entry: Entry{Type: enums.InventoryTxReserve, Quantity: 1, ReferenceID: ref, Reason: "r"}},
		{name: "missing reference", entry: Entry{ProductID: productID, Type: enums.InventoryTxReserve, Quantity: 1, Reason: "r"}},
		{name: "missing reason", entry: Entry{ProductID: productID, Type: enums.InventoryTxReserve, Quantity: 1, ReferenceID: ref}},
		{name: "zero reserve", entry: Entry{ProductID: productID, Type: enums.InventoryTxReserve, ReferenceID: ref, Reason: "r"}},
		{name: "negative release", entry: Entry{ProductID: productID, Type: enums.InventoryTxRelease, Quantity: -1, ReferenceID: ref, Reason: "r"}},
		{name: "positive sale", entry: Entry{ProductID: productID, Type: enums.InventoryTxSale, Quantity: 1, ReferenceID: ref, Reason: "r"}},
		{name: "negative return", entry: Entry{ProductID: productID, Type: enums.InventoryTxReturn, Quantity: -1, ReferenceID: ref, Reason: "r"}},
		{name: "unit cost outside sale", entry: Entry{ProductID: productID, Type: enums.InventoryTxReturn, Quantity: 1, ReferenceID: ref, UnitCost: &cost, Reason: "r"}},
		{name: "unknown type", entry: Entry{ProductID: productID, Type: "ADJUST", Quantity: 1, ReferenceID: ref, Reason: "r"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepository{appendFn: func(ctx context.Context, entries []models.InventoryTransaction) error {
				t.Fatal("append should not be called")
				return nil
			}}
			svc, _ := NewService(repo)
			if err := svc.Record(context.Background(), &gorm.DB{}, []Entry{tc.entry}); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestService_RecordRequiresTx(t *testing.T) {
	svc, _ := NewService(&fakeRepository{})
	err := svc.Record(context.Background(), nil, []Entry{{ProductID: uuid.New(), Type: enums.InventoryTxReturn, ReferenceID: uuid.New(), Reason: ReasonRestock}})
	if err == nil {
		t.Fatal("expected error without transaction")
	}
}

func TestService_RecordPropagatesRepoError(t *testing.T) {
	boom := errors.New("boom")
	svc, _ := NewService(&fakeRepository{appendFn: func(ctx context.Context, entries []models.InventoryTransaction) error {
		return boom
	}})
	err := svc.Record(context.Background(), &gorm.DB{}, []Entry{{ProductID: uuid.New(), Type: enums.InventoryTxReturn, ReferenceID: uuid.New(), Reason: ReasonRestock}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected repo error, got %v", err)
	}
}

func TestNewServiceRequiresRepository(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatal("expected error for nil repository")
	}
}
