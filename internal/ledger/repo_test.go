package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/oakline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/oakline-backend/pkg/db/models"
	"github.com/angelmondragon/oakline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/oakline-backend/pkg/errors"
	"github.com/angelmondragon/oakline-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryPageWalksLedgerInOrder(t *testing.T) {
	conn := dbtest.New(t)
	repo := NewRepository(conn)
	svc, err := NewService(repo)
	require.NoError(t, err)

	productID := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		row := models.InventoryTransaction{
			ID:          uuid.New(),
			ProductID:   productID,
			Type:        enums.InventoryTxReserve,
			Quantity:    1,
			ReferenceID: uuid.New(),
			Reason:      ReasonOrderReservation,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, conn.Create(&row).Error)
		want = append(want, row.ID)
	}
	other := models.InventoryTransaction{ProductID: uuid.New(), Type: enums.InventoryTxReserve, Quantity: 1, ReferenceID: uuid.New(), Reason: ReasonOrderReservation, CreatedAt: base}
	require.NoError(t, conn.Create(&other).Error)

	ctx := context.Background()
	var got []uuid.UUID
	cursor := ""
	pages := 0
	for {
		page, err := svc.HistoryPage(ctx, productID, pagination.Params{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, entry := range page.Entries {
			got = append(got, entry.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		require.Less(t, pages, 5, "pagination did not terminate")
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)
}

func TestHistoryPageRejectsBadCursor(t *testing.T) {
	svc, err := NewService(NewRepository(dbtest.New(t)))
	require.NoError(t, err)

	_, err = svc.HistoryPage(context.Background(), uuid.New(), pagination.Params{Cursor: "not-base64!"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
