package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticketwatch/internal/types"
)

func historyScan(id string, at time.Time, price int64) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "alert-1"
		*dest[2].(*time.Time) = at
		*dest[3].(*decimal.NullDecimal) = decimal.NewNullDecimal(decimal.NewFromInt(price))
		*dest[4].(**int) = nil
		*dest[5].(*string) = "active"
		*dest[6].(*string) = "observed"
		return nil
	}
}

func TestHistoryRepository_List_DefaultLimit(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)
	ctx := context.Background()

	from := jobNow.Add(-24 * time.Hour)
	rows := newMockRows(historyScan("h-1", from, 150), historyScan("h-2", jobNow.Add(-time.Hour), 140))
	db.On("Query", ctx, sqlContains("FROM alert_history"), []any{"alert-1", from, jobNow, 500}).
		Return(rows, nil)

	entries, err := repo.List(ctx, types.HistoryQuery{AlertID: "alert-1", From: from, To: jobNow})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.AlertStatusActive, entries[0].Status)
	assert.True(t, entries[1].Price.Decimal.Equal(decimal.NewFromInt(140)))
	assert.True(t, rows.closed)
}

func TestHistoryRepository_DeleteByIDs(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)
	ctx := context.Background()

	n, err := repo.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)

	ids := []string{"h-1", "h-2"}
	db.On("Exec", ctx, sqlContains("DELETE FROM alert_history"), []any{ids}).
		Return(pgconn.NewCommandTag("DELETE 2"), nil)

	n, err = repo.DeleteByIDs(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestArchiveRepository_UploadArchive(t *testing.T) {
	db := new(mockDBTX)
	repo := NewArchiveRepository(db)
	ctx := context.Background()

	data := []byte{0x28, 0xb5, 0x2f, 0xfd}
	db.On("Exec", ctx, sqlContains("ON CONFLICT (key) DO NOTHING"), []any{"history/2026-03-14/0001", 12, data}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.UploadArchive(ctx, "history/2026-03-14/0001", 12, data))
	db.AssertExpectations(t)
}
