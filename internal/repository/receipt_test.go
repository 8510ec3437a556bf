package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv-haver/internal/domain"
)

func TestReceiptRepository(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	repo := store.Receipts()
	due := time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC)

	a := createObligation(t, store, "25.00", due, "Installment 1/2 | sale:S1")
	b := createObligation(t, store, "25.00", due, "Installment 2/2 | sale:S1")

	t.Run("record and get", func(t *testing.T) {
		rc, err := repo.Record(ctx, a.ID, dec("10.004"), "pix", "first")
		require.NoError(t, err)
		assert.NotEmpty(t, rc.ID)
		assert.True(t, dec("10.00").Equal(rc.Amount))

		got, err := repo.Get(ctx, rc.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ObligationID)
		assert.True(t, dec("10").Equal(got.Amount))
		assert.Equal(t, "pix", got.Method)
		assert.Equal(t, "first", got.Note)
		assert.WithinDuration(t, rc.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("unknown obligation", func(t *testing.T) {
		_, err := repo.Record(ctx, "missing", dec("1"), "cash", "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unknown receipt", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list by obligation and filters", func(t *testing.T) {
		_, err := repo.Record(ctx, a.ID, dec("5"), "cash", "")
		require.NoError(t, err)
		_, err = repo.Record(ctx, b.ID, dec("7"), "cash", "")
		require.NoError(t, err)

		list, err := repo.ListByObligation(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, list, 2)
		for _, rc := range list {
			assert.Equal(t, a.ID, rc.ObligationID)
		}

		method := "cash"
		list, err = repo.List(ctx, ReceiptsFilter{Method: &method})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		future := time.Now().Add(time.Hour)
		list, err = repo.List(ctx, ReceiptsFilter{PeriodStart: &future})
		require.NoError(t, err)
		assert.Empty(t, list)

		tooMany, err := repo.HasMoreThan(ctx, 2, ReceiptsFilter{})
		require.NoError(t, err)
		assert.True(t, tooMany)

		tooMany, err = repo.HasMoreThan(ctx, 3, ReceiptsFilter{})
		require.NoError(t, err)
		assert.False(t, tooMany)
	})

	t.Run("period end date includes the whole day", func(t *testing.T) {
		today := domain.DateOnly(time.Now())
		yesterday := today.AddDate(0, 0, -1)

		list, err := repo.List(ctx, ReceiptsFilter{PeriodStart: &today, PeriodEnd: &today})
		require.NoError(t, err)
		assert.Len(t, list, 3)

		list, err = repo.List(ctx, ReceiptsFilter{ObligationID: &b.ID, PeriodEnd: &today})
		require.NoError(t, err)
		assert.Len(t, list, 1)

		list, err = repo.List(ctx, ReceiptsFilter{PeriodEnd: &yesterday})
		require.NoError(t, err)
		assert.Empty(t, list)

		past := time.Now().Add(-time.Hour)
		list, err = repo.List(ctx, ReceiptsFilter{PeriodEnd: &past})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}
