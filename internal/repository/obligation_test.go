package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv-haver/internal/domain"
)

func TestObligationRepository_CreateAndGet(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	due := time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC)

	o := createObligation(t, store, "33.33", due, "Installment 1/3 | sale:S1")
	assert.NotEmpty(t, o.ID)

	got, err := store.Obligations().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, dec("33.33").Equal(got.OriginalValue))
	assert.True(t, dec("33.33").Equal(got.OutstandingBalance))
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.True(t, due.Equal(got.DueDate))
	assert.Equal(t, "Installment 1/3 | sale:S1", got.LinkageNote)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.Obligations().Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestObligationRepository_ApplyDelta(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	due := time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC)
	repo := store.Obligations()

	t.Run("updates only the target", func(t *testing.T) {
		a := createObligation(t, store, "25.00", due, "Installment 1/2 | sale:S2")
		b := createObligation(t, store, "25.00", due, "Installment 2/2 | sale:S2")

		require.NoError(t, repo.ApplyDelta(ctx, a.ID, dec("15.00"), domain.StatusPartial))

		gotA, err := repo.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, dec("15").Equal(gotA.OutstandingBalance))
		assert.Equal(t, domain.StatusPartial, gotA.Status)

		gotB, err := repo.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, dec("25").Equal(gotB.OutstandingBalance))
		assert.Equal(t, domain.StatusPending, gotB.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := repo.ApplyDelta(ctx, "missing", dec("1"), domain.StatusPartial)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("paid obligation", func(t *testing.T) {
		o := createObligation(t, store, "8.00", due, "")
		require.NoError(t, repo.ApplyDelta(ctx, o.ID, dec("0"), domain.StatusPaid))

		err := repo.ApplyDelta(ctx, o.ID, dec("0"), domain.StatusPaid)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("balance cannot grow or go negative", func(t *testing.T) {
		o := createObligation(t, store, "8.00", due, "")
		assert.ErrorIs(t, repo.ApplyDelta(ctx, o.ID, dec("9"), domain.StatusPartial), domain.ErrInvalidState)
		assert.ErrorIs(t, repo.ApplyDelta(ctx, o.ID, dec("-1"), domain.StatusPartial), domain.ErrInvalidState)
	})

	t.Run("status must agree with balance", func(t *testing.T) {
		o := createObligation(t, store, "8.00", due, "")
		assert.ErrorIs(t, repo.ApplyDelta(ctx, o.ID, dec("3"), domain.StatusPaid), domain.ErrInvalidState)
		assert.ErrorIs(t, repo.ApplyDelta(ctx, o.ID, dec("3"), domain.StatusOverdue), domain.ErrInvalidState)
	})
}

func TestObligationRepository_List(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	repo := store.Obligations()
	today := time.Date(2030, 2, 1, 12, 0, 0, 0, time.UTC)

	past := time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC)
	future := time.Date(2030, 3, 10, 0, 0, 0, 0, time.UTC)

	overdue := createObligation(t, store, "10.00", past, "Installment 1/2 | sale:S1")
	pending := createObligation(t, store, "10.00", future, "Installment 2/2 | sale:S1")
	other := createObligation(t, store, "5.00", future, "Installment 1/1 | sale:S10")
	paid := createObligation(t, store, "5.00", past, "Installment 1/1 | sale:S2")
	require.NoError(t, repo.ApplyDelta(ctx, paid.ID, dec("0"), domain.StatusPaid))

	ids := func(list []domain.Obligation) []string {
		out := make([]string, 0, len(list))
		for _, o := range list {
			out = append(out, o.ID)
		}
		return out
	}

	all, err := repo.List(ctx, ObligationsFilter{Today: today})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	statusOverdue := domain.StatusOverdue
	list, err := repo.List(ctx, ObligationsFilter{Status: &statusOverdue, Today: today})
	require.NoError(t, err)
	assert.Equal(t, []string{overdue.ID}, ids(list))

	statusPending := domain.StatusPending
	list, err = repo.List(ctx, ObligationsFilter{Status: &statusPending, Today: today})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pending.ID, other.ID}, ids(list))

	statusPaid := domain.StatusPaid
	list, err = repo.List(ctx, ObligationsFilter{Status: &statusPaid, Today: today})
	require.NoError(t, err)
	assert.Equal(t, []string{paid.ID}, ids(list))

	sale := "S1"
	list, err = repo.List(ctx, ObligationsFilter{SaleID: &sale, Today: today})
	require.NoError(t, err)
	assert.Equal(t, []string{overdue.ID, pending.ID}, ids(list))

	from := time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC)
	list, err = repo.List(ctx, ObligationsFilter{DueFrom: &from, Today: today})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pending.ID, other.ID}, ids(list))

	list, err = repo.List(ctx, ObligationsFilter{IDs: []string{other.ID, paid.ID}, Today: today})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{other.ID, paid.ID}, ids(list))

	list, err = repo.List(ctx, ObligationsFilter{Limit: 2, Offset: 1, Today: today})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestObligationRepository_ListBySaleMatchesLiterally(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	due := time.Date(2030, 3, 10, 0, 0, 0, 0, time.UTC)

	underscore := createObligation(t, store, "10.00", due, "Installment 1/1 | sale:S_1")
	createObligation(t, store, "10.00", due, "Installment 1/1 | sale:SX1")
	percent := createObligation(t, store, "10.00", due, "Installment 1/2 | sale:50%")
	createObligation(t, store, "10.00", due, "Installment 1/1 | sale:500")

	for sale, want := range map[string]string{"S_1": underscore.ID, "50%": percent.ID} {
		list, err := store.Obligations().List(ctx, ObligationsFilter{SaleID: &sale})
		require.NoError(t, err)
		require.Len(t, list, 1, sale)
		assert.Equal(t, want, list[0].ID)
	}

	assert.Equal(t, `a\%b\_c\\d`, escapeLike(`a%b_c\d`))
}
