package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
)

func TestObligationService_OverdueIsDerived(t *testing.T) {
	store := newTestStore(t)
	svc := NewObligationService(store, nil, nil)
	ctx := context.Background()

	past, err := svc.Create(ctx, dec("30"), time.Now().UTC().AddDate(0, 0, -3), "late")
	require.NoError(t, err)
	future, err := svc.Create(ctx, dec("30"), futureDue, "on time")
	require.NoError(t, err)

	got, err := svc.Get(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, got.Status)

	stored, err := store.Obligations().Get(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	overdue := domain.StatusOverdue
	list, err := svc.List(ctx, repository.ObligationsFilter{Status: &overdue})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, past.ID, list[0].ID)

	pending := domain.StatusPending
	list, err = svc.List(ctx, repository.ObligationsFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, future.ID, list[0].ID)
}

func TestObligationService_Create(t *testing.T) {
	svc := NewObligationService(newTestStore(t), nil, nil)

	_, err := svc.Create(context.Background(), dec("-1"), futureDue, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	o, err := svc.Create(context.Background(), dec("12.345"), futureDue, "avulso")
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "12.35", o.OriginalValue.StringFixed(2))
}

func TestObligationService_Receipts(t *testing.T) {
	store := newTestStore(t)
	svc := NewObligationService(store, nil, nil)
	settle := NewSettlementService(store, OverpaymentReturn, nil)
	ctx := context.Background()
	o := seedObligation(t, store, "10", "")

	res, err := settle.Settle(ctx, SettleCommand{ObligationID: o.ID, Amount: dec("4"), Method: "cash", Note: "first"})
	require.NoError(t, err)

	receipts, err := svc.Receipts(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, res.ReceiptID, receipts[0].ID)
	assert.Equal(t, "first", receipts[0].Note)

	rc, err := svc.Receipt(ctx, res.ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, rc.ObligationID)

	_, err = svc.Receipts(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Receipt(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
