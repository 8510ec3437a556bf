package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
	"pdv-haver/pkg/database/sqlite"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "pdv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := repository.NewStore(db, repository.SQLite)
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

var futureDue = time.Now().UTC().AddDate(1, 0, 0)

func seedObligation(t *testing.T, store *repository.Store, value, note string) *domain.Obligation {
	t.Helper()
	o, err := domain.NewObligation(dec(value), futureDue, note)
	require.NoError(t, err)
	require.NoError(t, store.Obligations().Create(context.Background(), o))
	return o
}

func balanceOf(t *testing.T, store *repository.Store, id string) (decimal.Decimal, domain.ObligationStatus) {
	t.Helper()
	o, err := store.Obligations().Get(context.Background(), id)
	require.NoError(t, err)
	return o.OutstandingBalance, o.Status
}

type recordingNotifier struct {
	mu      sync.Mutex
	settled []map[string]any
	created []string
}

func (n *recordingNotifier) NotifyObligationSettled(_ context.Context, _ string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, data)
	return nil
}

func (n *recordingNotifier) NotifyObligationsCreated(_ context.Context, saleID string, _ []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, saleID)
	return nil
}
