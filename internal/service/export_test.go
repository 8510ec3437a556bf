package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pdv-haver/internal/clients"
	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
)

type recordingExportNotifier struct {
	progress []float64
	complete []string
	failed   []string
}

func (n *recordingExportNotifier) NotifyExportProgress(_ context.Context, _ string, progress float64, _ string) error {
	n.progress = append(n.progress, progress)
	return nil
}

func (n *recordingExportNotifier) NotifyExportComplete(_ context.Context, exportID, _, _ string) error {
	n.complete = append(n.complete, exportID)
	return nil
}

func (n *recordingExportNotifier) NotifyExportFailed(_ context.Context, exportID, _ string) error {
	n.failed = append(n.failed, exportID)
	return nil
}

func TestReceiptExport_GeneratesSpreadsheet(t *testing.T) {
	store := newTestStore(t)
	settle := NewSettlementService(store, OverpaymentReturn, nil)
	ctx := context.Background()

	o := seedObligation(t, store, "50", "")
	for _, amount := range []string{"10", "15.25"} {
		_, err := settle.Settle(ctx, SettleCommand{ObligationID: o.ID, Amount: dec(amount), Method: "pix"})
		require.NoError(t, err)
	}

	dir := t.TempDir()
	files, err := clients.NewLocalStorage(dir, "/files", "http://pdv.local")
	require.NoError(t, err)

	statuses := NewMemoryStatusStore()
	notifier := &recordingExportNotifier{}
	metrics := NewMetrics(prometheus.NewRegistry())

	svc := NewReceiptExportService(store.Receipts(), statuses, files, notifier, metrics, nil)
	svc.spawn = func(f func()) { f() }

	id, err := svc.StartReceiptsExport(ctx, []string{"obligation_id", "amount", "method"}, repository.ReceiptsFilter{ObligationID: &o.ID})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "exports:"))

	view, err := NewExportService(statuses).GetExport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "receipts", view.Type)
	assert.Equal(t, 100.0, view.Progress)
	assert.Nil(t, view.Error)
	require.NotNil(t, view.FileURL)
	assert.True(t, strings.HasPrefix(*view.FileURL, "http://pdv.local/files/"))
	assert.Equal(t, o.ID, view.Filters["obligation_id"])

	assert.Equal(t, []string{id}, notifier.complete)
	assert.Contains(t, notifier.progress, 100.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.exports.WithLabelValues("ready")))

	name := strings.TrimPrefix(*view.FileURL, "http://pdv.local/files/")
	path, ok := files.Path(name)
	require.True(t, ok)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Recibos")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"ID da parcela", "Valor", "Forma de pagamento"}, rows[0])
	assert.Equal(t, o.ID, rows[1][0])
	assert.Equal(t, "pix", rows[2][2])
}

func TestReceiptExport_RejectsUnknownField(t *testing.T) {
	store := newTestStore(t)
	svc := NewReceiptExportService(store.Receipts(), NewMemoryStatusStore(), nil, nil, nil, nil)

	_, err := svc.StartReceiptsExport(context.Background(), []string{"amount", "password"}, repository.ReceiptsFilter{})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

type failingFiles struct{}

func (failingFiles) Save(context.Context, string, []byte) (string, error) {
	return "", assert.AnError
}

func (failingFiles) URL(context.Context, string) (string, error) { return "", nil }

func TestReceiptExport_RecordsFailure(t *testing.T) {
	store := newTestStore(t)
	statuses := NewMemoryStatusStore()
	notifier := &recordingExportNotifier{}

	svc := NewReceiptExportService(store.Receipts(), statuses, failingFiles{}, notifier, nil, nil)
	svc.spawn = func(f func()) { f() }

	id, err := svc.StartReceiptsExport(context.Background(), nil, repository.ReceiptsFilter{})
	require.NoError(t, err)

	view, err := NewExportService(statuses).GetExport(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, view.Error)
	assert.Contains(t, *view.Error, "save export failed")
	assert.Nil(t, view.FileURL)
	assert.Equal(t, []string{id}, notifier.failed)
}

func TestExportService_ListsNewestFirstAndPrunes(t *testing.T) {
	statuses := NewMemoryStatusStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, saveExportStatus(ctx, statuses, &ExportStatus{Key: "exports:old", Type: "receipts", Created: now.Add(-2 * time.Hour)}))
	require.NoError(t, saveExportStatus(ctx, statuses, &ExportStatus{Key: "exports:new", Type: "receipts", Created: now.Add(-5 * time.Minute)}))
	require.NoError(t, statuses.SAdd(ctx, exportSetKey, "exports:gone"))

	svc := NewExportService(statuses)
	svc.now = func() time.Time { return now }

	list, err := svc.GetExports(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "exports:new", list[0].Key)
	assert.Equal(t, "há 5 minutos", list[0].CreatedAt)
	assert.Equal(t, "há 2 horas", list[1].CreatedAt)

	members, err := statuses.SMembers(ctx, exportSetKey)
	require.NoError(t, err)
	assert.NotContains(t, members, "exports:gone")

	_, err = svc.GetExport(ctx, "exports:gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHumanizePtAgo(t *testing.T) {
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(time.Minute), "agora mesmo"},
		{now.Add(-30 * time.Second), "agora mesmo"},
		{now.Add(-time.Minute), "há 1 minuto"},
		{now.Add(-time.Hour), "há 1 hora"},
		{now.Add(-26 * time.Hour), "há 1 dia"},
		{now.Add(-72 * time.Hour), "há 3 dias"},
		{time.Date(2030, 1, 2, 8, 30, 0, 0, time.UTC), "02/01/2030 08:30"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanizePtAgo(tt.at, now))
	}
}

func TestMemoryStatusStore_Expires(t *testing.T) {
	m := NewMemoryStatusStore()
	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(context.Background(), "k", "v", time.Minute))
	v, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	m.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = m.Get(context.Background(), "k")
	assert.ErrorIs(t, err, clients.ErrCacheMiss)
}
