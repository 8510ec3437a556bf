package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
)

type ReceiptLister interface {
	List(ctx context.Context, f repository.ReceiptsFilter) ([]domain.Receipt, error)
	HasMoreThan(ctx context.Context, limit int64, f repository.ReceiptsFilter) (bool, error)
}

// FileStore keeps finished spreadsheets: local disk or an S3 bucket.
type FileStore interface {
	Save(ctx context.Context, fileName string, data []byte) (string, error)
	URL(ctx context.Context, name string) (string, error)
}

type ExportNotifier interface {
	NotifyExportProgress(ctx context.Context, exportID string, progress float64, stage string) error
	NotifyExportComplete(ctx context.Context, exportID, url, filename string) error
	NotifyExportFailed(ctx context.Context, exportID, errMsg string) error
}

type ReceiptColumn struct {
	Header string
	Value  func(r domain.Receipt) any
}

var receiptColumns = map[string]ReceiptColumn{
	"id":            {Header: "ID", Value: func(r domain.Receipt) any { return r.ID }},
	"obligation_id": {Header: "ID da parcela", Value: func(r domain.Receipt) any { return r.ObligationID }},
	"amount":        {Header: "Valor", Value: func(r domain.Receipt) any { return r.Amount.InexactFloat64() }},
	"method":        {Header: "Forma de pagamento", Value: func(r domain.Receipt) any { return r.Method }},
	"note":          {Header: "Observação", Value: func(r domain.Receipt) any { return r.Note }},
	"created_at":    {Header: "Recebido em", Value: func(r domain.Receipt) any { return r.CreatedAt.Format("02/01/2006 15:04:05") }},
}

var defaultReceiptFields = []string{"created_at", "id", "obligation_id", "amount", "method", "note"}

// ReceiptExportField reports whether key names an exportable column.
func ReceiptExportField(key string) bool {
	_, ok := receiptColumns[key]
	return ok
}

const maxReceiptsForExport = 500_000

type ReceiptExportService struct {
	repo     ReceiptLister
	status   ExportStatusStore
	files    FileStore
	ws       ExportNotifier
	metrics  *Metrics
	logger   *zap.Logger
	progress int

	// spawn runs the generation job; tests replace it to run inline.
	spawn func(func())
}

func NewReceiptExportService(repo ReceiptLister, status ExportStatusStore, files FileStore, ws ExportNotifier, metrics *Metrics, logger *zap.Logger) *ReceiptExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptExportService{
		repo:     repo,
		status:   status,
		files:    files,
		ws:       ws,
		metrics:  metrics,
		logger:   logger.Named("export"),
		progress: 1000,
		spawn:    func(f func()) { go f() },
	}
}

func (s *ReceiptExportService) StartReceiptsExport(ctx context.Context, selected []string, filter repository.ReceiptsFilter) (string, error) {
	if len(selected) == 0 {
		selected = defaultReceiptFields
	}
	for _, key := range selected {
		if !ReceiptExportField(key) {
			return "", domain.InvalidState("unknown export field %q", key)
		}
	}

	tooMany, err := s.repo.HasMoreThan(ctx, maxReceiptsForExport, filter)
	if err != nil {
		return "", err
	}
	if tooMany {
		return "", domain.InvalidState("too many receipts to export (more than %d)", maxReceiptsForExport)
	}

	exportID := fmt.Sprintf("exports:%s", uuid.NewString())
	status := &ExportStatus{
		Key:     exportID,
		Type:    "receipts",
		Filters: buildReceiptsFiltersMap(filter, selected),
		Created: time.Now().UTC(),
	}
	if err := saveExportStatus(ctx, s.status, status); err != nil {
		return "", fmt.Errorf("failed to save export status: %w", err)
	}

	s.spawn(func() { s.runReceiptsExport(context.Background(), status, selected, filter) })

	return exportID, nil
}

func (s *ReceiptExportService) runReceiptsExport(ctx context.Context, status *ExportStatus, selected []string, filter repository.ReceiptsFilter) {
	log := s.logger.With(zap.String("export_id", status.Key))

	fail := func(msg string, err error) {
		errStr := fmt.Sprintf("%s: %v", msg, err)
		log.Error("receipts export failed", zap.String("stage", msg), zap.Error(err))
		status.Error = &errStr
		status.Progress = 100
		_ = saveExportStatus(ctx, s.status, status)
		if s.ws != nil {
			_ = s.ws.NotifyExportFailed(ctx, status.Key, errStr)
		}
		s.metrics.observeExport("failed")
	}

	receipts, err := s.repo.List(ctx, filter)
	if err != nil {
		fail("list receipts failed", err)
		return
	}

	cols := make([]ReceiptColumn, 0, len(selected))
	for _, key := range selected {
		cols = append(cols, receiptColumns[key])
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Recibos"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		fail("prepare sheet failed", err)
		return
	}
	_ = f.SetDocProps(&excelize.DocProperties{Creator: "pdv-haver", Title: "Recibos"})

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	total := len(receipts)
	for i, rc := range receipts {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			_ = f.SetCellValue(sheet, cell, col.Value(rc))
		}

		if (i+1)%s.progress == 0 || i == total-1 {
			progress := math.Round(float64(i+1) / float64(total) * 100.0)
			if progress >= 100 {
				progress = 95
			}
			status.Progress = progress
			_ = saveExportStatus(ctx, s.status, status)
			if s.ws != nil {
				_ = s.ws.NotifyExportProgress(ctx, status.Key, progress, "generating")
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		fail("write spreadsheet failed", err)
		return
	}

	fileName := fmt.Sprintf("recibos_%s.xlsx", time.Now().Format("20060102_150405"))

	status.Progress = 95
	_ = saveExportStatus(ctx, s.status, status)
	if s.ws != nil {
		_ = s.ws.NotifyExportProgress(ctx, status.Key, 95, "uploading")
	}

	savedName, err := s.files.Save(ctx, fileName, buf.Bytes())
	if err != nil {
		fail("save export failed", err)
		return
	}
	url, err := s.files.URL(ctx, savedName)
	if err != nil {
		fail("build export url failed", err)
		return
	}

	status.FileURL = &url
	status.Progress = 100
	_ = saveExportStatus(ctx, s.status, status)
	if s.ws != nil {
		_ = s.ws.NotifyExportProgress(ctx, status.Key, 100, "ready")
		_ = s.ws.NotifyExportComplete(ctx, status.Key, url, fileName)
	}
	s.metrics.observeExport("ready")
	log.Info("receipts export ready", zap.Int("rows", total), zap.String("file", savedName))
}

func buildReceiptsFiltersMap(f repository.ReceiptsFilter, fields []string) map[string]any {
	m := map[string]any{
		"obligation_id": nil,
		"method":        nil,
		"period_start":  nil,
		"period_end":    nil,
		"fields":        fields,
	}
	if f.ObligationID != nil {
		m["obligation_id"] = *f.ObligationID
	}
	if f.Method != nil {
		m["method"] = *f.Method
	}
	if f.PeriodStart != nil {
		m["period_start"] = f.PeriodStart.Format("2006-01-02")
	}
	if f.PeriodEnd != nil {
		m["period_end"] = f.PeriodEnd.Format("2006-01-02")
	}
	return m
}
