package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
	"pdv-haver/internal/service"
)

type ObligationService interface {
	Get(ctx context.Context, id string) (*domain.Obligation, error)
	List(ctx context.Context, f repository.ObligationsFilter) ([]domain.Obligation, error)
	Create(ctx context.Context, value decimal.Decimal, dueDate time.Time, note string) (*domain.Obligation, error)
	CreateInstallments(ctx context.Context, p service.InstallmentPlan) ([]domain.Obligation, error)
	Receipts(ctx context.Context, obligationID string) ([]domain.Receipt, error)
	Receipt(ctx context.Context, id string) (*domain.Receipt, error)
}

type Settler interface {
	Settle(ctx context.Context, cmd service.SettleCommand) (*service.SettleResult, error)
	SettleBatch(ctx context.Context, items []service.BulkItem) *service.BulkResult
}

type ReceiptExporter interface {
	StartReceiptsExport(ctx context.Context, selected []string, filter repository.ReceiptsFilter) (string, error)
}

type ExportListService interface {
	GetExports(ctx context.Context) ([]service.ExportView, error)
	GetExport(ctx context.Context, exportID string) (*service.ExportView, error)
}

type WebSocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request, topics []string)
}

// FileResolver maps a stored export name to a local path.
type FileResolver interface {
	Path(fileName string) (string, bool)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Obligations ObligationService
	Settlement  Settler
	Idempotency service.IdempotencyStore
	Receipts    ReceiptExporter
	Exports     ExportListService
	Hub         WebSocketHandler
	Files       FileResolver
	FilesPrefix string
	Metrics     http.Handler
	Health      []Pinger
	Logger      *zap.Logger
}

type Handler struct {
	obligations ObligationService
	settlement  Settler
	idempotency service.IdempotencyStore
	receipts    ReceiptExporter
	exportList  ExportListService
	hub         WebSocketHandler
	files       FileResolver
	filesPrefix string
	metrics     http.Handler
	health      []Pinger
	logger      *zap.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := d.FilesPrefix
	if prefix == "" {
		prefix = "/files"
	}
	return &Handler{
		obligations: d.Obligations,
		settlement:  d.Settlement,
		idempotency: d.Idempotency,
		receipts:    d.Receipts,
		exportList:  d.Exports,
		hub:         d.Hub,
		files:       d.Files,
		filesPrefix: "/" + strings.Trim(prefix, "/"),
		metrics:     d.Metrics,
		health:      d.Health,
		logger:      logger.Named("http"),
	}
}

func (h *Handler) InitRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		RequestLogger(h.logger),
		Recoverer(h.logger),
	)

	r.Get("/health", h.healthCheck)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	if h.files != nil {
		r.Get(h.filesPrefix+"/{file}", h.serveFile)
	}
	if h.hub != nil {
		r.Get("/ws", h.websocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/obligations", func(r chi.Router) {
			r.Get("/", h.listObligations)
			r.Post("/", h.createObligation)
			r.Post("/bulk-receive", h.bulkReceive)
			r.Get("/{id}", h.getObligation)
			r.Get("/{id}/receipts", h.listReceipts)
			r.Post("/{id}/receive", h.receive)
		})
		r.Post("/sales/{sale_id}/installments", h.createInstallments)
		r.Get("/receipts/{id}", h.getReceipt)

		r.Route("/export", func(r chi.Router) {
			r.Get("/", h.listExports)
			r.Get("/{export_id}", h.getExport)
			r.Post("/receipts", h.exportReceipts)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, p := range h.health {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) websocket(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{"obligations"}
	}
	h.hub.HandleWebSocket(w, r, topics)
}
