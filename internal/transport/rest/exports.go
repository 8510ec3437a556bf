package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
	"pdv-haver/internal/service"
)

func (h *Handler) exportReceipts(w http.ResponseWriter, r *http.Request) {
	req, err := ValidateReceiptsExportRequest(r, service.ReceiptExportField)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filter := repository.ReceiptsFilter{
		ObligationID: req.ObligationID,
		Method:       req.Method,
		PeriodStart:  req.PeriodStart,
		PeriodEnd:    req.PeriodEnd,
	}

	exportID, err := h.receipts.StartReceiptsExport(r.Context(), req.Fields, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	SuccessAccepted(w, "Exportação colocada na fila", map[string]any{"export_id": exportID})
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	exports, err := h.exportList.GetExports(r.Context())
	if err != nil {
		h.logger.Error("list exports failed", zap.Error(err))
		ErrorInternal(w, "failed to get exports")
		return
	}

	Success(w, "", exports)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	exportIDParam := chi.URLParam(r, "export_id")
	if exportIDParam == "" {
		ErrorBadRequest(w, "export_id is required")
		return
	}
	exportID := exportIDParam
	if !strings.HasPrefix(exportID, "exports:") {
		exportID = "exports:" + exportID
	}

	export, err := h.exportList.GetExport(r.Context(), exportID)
	if errors.Is(err, domain.ErrNotFound) {
		ErrorNotFound(w, "export not found")
		return
	}
	if err != nil {
		h.logger.Error("get export failed", zap.String("export_id", exportID), zap.Error(err))
		ErrorInternal(w, "failed to get export")
		return
	}

	Success(w, "", export)
}

// serveFile streams a generated spreadsheet, naming the download after the
// original file name without the random prefix.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	path, ok := h.files.Path(file)
	if !ok {
		http.NotFound(w, r)
		return
	}

	orig := file
	if idx := strings.IndexByte(file, '_'); idx >= 0 {
		orig = file[idx+1:]
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", orig))

	http.ServeFile(w, r, path)
}
