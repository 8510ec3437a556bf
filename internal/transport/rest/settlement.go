package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

type SettleResponse struct {
	ID                     string      `json:"id"`
	RemainingTransactionID string      `json:"remainingTransactionId,omitempty"`
	ObligationID           string      `json:"obligationId"`
	Applied                json.Number `json:"applied"`
	UnusedAmount           json.Number `json:"unusedAmount"`
	OutstandingBalance     json.Number `json:"outstandingBalance"`
	Status                 string      `json:"status"`
}

func toSettleResponse(res service.SettleResult) SettleResponse {
	return SettleResponse{
		ID:                     res.ReceiptID,
		RemainingTransactionID: res.RemainingObligationID,
		ObligationID:           res.ObligationID,
		Applied:                money(res.Applied),
		UnusedAmount:           money(res.Unused),
		OutstandingBalance:     money(res.NewBalance),
		Status:                 string(res.Status),
	}
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	obligationID := chi.URLParam(r, "id")
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))

	if key == "" || h.idempotency == nil {
		status, body := h.settleOne(r, obligationID)
		JSON(w, status, body)
		return
	}

	scoped := obligationID + ":" + key
	stored, reserved, err := h.idempotency.Begin(r.Context(), scoped)
	if err != nil {
		h.writeError(w, r, domain.Storage("idempotency lookup failed", err))
		return
	}
	if stored != nil {
		w.Header().Set("Idempotent-Replayed", "true")
		writeRaw(w, stored.StatusCode, stored.Body)
		return
	}
	if !reserved {
		JSON(w, http.StatusConflict, errorBody("a request with this idempotency key is still in progress", string(domain.KindConflict), http.StatusConflict))
		return
	}

	status, body := h.settleOne(r, obligationID)
	raw, err := json.Marshal(body)
	if err != nil {
		_ = h.idempotency.Abort(r.Context(), scoped)
		ErrorInternal(w, "failed to encode response")
		return
	}

	// 5xx answers are not remembered so the client can retry them.
	if status >= http.StatusInternalServerError {
		if err := h.idempotency.Abort(r.Context(), scoped); err != nil {
			h.logger.Warn("idempotency abort failed", zap.String("key", scoped), zap.Error(err))
		}
	} else if err := h.idempotency.Complete(r.Context(), scoped, service.StoredResponse{StatusCode: status, Body: raw}); err != nil {
		h.logger.Warn("idempotency store failed", zap.String("key", scoped), zap.Error(err))
	}
	writeRaw(w, status, raw)
}

func (h *Handler) settleOne(r *http.Request, obligationID string) (int, any) {
	req, err := ValidateSettleRequest(r)
	if err != nil {
		return errorResponse(err)
	}

	res, err := h.settlement.Settle(r.Context(), service.SettleCommand{
		ObligationID:        obligationID,
		Amount:              req.Amount,
		Method:              req.Method,
		Note:                req.Note,
		CarryForward:        req.CarryForward,
		CarryForwardDueDate: req.CarryForwardDueDate,
	})
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("settle failed", zap.String("obligation_id", obligationID), zap.Error(err))
		}
		return status, body
	}
	return http.StatusCreated, toSettleResponse(*res)
}

type BulkReceiptDTO struct {
	Index int `json:"index"`
	SettleResponse
}

type BulkErrorDTO struct {
	Index        int    `json:"index"`
	ObligationID string `json:"obligationId"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

type BulkSummaryDTO struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Applied   json.Number `json:"applied"`
}

type BulkResponse struct {
	Receipts []BulkReceiptDTO `json:"receipts"`
	Errors   []BulkErrorDTO   `json:"errors"`
	Summary  BulkSummaryDTO   `json:"summary"`
}

func (h *Handler) bulkReceive(w http.ResponseWriter, r *http.Request) {
	req, err := ValidateBulkSettleRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]service.BulkItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = service.BulkItem{
			ObligationID: strings.TrimSpace(it.ID),
			Method:       strings.TrimSpace(it.Method),
			Note:         it.Note,
		}
		amount, err := toDecimal(it.Amount)
		switch {
		case err != nil:
			items[i].Reject = domain.InvalidAmount("amount must be a number")
		case amount == nil:
			items[i].Reject = domain.InvalidAmount("amount is required")
		default:
			items[i].Amount = *amount
		}
		if items[i].Reject == nil && items[i].Method == "" {
			items[i].Reject = domain.InvalidState("method is required")
		}
	}

	res := h.settlement.SettleBatch(r.Context(), items)

	out := BulkResponse{
		Receipts: make([]BulkReceiptDTO, 0, len(res.Receipts)),
		Errors:   make([]BulkErrorDTO, 0, len(res.Errors)),
		Summary: BulkSummaryDTO{
			Total:     res.Total,
			Succeeded: res.Succeeded,
			Failed:    res.Failed,
			Applied:   money(res.Applied),
		},
	}
	for _, rc := range res.Receipts {
		out.Receipts = append(out.Receipts, BulkReceiptDTO{Index: rc.Index, SettleResponse: toSettleResponse(rc.Result)})
	}
	for _, f := range res.Errors {
		kind := string(f.Kind)
		if f.Kind == domain.KindInvalidAmount && strings.HasPrefix(f.Message, "overpayment:") {
			kind = "overpayment"
		}
		out.Errors = append(out.Errors, BulkErrorDTO{Index: f.Index, ObligationID: f.ObligationID, Kind: kind, Message: f.Message})
	}
	JSON(w, http.StatusOK, out)
}
