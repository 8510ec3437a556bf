package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
	"pdv-haver/internal/service"
)

type ObligationDTO struct {
	ID                 string      `json:"id"`
	OriginalValue      json.Number `json:"originalValue"`
	OutstandingBalance json.Number `json:"outstandingBalance"`
	Status             string      `json:"status"`
	DueDate            string      `json:"dueDate"`
	LinkageNote        string      `json:"linkageNote"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

type ReceiptDTO struct {
	ID           string      `json:"id"`
	ObligationID string      `json:"obligationId"`
	Amount       json.Number `json:"amount"`
	Method       string      `json:"method"`
	Note         string      `json:"note"`
	CreatedAt    time.Time   `json:"createdAt"`
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(domain.MoneyPlaces))
}

func toObligationDTO(o domain.Obligation) ObligationDTO {
	return ObligationDTO{
		ID:                 o.ID,
		OriginalValue:      money(o.OriginalValue),
		OutstandingBalance: money(o.OutstandingBalance),
		Status:             string(o.Status),
		DueDate:            o.DueDate.Format("2006-01-02"),
		LinkageNote:        o.LinkageNote,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func toReceiptDTO(rc domain.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:           rc.ID,
		ObligationID: rc.ObligationID,
		Amount:       money(rc.Amount),
		Method:       rc.Method,
		Note:         rc.Note,
		CreatedAt:    rc.CreatedAt,
	}
}

func parseObligationsFilter(r *http.Request) (repository.ObligationsFilter, error) {
	q := r.URL.Query()
	var f repository.ObligationsFilter

	if s := strings.ToLower(strings.TrimSpace(q.Get("status"))); s != "" {
		st := domain.ObligationStatus(s)
		if !st.IsValid() {
			return f, &ValidationError{Field: "status", Message: "status must be one of: pending partial paid overdue"}
		}
		f.Status = &st
	}
	if sale := strings.TrimSpace(q.Get("sale")); sale != "" {
		f.SaleID = &sale
	}
	if v := q.Get("due_from"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return f, &ValidationError{Field: "due_from", Message: "due_from must be YYYY-MM-DD"}
		}
		f.DueFrom = &d
	}
	if v := q.Get("due_to"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return f, &ValidationError{Field: "due_to", Message: "due_to must be YYYY-MM-DD"}
		}
		f.DueTo = &d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &ValidationError{Field: "limit", Message: "limit must be a non-negative integer"}
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, &ValidationError{Field: "offset", Message: "offset must be a non-negative integer"}
		}
		f.Offset = n
	}
	return f, nil
}

func (h *Handler) listObligations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseObligationsFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.obligations.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]ObligationDTO, 0, len(list))
	for _, o := range list {
		out = append(out, toObligationDTO(o))
	}
	JSON(w, http.StatusOK, map[string]any{"items": out, "count": len(out)})
}

func (h *Handler) getObligation(w http.ResponseWriter, r *http.Request) {
	o, err := h.obligations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toObligationDTO(*o))
}

func (h *Handler) createObligation(w http.ResponseWriter, r *http.Request) {
	req, err := ValidateCreateObligationRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	o, err := h.obligations.Create(r.Context(), req.Value, req.DueDate, req.LinkageNote)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, toObligationDTO(*o))
}

func (h *Handler) createInstallments(w http.ResponseWriter, r *http.Request) {
	req, err := ValidateInstallmentsRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	plan := service.InstallmentPlan{
		SaleID:       chi.URLParam(r, "sale_id"),
		Total:        req.Total,
		DownPayment:  req.DownPayment,
		Installments: req.Installments,
	}
	if req.FirstDueDate != nil {
		plan.FirstDueDate = *req.FirstDueDate
	}

	created, err := h.obligations.CreateInstallments(r.Context(), plan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]ObligationDTO, 0, len(created))
	for _, o := range created {
		out = append(out, toObligationDTO(o))
	}
	JSON(w, http.StatusCreated, map[string]any{"saleId": plan.SaleID, "items": out})
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.obligations.Receipts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]ReceiptDTO, 0, len(receipts))
	for _, rc := range receipts {
		out = append(out, toReceiptDTO(rc))
	}
	JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := h.obligations.Receipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toReceiptDTO(*rc))
}
