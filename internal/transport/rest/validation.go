package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the tag rules on s and reports the first failure.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	e := verrs[0]
	return &ValidationError{Field: e.Field(), Message: fmt.Sprintf("%s: %s", e.Field(), validationMessage(e))}
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		if e.Kind() == reflect.Slice {
			return "must have at least " + e.Param() + " items"
		}
		return "must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		if e.Kind() == reflect.Slice {
			return "must have at most " + e.Param() + " items"
		}
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}

// decodeRaw reads a JSON object keeping numbers as json.Number, so amounts
// reach decimal without passing through float64.
func decodeRaw(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return &ValidationError{Message: "invalid JSON"}
	}
	return nil
}

// firstPresent returns the first non-nil value among the aliased keys.
func firstPresent(raw map[string]any, keys ...string) (any, string) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, k
		}
	}
	return nil, keys[0]
}

func toDecimal(v any) (*decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, err
		}
		return &d, nil
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(t, ",", "."))
		if err != nil {
			return nil, err
		}
		return &d, nil
	case float64:
		d := decimal.NewFromFloat(t)
		return &d, nil
	default:
		return nil, &ValidationError{Message: "invalid type for amount field"}
	}
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", &ValidationError{Message: "invalid type for string field"}
	}
}

func toStringPtr(v any) (*string, error) {
	s, err := toString(v)
	if err != nil || s == "" {
		return nil, err
	}
	return &s, nil
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		if t == "" {
			return false, nil
		}
		return strconv.ParseBool(t)
	case json.Number:
		return t.String() != "0", nil
	default:
		return false, &ValidationError{Message: "invalid type for bool field"}
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		i, err := t.Int64()
		return int(i), err
	case string:
		if t == "" {
			return 0, nil
		}
		return strconv.Atoi(strings.TrimSpace(t))
	default:
		return 0, &ValidationError{Message: "invalid type for int field"}
	}
}

func toDatePtr(v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		parsed, err := parseDate(t)
		if err != nil {
			return nil, err
		}
		return &parsed, nil
	default:
		return nil, &ValidationError{Message: "invalid type for date field"}
	}
}

// parseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

type SettleRequest struct {
	Amount              decimal.Decimal `json:"-"`
	Method              string          `json:"method" validate:"required,max=64"`
	Note                string          `json:"note" validate:"max=500"`
	CarryForward        bool            `json:"carryForward"`
	CarryForwardDueDate *time.Time      `json:"carryForwardDueDate"`
}

// ValidateSettleRequest parses the body of a receive call. Amounts may come
// as JSON numbers or numeric strings.
func ValidateSettleRequest(r *http.Request) (*SettleRequest, error) {
	raw := map[string]any{}
	if err := decodeRaw(r, &raw); err != nil {
		return nil, err
	}

	rawAmount, _ := firstPresent(raw, "amount", "value")
	amount, err := toDecimal(rawAmount)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Message: "amount must be a number"}
	}
	if amount == nil {
		return nil, &ValidationError{Field: "amount", Message: "amount: is required"}
	}

	method, err := toString(raw["method"])
	if err != nil {
		return nil, &ValidationError{Field: "method", Message: "method must be a string"}
	}
	rawNote, _ := firstPresent(raw, "note", "notes")
	note, err := toString(rawNote)
	if err != nil {
		return nil, &ValidationError{Field: "note", Message: "note must be a string"}
	}
	rawCarry, _ := firstPresent(raw, "carryForward", "carry_forward")
	carry, err := toBool(rawCarry)
	if err != nil {
		return nil, &ValidationError{Field: "carryForward", Message: "carryForward must be a boolean"}
	}
	rawDue, _ := firstPresent(raw, "carryForwardDueDate", "carry_forward_due_date")
	due, err := toDatePtr(rawDue)
	if err != nil {
		return nil, &ValidationError{Field: "carryForwardDueDate", Message: "carryForwardDueDate must be YYYY-MM-DD or empty"}
	}

	req := &SettleRequest{
		Amount:              *amount,
		Method:              method,
		Note:                note,
		CarryForward:        carry,
		CarryForwardDueDate: due,
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return req, nil
}

type BulkItemRequest struct {
	ID     string `json:"id"`
	Amount any    `json:"amount"`
	Method string `json:"method"`
	Note   string `json:"note"`
}

type BulkSettleRequest struct {
	Items []BulkItemRequest `json:"items" validate:"required,min=1,max=1000"`
}

// ValidateBulkSettleRequest only checks the envelope; each item is judged on
// its own so one bad item does not fail the batch.
func ValidateBulkSettleRequest(r *http.Request) (*BulkSettleRequest, error) {
	var req BulkSettleRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, &ValidationError{Message: "invalid JSON"}
	}
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

type CreateObligationRequest struct {
	Value       decimal.Decimal `json:"-"`
	DueDate     time.Time       `json:"dueDate" validate:"required"`
	LinkageNote string          `json:"linkageNote" validate:"max=500"`
}

// ValidateCreateObligationRequest translates the inbound aliases (valueDue,
// value_due, value, originalValue) into the canonical value.
func ValidateCreateObligationRequest(r *http.Request) (*CreateObligationRequest, error) {
	raw := map[string]any{}
	if err := decodeRaw(r, &raw); err != nil {
		return nil, err
	}

	rawValue, key := firstPresent(raw, "originalValue", "value", "valueDue", "value_due")
	value, err := toDecimal(rawValue)
	if err != nil {
		return nil, &ValidationError{Field: key, Message: key + " must be a number"}
	}
	if value == nil {
		return nil, &ValidationError{Field: "value", Message: "value: is required"}
	}

	rawDue, _ := firstPresent(raw, "dueDate", "due_date")
	due, err := toDatePtr(rawDue)
	if err != nil {
		return nil, &ValidationError{Field: "dueDate", Message: "dueDate must be YYYY-MM-DD"}
	}

	rawNote, _ := firstPresent(raw, "linkageNote", "linkage_note", "notes", "note")
	note, err := toString(rawNote)
	if err != nil {
		return nil, &ValidationError{Field: "linkageNote", Message: "linkageNote must be a string"}
	}

	req := &CreateObligationRequest{Value: *value, LinkageNote: note}
	if due != nil {
		req.DueDate = *due
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return req, nil
}

type InstallmentsRequest struct {
	Total        decimal.Decimal `json:"-"`
	DownPayment  decimal.Decimal `json:"-"`
	Installments int             `json:"installments" validate:"gte=1"`
	FirstDueDate *time.Time      `json:"firstDueDate"`
}

func ValidateInstallmentsRequest(r *http.Request) (*InstallmentsRequest, error) {
	raw := map[string]any{}
	if err := decodeRaw(r, &raw); err != nil {
		return nil, err
	}

	rawTotal, _ := firstPresent(raw, "total", "value")
	total, err := toDecimal(rawTotal)
	if err != nil {
		return nil, &ValidationError{Field: "total", Message: "total must be a number"}
	}
	if total == nil {
		return nil, &ValidationError{Field: "total", Message: "total: is required"}
	}

	rawDown, _ := firstPresent(raw, "downPayment", "down_payment", "entrada")
	down, err := toDecimal(rawDown)
	if err != nil {
		return nil, &ValidationError{Field: "downPayment", Message: "downPayment must be a number"}
	}

	rawCount, _ := firstPresent(raw, "installments", "parcelas")
	count, err := toInt(rawCount)
	if err != nil {
		return nil, &ValidationError{Field: "installments", Message: "installments must be an integer"}
	}

	rawFirst, _ := firstPresent(raw, "firstDueDate", "first_due_date")
	first, err := toDatePtr(rawFirst)
	if err != nil {
		return nil, &ValidationError{Field: "firstDueDate", Message: "firstDueDate must be YYYY-MM-DD or empty"}
	}

	req := &InstallmentsRequest{Total: *total, DownPayment: decimal.Zero, Installments: count, FirstDueDate: first}
	if down != nil {
		req.DownPayment = *down
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return req, nil
}

type ReceiptsExportRequest struct {
	Fields       []string   `json:"fields" validate:"required,min=1"`
	ObligationID *string    `json:"obligation_id,omitempty"`
	Method       *string    `json:"method,omitempty"`
	PeriodStart  *time.Time `json:"period_start_date,omitempty"`
	PeriodEnd    *time.Time `json:"period_end_date,omitempty"`
}

type rawReceiptsExportRequest struct {
	Fields       []string `json:"fields"`
	ObligationID any      `json:"obligation_id"`
	Method       any      `json:"method"`
	PeriodStart  any      `json:"period_start_date"`
	PeriodEnd    any      `json:"period_end_date"`
}

func ValidateReceiptsExportRequest(r *http.Request, knownField func(string) bool) (*ReceiptsExportRequest, error) {
	var raw rawReceiptsExportRequest
	if err := decodeRaw(r, &raw); err != nil {
		return nil, err
	}
	if len(raw.Fields) == 0 {
		return nil, &ValidationError{Field: "fields", Message: "fields is required and must be an array"}
	}
	for _, f := range raw.Fields {
		if !knownField(f) {
			return nil, &ValidationError{Field: "fields", Message: fmt.Sprintf("unknown field %q", f)}
		}
	}

	obligationID, err := toStringPtr(raw.ObligationID)
	if err != nil {
		return nil, &ValidationError{Field: "obligation_id", Message: "obligation_id must be string or empty"}
	}
	method, err := toStringPtr(raw.Method)
	if err != nil {
		return nil, &ValidationError{Field: "method", Message: "method must be string or empty"}
	}
	start, err := toDatePtr(raw.PeriodStart)
	if err != nil {
		return nil, &ValidationError{Field: "period_start_date", Message: "must be YYYY-MM-DD or empty"}
	}
	end, err := toDatePtr(raw.PeriodEnd)
	if err != nil {
		return nil, &ValidationError{Field: "period_end_date", Message: "must be YYYY-MM-DD or empty"}
	}

	req := &ReceiptsExportRequest{
		Fields:       raw.Fields,
		ObligationID: obligationID,
		Method:       method,
		PeriodStart:  start,
		PeriodEnd:    end,
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return req, nil
}
