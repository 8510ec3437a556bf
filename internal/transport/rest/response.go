package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pdv-haver/internal/domain"
)

type APIResponse struct {
	ErrorCode int    `json:"error_code"`
	Status    string `json:"status"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
}

// JSON writes v as the whole response body.
func JSON(w http.ResponseWriter, httpStatus int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error","message":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	writeRaw(w, httpStatus, body)
}

func writeRaw(w http.ResponseWriter, httpStatus int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(append(body, '\n'))
}

func Response(w http.ResponseWriter, message string, data any, errorCode int, status string, httpStatus int) {
	JSON(w, httpStatus, APIResponse{
		ErrorCode: errorCode,
		Status:    status,
		Message:   message,
		Data:      data,
	})
}

func Success(w http.ResponseWriter, message string, data any) {
	Response(w, message, data, 0, "success", http.StatusOK)
}

func SuccessAccepted(w http.ResponseWriter, message string, data any) {
	Response(w, message, data, 0, "success", http.StatusAccepted)
}

func errorBody(message, kind string, httpStatus int) APIResponse {
	return APIResponse{ErrorCode: httpStatus, Status: "error", Kind: kind, Message: message}
}

func Error(w http.ResponseWriter, message string, httpStatus int) {
	JSON(w, httpStatus, errorBody(message, "", httpStatus))
}

func ErrorBadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, errorBody(message, "validation", http.StatusBadRequest))
}

func ErrorNotFound(w http.ResponseWriter, message string) {
	JSON(w, http.StatusNotFound, errorBody(message, string(domain.KindNotFound), http.StatusNotFound))
}

func ErrorInternal(w http.ResponseWriter, message string) {
	JSON(w, http.StatusInternalServerError, errorBody(message, string(domain.KindStorage), http.StatusInternalServerError))
}

// statusForKind maps the domain taxonomy onto HTTP.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAlreadySettled, domain.KindInvalidState, domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidAmount:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse converts err into a status and an error body. Storage
// failures never leak driver messages to the client.
func errorResponse(err error) (int, APIResponse) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorBody(ve.Error(), "validation", http.StatusBadRequest)
	}

	kind := domain.KindOf(err)
	status := statusForKind(kind)

	msg := "internal error"
	var de *domain.Error
	if errors.As(err, &de) && kind != domain.KindStorage {
		msg = de.Message
	}

	label := string(kind)
	if kind == domain.KindInvalidAmount && strings.HasPrefix(msg, "overpayment:") {
		label = "overpayment"
	}
	return status, errorBody(msg, label, status)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	JSON(w, status, body)
}
