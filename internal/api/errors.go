package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/resilience"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code      string                      `json:"code"`
	Message   string                      `json:"message"`
	Items     []resilience.ItemDiagnostic `json:"items,omitempty"`
	RequestID string                      `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	var batch *resilience.BatchError
	if errors.As(err, &batch) {
		return http.StatusUnprocessableEntity, "partial_failure"
	}
	switch resilience.ClassifyError(err) {
	case resilience.KindRateLimited:
		return http.StatusTooManyRequests, resilience.KindRateLimited
	case resilience.KindNotFound:
		return http.StatusNotFound, resilience.KindNotFound
	case resilience.KindConfiguration:
		return http.StatusUnprocessableEntity, resilience.KindConfiguration
	case resilience.KindTransientNetwork, resilience.KindMalformedResponse:
		return http.StatusBadGateway, resilience.ClassifyError(err)
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := ErrorBody{
		Code:      code,
		Message:   err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	var batch *resilience.BatchError
	if errors.As(err, &batch) {
		body.Items = batch.Items
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", body.RequestID),
			zap.Error(err),
		)
		body.Message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: ErrorBody{
		Code:      "invalid_argument",
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: ErrorBody{
		Code:      "unavailable",
		Message:   what + " is not configured",
		RequestID: middleware.GetReqID(r.Context()),
	}})
}
