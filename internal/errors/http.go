package errors

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeUnknown        ErrorCode = "UNKNOWN"
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"

	// Tenant resolution errors. These are distinguishable so clients can
	// tell "tenant does not exist" from "tenant temporarily suspended".
	ErrorCodeTenantNotFound     ErrorCode = "TENANT_NOT_FOUND"
	ErrorCodeTenantSuspended    ErrorCode = "TENANT_SUSPENDED"
	ErrorCodeRoutingKeyExists   ErrorCode = "ROUTING_KEY_EXISTS"
	ErrorCodeTenantDecommission ErrorCode = "TENANT_DECOMMISSIONED"

	// Job errors
	ErrorCodeEnvelopeNotFound ErrorCode = "ENVELOPE_NOT_FOUND"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError processes an error and writes an appropriate HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")
	h.WriteErrorResponse(w, HTTPStatus(err), Code(err), err.Error(), requestID)
}

// HTTPStatus maps a domain error to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrUnknownTenant):
		return http.StatusNotFound
	case Is(err, ErrTenantSuspended):
		return http.StatusForbidden
	case Is(err, ErrDuplicateRoutingKey):
		return http.StatusConflict
	case Is(err, ErrPartitionDecommissioned):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code maps a domain error to an application error code.
func Code(err error) ErrorCode {
	switch {
	case Is(err, ErrUnknownTenant):
		return ErrorCodeTenantNotFound
	case Is(err, ErrTenantSuspended):
		return ErrorCodeTenantSuspended
	case Is(err, ErrDuplicateRoutingKey):
		return ErrorCodeRoutingKeyExists
	case Is(err, ErrPartitionDecommissioned):
		return ErrorCodeTenantDecommission
	default:
		return ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a structured error response.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message, requestID string) {
	response := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode error response",
			zap.Error(err),
			zap.String("request_id", requestID))
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.Int("status", statusCode),
			zap.String("error_code", string(errorCode)),
			zap.String("message", message),
			zap.String("request_id", requestID))
	}
}

// WriteValidationError writes a 400 validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}
