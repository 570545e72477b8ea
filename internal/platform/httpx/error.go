// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/requestctx"
)

const (
	maxCodeLength      = 80
	maxMessageLength   = 512
	maxRequestIDLength = 80
	maxTraceIDLength   = 64
)

// Error is the API error envelope:
//
//	{"error": "insufficient_stock", "message": "...", "status": 409, "request_id": "...", "trace_id": "...", "details": {...}}
type Error struct {
	Code      string         `json:"error"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewError builds an envelope; a zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLength),
		Message: clip(message, maxMessageLength),
		Status:  status,
	}
}

// Error implements error.
func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithRequestID overrides the request id taken from the chi RequestID middleware.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, maxRequestIDLength)
	return e
}

// WithTraceID overrides the trace id taken from the request context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, maxTraceIDLength)
	return e
}

// WithDetails attaches a copy of details.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

// WriteError fills request and trace ids from ctx when unset and writes the envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RequestID == "" {
		err.RequestID = clip(middleware.GetReqID(ctx), maxRequestIDLength)
	}
	if err.TraceID == "" {
		err.TraceID = clip(requestctx.TraceID(ctx), maxTraceIDLength)
	}
	WriteJSON(w, err.Status, err)
}

// WriteJSON encodes payload as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Unavailable is the error for a handler whose collaborator is not configured.
func Unavailable(resource string) Error {
	return NewError(resource+"_service_unavailable", resource+" service is unavailable", http.StatusServiceUnavailable)
}

// Unauthenticated is the error for requests without a resolved buyer.
func Unauthenticated() Error {
	return NewError("unauthenticated", "authentication required", http.StatusUnauthorized)
}

// clip flattens line breaks so values are safe in single-line logs, then truncates.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
