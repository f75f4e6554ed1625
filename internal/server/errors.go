package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is the JSON error body returned by every endpoint.
type APIError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var (
	ErrBadRequest         = func(detail string) *APIError { return NewAPIError(http.StatusBadRequest, "Bad Request", detail) }
	ErrNotFound           = func(detail string) *APIError { return NewAPIError(http.StatusNotFound, "Not Found", detail) }
	ErrTooLarge           = func(detail string) *APIError { return NewAPIError(http.StatusRequestEntityTooLarge, "Request Too Large", detail) }
	ErrTooManyRequests    = func(detail string) *APIError { return NewAPIError(http.StatusTooManyRequests, "Too Many Requests", detail) }
	ErrInternalServer     = func(detail string) *APIError { return NewAPIError(http.StatusInternalServerError, "Internal Server Error", detail) }
	ErrServiceUnavailable = func(detail string) *APIError { return NewAPIError(http.StatusServiceUnavailable, "Service Unavailable", detail) }
	ErrLLMProcessing      = func(detail string) *APIError { return NewAPIError(http.StatusBadGateway, "LLM Processing Failed", detail) }
)

func NewAPIError(code int, message, detail string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  detail,
	}
}

func (e *APIError) WithRequestID(requestID string) *APIError {
	e.RequestID = requestID
	return e
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

func (e *APIError) StatusCode() int {
	return e.Code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
