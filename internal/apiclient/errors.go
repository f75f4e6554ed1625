package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIError is an error answer of the server.
type APIError struct {
	StatusCode int    `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request %s)", msg, e.RequestID)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, msg)
}

// RateLimitError is returned on 429. RetryAfter is zero when the server gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        *APIError
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

func decodeAPIError(data []byte) *APIError {
	var apiErr APIError
	if err := json.Unmarshal(data, &apiErr); err != nil {
		return &APIError{Detail: string(data)}
	}
	return &apiErr
}

func responseError(status int, header http.Header, body any) error {
	apiErr, ok := body.(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	if apiErr.StatusCode == 0 {
		apiErr.StatusCode = status
	}

	if status == http.StatusTooManyRequests {
		return &RateLimitError{
			RetryAfter: parseRetryAfter(header.Get("Retry-After"), time.Now()),
			Err:        apiErr,
		}
	}
	return apiErr
}
