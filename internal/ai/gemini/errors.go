package gemini

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*(ms|milliseconds|s|sec|secs|seconds)?`)

// classifyError reports whether err is worth retrying and the delay the provider asked for, if any.
func classifyError(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}

	apiErr, ok := asAPIError(err)
	if !ok {
		return false, 0
	}

	temporary := false
	switch apiErr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		temporary = true
	}

	switch strings.ToUpper(apiErr.Status) {
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE", "INTERNAL", "DEADLINE_EXCEEDED":
		temporary = true
	}

	return temporary, retryDelay(apiErr)
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

// retryDelay extracts the delay from a google.rpc.RetryInfo detail or, failing that, the message text.
func retryDelay(apiErr genai.APIError) time.Duration {
	for _, detail := range apiErr.Details {
		raw, ok := detail["retryDelay"].(string)
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil {
			return d
		}
	}

	match := retryAfterPattern.FindStringSubmatch(apiErr.Message)
	if match == nil {
		return 0
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}

	unit := time.Second
	if strings.HasPrefix(strings.ToLower(match[2]), "m") {
		unit = time.Millisecond
	}

	return time.Duration(value * float64(unit))
}

// IsRateLimited reports whether err is a provider quota error.
func IsRateLimited(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED")
}

// RetryAfter returns the delay the provider asked for, or zero when none was given.
func RetryAfter(err error) time.Duration {
	apiErr, ok := asAPIError(err)
	if !ok {
		return 0
	}
	return retryDelay(apiErr)
}
