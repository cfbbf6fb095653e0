package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

// ErrRateLimited indicates the model service rejected the call with 429.
var ErrRateLimited = errors.New("inference: rate limit exceeded")

// Error codes returned by the model service.
const (
	CodeGPUMemory   = "gpu_oom"
	CodeMSATimeout  = "msa_timeout"
	CodeNotFound    = "not_found"
	CodeInvalid     = "invalid_request"
	CodeRateLimited = "rate_limited"
)

// APIError is a non-2xx response from the model service.
type APIError struct {
	Status  int
	Code    string
	Message string

	// RetryAfter is set from the Retry-After header on 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference service: %s (status %d, code %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("inference service: %s (status %d)", e.Message, e.Status)
}

// Unwrap maps the response onto the domain sentinel it represents.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == CodeGPUMemory || e.Status == http.StatusInsufficientStorage:
		return domain.ErrGPUMemory
	case e.Code == CodeMSATimeout:
		return domain.ErrMSATimeout
	case e.Code == CodeNotFound || e.Status == http.StatusNotFound:
		return domain.ErrNotFound
	case e.Code == CodeInvalid || e.Status == http.StatusBadRequest:
		return domain.ErrInvalidInput
	case e.Code == CodeRateLimited || e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// RetryAfter returns the server's requested backoff, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// errorBody is the service's error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeError builds an APIError from a failed response.
func decodeError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && (eb.Error.Code != "" || eb.Error.Message != "") {
		apiErr.Code = eb.Error.Code
		apiErr.Message = eb.Error.Message
	} else {
		apiErr.Message = string(body)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
