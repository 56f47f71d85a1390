// Package errors turns non-2xx upstream responses into classified errors.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jonesrussell/ocrbase/infrastructure/retry"
)

const (
	// MinErrorStatusCode is the lowest status treated as an error.
	MinErrorStatusCode = 400
	maxErrorBody       = 4 << 10
)

// HTTPError is a non-2xx response from an upstream service.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error (%d %s): %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether repeating the request may succeed.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// ParseHTTPError reads resp and returns nil for a success status. Client
// errors other than 408 and 429 come back marked retry.Permanent.
func ParseHTTPError(resp *http.Response) error {
	if resp.StatusCode < MinErrorStatusCode {
		return nil
	}

	httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		httpErr.Message = fmt.Sprintf("failed to read error response body: %v", err)
	} else {
		httpErr.Body = string(body)
		httpErr.Message = messageFrom(body)
	}

	if httpErr.Retryable() {
		return httpErr
	}
	return retry.Permanent(httpErr)
}

func messageFrom(body []byte) string {
	var payload struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		ErrorMsg  string `json:"errorMsg"`
		ErrorInfo struct {
			Message string `json:"message"`
		} `json:"error_info"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, msg := range []string{payload.Error, payload.Message, payload.ErrorMsg, payload.ErrorInfo.Message} {
			if msg != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// StatusCode extracts the status of a wrapped HTTPError.
func StatusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}
