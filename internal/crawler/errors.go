package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.StatusCode)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// TransportError reports a request that never produced a response: dial
// failures, resets and timeouts.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a payload that could not be mapped onto the model.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode payload: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRetryable classifies err. Only transport failures, 5xx and 429 qualify;
// everything else, including circuit rejections, fails fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsUpstreamFailure reports whether err should count against the upstream's
// health. A decoded-but-malformed payload still proves the upstream answered.
func IsUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	var transportErr *TransportError
	return errors.As(err, &statusErr) || errors.As(err, &transportErr)
}
