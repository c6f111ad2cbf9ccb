package unifiedllm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ClientError is embedded by every error the client and its adapters return.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// BackendError is a failure reported by the model server.
type BackendError struct {
	ClientError
	Provider   string
	Model      string
	StatusCode int
	Retryable  bool
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
}

func (e *BackendError) retryable() bool { return e.Retryable }

// Backend failures with a known cause.
type (
	// InvalidRequestError is a request the server refused to process.
	InvalidRequestError struct{ BackendError }
	// AccessDeniedError comes from a proxy in front of the server.
	AccessDeniedError struct{ BackendError }
	// ModelNotFoundError means the model is not installed on the server.
	ModelNotFoundError struct{ BackendError }
	// ContextLengthError means the prompt does not fit the context window.
	ContextLengthError struct{ BackendError }
	// ServerBusyError means the server's request queue is full.
	ServerBusyError struct{ BackendError }
	// ServerError is an internal failure of the server or model runner.
	ServerError struct{ BackendError }
)

func (e *ModelNotFoundError) Error() string {
	if e.Model == "" {
		return e.BackendError.Error()
	}
	return fmt.Sprintf("model %q is not installed on the server (run 'ollama pull %s')", e.Model, e.Model)
}

// Failures on the client side of the connection.
type (
	RequestTimeoutError struct{ ClientError }
	AbortError          struct{ ClientError }
	// StreamDecodeError is a malformed or truncated response stream.
	StreamDecodeError  struct{ ClientError }
	ConfigurationError struct{ ClientError }
	// ServerUnreachableError means no connection could be made to Host.
	ServerUnreachableError struct {
		ClientError
		Host string
	}
)

func (e *ServerUnreachableError) Error() string {
	return fmt.Sprintf("cannot reach Ollama at %s: %v", e.Host, e.Cause)
}

func (*RequestTimeoutError) retryable() bool    { return true }
func (*AbortError) retryable() bool             { return false }
func (*StreamDecodeError) retryable() bool      { return true }
func (*ConfigurationError) retryable() bool     { return false }
func (*ServerUnreachableError) retryable() bool { return true }

func newBackendError(provider, model, message string, status int, cause error) BackendError {
	return BackendError{
		ClientError: ClientError{Message: message, Cause: cause},
		Provider:    provider,
		Model:       model,
		StatusCode:  status,
	}
}

// ErrorFromStatus classifies an HTTP error reply from the server. message
// is the server's error text and model the model the request named.
func ErrorFromStatus(statusCode int, message, provider, model string, retryAfter time.Duration) error {
	be := newBackendError(provider, model, message, statusCode, nil)
	be.RetryAfter = retryAfter

	switch statusCode {
	case http.StatusNotFound:
		return &ModelNotFoundError{BackendError: be}
	case http.StatusRequestEntityTooLarge:
		return &ContextLengthError{BackendError: be}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if mentionsContextLength(message) {
			return &ContextLengthError{BackendError: be}
		}
		return &InvalidRequestError{BackendError: be}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AccessDeniedError{BackendError: be}
	case http.StatusRequestTimeout:
		return &RequestTimeoutError{ClientError: be.ClientError}
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		be.Retryable = true
		return &ServerBusyError{BackendError: be}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		be.Retryable = true
		return &ServerError{BackendError: be}
	}
	be.Retryable = statusCode >= 500
	return &be
}

// ErrorFromMessage classifies a failure known only by its text: an error
// field inside a stream chunk, or an error from a client library.
func ErrorFromMessage(message, provider, model string, cause error) error {
	lower := strings.ToLower(message)
	be := newBackendError(provider, model, message, 0, cause)

	switch {
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
		return &ServerUnreachableError{ClientError: ClientError{Message: message, Cause: cause}}
	case strings.Contains(lower, "not found") && (strings.Contains(lower, "model") || strings.Contains(lower, "404")):
		return &ModelNotFoundError{BackendError: be}
	case mentionsContextLength(message):
		return &ContextLengthError{BackendError: be}
	case strings.Contains(lower, "server busy"), strings.Contains(lower, "429"), strings.Contains(lower, "503"):
		be.Retryable = true
		return &ServerBusyError{BackendError: be}
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return &RequestTimeoutError{ClientError: be.ClientError}
	}
	be.Retryable = true
	return &ServerError{BackendError: be}
}

func mentionsContextLength(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context window") ||
		strings.Contains(lower, "too many tokens")
}

// IsRetryable reports whether a request that failed with err may be sent
// again. Errors from outside this package are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ retryable() bool }
	if errors.As(err, &r) {
		return r.retryable()
	}
	return true
}
