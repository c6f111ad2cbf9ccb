package unifiedllm

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestErrorFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		message   string
		check     func(error) bool
		retryable bool
	}{
		{http.StatusBadRequest, "invalid tool schema", isType[*InvalidRequestError], false},
		{http.StatusBadRequest, "input exceeds context length", isType[*ContextLengthError], false},
		{http.StatusUnauthorized, "missing token", isType[*AccessDeniedError], false},
		{http.StatusForbidden, "blocked by proxy", isType[*AccessDeniedError], false},
		{http.StatusNotFound, `model "qwen9" not found`, isType[*ModelNotFoundError], false},
		{http.StatusRequestTimeout, "slow", isType[*RequestTimeoutError], true},
		{http.StatusRequestEntityTooLarge, "too big", isType[*ContextLengthError], false},
		{http.StatusUnprocessableEntity, "bad options", isType[*InvalidRequestError], false},
		{http.StatusTooManyRequests, "queue full", isType[*ServerBusyError], true},
		{http.StatusServiceUnavailable, "server busy", isType[*ServerBusyError], true},
		{http.StatusInternalServerError, "runner crashed", isType[*ServerError], true},
		{http.StatusBadGateway, "upstream", isType[*ServerError], true},
		{http.StatusGatewayTimeout, "upstream", isType[*ServerError], true},
		{http.StatusTeapot, "odd", isType[*BackendError], false},
		{507, "disk full", isType[*BackendError], true},
	}
	for _, tt := range tests {
		err := ErrorFromStatus(tt.status, tt.message, OllamaProviderName, "qwen9", 0)
		if !tt.check(err) {
			t.Errorf("status %d %q: got %T", tt.status, tt.message, err)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("status %d %q: retryable = %v", tt.status, tt.message, IsRetryable(err))
		}
	}
}

func TestErrorFromStatusCarriesDetails(t *testing.T) {
	err := ErrorFromStatus(http.StatusServiceUnavailable, "server busy", OllamaProviderName, "llama3", 7*time.Second)

	var busy *ServerBusyError
	if !errors.As(err, &busy) {
		t.Fatalf("got %T", err)
	}
	if busy.RetryAfter != 7*time.Second || busy.Model != "llama3" || busy.StatusCode != 503 {
		t.Errorf("details lost: %+v", busy.BackendError)
	}
	if got := err.Error(); got != "ollama: server busy (status 503)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestModelNotFoundMessage(t *testing.T) {
	err := ErrorFromStatus(http.StatusNotFound, "not found", OllamaProviderName, "qwen9", 0)
	if !strings.Contains(err.Error(), "ollama pull qwen9") {
		t.Errorf("Error() = %q, want a pull hint", err.Error())
	}

	anonymous := ErrorFromStatus(http.StatusNotFound, "no such route", OllamaProviderName, "", 0)
	if got := anonymous.Error(); got != "ollama: no such route (status 404)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorFromMessage(t *testing.T) {
	tests := []struct {
		message string
		check   func(error) bool
	}{
		{"dial tcp [::1]:11434: connect: connection refused", isType[*ServerUnreachableError]},
		{"lookup ollama.local: no such host", isType[*ServerUnreachableError]},
		{`model "x" not found, try pulling it first`, isType[*ModelNotFoundError]},
		{"requested tokens exceed context window", isType[*ContextLengthError]},
		{"server busy, please try again", isType[*ServerBusyError]},
		{"context deadline exceeded", isType[*RequestTimeoutError]},
		{"unexpected EOF from runner", isType[*ServerError]},
	}
	for _, tt := range tests {
		if err := ErrorFromMessage(tt.message, OllamaProviderName, "x", nil); !tt.check(err) {
			t.Errorf("%q: got %T", tt.message, err)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"abort", &AbortError{}, false},
		{"configuration", &ConfigurationError{}, false},
		{"invalid request", &InvalidRequestError{}, false},
		{"model missing", &ModelNotFoundError{}, false},
		{"context length", &ContextLengthError{}, false},
		{"busy", &ServerBusyError{BackendError{Retryable: true}}, true},
		{"unreachable", &ServerUnreachableError{}, true},
		{"timeout", &RequestTimeoutError{}, true},
		{"decode", &StreamDecodeError{}, true},
		{"wrapped abort", errors.Join(errors.New("outer"), &AbortError{}), false},
		{"foreign", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ServerUnreachableError{ClientError: ClientError{Message: "connect", Cause: cause}, Host: "http://gpu:11434"}

	if !errors.Is(err, cause) {
		t.Error("cause not reachable through errors.Is")
	}
	if got := err.Error(); got != "cannot reach Ollama at http://gpu:11434: connection reset" {
		t.Errorf("Error() = %q", got)
	}
}
