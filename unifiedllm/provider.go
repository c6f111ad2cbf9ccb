package unifiedllm

import "context"

// ProviderAdapter turns Requests into calls against one model server.
// Stream must close its channel after a StreamFinish or StreamError event,
// or when ctx is cancelled.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Optional adapter capabilities, discovered by type assertion.
type (
	Closer interface {
		Close() error
	}
	HealthChecker interface {
		Ping(ctx context.Context) error
	}
	ModelLister interface {
		ListModels(ctx context.Context) ([]string, error)
	}
)
