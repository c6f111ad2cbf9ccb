package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// CompleteFunc and StreamFunc are the two ways of sending a Request.
type (
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)
	StreamFunc   func(ctx context.Context, req Request) (<-chan StreamEvent, error)
)

// Middleware wraps a blocking request. It must call next to reach the
// provider.
type Middleware func(ctx context.Context, req Request, next CompleteFunc) (*Response, error)

// StreamMiddleware wraps a streaming request.
type StreamMiddleware func(ctx context.Context, req Request, next StreamFunc) (<-chan StreamEvent, error)

// Client routes requests to a registered ProviderAdapter by name. A request
// that names no provider goes to the default one. Middleware runs in
// registration order, outermost first.
type Client struct {
	mu        sync.RWMutex
	adapters  map[string]ProviderAdapter
	fallback  string
	completeM []Middleware
	streamM   []StreamMiddleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) { c.adapters[name] = adapter }
}

// WithDefaultProvider names the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.fallback = name }
}

func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.completeM = append(c.completeM, mw...) }
}

func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) { c.streamM = append(c.streamM, mw...) }
}

// NewClient builds a Client. With a single registered provider and no
// explicit default, that provider becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{adapters: map[string]ProviderAdapter{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.fallback == "" && len(c.adapters) == 1 {
		for name := range c.adapters {
			c.fallback = name
		}
	}
	return c
}

// RegisterProvider adds or replaces an adapter after construction.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	c.adapters[name] = adapter
	if c.fallback == "" {
		c.fallback = name
	}
	c.mu.Unlock()
}

// HasProvider reports whether an adapter is registered under name.
func (c *Client) HasProvider(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.adapters[name]
	return ok
}

func (c *Client) adapterFor(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.fallback
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{ClientError{Message: "no provider named and no default provider set"}}
	}
	if a, ok := c.adapters[name]; ok {
		return a, nil
	}
	return nil, &ConfigurationError{ClientError{Message: fmt.Sprintf("provider %q is not registered", name)}}
}

// Complete sends req through the middleware to its provider and waits for
// the whole response.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.adapterFor(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	call := CompleteFunc(adapter.Complete)
	for i := len(c.completeM) - 1; i >= 0; i-- {
		mw, next := c.completeM[i], call
		call = func(ctx context.Context, r Request) (*Response, error) { return mw(ctx, r, next) }
	}
	return call(ctx, req)
}

// Stream sends req through the stream middleware to its provider. The
// returned channel is closed after the final event.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.adapterFor(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	call := StreamFunc(adapter.Stream)
	for i := len(c.streamM) - 1; i >= 0; i-- {
		mw, next := c.streamM[i], call
		call = func(ctx context.Context, r Request) (<-chan StreamEvent, error) { return mw(ctx, r, next) }
	}
	return call(ctx, req)
}

// Close closes every adapter that holds resources and joins their errors.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for _, a := range c.adapters {
		if closer, ok := a.(Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// Ping checks the default provider's server. Adapters that cannot report
// health count as healthy.
func (c *Client) Ping(ctx context.Context) error {
	a, err := c.adapterFor(Request{})
	if err != nil {
		return err
	}
	if hc, ok := a.(HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// AvailableModels lists the models installed on the default provider's
// server, or nil when the adapter cannot enumerate them.
func (c *Client) AvailableModels(ctx context.Context) ([]string, error) {
	a, err := c.adapterFor(Request{})
	if err != nil {
		return nil, err
	}
	if ml, ok := a.(ModelLister); ok {
		return ml.ListModels(ctx)
	}
	return nil, nil
}
