package unifiedllm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// stubAdapter answers every request with a fixed reply, event list or error,
// and remembers the last request it saw.
type stubAdapter struct {
	name   string
	reply  string
	err    error
	events []StreamEvent
	closed bool
	last   Request
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Complete(_ context.Context, req Request) (*Response, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &Response{
		Provider:     s.name,
		Model:        req.Model,
		Message:      AssistantMessage(s.reply),
		FinishReason: FinishReason{Reason: "stop"},
	}, nil
}

func (s *stubAdapter) Stream(_ context.Context, req Request) (<-chan StreamEvent, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan StreamEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *stubAdapter) Close() error {
	s.closed = true
	return s.err
}

func hi(model string) Request {
	return Request{Model: model, Messages: []Message{UserMessage("hi")}}
}

func TestClientRouting(t *testing.T) {
	native := &stubAdapter{name: OllamaProviderName, reply: "native"}
	text := &stubAdapter{name: GollmProviderName + ":codellama", reply: "text"}
	client := NewClient(
		WithProvider(OllamaProviderName, native),
		WithProvider(text.name, text),
		WithDefaultProvider(OllamaProviderName),
	)

	tests := []struct {
		provider string
		want     string
	}{
		{"", "native"},
		{OllamaProviderName, "native"},
		{text.name, "text"},
	}
	for _, tt := range tests {
		req := hi("codellama")
		req.Provider = tt.provider
		resp, err := client.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("provider %q: %v", tt.provider, err)
		}
		if resp.Text() != tt.want {
			t.Errorf("provider %q answered %q, want %q", tt.provider, resp.Text(), tt.want)
		}
	}
	if native.last.Provider != OllamaProviderName {
		t.Errorf("request provider not filled in: %q", native.last.Provider)
	}
}

func TestClientRoutingErrors(t *testing.T) {
	empty := NewClient()
	_, err := empty.Complete(context.Background(), hi("m"))
	if !isType[*ConfigurationError](err) || !strings.Contains(err.Error(), "no default provider") {
		t.Errorf("empty client: %v", err)
	}

	client := NewClient(WithProvider(OllamaProviderName, &stubAdapter{name: OllamaProviderName}))
	req := hi("m")
	req.Provider = "vllm"
	_, err = client.Stream(context.Background(), req)
	if !isType[*ConfigurationError](err) || !strings.Contains(err.Error(), `"vllm"`) {
		t.Errorf("unknown provider: %v", err)
	}
	if IsRetryable(err) {
		t.Error("configuration errors must not be retried")
	}
}

func TestClientSingleProviderIsDefault(t *testing.T) {
	client := NewClient(WithProvider("only", &stubAdapter{name: "only", reply: "ok"}))
	resp, err := client.Complete(context.Background(), hi("m"))
	if err != nil || resp.Text() != "ok" {
		t.Fatalf("Complete() = %v, %v", resp, err)
	}
}

func TestClientRegisterProviderLater(t *testing.T) {
	client := NewClient()
	if client.HasProvider("late") {
		t.Fatal("unexpected provider")
	}
	client.RegisterProvider("late", &stubAdapter{name: "late", reply: "here"})
	if !client.HasProvider("late") {
		t.Fatal("provider not registered")
	}
	resp, err := client.Complete(context.Background(), hi("m"))
	if err != nil || resp.Text() != "here" {
		t.Fatalf("Complete() = %v, %v", resp, err)
	}
}

func TestClientMiddlewareNesting(t *testing.T) {
	var trace []string
	tag := func(name string) Middleware {
		return func(ctx context.Context, req Request, next CompleteFunc) (*Response, error) {
			trace = append(trace, name+">")
			resp, err := next(ctx, req)
			trace = append(trace, "<"+name)
			return resp, err
		}
	}
	client := NewClient(
		WithProvider("s", &stubAdapter{name: "s", reply: "ok"}),
		WithMiddleware(tag("outer"), tag("inner")),
	)
	if _, err := client.Complete(context.Background(), hi("m")); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(trace, " "); got != "outer> inner> <inner <outer" {
		t.Errorf("trace = %q", got)
	}
}

func TestClientStreamMiddlewareCanRewrite(t *testing.T) {
	stub := &stubAdapter{name: "s", events: []StreamEvent{{Type: StreamStart}, {Type: StreamFinish}}}
	pin := func(ctx context.Context, req Request, next StreamFunc) (<-chan StreamEvent, error) {
		req.ContextWindow = 4096
		return next(ctx, req)
	}
	client := NewClient(WithProvider("s", stub), WithStreamMiddleware(pin))

	ch, err := client.Stream(context.Background(), hi("m"))
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range ch {
		n++
	}
	if n != 2 || stub.last.ContextWindow != 4096 {
		t.Errorf("got %d events, context window %d", n, stub.last.ContextWindow)
	}
}

func TestClientCloseJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &stubAdapter{name: "a"}
	b := &stubAdapter{name: "b", err: boom}
	client := NewClient(WithProvider("a", a), WithProvider("b", b), WithDefaultProvider("a"))

	if err := client.Close(); !errors.Is(err, boom) {
		t.Errorf("Close() = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("not every adapter was closed")
	}
}

func TestClientPingAndModels(t *testing.T) {
	_, adapter := newFakeOllama(t)
	client := NewClient(WithProvider(OllamaProviderName, adapter))

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() = %v", err)
	}
	models, err := client.AvailableModels(context.Background())
	if err != nil || strings.Join(models, ",") != "qwen3-coder:30b,llama3.1:8b" {
		t.Errorf("AvailableModels() = %v, %v", models, err)
	}

	plain := NewClient(WithProvider("s", &stubAdapter{name: "s"}))
	if err := plain.Ping(context.Background()); err != nil {
		t.Errorf("adapter without health check: %v", err)
	}
	if models, err := plain.AvailableModels(context.Background()); models != nil || err != nil {
		t.Errorf("adapter without model list: %v, %v", models, err)
	}
}
