package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ollacode/ollacode/unifiedllm"
	"github.com/ollacode/ollacode/workspace"
)

// step is one scripted model reply.
type step struct {
	text      string
	calls     []unifiedllm.ToolCall
	openErr   error // returned from Stream
	streamErr error // sent as a StreamError event after the text
	block     bool  // send the text, then hold the stream open until cancelled
	noFinish  bool  // close the stream without a finish event
}

// scriptedAdapter replays steps in order and records every request.
type scriptedAdapter struct {
	mu       sync.Mutex
	steps    []step
	requests []unifiedllm.Request
	started  chan struct{} // signalled when a blocking step is streaming
}

func (a *scriptedAdapter) Name() string { return unifiedllm.OllamaProviderName }

func (a *scriptedAdapter) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	return nil, errors.New("complete not scripted")
}

func (a *scriptedAdapter) Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	if len(a.steps) == 0 {
		a.mu.Unlock()
		return nil, errors.New("script exhausted")
	}
	st := a.steps[0]
	a.steps = a.steps[1:]
	a.mu.Unlock()

	if st.openErr != nil {
		return nil, st.openErr
	}

	ch := make(chan unifiedllm.StreamEvent, 32)
	go func() {
		defer close(ch)
		ch <- unifiedllm.StreamEvent{Type: unifiedllm.StreamStart}
		if st.text != "" {
			ch <- unifiedllm.StreamEvent{Type: unifiedllm.TextDelta, Delta: st.text}
		}
		if st.block {
			if a.started != nil {
				a.started <- struct{}{}
			}
			<-ctx.Done()
			return
		}
		if st.streamErr != nil {
			ch <- unifiedllm.StreamEvent{Type: unifiedllm.StreamError, Error: st.streamErr}
			return
		}
		if st.noFinish {
			return
		}
		content := []unifiedllm.ContentPart{unifiedllm.TextPart(st.text)}
		for _, c := range st.calls {
			c := c
			ch <- unifiedllm.StreamEvent{Type: unifiedllm.ToolCallEnd, ToolCall: &c}
			content = append(content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
		}
		reason := unifiedllm.FinishReason{Reason: "stop"}
		if len(st.calls) > 0 {
			reason.Reason = "tool_calls"
		}
		usage := unifiedllm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
		ch <- unifiedllm.StreamEvent{
			Type:         unifiedllm.StreamFinish,
			FinishReason: &reason,
			Usage:        &usage,
			Response: &unifiedllm.Response{
				ID:           "resp",
				Model:        req.Model,
				Provider:     unifiedllm.OllamaProviderName,
				Message:      unifiedllm.Message{Role: unifiedllm.RoleAssistant, Content: content},
				FinishReason: reason,
				Usage:        usage,
			},
		}
	}()
	return ch, nil
}

func (a *scriptedAdapter) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func toolCall(id, name, args string) unifiedllm.ToolCall {
	return unifiedllm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// eventLog collects events from a session.
type eventLog struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (l *eventLog) handle(ev SessionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (l *eventLog) ofKind(kind EventKind) []SessionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []SessionEvent
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type testSession struct {
	*Session
	adapter *scriptedAdapter
	root    string
	events  *eventLog
}

func newTestSession(t *testing.T, steps []step, opts ...SessionOption) *testSession {
	t.Helper()
	guard, err := workspace.New(t.TempDir(), workspace.WithCommandTimeout(5*time.Second, 10*time.Second))
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	adapter := &scriptedAdapter{steps: steps}
	client := unifiedllm.NewClient(unifiedllm.WithProvider(unifiedllm.OllamaProviderName, adapter))
	profile := ModelProfile{
		Provider:      unifiedllm.OllamaProviderName,
		Model:         "test-model",
		ToolProtocol:  unifiedllm.ToolProtocolNative,
		ContextWindow: 32768,
	}
	opts = append([]SessionOption{
		WithProjectMemory(""),
		WithRetryPolicy(unifiedllm.RetryPolicy{}),
	}, opts...)

	s := NewSession(client, guard, profile, opts...)
	t.Cleanup(s.Close)
	log := &eventLog{}
	s.Subscribe(log.handle)
	return &testSession{Session: s, adapter: adapter, root: guard.Root(), events: log}
}

func (ts *testSession) writeFile(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(ts.root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (ts *testSession) readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ts.root, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// toolResults returns the tool result turns of the history in order.
func toolResults(history []Turn) []ToolResult {
	var out []ToolResult
	for _, turn := range history {
		if turn.Kind == TurnToolResult {
			out = append(out, *turn.ToolResult)
		}
	}
	return out
}
