package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
)

func TestGollmAdapterClassify(t *testing.T) {
	adapter := &GollmAdapter{model: "codellama:7b"}

	tests := []struct {
		msg       string
		check     func(error) bool
		retryable bool
	}{
		{"dial tcp 127.0.0.1:11434: connect: connection refused", isType[*ServerUnreachableError], true},
		{"model \"codellama:7b\" not found", isType[*ModelNotFoundError], false},
		{"503 server busy, please try again", isType[*ServerBusyError], true},
		{"context length exceeded", isType[*ContextLengthError], false},
		{"timeout waiting for response", isType[*RequestTimeoutError], true},
		{"llama runner process has terminated", isType[*ServerError], true},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := adapter.classify(context.Background(), errors.New(tt.msg))
			if !tt.check(err) {
				t.Fatalf("classify(%q) = %T", tt.msg, err)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestGollmAdapterClassifyKeepsCause(t *testing.T) {
	cause := errors.New("llama runner exited")
	err := (&GollmAdapter{}).classify(context.Background(), cause)
	if !errors.Is(err, cause) {
		t.Errorf("%v does not wrap its cause", err)
	}
}

func TestGollmAdapterClassifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := (&GollmAdapter{}).classify(ctx, errors.New("500 internal server error"))
	if !isType[*AbortError](err) {
		t.Errorf("got %T after cancellation, want *AbortError", err)
	}
}

func isType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func TestGollmAdapterReplyParsesToolBlocks(t *testing.T) {
	adapter := &GollmAdapter{model: "codellama:7b"}
	text := "Let me look.\n```tool\n{\"name\": \"read_file\", \"arguments\": {\"path\": \"main.go\"}}\n```\n"

	resp := adapter.replyToResponse(Request{Messages: []Message{UserMessage("show main.go")}}, text)

	if resp.Provider != GollmProviderName {
		t.Errorf("expected provider %q, got %q", GollmProviderName, resp.Provider)
	}
	if resp.Model != "codellama:7b" {
		t.Errorf("expected default model, got %q", resp.Model)
	}
	if resp.Text() != "Let me look." {
		t.Errorf("expected tool block stripped from text, got %q", resp.Text())
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason.Reason)
	}
	calls := resp.ToolCallsFromResponse()
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Fatalf("expected one read_file call, got %+v", calls)
	}
	if !resp.Usage.Estimated || resp.Usage.TotalTokens <= 0 {
		t.Errorf("expected estimated usage, got %+v", resp.Usage)
	}
}

func TestParseToolBlocks(t *testing.T) {
	text := "First.\n```tool\n{\"name\": \"list_directory\"}\n```\nThen.\n```tool\n{\"name\": \"grep_search\", \"arguments\": {\"pattern\": \"TODO\"}}\n```"

	cleaned, calls := ParseToolBlocks(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "list_directory" || string(calls[0].Arguments) != "{}" {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	var args map[string]string
	if err := json.Unmarshal(calls[1].Arguments, &args); err != nil || args["pattern"] != "TODO" {
		t.Errorf("unexpected second call arguments: %s", calls[1].Arguments)
	}
	if calls[0].ID == calls[1].ID || !strings.HasPrefix(calls[0].ID, "call_") {
		t.Errorf("expected distinct call ids, got %q and %q", calls[0].ID, calls[1].ID)
	}
	if strings.Contains(cleaned, "```tool") {
		t.Errorf("expected blocks removed, got %q", cleaned)
	}
}

func TestParseToolBlocksKeepsMalformed(t *testing.T) {
	text := "```tool\nnot json\n```"
	cleaned, calls := ParseToolBlocks(text)
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(calls))
	}
	if cleaned != text {
		t.Errorf("expected malformed block kept, got %q", cleaned)
	}
}

func TestFenceFilterHidesToolBlocks(t *testing.T) {
	reply := "Reading it now.\n```tool\n{\"name\": \"read_file\", \"arguments\": {\"path\": \"a\"}}\n```\nDone."

	// Feed the reply in small chunks so fences straddle delta boundaries.
	var f fenceFilter
	var out strings.Builder
	for i := 0; i < len(reply); i += 3 {
		out.WriteString(f.Write(reply[i:min(i+3, len(reply))]))
	}
	out.WriteString(f.Flush())

	if got := out.String(); got != "Reading it now.\n\nDone." {
		t.Errorf("unexpected visible text %q", got)
	}
}

func TestFenceFilterPassesOrdinaryCodeBlocks(t *testing.T) {
	var f fenceFilter
	got := f.Write("```go\nfmt.Println()\n```") + f.Flush()
	if got != "```go\nfmt.Println()\n```" {
		t.Errorf("expected ordinary fence untouched, got %q", got)
	}
}

func TestRenderTranscript(t *testing.T) {
	msgs := []Message{
		SystemMessage("be brief"),
		UserMessage("fix it"),
		{Role: RoleAssistant, Content: []ContentPart{
			TextPart("checking"),
			ToolCallPart("call_1", "read_file", json.RawMessage(`{"path":"a.go"}`)),
		}},
		ToolResultMessage("call_1", "read_file", "package a", false),
	}

	system, prompt := renderTranscript(msgs)
	if system != "be brief" {
		t.Errorf("expected system prompt, got %q", system)
	}
	for _, want := range []string{
		"User: fix it",
		"Assistant: checking\n```tool\n{\"name\":\"read_file\",\"arguments\":{\"path\":\"a.go\"}}\n```",
		"Tool result (read_file):\npackage a",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "Assistant:") {
		t.Errorf("expected prompt to end with assistant cue, got %q", prompt)
	}
}

func TestRenderToolInstructions(t *testing.T) {
	if RenderToolInstructions(nil) != "" {
		t.Error("expected no instructions without tools")
	}
	got := RenderToolInstructions([]ToolDefinition{{
		Name:        "read_file",
		Description: "Read a file",
		Parameters:  map[string]interface{}{"type": "object"},
	}})
	if !strings.Contains(got, "### read_file") || !strings.Contains(got, "```tool") {
		t.Errorf("unexpected instructions:\n%s", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("expected 2 tokens for 8 ascii chars, got %d", got)
	}
	if got := EstimateTokens("你好世界你好"); got != 4 {
		t.Errorf("expected 4 tokens for 6 CJK chars, got %d", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("expected 0 tokens for empty text, got %d", got)
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	msgs := []Message{
		UserMessage("Hello world, this is a test message."),
		ToolResultMessage("c1", "read_file", strings.Repeat("x", 400), false),
	}
	if got := EstimateMessageTokens(msgs); got < 100 {
		t.Errorf("expected tool result to count, got %d", got)
	}
}

// fakeLLM answers from a canned reply. Methods the adapter never calls are
// left to the nil embedded interface.
type fakeLLM struct {
	gollm.LLM
	streaming bool
	reply     string
	chunks    []string
	err       error

	prompts []*llm.Prompt
	options map[string]interface{}
	stream  *fakeTokens
}

func (f *fakeLLM) SupportsStreaming() bool { return f.streaming }

func (f *fakeLLM) SetOption(key string, value interface{}) {
	if f.options == nil {
		f.options = map[string]interface{}{}
	}
	f.options[key] = value
}

func (f *fakeLLM) Generate(ctx context.Context, prompt *llm.Prompt, _ ...llm.GenerateOption) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeLLM) Stream(ctx context.Context, prompt *llm.Prompt, _ ...llm.StreamOption) (llm.TokenStream, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	f.stream = &fakeTokens{chunks: f.chunks}
	return f.stream, nil
}

type fakeTokens struct {
	chunks []string
	closed bool
}

func (t *fakeTokens) Next(context.Context) (*llm.StreamToken, error) {
	if len(t.chunks) == 0 {
		return nil, io.EOF
	}
	tok := &llm.StreamToken{Text: t.chunks[0], Type: "text"}
	t.chunks = t.chunks[1:]
	return tok, nil
}

func (t *fakeTokens) Close() error {
	t.closed = true
	return nil
}

const toolReply = "Let me look.\n```tool\n{\"name\": \"read_file\", \"arguments\": {\"path\": \"main.go\"}}\n```\n"

func streamRequest() Request {
	return Request{
		Model:    "codellama:7b",
		Messages: []Message{SystemMessage("Be brief."), UserMessage("show main.go")},
		ToolDefs: []ToolDefinition{{Name: "read_file", Description: "Read a file", Parameters: map[string]interface{}{"type": "object"}}},
	}
}

func drain(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

// checkToolStream asserts the event sequence of a reply that reads main.go.
func checkToolStream(t *testing.T, events []StreamEvent) {
	t.Helper()
	if len(events) == 0 || events[0].Type != StreamStart {
		t.Fatalf("stream does not begin with StreamStart: %+v", events)
	}

	var text strings.Builder
	var kinds []StreamEventType
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
		if ev.Type == TextDelta {
			text.WriteString(ev.Delta)
		}
		if ev.Type == StreamError {
			t.Fatalf("unexpected error event: %v", ev.Error)
		}
	}
	if strings.Contains(text.String(), "```") || strings.TrimSpace(text.String()) != "Let me look." {
		t.Errorf("visible text = %q", text.String())
	}

	n := len(kinds)
	if n < 6 {
		t.Fatalf("too few events: %v", kinds)
	}
	want := []StreamEventType{TextEnd, ToolCallStart, ToolCallEnd, StreamFinish}
	for i, k := range want {
		if kinds[n-len(want)+i] != k {
			t.Fatalf("tail of stream = %v, want %v", kinds[n-len(want):], want)
		}
	}

	call := events[n-2].ToolCall
	if call == nil || call.Name != "read_file" {
		t.Fatalf("tool call = %+v", call)
	}
	var args map[string]string
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args["path"] != "main.go" {
		t.Errorf("arguments = %s", call.Arguments)
	}

	finish := events[n-1]
	if finish.Response == nil || finish.FinishReason == nil || finish.FinishReason.Reason != "tool_calls" {
		t.Fatalf("finish = %+v", finish)
	}
	if finish.Response.Text() != "Let me look." || len(finish.Response.ToolCallsFromResponse()) != 1 {
		t.Errorf("response = %+v", finish.Response)
	}
	if finish.Response.Provider != GollmProviderName || finish.Response.Model != "codellama:7b" {
		t.Errorf("response provider/model = %s/%s", finish.Response.Provider, finish.Response.Model)
	}
}

func TestGollmAdapterStreamTokens(t *testing.T) {
	fake := &fakeLLM{
		streaming: true,
		chunks: []string{
			"Let me ", "look.\n``", "`to", "ol\n{\"name\": \"read_file\", ",
			"\"arguments\": {\"path\": \"main.go\"}}\n``", "`\n",
		},
	}
	adapter := NewGollmAdapterFromLLM(fake, "codellama:7b")

	ch, err := adapter.Stream(context.Background(), streamRequest())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	checkToolStream(t, drain(t, ch))

	if !fake.stream.closed {
		t.Error("token stream was not closed")
	}
	if len(fake.prompts) != 1 {
		t.Fatalf("prompts = %d", len(fake.prompts))
	}
	system := fake.prompts[0].SystemPrompt
	if !strings.Contains(system, "Be brief.") || !strings.Contains(system, "### read_file") {
		t.Errorf("system prompt = %q", system)
	}
	if fake.options["model"] != "codellama:7b" {
		t.Errorf("model option = %v", fake.options["model"])
	}
}

func TestGollmAdapterStreamFallsBackToGenerate(t *testing.T) {
	fake := &fakeLLM{reply: toolReply}
	adapter := NewGollmAdapterFromLLM(fake, "codellama:7b")

	ch, err := adapter.Stream(context.Background(), streamRequest())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drain(t, ch)
	checkToolStream(t, events)

	deltas := 0
	for _, ev := range events {
		if ev.Type == TextDelta {
			deltas++
		}
	}
	if deltas != 1 {
		t.Errorf("expected the whole reply as one delta, got %d", deltas)
	}
	if fake.stream != nil {
		t.Error("token streaming used by a model that cannot stream")
	}
}

func TestGollmAdapterStreamErrors(t *testing.T) {
	fake := &fakeLLM{streaming: true, err: errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")}
	adapter := NewGollmAdapterFromLLM(fake, "codellama:7b")

	if _, err := adapter.Stream(context.Background(), streamRequest()); !isType[*ServerUnreachableError](err) {
		t.Errorf("stream open error = %T %v", err, err)
	}

	fake.streaming = false
	fake.err = errors.New(`model "codellama:7b" not found`)
	ch, err := adapter.Stream(context.Background(), streamRequest())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := drain(t, ch)
	last := events[len(events)-1]
	if last.Type != StreamError || !isType[*ModelNotFoundError](last.Error) {
		t.Errorf("last event = %+v", last)
	}
}
