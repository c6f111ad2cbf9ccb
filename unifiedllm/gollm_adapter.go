package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmProviderName is the provider identifier of the text-protocol adapter.
const GollmProviderName = "ollama-text"

// GollmAdapter drives an Ollama model through gollm using the text tool
// protocol: tool definitions go into the system prompt and ```tool blocks
// are parsed out of the reply. It serves models without native function
// calling.
type GollmAdapter struct {
	llm   gollm.LLM
	model string
}

// GollmOption tunes the gollm client built by NewGollmAdapter.
type GollmOption = gollm.ConfigOption

// NewGollmAdapter creates a text-protocol adapter for model on the Ollama
// server at endpoint. Retries are left to the caller's RetryPolicy.
func NewGollmAdapter(endpoint, model string, opts ...GollmOption) (*GollmAdapter, error) {
	base := []gollm.ConfigOption{
		gollm.SetProvider("ollama"),
		gollm.SetOllamaEndpoint(endpoint),
		gollm.SetModel(model),
		gollm.SetMaxTokens(4096),
		gollm.SetTemperature(0.2),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	llm, err := gollm.NewLLM(append(base, opts...)...)
	if err != nil {
		return nil, &ConfigurationError{ClientError{
			Message: fmt.Sprintf("set up text protocol client for %s at %s", model, endpoint),
			Cause:   err,
		}}
	}
	return NewGollmAdapterFromLLM(llm, model), nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM.
func NewGollmAdapterFromLLM(llm gollm.LLM, model string) *GollmAdapter {
	return &GollmAdapter{llm: llm, model: model}
}

func (a *GollmAdapter) Name() string { return GollmProviderName }

// Complete generates the whole reply in one call.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	text, err := a.llm.Generate(ctx, a.prepare(req))
	if err != nil {
		return nil, a.classify(ctx, err)
	}
	return a.replyToResponse(req, text), nil
}

// Stream emits visible text as it arrives, with tool blocks held back, and
// the parsed tool calls once the reply is complete. Models gollm cannot
// stream are generated in one call and delivered as a single delta.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := a.prepare(req)
	ch := make(chan StreamEvent, 64)

	if !a.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
				return
			}
			reply, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: a.classify(ctx, err)})
				return
			}
			out := &textEmitter{ctx: ctx, ch: ch, id: "text_0"}
			visible, _ := ParseToolBlocks(reply)
			if out.emit(visible) && out.close() {
				a.finishStream(ctx, ch, req, reply)
			}
		}()
		return ch, nil
	}

	tokens, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, a.classify(ctx, err)
	}
	go func() {
		defer close(ch)
		defer tokens.Close()
		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		out := &textEmitter{ctx: ctx, ch: ch, id: "text_0"}
		var raw strings.Builder
		var filter fenceFilter
		for {
			tok, err := tokens.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: a.classify(ctx, err)})
				return
			}
			if tok == nil {
				continue
			}
			raw.WriteString(tok.Text)
			if !out.emit(filter.Write(tok.Text)) {
				return
			}
		}
		if out.emit(filter.Flush()) && out.close() {
			a.finishStream(ctx, ch, req, raw.String())
		}
	}()
	return ch, nil
}

// finishStream emits the reply's tool calls and the finish event.
func (a *GollmAdapter) finishStream(ctx context.Context, ch chan<- StreamEvent, req Request, reply string) {
	resp := a.replyToResponse(req, reply)
	for _, call := range resp.ToolCallsFromResponse() {
		call := call
		if !send(ctx, ch, StreamEvent{Type: ToolCallStart, ToolCall: &call}) ||
			!send(ctx, ch, StreamEvent{Type: ToolCallEnd, ToolCall: &call}) {
			return
		}
	}
	send(ctx, ch, StreamEvent{
		Type:         StreamFinish,
		FinishReason: &resp.FinishReason,
		Usage:        &resp.Usage,
		Response:     resp,
	})
}

// textEmitter wraps deltas in a single TextStart/TextEnd pair, opened on the
// first non-empty delta.
type textEmitter struct {
	ctx    context.Context
	ch     chan<- StreamEvent
	id     string
	opened bool
}

func (e *textEmitter) emit(delta string) bool {
	if delta == "" {
		return true
	}
	if !e.opened {
		if !send(e.ctx, e.ch, StreamEvent{Type: TextStart, TextID: e.id}) {
			return false
		}
		e.opened = true
	}
	return send(e.ctx, e.ch, StreamEvent{Type: TextDelta, Delta: delta, TextID: e.id})
}

func (e *textEmitter) close() bool {
	if !e.opened {
		return true
	}
	return send(e.ctx, e.ch, StreamEvent{Type: TextEnd, TextID: e.id})
}

// prepare applies per-request sampling options to the client and renders
// the conversation into a single prompt.
func (a *GollmAdapter) prepare(req Request) *gollm.Prompt {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.ContextWindow > 0 {
		a.llm.SetOption("num_ctx", req.ContextWindow)
	}

	system, transcript := renderTranscript(req.Messages)
	if tools := RenderToolInstructions(req.ToolDefs); tools != "" {
		system = strings.TrimSpace(system + "\n\n" + tools)
	}
	var opts []gollm.PromptOption
	if system != "" {
		opts = append(opts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	return gollm.NewPrompt(transcript, opts...)
}

// replyToResponse turns raw reply text into a Response. gollm reports no
// token counts for Ollama, so usage is estimated.
func (a *GollmAdapter) replyToResponse(req Request, reply string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	visible, calls := ParseToolBlocks(reply)
	msg := Message{Role: RoleAssistant}
	if visible != "" {
		msg.Content = append(msg.Content, TextPart(visible))
	}
	reason := "stop"
	for _, c := range calls {
		msg.Content = append(msg.Content, ToolCallPart(c.ID, c.Name, c.Arguments))
		reason = "tool_calls"
	}

	in, out := EstimateMessageTokens(req.Messages), EstimateTokens(reply)
	return &Response{
		ID:           "resp_" + uuid.NewString()[:8],
		Model:        model,
		Provider:     GollmProviderName,
		Message:      msg,
		FinishReason: FinishReason{Reason: reason, Raw: reason},
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out, Estimated: true},
	}
}

// classify maps a gollm failure onto this package's error types. gollm
// surfaces server failures as plain text, so the message is all there is.
func (a *GollmAdapter) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{ClientError{Message: "request cancelled", Cause: ctx.Err()}}
	}
	return ErrorFromMessage(err.Error(), GollmProviderName, a.model, err)
}
