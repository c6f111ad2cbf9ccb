package unifiedllm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OllamaProviderName is the provider identifier of the native adapter.
const OllamaProviderName = "ollama"

// DefaultOllamaHost is where a local Ollama server listens by default.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaAdapter talks to Ollama's /api/chat endpoint with native function
// calling. Replies are streamed as newline-delimited JSON.
type OllamaAdapter struct {
	host      string
	http      *http.Client
	keepAlive string
}

// OllamaOption configures an OllamaAdapter.
type OllamaOption func(*OllamaAdapter)

// WithHTTPClient replaces the HTTP client. The default has no overall
// timeout because replies stream for as long as the model generates.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(a *OllamaAdapter) {
		a.http = c
	}
}

// WithKeepAlive sets how long Ollama keeps the model loaded after a request
// ("5m", "1h", "-1").
func WithKeepAlive(d string) OllamaOption {
	return func(a *OllamaAdapter) {
		a.keepAlive = d
	}
}

// NewOllamaAdapter creates an adapter for the Ollama server at host.
func NewOllamaAdapter(host string, opts ...OllamaOption) *OllamaAdapter {
	if host == "" {
		host = DefaultOllamaHost
	}
	a := &OllamaAdapter{
		host: strings.TrimRight(host, "/"),
		http: &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider identifier.
func (a *OllamaAdapter) Name() string {
	return OllamaProviderName
}

// Wire types for /api/chat.

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type ollamaChatRequest struct {
	Model     string                 `json:"model"`
	Messages  []ollamaMessage        `json:"messages"`
	Tools     []ollamaTool           `json:"tools,omitempty"`
	Stream    bool                   `json:"stream"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

func (a *OllamaAdapter) buildRequest(req Request, stream bool) ollamaChatRequest {
	body := ollamaChatRequest{
		Model:     req.Model,
		Stream:    stream,
		KeepAlive: a.keepAlive,
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			if r := msg.ToolResult(); r != nil {
				body.Messages = append(body.Messages, ollamaMessage{
					Role:     string(RoleTool),
					Content:  r.Content,
					ToolName: r.Name,
				})
			}
		case RoleAssistant:
			om := ollamaMessage{Role: string(RoleAssistant), Content: msg.TextContent()}
			for _, tc := range msg.ToolCalls() {
				var call ollamaToolCall
				call.ID = tc.ID
				call.Function.Name = tc.Name
				call.Function.Arguments = tc.Arguments
				om.ToolCalls = append(om.ToolCalls, call)
			}
			body.Messages = append(body.Messages, om)
		default:
			body.Messages = append(body.Messages, ollamaMessage{Role: string(msg.Role), Content: msg.TextContent()})
		}
	}

	for _, d := range req.ToolDefs {
		body.Tools = append(body.Tools, ollamaTool{Type: "function", Function: d})
	}

	opts := map[string]interface{}{}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		opts["num_predict"] = *req.MaxTokens
	}
	if req.ContextWindow > 0 {
		opts["num_ctx"] = req.ContextWindow
	}
	if len(req.StopSequences) > 0 {
		opts["stop"] = req.StopSequences
	}
	if len(opts) > 0 {
		body.Options = opts
	}
	return body
}

// post sends a chat request and returns the response body of a 200 reply.
func (a *OllamaAdapter) post(ctx context.Context, body ollamaChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &InvalidRequestError{BackendError: newBackendError(OllamaProviderName, body.Model, "encode chat request", 0, err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &ConfigurationError{ClientError{Message: "build chat request", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, a.transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, a.statusError(resp, body.Model)
	}
	return resp.Body, nil
}

func (a *OllamaAdapter) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{ClientError{Message: "request cancelled", Cause: ctx.Err()}}
	}
	return &ServerUnreachableError{ClientError: ClientError{Message: "connect", Cause: err}, Host: a.host}
}

func (a *OllamaAdapter) statusError(resp *http.Response, model string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	var retryAfter time.Duration
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		retryAfter = time.Duration(secs) * time.Second
	}
	return ErrorFromStatus(resp.StatusCode, msg, OllamaProviderName, model, retryAfter)
}

// Complete sends a non-streaming chat request.
func (a *OllamaAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := a.post(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var chunk ollamaChatChunk
	if err := json.NewDecoder(body).Decode(&chunk); err != nil {
		return nil, &StreamDecodeError{ClientError{Message: "decode chat response", Cause: err}}
	}
	if chunk.Error != "" {
		return nil, ErrorFromMessage(chunk.Error, OllamaProviderName, req.Model, nil)
	}

	var content []ContentPart
	if chunk.Message.Thinking != "" {
		content = append(content, ThinkingPart(chunk.Message.Thinking))
	}
	if chunk.Message.Content != "" {
		content = append(content, TextPart(chunk.Message.Content))
	}
	calls := convertToolCalls(chunk.Message.ToolCalls)
	for _, tc := range calls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        chunk.Model,
		Provider:     OllamaProviderName,
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: finishReason(chunk.DoneReason, len(calls) > 0),
		Usage:        chunkUsage(chunk, req, chunk.Message.Content),
	}, nil
}

// Stream sends a streaming chat request. Text and thinking arrive as deltas;
// tool calls arrive whole, each as a ToolCallStart/ToolCallEnd pair.
func (a *OllamaAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	body, err := a.post(ctx, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer body.Close()

		if !send(ctx, ch, StreamEvent{Type: StreamStart}) {
			return
		}

		textID := "text_0"
		started := false
		acc := NewStreamAccumulator()
		emit := func(ev StreamEvent) bool {
			acc.Process(ev)
			return send(ctx, ch, ev)
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64<<10), 8<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: &StreamDecodeError{ClientError{
					Message: "malformed stream chunk", Cause: err,
				}}})
				return
			}
			if chunk.Error != "" {
				send(ctx, ch, StreamEvent{Type: StreamError, Error: ErrorFromMessage(chunk.Error, OllamaProviderName, req.Model, nil)})
				return
			}

			if chunk.Message.Thinking != "" {
				if !emit(StreamEvent{Type: ReasoningDelta, ReasoningDelta: chunk.Message.Thinking}) {
					return
				}
			}
			if chunk.Message.Content != "" {
				if !started {
					if !emit(StreamEvent{Type: TextStart, TextID: textID}) {
						return
					}
					started = true
				}
				if !emit(StreamEvent{Type: TextDelta, Delta: chunk.Message.Content, TextID: textID}) {
					return
				}
			}
			for _, tc := range convertToolCalls(chunk.Message.ToolCalls) {
				call := tc
				if !emit(StreamEvent{Type: ToolCallStart, ToolCall: &call}) ||
					!emit(StreamEvent{Type: ToolCallEnd, ToolCall: &call}) {
					return
				}
			}

			if chunk.Done {
				if started && !emit(StreamEvent{Type: TextEnd, TextID: textID}) {
					return
				}
				fr := finishReason(chunk.DoneReason, len(acc.ToolCalls()) > 0)
				usage := chunkUsage(chunk, req, acc.Text())
				resp := acc.Response()
				resp.ID = "resp_" + uuid.New().String()[:8]
				resp.Model = chunk.Model
				resp.Provider = OllamaProviderName
				resp.FinishReason = fr
				resp.Usage = usage
				send(ctx, ch, StreamEvent{Type: StreamFinish, FinishReason: &fr, Usage: &usage, Response: resp})
				return
			}
		}

		err := scanner.Err()
		if ctx.Err() != nil {
			send(ctx, ch, StreamEvent{Type: StreamError, Error: &AbortError{ClientError{
				Message: "request cancelled", Cause: ctx.Err(),
			}}})
			return
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		send(ctx, ch, StreamEvent{Type: StreamError, Error: &StreamDecodeError{ClientError{
			Message: "stream ended before completion", Cause: err,
		}}})
	}()

	return ch, nil
}

// Ping checks that the server is up.
func (a *OllamaAdapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.host+"/", nil)
	if err != nil {
		return &ConfigurationError{ClientError{Message: "build ping request", Cause: err}}
	}
	resp, err := a.http.Do(httpReq)
	if err != nil {
		return a.transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.statusError(resp, "")
	}
	return nil
}

// ListModels returns the names of the locally installed models.
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.host+"/api/tags", nil)
	if err != nil {
		return nil, &ConfigurationError{ClientError{Message: "build tags request", Cause: err}}
	}
	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, a.transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, a.statusError(resp, "")
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &StreamDecodeError{ClientError{Message: "decode tags response", Cause: err}}
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func convertToolCalls(in []ollamaToolCall) []ToolCall {
	var out []ToolCall
	for _, tc := range in {
		id := tc.ID
		if id == "" {
			id = newCallID()
		}
		args := tc.Function.Arguments
		if len(args) == 0 || string(args) == "null" {
			args = json.RawMessage(`{}`)
		}
		// Some models send arguments as a JSON-encoded string.
		var s string
		if json.Unmarshal(args, &s) == nil {
			args = json.RawMessage(s)
		}
		out = append(out, ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

func finishReason(raw string, hasToolCalls bool) FinishReason {
	if hasToolCalls {
		return FinishReason{Reason: "tool_calls", Raw: raw}
	}
	switch raw {
	case "", "stop":
		return FinishReason{Reason: "stop", Raw: raw}
	case "length":
		return FinishReason{Reason: "length", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

// chunkUsage reads token counts from the final chunk, falling back to an
// estimate when the server omits them.
func chunkUsage(chunk ollamaChatChunk, req Request, output string) Usage {
	if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
		return Usage{
			InputTokens:  chunk.PromptEvalCount,
			OutputTokens: chunk.EvalCount,
			TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
		}
	}
	in, out := EstimateMessageTokens(req.Messages), EstimateTokens(output)
	return Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out, Estimated: true}
}

var (
	_ ProviderAdapter = (*OllamaAdapter)(nil)
	_ HealthChecker   = (*OllamaAdapter)(nil)
	_ ModelLister     = (*OllamaAdapter)(nil)
	_ ProviderAdapter = (*GollmAdapter)(nil)
)
