package unifiedllm

import (
	"encoding/json"
	"strings"
)

// Role is the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentKind says which field of a ContentPart is set.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentThinking   ContentKind = "thinking"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
)

// ContentPart is one piece of a message. Text and thinking parts use Text;
// the tool kinds use their pointer field.
type ContentPart struct {
	Kind       ContentKind     `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCall       `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultData is the outcome of a tool call, sent back to the model.
type ToolResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ThinkingPart holds reasoning emitted by thinking models.
func ThinkingPart(text string) ContentPart {
	return ContentPart{Kind: ContentThinking, Text: text}
}

func ToolCallPart(id, name string, args json.RawMessage) ContentPart {
	return ContentPart{Kind: ContentToolCall, ToolCall: &ToolCall{ID: id, Name: name, Arguments: args}}
}

func ToolResultPart(callID, name, content string, isError bool) ContentPart {
	return ContentPart{Kind: ContentToolResult, ToolResult: &ToolResultData{
		ToolCallID: callID,
		Name:       name,
		Content:    content,
		IsError:    isError,
	}}
}

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}}
}

// ToolResultMessage answers the tool call callID.
func ToolResultMessage(callID, name, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    []ContentPart{ToolResultPart(callID, name, content, isError)},
		ToolCallID: callID,
	}
}

func (m Message) joined(kind ContentKind) string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Kind == kind {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// TextContent concatenates the text parts, skipping thinking.
func (m Message) TextContent() string { return m.joined(ContentText) }

// ToolCalls returns the tool calls in the order the model emitted them.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Content {
		if p.Kind == ContentToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResult returns the result a tool message carries, or nil.
func (m Message) ToolResult() *ToolResultData {
	for _, p := range m.Content {
		if p.Kind == ContentToolResult && p.ToolResult != nil {
			return p.ToolResult
		}
	}
	return nil
}

// FinishReason says why generation stopped. Reason is one of "stop",
// "length", "tool_calls" or "error"; Raw is the server's own value.
type FinishReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// Usage counts tokens for one or more requests.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	// Estimated marks counts computed locally because the server sent none.
	Estimated bool `json:"estimated,omitempty"`
}

func (u Usage) Add(o Usage) Usage {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
	u.Estimated = u.Estimated || o.Estimated
	return u
}

// ToolDefinition offers a tool to the model. Parameters is a JSON Schema
// object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is what Complete and Stream send.
type Request struct {
	Model         string           `json:"model"`
	Provider      string           `json:"provider,omitempty"`
	Messages      []Message        `json:"messages"`
	ToolDefs      []ToolDefinition `json:"tools,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	MaxTokens     *int             `json:"max_tokens,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	// ContextWindow is passed to Ollama as num_ctx when set.
	ContextWindow int               `json:"context_window,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Response is a complete model reply.
type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

func (r Response) Text() string { return r.Message.TextContent() }

func (r Response) Reasoning() string { return r.Message.joined(ContentThinking) }

func (r Response) ToolCallsFromResponse() []ToolCall { return r.Message.ToolCalls() }

// StreamEventType tags a StreamEvent.
type StreamEventType string

const (
	StreamStart    StreamEventType = "stream_start"
	TextStart      StreamEventType = "text_start"
	TextDelta      StreamEventType = "text_delta"
	TextEnd        StreamEventType = "text_end"
	ReasoningDelta StreamEventType = "reasoning_delta"
	ToolCallStart  StreamEventType = "tool_call_start"
	ToolCallEnd    StreamEventType = "tool_call_end"
	StreamFinish   StreamEventType = "finish"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one step of a streamed reply. A tool call arrives whole,
// as a ToolCallStart/ToolCallEnd pair; argument fragments are never
// streamed.
type StreamEvent struct {
	Type           StreamEventType `json:"type"`
	Delta          string          `json:"delta,omitempty"`
	TextID         string          `json:"text_id,omitempty"`
	ReasoningDelta string          `json:"reasoning_delta,omitempty"`
	ToolCall       *ToolCall       `json:"tool_call,omitempty"`
	FinishReason   *FinishReason   `json:"finish_reason,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
	Response       *Response       `json:"response,omitempty"`
	Error          error           `json:"-"`
}
