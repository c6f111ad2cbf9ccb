package agentloop

import (
	"errors"
	"time"

	"github.com/ollacode/ollacode/unifiedllm"
)

// TurnKind tags a Turn.
type TurnKind string

const (
	TurnUser       TurnKind = "user"
	TurnAssistant  TurnKind = "assistant"
	TurnToolResult TurnKind = "tool_result"
	// TurnSystem is a notice from the session itself: the iteration cap
	// message or a compaction summary.
	TurnSystem TurnKind = "system"
	// TurnSteering is guidance injected into the loop, e.g. after a
	// repeated tool pattern. The model receives it as user input.
	TurnSteering TurnKind = "steering"
)

// Turn is one entry of a session's history. User, system and steering
// turns carry Text; the other kinds carry their own struct.
type Turn struct {
	Kind       TurnKind       `json:"kind"`
	At         time.Time      `json:"at"`
	Text       string         `json:"text,omitempty"`
	Assistant  *AssistantTurn `json:"assistant,omitempty"`
	ToolResult *ToolResult    `json:"tool_result,omitempty"`
}

// AssistantTurn is one model reply. ToolCalls are in emitted order.
type AssistantTurn struct {
	Content    string                `json:"content"`
	ToolCalls  []unifiedllm.ToolCall `json:"tool_calls,omitempty"`
	Reasoning  string                `json:"reasoning,omitempty"`
	Usage      unifiedllm.Usage      `json:"usage"`
	ResponseID string                `json:"response_id,omitempty"`
}

// ToolResult is the outcome of one tool call. Content is what the model
// sees; Diff is the rendered change of a file edit or creation.
type ToolResult struct {
	CallID   string   `json:"call_id"`
	ToolName string   `json:"tool_name"`
	IsError  bool     `json:"is_error"`
	Content  string   `json:"content"`
	Diff     string   `json:"diff,omitempty"`
	Approval Decision `json:"approval,omitempty"`

	Err error `json:"-"`
}

// fail turns r into a failed result for err. Argument errors already name
// the tool.
func (r ToolResult) fail(err error) ToolResult {
	r.IsError, r.Err = true, err
	var invalid *InvalidArgumentsError
	if errors.As(err, &invalid) {
		r.Content = err.Error()
	} else {
		r.Content = r.ToolName + ": " + err.Error()
	}
	return r
}

func textTurn(kind TurnKind, text string) Turn {
	return Turn{Kind: kind, At: time.Now(), Text: text}
}

func NewUserTurn(text string) Turn     { return textTurn(TurnUser, text) }
func NewSystemTurn(text string) Turn   { return textTurn(TurnSystem, text) }
func NewSteeringTurn(text string) Turn { return textTurn(TurnSteering, text) }

func NewAssistantTurn(content string, calls []unifiedllm.ToolCall, reasoning string, usage unifiedllm.Usage, responseID string) Turn {
	return Turn{Kind: TurnAssistant, At: time.Now(), Assistant: &AssistantTurn{
		Content:    content,
		ToolCalls:  calls,
		Reasoning:  reasoning,
		Usage:      usage,
		ResponseID: responseID,
	}}
}

func NewToolResultTurn(r ToolResult) Turn {
	return Turn{Kind: TurnToolResult, At: time.Now(), ToolResult: &r}
}

// TextContent is the turn's readable text, whatever its kind.
func (t Turn) TextContent() string {
	switch {
	case t.Assistant != nil:
		return t.Assistant.Content
	case t.ToolResult != nil:
		return t.ToolResult.Content
	}
	return t.Text
}

// message renders the turn as the model sees it. ok is false for a turn
// with nothing to send.
func (t Turn) message() (msg unifiedllm.Message, ok bool) {
	switch t.Kind {
	case TurnUser, TurnSteering:
		return unifiedllm.UserMessage(t.Text), true
	case TurnSystem:
		return unifiedllm.SystemMessage(t.Text), true
	case TurnAssistant:
		if t.Assistant == nil {
			return msg, false
		}
		msg = unifiedllm.AssistantMessage(t.Assistant.Content)
		for _, c := range t.Assistant.ToolCalls {
			msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
		}
		return msg, true
	case TurnToolResult:
		if r := t.ToolResult; r != nil {
			return unifiedllm.ToolResultMessage(r.CallID, r.ToolName, r.Content, r.IsError), true
		}
	}
	return msg, false
}

// historyMessages converts a history into the message list for a request.
func historyMessages(history []Turn) []unifiedllm.Message {
	msgs := make([]unifiedllm.Message, 0, len(history))
	for _, t := range history {
		if m, ok := t.message(); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs
}
