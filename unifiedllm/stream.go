package unifiedllm

import (
	"context"
	"strings"
)

// StreamAccumulator folds a stream's events back into a Response. Adapters
// that attach a full Response to StreamFinish have it returned as is.
type StreamAccumulator struct {
	text, reasoning strings.Builder
	calls           []ToolCall

	finished bool
	finish   FinishReason
	usage    Usage
	final    *Response
	err      error
}

func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{finish: FinishReason{Reason: "stop"}}
}

// Process records one event. Events other than deltas, completed tool
// calls, finish and error carry nothing to keep.
func (a *StreamAccumulator) Process(ev StreamEvent) {
	switch ev.Type {
	case TextDelta:
		a.text.WriteString(ev.Delta)
	case ReasoningDelta:
		a.reasoning.WriteString(ev.ReasoningDelta)
	case ToolCallEnd:
		if ev.ToolCall != nil {
			a.calls = append(a.calls, *ev.ToolCall)
		}
	case StreamFinish:
		a.finished = true
		if ev.FinishReason != nil {
			a.finish = *ev.FinishReason
		}
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}
		a.final = ev.Response
	case StreamError:
		a.err = ev.Error
	}
}

// Err is the error of the last StreamError event.
func (a *StreamAccumulator) Err() error { return a.err }

// Finished reports whether StreamFinish has been seen.
func (a *StreamAccumulator) Finished() bool { return a.finished }

func (a *StreamAccumulator) Text() string { return a.text.String() }

func (a *StreamAccumulator) ToolCalls() []ToolCall { return a.calls }

// Response returns what has been received so far as a Response.
func (a *StreamAccumulator) Response() *Response {
	if a.final != nil {
		return a.final
	}
	msg := Message{Role: RoleAssistant}
	if a.reasoning.Len() > 0 {
		msg.Content = append(msg.Content, ThinkingPart(a.reasoning.String()))
	}
	if a.text.Len() > 0 {
		msg.Content = append(msg.Content, TextPart(a.text.String()))
	}
	for _, c := range a.calls {
		msg.Content = append(msg.Content, ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &Response{Message: msg, FinishReason: a.finish, Usage: a.usage}
}

// send delivers ev unless ctx ends first, and reports whether it did.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
