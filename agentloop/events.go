package agentloop

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventUserInput          EventKind = "user_input"
	EventAssistantTextDelta EventKind = "assistant_text_delta"
	EventAssistantTextEnd   EventKind = "assistant_text_end"
	EventToolCallStart      EventKind = "tool_call_start"
	EventToolCallEnd        EventKind = "tool_call_end"
	EventApprovalRequest    EventKind = "approval_request"
	EventTurnComplete       EventKind = "turn_complete"
	EventIterationCap       EventKind = "iteration_cap"
	EventLoopDetection      EventKind = "loop_detection"
	EventWarning            EventKind = "warning"
	EventError              EventKind = "error"
	EventSessionEnd         EventKind = "session_end"
)

// SessionEvent is a typed event emitted by the agent loop.
type SessionEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// String returns Data[key] formatted as a string, or "" when absent.
func (e SessionEvent) String(key string) string {
	v, ok := e.Data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns Data[key] when it is a bool.
func (e SessionEvent) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// EventHandler receives session events.
type EventHandler func(SessionEvent)

type subscription struct {
	id int
	h  EventHandler
}

// EventEmitter calls every subscribed handler synchronously, in emission
// order and in subscription order. A slow handler slows the loop; nothing
// is dropped.
type EventEmitter struct {
	sessionID string

	mu     sync.Mutex
	subs   []subscription
	nextID int
	closed bool
}

func NewEventEmitter(sessionID string) *EventEmitter {
	return &EventEmitter{sessionID: sessionID}
}

// Subscribe registers h and returns a function that removes it.
func (e *EventEmitter) Subscribe(h EventHandler) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, h: h})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.subs = slices.DeleteFunc(e.subs, func(s subscription) bool { return s.id == id })
	}
}

// Emit delivers an event to the current subscribers. Handlers run without
// the lock held, so they may subscribe or unsubscribe. Events emitted after
// Close are dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	subs := slices.Clone(e.subs)
	e.mu.Unlock()

	ev := SessionEvent{Kind: kind, Timestamp: time.Now(), SessionID: e.sessionID, Data: data}
	for _, s := range subs {
		s.h(ev)
	}
}

// Close stops delivery. It may be called more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}
