package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ollacode/ollacode/diff"
	"github.com/ollacode/ollacode/unifiedllm"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateAwaitingModel  SessionState = "awaiting_model"
	StateExecutingTools SessionState = "executing_tools"
	StateClosed         SessionState = "closed"
)

const (
	// DefaultMaxToolRounds bounds the tool rounds run for a single input.
	DefaultMaxToolRounds = 10
	// DefaultContextWindow is the context size requested from the server
	// when none is configured.
	DefaultContextWindow = 8192

	contextWarningRatio = 0.8
	// preserveRecentTurns is the minimum tail kept verbatim when old history
	// is summarised.
	preserveRecentTurns = 6
	summaryItems        = 10
	cancelledContent    = "cancelled: turn aborted"
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxToolRoundsPerInput int               `json:"max_tool_rounds_per_input"`
	CommandTimeout        time.Duration     `json:"command_timeout"`
	Match                 diff.MatchOptions `json:"match"`
	// CompactMode shortens old tool results and summarises old history once
	// the context fills up.
	CompactMode bool `json:"compact_mode"`
	// OutputLimits overrides DefaultOutputLimits per tool.
	OutputLimits        map[string]OutputLimit `json:"output_limits,omitempty"`
	EnableLoopDetection bool                   `json:"enable_loop_detection"`
	LoopDetectionWindow int                    `json:"loop_detection_window"`
	Temperature         *float64               `json:"temperature,omitempty"`
	UserInstructions    string                 `json:"user_instructions,omitempty"` // appended last to system prompt
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxToolRoundsPerInput: DefaultMaxToolRounds,
		CommandTimeout:        60 * time.Second,
		Match:                 diff.DefaultMatchOptions(),
		CompactMode:           true,
		EnableLoopDetection:   true,
		LoopDetectionWindow:   DefaultLoopWindow,
	}
}

// ToolCallRecord is handed to a Recorder after every executed tool call.
type ToolCallRecord struct {
	SessionID string
	CallID    string
	Tool      string
	Arguments string
	IsError   bool
	Output    string
	Diff      string
	Approval  Decision
	Duration  time.Duration
	At        time.Time
}

// Recorder persists tool call records, e.g. an audit trail.
type Recorder interface {
	RecordToolCall(ctx context.Context, rec ToolCallRecord) error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithConfig replaces the default session configuration.
func WithConfig(cfg SessionConfig) SessionOption {
	return func(s *Session) { s.config = cfg }
}

// WithApprover sets the front end's approver.
func WithApprover(a Approver) SessionOption {
	return func(s *Session) { s.gate.SetApprover(a) }
}

// WithAutoApprove starts the session with auto-approve on or off.
func WithAutoApprove(on bool) SessionOption {
	return func(s *Session) { s.gate.SetAutoApprove(on) }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithRecorder sets where tool call records are written.
func WithRecorder(r Recorder) SessionOption {
	return func(s *Session) { s.recorder = r }
}

// WithRegistry replaces the core tool registry.
func WithRegistry(reg *ToolRegistry) SessionOption {
	return func(s *Session) { s.registry = reg }
}

// WithProjectMemory overrides the OLLACODE.md contents read at creation.
func WithProjectMemory(text string) SessionOption {
	return func(s *Session) {
		s.memory = text
		s.memorySet = true
	}
}

// WithRetryPolicy sets the backoff used when opening a model stream.
func WithRetryPolicy(p unifiedllm.RetryPolicy) SessionOption {
	return func(s *Session) { s.retry = p }
}

// Session is the central orchestrator for the agentic loop. One input is
// processed at a time; tool calls run sequentially in the order the model
// emitted them.
type Session struct {
	id        string
	client    *unifiedllm.Client
	env       ExecutionEnvironment
	registry  *ToolRegistry
	gate      *ApprovalGate
	emitter   *EventEmitter
	logger    *slog.Logger
	recorder  Recorder
	retry     unifiedllm.RetryPolicy
	memory    string
	memorySet bool

	mu      sync.Mutex
	profile ModelProfile
	config  SessionConfig
	history []Turn
	state   SessionState
	cancel  context.CancelFunc
	usage   unifiedllm.Usage
}

// NewSession creates a session that sends requests through client and runs
// tools in env.
func NewSession(client *unifiedllm.Client, env ExecutionEnvironment, profile ModelProfile, opts ...SessionOption) *Session {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		client:  client,
		env:     env,
		gate:    NewApprovalGate(nil, false),
		emitter: NewEventEmitter(id),
		logger:  slog.New(slog.DiscardHandler),
		retry:   unifiedllm.DefaultRetryPolicy(),
		profile: profile,
		config:  DefaultSessionConfig(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewToolRegistry()
		RegisterCoreTools(s.registry)
	}
	if !s.memorySet {
		s.memory = LoadProjectMemory(env.Root())
	}
	if s.config.MaxToolRoundsPerInput <= 0 {
		s.config.MaxToolRoundsPerInput = DefaultMaxToolRounds
	}
	if s.profile.ContextWindow <= 0 {
		s.profile.ContextWindow = DefaultContextWindow
	}
	s.logger = s.logger.With("session_id", id)
	s.gate.onRequest(s.emitApprovalRequest)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Profile returns the active model profile.
func (s *Session) Profile() ModelProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// SetProfile switches the model used for subsequent turns.
func (s *Session) SetProfile(p ModelProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != StateIdle {
		return ErrSessionBusy
	}
	if p.ContextWindow <= 0 {
		p.ContextWindow = DefaultContextWindow
	}
	s.profile = p
	return nil
}

// History returns a copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Turn, len(s.history))
	copy(h, s.history)
	return h
}

// Usage returns the token usage accumulated over the session.
func (s *Session) Usage() unifiedllm.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// HasProjectMemory reports whether OLLACODE.md contributed to the prompt.
func (s *Session) HasProjectMemory() bool { return s.memory != "" }

// EstimatedTokens estimates the size of the next request.
func (s *Session) EstimatedTokens() int {
	return unifiedllm.EstimateMessageTokens(s.buildMessages(s.systemPrompt()))
}

// Subscribe registers an event handler. Handlers run synchronously on the
// loop goroutine.
func (s *Session) Subscribe(h EventHandler) (unsubscribe func()) {
	return s.emitter.Subscribe(h)
}

// SetAutoApprove toggles approving every mutating tool call without asking.
func (s *Session) SetAutoApprove(on bool) { s.gate.SetAutoApprove(on) }

// AutoApprove reports whether auto-approve is on.
func (s *Session) AutoApprove() bool { return s.gate.AutoApprove() }

// SetApprover replaces the front end's approver.
func (s *Session) SetApprover(a Approver) { s.gate.SetApprover(a) }

// Reset discards the conversation history. Memory and configuration stay.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != StateIdle {
		return ErrSessionBusy
	}
	s.history = nil
	s.usage = unifiedllm.Usage{}
	return nil
}

// Abort cancels the running turn, if any. A pending approval is rejected,
// a running command is killed and partial model output is discarded.
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close aborts any running turn and terminates the session.
func (s *Session) Close() {
	s.Abort()
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]interface{}{
		"state": string(StateClosed),
	})
	s.emitter.Close()
}

// Submit processes a user input through the agentic loop and returns once
// the model answers without tool calls. It fails with
// *IterationCapExceededError after MaxToolRoundsPerInput tool rounds, with
// *ModelStreamError when the model request fails, and with a
// context.Canceled error after Abort.
func (s *Session) Submit(ctx context.Context, userInput string) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateIdle:
	default:
		s.mu.Unlock()
		return ErrSessionBusy
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateAwaitingModel
	s.history = append(s.history, NewUserTurn(userInput))
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		if s.state != StateClosed {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()

	s.emitter.Emit(EventUserInput, map[string]interface{}{
		"content": userInput,
	})

	if s.config.CompactMode {
		s.compactHistory()
	}

	err := s.processInput(turnCtx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Info("turn aborted")
	default:
		var capErr *IterationCapExceededError
		if !errors.As(err, &capErr) {
			s.emitter.Emit(EventError, map[string]interface{}{
				"error": err.Error(),
			})
		}
		s.logger.Warn("turn failed", "error", err)
	}
	return err
}

// processInput is the core agentic loop.
func (s *Session) processInput(ctx context.Context) error {
	system := s.systemPrompt()
	maxRounds := s.config.MaxToolRoundsPerInput
	warned := false

	for round := 0; ; {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("turn aborted: %w", err)
		}

		s.setState(StateAwaitingModel)
		response, err := s.streamResponse(ctx, system)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("turn aborted: %w", ctxErr)
			}
			return &ModelStreamError{Model: s.Profile().Model, Cause: err}
		}

		toolCalls := response.ToolCallsFromResponse()
		text := response.Text()
		s.appendTurn(NewAssistantTurn(text, toolCalls, response.Reasoning(), response.Usage, response.ID))
		s.mu.Lock()
		s.usage = s.usage.Add(response.Usage)
		s.mu.Unlock()

		s.emitter.Emit(EventAssistantTextEnd, map[string]interface{}{
			"text":       text,
			"tool_calls": len(toolCalls),
		})
		if !warned {
			warned = s.checkContextUsage(system)
		}

		if len(toolCalls) == 0 {
			s.emitter.Emit(EventTurnComplete, map[string]interface{}{
				"text":   text,
				"rounds": round,
			})
			return nil
		}

		s.setState(StateExecutingTools)
		s.executeToolCalls(ctx, toolCalls)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("turn aborted: %w", err)
		}
		round++

		if s.config.EnableLoopDetection && DetectLoop(s.History(), s.config.LoopDetectionWindow) {
			warning := loopWarning(s.config.LoopDetectionWindow)
			s.appendTurn(NewSteeringTurn(warning))
			s.emitter.Emit(EventLoopDetection, map[string]interface{}{
				"message": warning,
			})
			s.logger.Warn("tool loop detected", "window", s.config.LoopDetectionWindow)
		}

		if round >= maxRounds {
			notice := fmt.Sprintf("Stopped after %d tool rounds without a final answer. "+
				"Ask the user how to continue before calling more tools.", maxRounds)
			s.appendTurn(NewSystemTurn(notice))
			s.emitter.Emit(EventIterationCap, map[string]interface{}{
				"limit":   maxRounds,
				"message": notice,
			})
			return &IterationCapExceededError{Limit: maxRounds}
		}
	}
}

// streamResponse runs one model request. Text deltas are emitted as they
// arrive; nothing is appended to the history here.
func (s *Session) streamResponse(ctx context.Context, system string) (*unifiedllm.Response, error) {
	profile := s.Profile()
	request := unifiedllm.Request{
		Model:         profile.Model,
		Provider:      profile.Provider,
		Messages:      s.buildMessages(system),
		ToolDefs:      s.registry.Definitions(),
		Temperature:   s.config.Temperature,
		ContextWindow: profile.ContextWindow,
		Metadata:      map[string]string{"session_id": s.id},
	}

	policy := s.retry
	if policy.OnRetry == nil {
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			s.logger.Warn("retrying model request", "attempt", attempt, "delay", delay, "error", err)
			s.emitter.Emit(EventWarning, map[string]interface{}{
				"message": fmt.Sprintf("Model request failed (%v), retrying in %s", err, delay.Round(time.Millisecond)),
			})
		}
	}
	events, err := unifiedllm.Retry(ctx, policy, func(ctx context.Context) (<-chan unifiedllm.StreamEvent, error) {
		return s.client.Stream(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	acc := unifiedllm.NewStreamAccumulator()
	for ev := range events {
		// Keep draining after an abort so the adapter can exit.
		if ctx.Err() != nil {
			continue
		}
		acc.Process(ev)
		if ev.Type == unifiedllm.TextDelta && ev.Delta != "" {
			s.emitter.Emit(EventAssistantTextDelta, map[string]interface{}{
				"delta": ev.Delta,
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := acc.Err(); err != nil {
		return nil, err
	}
	if !acc.Finished() {
		return nil, &unifiedllm.StreamDecodeError{ClientError: unifiedllm.ClientError{
			Message: "stream ended before the response was complete",
		}}
	}
	return acc.Response(), nil
}

// executeToolCalls dispatches calls one at a time in emitted order and
// appends one result per call. After cancellation the remaining calls get
// a synthesized failed result.
func (s *Session) executeToolCalls(ctx context.Context, toolCalls []unifiedllm.ToolCall) {
	tc := &ToolContext{
		Env:            s.env,
		Gate:           s.gate,
		Match:          s.config.Match,
		CommandTimeout: s.config.CommandTimeout,
		Logger:         s.logger,
	}

	for _, call := range toolCalls {
		if ctx.Err() != nil {
			s.appendTurn(NewToolResultTurn(cancelledResult(call)))
			continue
		}

		mutating := false
		if tool := s.registry.Get(call.Name); tool != nil {
			mutating = tool.Mutating
		}
		s.emitter.Emit(EventToolCallStart, map[string]interface{}{
			"call_id":   call.ID,
			"tool_name": call.Name,
			"arguments": string(call.Arguments),
			"mutating":  mutating,
		})

		start := time.Now()
		result := s.registry.Dispatch(ctx, call, tc)
		elapsed := time.Since(start)
		if ctx.Err() != nil && result.IsError {
			result = cancelledResult(call)
		}

		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"call_id":     call.ID,
			"tool_name":   call.Name,
			"output":      result.Content,
			"is_error":    result.IsError,
			"diff":        result.Diff,
			"duration_ms": elapsed.Milliseconds(),
		})
		s.logger.Debug("tool executed",
			"tool", call.Name,
			"call_id", call.ID,
			"is_error", result.IsError,
			"duration_ms", elapsed.Milliseconds(),
		)
		s.record(ctx, call, result, start, elapsed)

		stored := result
		stored.Content = TruncateToolOutput(result.Content, call.Name, s.config.OutputLimits)
		s.appendTurn(NewToolResultTurn(stored))
	}
}

func cancelledResult(call unifiedllm.ToolCall) ToolResult {
	return ToolResult{
		CallID:   call.ID,
		ToolName: call.Name,
		IsError:  true,
		Content:  cancelledContent,
		Err:      context.Canceled,
	}
}

func (s *Session) record(ctx context.Context, call unifiedllm.ToolCall, result ToolResult, start time.Time, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.RecordToolCall(context.WithoutCancel(ctx), ToolCallRecord{
		SessionID: s.id,
		CallID:    call.ID,
		Tool:      call.Name,
		Arguments: string(call.Arguments),
		IsError:   result.IsError,
		Output:    result.Content,
		Diff:      result.Diff,
		Approval:  result.Approval,
		Duration:  elapsed,
		At:        start,
	})
	if err != nil {
		s.logger.Warn("record tool call", "tool", call.Name, "error", err)
	}
}

func (s *Session) emitApprovalRequest(req ApprovalRequest, auto bool) {
	s.emitter.Emit(EventApprovalRequest, map[string]interface{}{
		"id":      req.ID,
		"call_id": req.CallID,
		"tool":    req.Tool,
		"summary": req.Summary,
		"path":    req.Path,
		"diff":    req.Diff,
		"command": req.Command,
		"auto":    auto,
	})
}

func (s *Session) systemPrompt() string {
	prompt := BuildSystemPrompt(s.Profile(), s.env, s.memory)
	if s.config.UserInstructions != "" {
		prompt += "\n\n# User Instructions\n\n" + s.config.UserInstructions
	}
	return prompt
}

func (s *Session) buildMessages(system string) []unifiedllm.Message {
	history := historyMessages(s.History())
	return append([]unifiedllm.Message{unifiedllm.SystemMessage(system)}, history...)
}

func (s *Session) appendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = state
	}
}

// compactHistory shortens tool results from earlier inputs and, once the
// estimate passes the warning threshold, replaces everything before a recent
// user turn with a summary.
func (s *Session) compactHistory() {
	s.mu.Lock()
	last := len(s.history) - 1
	for i := 0; i < last; i++ {
		if r := s.history[i].ToolResult; r != nil {
			compacted := *r
			compacted.Content = CompactToolResult(r.ToolName, r.Content)
			s.history[i].ToolResult = &compacted
		}
	}
	window := s.profile.ContextWindow
	s.mu.Unlock()

	tokens := unifiedllm.EstimateMessageTokens(s.buildMessages(s.systemPrompt()))
	if float64(tokens) <= float64(window)*contextWarningRatio {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cut := -1
	for i := len(s.history) - preserveRecentTurns; i > 0; i-- {
		if s.history[i].Kind == TurnUser {
			cut = i
			break
		}
	}
	if cut <= 0 {
		return
	}
	summary := SummarizeTurns(s.history[:cut], summaryItems)
	rest := append([]Turn(nil), s.history[cut:]...)
	s.history = append([]Turn{NewSystemTurn(summary)}, rest...)
	s.logger.Info("history compacted", "summarised_turns", cut, "estimated_tokens", tokens)
}

// checkContextUsage emits a warning if the next request would exceed 80% of
// the context window and reports whether it did.
func (s *Session) checkContextUsage(system string) bool {
	window := s.Profile().ContextWindow
	tokens := unifiedllm.EstimateMessageTokens(s.buildMessages(system))
	threshold := int(float64(window) * contextWarningRatio)
	if tokens > threshold {
		pct := tokens * 100 / window
		s.emitter.Emit(EventWarning, map[string]interface{}{
			"message":          fmt.Sprintf("Context usage at ~%d%% of the %d token window", pct, window),
			"estimated_tokens": tokens,
		})
		return true
	}
	return false
}
