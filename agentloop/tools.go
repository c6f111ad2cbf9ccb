package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/ollacode/ollacode/diff"
	"github.com/ollacode/ollacode/unifiedllm"
	"github.com/ollacode/ollacode/workspace"
)

// ErrRejected is the cause of a tool result the user declined.
var ErrRejected = errors.New("rejected by user")

// ToolOutput is what a tool executor produces on success. Diff is set by
// tools that change files.
type ToolOutput struct {
	Content string
	Diff    string
}

// ToolContext carries what a tool needs to run a single call.
type ToolContext struct {
	Env            ExecutionEnvironment
	Gate           *ApprovalGate
	Match          diff.MatchOptions
	CommandTimeout time.Duration
	Logger         *slog.Logger

	callID   string
	decision Decision
}

// approve asks the gate for permission. It returns ErrRejected when the user
// declines and the context error when the wait is cancelled.
func (tc *ToolContext) approve(ctx context.Context, req ApprovalRequest) error {
	if tc.Gate == nil {
		tc.decision = DecisionReject
		return ErrRejected
	}
	req.CallID = tc.callID
	decision, err := tc.Gate.Request(ctx, req)
	tc.decision = decision
	if err != nil {
		return err
	}
	if decision == DecisionReject {
		return ErrRejected
	}
	return nil
}

// ToolExecutor runs a tool with its raw JSON arguments.
type ToolExecutor func(ctx context.Context, arguments json.RawMessage, tc *ToolContext) (ToolOutput, error)

// RegisteredTool pairs a tool definition with its executor. Mutating tools
// change the workspace and always pass through the approval gate.
type RegisteredTool struct {
	Definition unifiedllm.ToolDefinition
	Mutating   bool
	Executor   ToolExecutor
}

// ToolRegistry manages tool registration and dispatch.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions sorted by name.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the sorted names of all registered tools.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Dispatch runs one tool call. It never returns an error: unknown tools,
// invalid arguments, rejections and execution failures all come back as a
// failed ToolResult so the conversation can continue.
func (r *ToolRegistry) Dispatch(ctx context.Context, call unifiedllm.ToolCall, tc *ToolContext) ToolResult {
	result := ToolResult{CallID: call.ID, ToolName: call.Name}

	tool := r.Get(call.Name)
	if tool == nil {
		return result.fail(fmt.Errorf("unknown tool %q (available: %s)", call.Name, strings.Join(r.Names(), ", ")))
	}

	callCtx := *tc
	callCtx.callID = call.ID
	out, err := tool.Executor(ctx, call.Arguments, &callCtx)
	result.Diff = out.Diff
	result.Approval = callCtx.decision
	if err != nil {
		logRefusal(callCtx.Logger, call, err)
		return result.fail(err)
	}
	result.Content = out.Content
	return result
}

// logRefusal records attempts to step outside the workspace or to smuggle
// malformed arguments past the schema.
func logRefusal(logger *slog.Logger, call unifiedllm.ToolCall, err error) {
	if logger == nil {
		return
	}
	var escape *workspace.PathEscapeError
	var invalid *InvalidArgumentsError
	if errors.As(err, &escape) || errors.As(err, &invalid) {
		logger.Warn("tool call refused",
			"tool", call.Name,
			"call_id", call.ID,
			"error", err,
			"security", true,
		)
	}
}

// defineTool builds a RegisteredTool from a typed argument struct. The JSON
// schema sent to the model is reflected from T; incoming arguments are
// decoded strictly into T and validated before run is called.
func defineTool[T any](name, description string, mutating bool, run func(ctx context.Context, args T, tc *ToolContext) (ToolOutput, error)) RegisteredTool {
	params, required := schemaFor[T]()
	return RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		Mutating: mutating,
		Executor: func(ctx context.Context, arguments json.RawMessage, tc *ToolContext) (ToolOutput, error) {
			args, err := decodeArguments[T](name, arguments, required)
			if err != nil {
				return ToolOutput{}, err
			}
			return run(ctx, args, tc)
		},
	}
}

var schemaReflector = &jsonschema.Reflector{
	Anonymous:                 true,
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: false,
}

// schemaFor reflects T into a JSON schema map and its required field names.
func schemaFor[T any]() (map[string]interface{}, []string) {
	schema := schemaReflector.Reflect(new(T))
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("agentloop: reflect tool schema: %v", err))
	}
	var params map[string]interface{}
	if err := json.Unmarshal(data, &params); err != nil {
		panic(fmt.Sprintf("agentloop: decode tool schema: %v", err))
	}
	delete(params, "$schema")
	delete(params, "$id")
	return params, schema.Required
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeArguments decodes raw into T, rejecting non-objects, missing
// required fields, unknown fields and type mismatches, then validates T.
func decodeArguments[T any](tool string, raw json.RawMessage, required []string) (T, error) {
	var args T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return args, &InvalidArgumentsError{Tool: tool, Reason: "arguments must be a JSON object", Cause: err}
	}
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			return args, &InvalidArgumentsError{Tool: tool, Reason: fmt.Sprintf("missing required field %q", name)}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, &InvalidArgumentsError{Tool: tool, Reason: describeDecodeError(err), Cause: err}
	}
	if err := validate.Struct(args); err != nil {
		return args, &InvalidArgumentsError{Tool: tool, Reason: describeValidationError(err), Cause: err}
	}
	return args, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %q must be %s, got %s", typeErr.Field, typeErr.Type.Kind(), typeErr.Value)
	}
	return strings.TrimPrefix(err.Error(), "json: ")
}

func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s must not be empty", fe.Field()))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
