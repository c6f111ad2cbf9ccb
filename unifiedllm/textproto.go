package unifiedllm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// The text tool protocol is used with models that lack native function
// calling. Tools are described in the system prompt and the model answers
// with fenced blocks:
//
//	```tool
//	{"name": "read_file", "arguments": {"path": "main.go"}}
//	```

const toolFence = "```tool"

var toolBlockRe = regexp.MustCompile("(?s)```tool[ \\t]*\\r?\\n(.*?)```")

// RenderToolInstructions renders the system prompt section that teaches a
// model the text tool protocol.
func RenderToolInstructions(defs []ToolDefinition) string {
	if len(defs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Tools\n\n")
	sb.WriteString("You can call tools. To call one, reply with a fenced block tagged `tool` that holds a single JSON object:\n\n")
	sb.WriteString(toolFence + "\n{\"name\": \"<tool name>\", \"arguments\": {<arguments>}}\n```\n\n")
	sb.WriteString("You may emit several blocks in one reply. Stop after your tool blocks and wait for the results.\n\n")
	sb.WriteString("Available tools:\n")
	for _, d := range defs {
		params, _ := json.Marshal(d.Parameters)
		fmt.Fprintf(&sb, "\n### %s\n%s\nParameters (JSON Schema): %s\n", d.Name, d.Description, params)
	}
	return sb.String()
}

// ParseToolBlocks extracts tool calls from a text-protocol reply. It returns
// the reply with the parsed blocks removed. Blocks that are not valid JSON or
// that name no tool are left in the text.
func ParseToolBlocks(text string) (string, []ToolCall) {
	var calls []ToolCall
	cleaned := toolBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		body := toolBlockRe.FindStringSubmatch(block)[1]
		var raw struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &raw); err != nil || raw.Name == "" {
			return block
		}
		args := raw.Arguments
		if len(args) == 0 || string(args) == "null" {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCall{ID: newCallID(), Name: raw.Name, Arguments: args})
		return ""
	})
	return strings.TrimSpace(cleaned), calls
}

func newCallID() string {
	return "call_" + uuid.New().String()[:8]
}

// renderTranscript flattens a conversation into the single prompt a
// text-protocol model sees. System messages are returned separately.
func renderTranscript(msgs []Message) (system string, prompt string) {
	var sys []string
	var sb strings.Builder
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			sys = append(sys, msg.TextContent())
		case RoleUser:
			fmt.Fprintf(&sb, "User: %s\n\n", msg.TextContent())
		case RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(msg.TextContent())
			for _, tc := range msg.ToolCalls() {
				call, _ := json.Marshal(struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				}{tc.Name, tc.Arguments})
				fmt.Fprintf(&sb, "\n%s\n%s\n```", toolFence, call)
			}
			sb.WriteString("\n\n")
		case RoleTool:
			if r := msg.ToolResult(); r != nil {
				label := "Tool result"
				if r.IsError {
					label = "Tool error"
				}
				fmt.Fprintf(&sb, "%s (%s):\n%s\n\n", label, r.Name, r.Content)
			}
		}
	}
	sb.WriteString("Assistant:")
	return strings.Join(sys, "\n\n"), sb.String()
}

// fenceFilter hides tool blocks from streamed text. Text that might be the
// start of a fence is held back until it can be classified.
type fenceFilter struct {
	pending string
	inBlock bool
}

// Write consumes a delta and returns the part that is safe to display.
func (f *fenceFilter) Write(delta string) string {
	f.pending += delta
	var out strings.Builder
	for {
		if !f.inBlock {
			if i := strings.Index(f.pending, toolFence); i >= 0 {
				out.WriteString(f.pending[:i])
				f.pending = f.pending[i+len(toolFence):]
				f.inBlock = true
				continue
			}
			keep := partialSuffix(f.pending, toolFence)
			out.WriteString(f.pending[:len(f.pending)-keep])
			f.pending = f.pending[len(f.pending)-keep:]
			return out.String()
		}
		if i := strings.Index(f.pending, "```"); i >= 0 {
			f.pending = f.pending[i+3:]
			f.inBlock = false
			continue
		}
		keep := partialSuffix(f.pending, "```")
		f.pending = f.pending[len(f.pending)-keep:]
		return out.String()
	}
}

// Flush returns any held-back text once the stream has ended.
func (f *fenceFilter) Flush() string {
	if f.inBlock {
		return ""
	}
	rest := f.pending
	f.pending = ""
	return rest
}

// partialSuffix returns the length of the longest proper prefix of marker
// that s ends with.
func partialSuffix(s, marker string) int {
	for n := min(len(marker)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
