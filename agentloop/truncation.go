package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMode picks which end of an oversized output survives.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail" // keep both ends, cut the middle
	TruncateTail     TruncationMode = "tail"      // keep the end
)

// OutputLimit bounds the tool output the model receives. Lines is applied
// after Chars; zero means no line limit.
type OutputLimit struct {
	Chars int            `json:"chars"`
	Lines int            `json:"lines,omitempty"`
	Mode  TruncationMode `json:"mode,omitempty"`
}

// DefaultOutputLimits are sized for the small context windows local models
// run with.
var DefaultOutputLimits = map[string]OutputLimit{
	"read_file":      {Chars: 16000, Mode: TruncateHeadTail},
	"run_command":    {Chars: 12000, Lines: 256, Mode: TruncateHeadTail},
	"grep_search":    {Chars: 8000, Lines: 150, Mode: TruncateTail},
	"search_files":   {Chars: 4000, Mode: TruncateTail},
	"list_directory": {Chars: 4000, Mode: TruncateHeadTail},
	"edit_file":      {Chars: 6000, Mode: TruncateHeadTail},
	"write_file":     {Chars: 2000, Mode: TruncateTail},
}

var fallbackOutputLimit = OutputLimit{Chars: 8000, Mode: TruncateHeadTail}

const (
	// CompactThreshold is the result size above which compact mode shortens
	// tool results kept in the history.
	CompactThreshold = 800
	compactHead      = 300
	compactTail      = 200
)

// TruncateOutput cuts output to about maxChars bytes and says how much was
// removed. Cuts land on rune boundaries.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}

	switch mode {
	case TruncateTail:
		tail := tailBytes(output, maxChars)
		removed := len(output) - len(tail)
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) + tail

	default:
		half := maxChars / 2
		head := headBytes(output, half)
		tail := tailBytes(output, half)
		removed := len(output) - len(head) - len(tail)
		return head +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"Re-run the tool with more targeted parameters to see specific parts.]\n\n", removed) +
			tail
	}
}

// TruncateLines keeps the first and last lines of output, maxLines in all.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput bounds output by the limit for tool: the entry in
// overrides if present, else the default.
func TruncateToolOutput(output, tool string, overrides map[string]OutputLimit) string {
	limit, ok := overrides[tool]
	if !ok {
		if limit, ok = DefaultOutputLimits[tool]; !ok {
			limit = fallbackOutputLimit
		}
	}
	if limit.Chars > 0 {
		output = TruncateOutput(output, limit.Chars, limit.Mode)
	}
	if limit.Lines > 0 {
		output = TruncateLines(output, limit.Lines)
	}
	return output
}

// CompactToolResult shortens a tool result kept in the history to its first
// and last characters once it exceeds CompactThreshold.
func CompactToolResult(toolName, content string) string {
	if len(content) <= CompactThreshold {
		return content
	}
	head := headBytes(content, compactHead)
	tail := tailBytes(content, compactTail)
	return fmt.Sprintf("[%s result: %d chars, compacted]\n%s\n... (compacted) ...\n%s", toolName, len(content), head, tail)
}

// SummarizeTurns condenses turns into a short recap: user inputs and the
// first line of each assistant reply, keeping the last maxItems entries.
func SummarizeTurns(turns []Turn, maxItems int) string {
	var items []string
	for _, t := range turns {
		switch t.Kind {
		case TurnUser:
			items = append(items, "User: "+headBytes(t.TextContent(), 100))
		case TurnAssistant:
			first, _, _ := strings.Cut(t.TextContent(), "\n")
			if first == "" && t.Assistant != nil && len(t.Assistant.ToolCalls) > 0 {
				names := make([]string, len(t.Assistant.ToolCalls))
				for i, tc := range t.Assistant.ToolCalls {
					names[i] = tc.Name
				}
				first = "(called " + strings.Join(names, ", ") + ")"
			}
			items = append(items, "Assistant: "+headBytes(first, 150))
		}
	}
	if len(items) > maxItems {
		items = items[len(items)-maxItems:]
	}
	return "[Previous conversation summary]\n" + strings.Join(items, "\n")
}

// headBytes returns at most n leading bytes of s without splitting a rune.
func headBytes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailBytes returns at most n trailing bytes of s without splitting a rune.
func tailBytes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
