package terminal

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ollacode/ollacode/agentloop"
)

const outputPreviewLines = 8

// Renderer prints session events as they arrive.
type Renderer struct {
	out   io.Writer
	theme Theme

	mu        sync.Mutex
	streaming bool // assistant text is mid-line
}

// NewRenderer returns a Renderer writing to out.
func NewRenderer(out io.Writer, theme Theme) *Renderer {
	return &Renderer{out: out, theme: theme}
}

// Handle is an agentloop.EventHandler.
func (r *Renderer) Handle(ev agentloop.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case agentloop.EventAssistantTextDelta:
		r.streaming = true
		fmt.Fprint(r.out, ev.String("delta"))
		return
	case agentloop.EventAssistantTextEnd:
		r.endLine()
		return
	}

	r.endLine()
	switch ev.Kind {
	case agentloop.EventToolCallStart:
		fmt.Fprintln(r.out, r.theme.Tool("⚙ %s %s", ev.String("tool_name"), summarizeArgs(ev.String("arguments"))))
	case agentloop.EventToolCallEnd:
		r.toolEnd(ev)
	case agentloop.EventApprovalRequest:
		// Interactive requests are shown by the approver.
		if ev.Bool("auto") {
			fmt.Fprintln(r.out, r.theme.Dim("auto-approved: %s", ev.String("summary")))
		}
	case agentloop.EventIterationCap, agentloop.EventWarning, agentloop.EventLoopDetection:
		fmt.Fprintln(r.out, r.theme.Warn("! %s", ev.String("message")))
	case agentloop.EventError:
		fmt.Fprintln(r.out, r.theme.Fail("error: %s", ev.String("error")))
	}
}

func (r *Renderer) endLine() {
	if r.streaming {
		fmt.Fprintln(r.out)
		r.streaming = false
	}
}

func (r *Renderer) toolEnd(ev agentloop.SessionEvent) {
	name := ev.String("tool_name")
	output := ev.String("output")
	if ev.Bool("is_error") {
		fmt.Fprintln(r.out, r.theme.Fail("✗ %s: %s", name, firstLine(output)))
		return
	}
	fmt.Fprintln(r.out, r.theme.OK("✓ %s (%sms)", name, ev.String("duration_ms")))
	if d := ev.String("diff"); d != "" {
		fmt.Fprintln(r.out, r.theme.ColorDiff(d))
		return
	}
	if name == "run_command" {
		fmt.Fprintln(r.out, r.theme.Dim("%s", preview(output, outputPreviewLines)))
	}
}

// summarizeArgs renders tool arguments as key=value pairs, eliding long values.
func summarizeArgs(raw string) string {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(args[k])
		if s, ok := args[k].(string); ok {
			v = s
			if strings.ContainsRune(v, '\n') || len(v) > 60 {
				v = fmt.Sprintf("<%d chars>", len(v))
			}
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func preview(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n… %d more lines", len(lines)-n)
}
