package agentloop

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ollacode/ollacode/unifiedllm"
)

func TestTruncateOutputHeadTail(t *testing.T) {
	out := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	got := TruncateOutput(out, 20, TruncateHeadTail)
	if !strings.HasPrefix(got, strings.Repeat("a", 10)) || !strings.HasSuffix(got, strings.Repeat("b", 10)) {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, "80 characters were removed") {
		t.Errorf("missing warning: %q", got)
	}
	if TruncateOutput("short", 20, TruncateHeadTail) != "short" {
		t.Error("short output changed")
	}
}

func TestTruncateOutputTail(t *testing.T) {
	got := TruncateOutput("0123456789", 4, TruncateTail)
	if !strings.HasSuffix(got, "6789") || !strings.Contains(got, "First 6 characters") {
		t.Errorf("got %q", got)
	}
}

func TestTruncateOutputRuneSafe(t *testing.T) {
	out := strings.Repeat("é", 100)
	got := TruncateOutput(out, 31, TruncateHeadTail)
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}
}

func TestTruncateLines(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, string(rune('0'+i)))
	}
	got := TruncateLines(strings.Join(lines, "\n"), 4)
	want := "0\n1\n[... 6 lines omitted ...]\n8\n9"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTruncateToolOutputLimits(t *testing.T) {
	out := strings.Repeat("x", 100)
	got := TruncateToolOutput(out, "read_file", map[string]OutputLimit{"read_file": {Chars: 10}})
	if !strings.Contains(got, "WARNING") {
		t.Error("override limit ignored")
	}
	if TruncateToolOutput(out, "read_file", nil) != out {
		t.Error("default limit truncated a small output")
	}

	lines := strings.Repeat("line\n", 400)
	got = TruncateToolOutput(lines, "run_command", nil)
	if !strings.Contains(got, "lines omitted") {
		t.Error("default run_command line limit not applied")
	}
	if got := TruncateToolOutput(strings.Repeat("y", 9000), "custom_tool", nil); !strings.Contains(got, "WARNING") {
		t.Error("fallback limit not applied to an unknown tool")
	}
}

func TestCompactToolResult(t *testing.T) {
	small := strings.Repeat("s", CompactThreshold)
	if CompactToolResult("read_file", small) != small {
		t.Error("result at the threshold was compacted")
	}

	big := strings.Repeat("h", 500) + strings.Repeat("t", 500)
	got := CompactToolResult("read_file", big)
	if !strings.HasPrefix(got, "[read_file result: 1000 chars, compacted]\n") {
		t.Errorf("header: %q", got[:60])
	}
	if !strings.Contains(got, strings.Repeat("h", 300)+"\n... (compacted) ...\n"+strings.Repeat("t", 200)) {
		t.Error("head or tail missing")
	}
}

func TestSummarizeTurns(t *testing.T) {
	turns := []Turn{
		NewUserTurn("first question"),
		NewAssistantTurn("", []unifiedllm.ToolCall{toolCall("c1", "read_file", `{}`)}, "", unifiedllm.Usage{}, ""),
		NewToolResultTurn(ToolResult{CallID: "c1", ToolName: "read_file", Content: "data"}),
		NewAssistantTurn("Here is the answer.\nMore detail.", nil, "", unifiedllm.Usage{}, ""),
		NewUserTurn("second question"),
	}

	got := SummarizeTurns(turns, 10)
	want := "[Previous conversation summary]\n" +
		"User: first question\n" +
		"Assistant: (called read_file)\n" +
		"Assistant: Here is the answer.\n" +
		"User: second question"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}

	got = SummarizeTurns(turns, 2)
	if strings.Contains(got, "first question") || !strings.Contains(got, "second question") {
		t.Errorf("maxItems not applied: %q", got)
	}
}
