package unifiedllm

import (
	"encoding/json"
	"testing"
)

func TestMessageHelpers(t *testing.T) {
	tests := []struct {
		msg  Message
		role Role
		text string
	}{
		{SystemMessage("be terse"), RoleSystem, "be terse"},
		{UserMessage("fix the build"), RoleUser, "fix the build"},
		{AssistantMessage("done"), RoleAssistant, "done"},
		{ToolResultMessage("call_9", "read_file", "package main", false), RoleTool, ""},
	}
	for _, tt := range tests {
		if tt.msg.Role != tt.role || tt.msg.TextContent() != tt.text {
			t.Errorf("got role %q text %q, want %q %q", tt.msg.Role, tt.msg.TextContent(), tt.role, tt.text)
		}
	}

	res := ToolResultMessage("call_9", "grep_search", "no matches", true)
	r := res.ToolResult()
	if res.ToolCallID != "call_9" || r == nil || !r.IsError || r.Name != "grep_search" || r.Content != "no matches" {
		t.Errorf("tool result message = %+v", res)
	}
	if UserMessage("x").ToolResult() != nil {
		t.Error("a user message carries no tool result")
	}
}

func TestMessageSeparatesKinds(t *testing.T) {
	msg := Message{Role: RoleAssistant, Content: []ContentPart{
		ThinkingPart("the test imports a.go"),
		TextPart("Reading "),
		ToolCallPart("call_1", "read_file", json.RawMessage(`{"path":"a.go"}`)),
		TextPart("both files."),
		ToolCallPart("call_2", "read_file", json.RawMessage(`{"path":"b.go"}`)),
	}}
	resp := Response{Message: msg}

	if resp.Text() != "Reading both files." {
		t.Errorf("Text() = %q", resp.Text())
	}
	if resp.Reasoning() != "the test imports a.go" {
		t.Errorf("Reasoning() = %q", resp.Reasoning())
	}
	calls := resp.ToolCallsFromResponse()
	if len(calls) != 2 || calls[0].ID != "call_1" || string(calls[1].Arguments) != `{"path":"b.go"}` {
		t.Errorf("calls = %+v", calls)
	}
}

func TestUsageAdd(t *testing.T) {
	total := Usage{}
	total = total.Add(Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120})
	if total.Estimated {
		t.Error("reported counts are not estimates")
	}
	total = total.Add(Usage{InputTokens: 40, OutputTokens: 2, TotalTokens: 42, Estimated: true})

	want := Usage{InputTokens: 140, OutputTokens: 22, TotalTokens: 162, Estimated: true}
	if total != want {
		t.Errorf("total = %+v, want %+v", total, want)
	}
}
