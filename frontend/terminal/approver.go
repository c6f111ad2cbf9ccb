package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ollacode/ollacode/agentloop"
)

const approvalPrompt = "Approve? (y/n/a=always) "

// LineReader is the part of *readline.Instance the front end uses.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Approver asks on the terminal before a file change or command runs.
type Approver struct {
	in     LineReader
	out    io.Writer
	theme  Theme
	prompt string
	// abort cancels the running turn when the user interrupts the prompt.
	abort func()
}

var _ agentloop.Approver = (*Approver)(nil)

// NewApprover returns an Approver that restores prompt after each question.
func NewApprover(in LineReader, out io.Writer, theme Theme, prompt string, abort func()) *Approver {
	return &Approver{in: in, out: out, theme: theme, prompt: prompt, abort: abort}
}

// Approve shows the request and reads y, n or a. Ctrl+C aborts the turn.
func (a *Approver) Approve(ctx context.Context, req agentloop.ApprovalRequest) (agentloop.Decision, error) {
	if err := ctx.Err(); err != nil {
		return agentloop.DecisionReject, err
	}

	fmt.Fprintln(a.out, a.theme.ApprovalPanel(req.Summary, approvalBody(a.theme, req)))
	a.in.SetPrompt(approvalPrompt)
	defer a.in.SetPrompt(a.prompt)

	for {
		line, err := a.in.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if a.abort != nil {
				a.abort()
			}
			return agentloop.DecisionReject, context.Canceled
		case err != nil:
			return agentloop.DecisionReject, nil
		}
		if d, ok := parseDecision(line); ok {
			return d, nil
		}
		fmt.Fprintln(a.out, a.theme.Warn("Answer y (yes), n (no) or a (approve all)."))
	}
}

func approvalBody(t Theme, req agentloop.ApprovalRequest) string {
	switch {
	case req.Command != "":
		return "$ " + req.Command
	case req.Diff != "":
		return t.ColorDiff(req.Diff)
	case req.Path != "":
		return req.Path
	}
	return req.Tool
}

// parseDecision maps an answer to a decision. An empty answer rejects.
func parseDecision(answer string) (agentloop.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return agentloop.DecisionApprove, true
	case "", "n", "no":
		return agentloop.DecisionReject, true
	case "a", "all", "always":
		return agentloop.DecisionApproveAll, true
	}
	return "", false
}
