package terminal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const helpText = `Commands:
  /help             show this help
  /clear            start a new conversation
  /model [name]     show session info, or switch to another model
  /models           list the models installed on the server
  /approve          toggle auto-approve for file changes and commands
  /audit [n]        show the last n recorded tool calls
  /quit             exit (also /exit, /q)

Everything else is sent to the model. Ctrl+C cancels a running turn.`

const defaultAuditRows = 10

// parseCommand splits a slash command into its lower-cased name and argument.
func parseCommand(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

// runCommand executes a slash command. It reports false when the REPL
// should exit.
func (r *REPL) runCommand(ctx context.Context, name, arg string) bool {
	switch name {
	case "/quit", "/exit", "/q":
		return false
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/clear":
		if err := r.session.Reset(); err != nil {
			r.printError(err)
			return true
		}
		fmt.Fprintln(r.out, r.theme.OK("Conversation cleared."))
	case "/model":
		if arg == "" {
			r.showSessionInfo()
			return true
		}
		p, err := r.rt.SwitchModel(r.session, arg)
		if err != nil {
			r.printError(err)
			return true
		}
		fmt.Fprintln(r.out, r.theme.OK("Model switched to %s (%s tools).", p.DisplayName(), p.ToolProtocol))
	case "/models":
		r.listModels(ctx)
	case "/approve":
		on := !r.session.AutoApprove()
		r.session.SetAutoApprove(on)
		fmt.Fprintln(r.out, r.theme.Warn("Auto-approve: %s", onOff(on)))
	case "/audit":
		r.showAudit(ctx, arg)
	default:
		fmt.Fprintln(r.out, r.theme.Warn("Unknown command: %s (try /help)", name))
	}
	return true
}

func (r *REPL) showSessionInfo() {
	p := r.session.Profile()
	body := strings.Join([]string{
		"model          " + p.DisplayName(),
		"tool protocol  " + p.ToolProtocol,
		"server         " + r.rt.Config.OllamaHost,
		"workspace      " + r.rt.Guard.Root(),
		fmt.Sprintf("messages       %d", len(r.session.History())),
		fmt.Sprintf("est. tokens    ~%d / %d", r.session.EstimatedTokens(), p.ContextWindow),
		"project memory " + loadedOrNot(r.session.HasProjectMemory()),
		"compact mode   " + onOff(r.rt.Config.CompactMode),
		"auto-approve   " + onOff(r.session.AutoApprove()),
	}, "\n")
	fmt.Fprintln(r.out, r.theme.Panel("session", body))
}

func (r *REPL) listModels(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	models, err := r.rt.Client.AvailableModels(ctx)
	if err != nil {
		r.printError(err)
		return
	}
	if len(models) == 0 {
		fmt.Fprintln(r.out, r.theme.Dim("No models installed."))
		return
	}
	current := r.session.Profile().Model
	for _, m := range models {
		marker := "  "
		if m == current {
			marker = "* "
		}
		fmt.Fprintln(r.out, marker+m)
	}
}

func (r *REPL) showAudit(ctx context.Context, arg string) {
	if r.rt.Audit == nil {
		fmt.Fprintln(r.out, r.theme.Dim("Audit trail is disabled (set AUDIT_DB)."))
		return
	}
	n := defaultAuditRows
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			fmt.Fprintln(r.out, r.theme.Warn("Usage: /audit [n]"))
			return
		}
		n = v
	}
	recs, err := r.rt.RecentToolCalls(ctx, n)
	if err != nil {
		r.printError(err)
		return
	}
	if len(recs) == 0 {
		fmt.Fprintln(r.out, r.theme.Dim("No tool calls recorded yet."))
		return
	}
	for _, rec := range recs {
		status := r.theme.OK("ok")
		if rec.IsError {
			status = r.theme.Fail("failed")
		}
		fmt.Fprintf(r.out, "%s  %-14s %-6s %s %s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Tool, status, r.theme.Dim("%s", rec.Approval), summarizeArgs(rec.Arguments))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func loadedOrNot(b bool) string {
	if b {
		return "OLLACODE.md loaded"
	}
	return "no OLLACODE.md"
}
