package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = `📖 <b>ollacode</b>

Send a message to talk to the coding assistant. It can read, search and edit files in the workspace and run commands there. Every change and command waits for your approval unless auto-approve is on.

<b>Commands</b>
/start: welcome and status
/clear: start a new conversation
/model [name]: session info, or switch model
/approve: toggle auto-approve
/stop: cancel the running answer
/audit: last recorded tool calls
/help: this help`

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	cmd := msg.Command()
	if cmd == "help" {
		b.replyHTML(chatID, helpText)
		return
	}

	user, err := b.user(msg.From.ID, chatID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	s := user.session

	switch cmd {
	case "start":
		name := msg.From.FirstName
		if name == "" {
			name = msg.From.UserName
		}
		memory := "not found"
		if s.HasProjectMemory() {
			memory = "loaded"
		}
		b.replyHTML(chatID, fmt.Sprintf(
			"👋 Hello, <b>%s</b>!\n\nI'm <b>ollacode</b>, a coding assistant running on <code>%s</code>.\n"+
				"Context: <code>%d</code> tokens\nOLLACODE.md: %s\n\nAsk me anything about the code. /help lists the commands.",
			html.EscapeString(name), html.EscapeString(s.Profile().Model), s.Profile().ContextWindow, memory))
	case "clear":
		if err := s.Reset(); err != nil {
			b.replyError(chatID, err)
			return
		}
		b.reply(chatID, "✅ Conversation cleared.")
	case "model":
		arg := strings.TrimSpace(msg.CommandArguments())
		if arg == "" {
			b.replyHTML(chatID, b.sessionInfo(user))
			return
		}
		p, err := b.rt.SwitchModel(s, arg)
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		b.replyHTML(chatID, "🤖 Switched to <code>"+html.EscapeString(p.Model)+"</code>.")
	case "approve":
		on := !s.AutoApprove()
		s.SetAutoApprove(on)
		if on {
			b.reply(chatID, "⚠️ Auto-approve on: changes and commands run without asking.")
		} else {
			b.reply(chatID, "🔐 Auto-approve off: I will ask before changes and commands.")
		}
	case "stop":
		s.Abort()
	case "audit":
		b.replyHTML(chatID, b.auditText())
	default:
		b.reply(chatID, "Unknown command. Send /help for the list.")
	}
}

func (b *Bot) sessionInfo(user *userSession) string {
	s := user.session
	p := s.Profile()
	onOff := func(v bool) string {
		if v {
			return "on"
		}
		return "off"
	}
	memory := "none"
	if s.HasProjectMemory() {
		memory = "loaded"
	}
	return fmt.Sprintf("🤖 <b>Session</b>\n\n"+
		"Model: <code>%s</code> (%s tools)\n"+
		"Server: <code>%s</code>\n"+
		"Messages: <code>%d</code>\n"+
		"Est. tokens: <code>%d</code> / %d\n"+
		"Compact mode: <code>%s</code>\n"+
		"Auto-approve: <code>%s</code>\n"+
		"Project memory: <code>%s</code>",
		html.EscapeString(p.Model), p.ToolProtocol,
		html.EscapeString(b.rt.Config.OllamaHost),
		len(s.History()),
		s.EstimatedTokens(), p.ContextWindow,
		onOff(b.rt.Config.CompactMode),
		onOff(s.AutoApprove()),
		memory,
	)
}

func (b *Bot) auditText() string {
	if b.rt.Audit == nil {
		return "Audit trail is disabled (set AUDIT_DB)."
	}
	recs, err := b.rt.RecentToolCalls(context.Background(), 10)
	if err != nil {
		return "❌ " + html.EscapeString(err.Error())
	}
	if len(recs) == 0 {
		return "No tool calls recorded yet."
	}
	var sb strings.Builder
	sb.WriteString("🗂 <b>Recent tool calls</b>\n")
	for _, r := range recs {
		mark := "✓"
		if r.IsError {
			mark = "✗"
		}
		fmt.Fprintf(&sb, "%s <code>%s</code> %s %s\n",
			mark, r.Tool, r.CreatedAt.Local().Format("01-02 15:04"), html.EscapeString(r.Approval))
	}
	return sb.String()
}
