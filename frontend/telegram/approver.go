package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ollacode/ollacode/agentloop"
)

const maxDiffLength = 3000

// pendingApproval is an approval question waiting for a button press.
type pendingApproval struct {
	userID    int64
	chatID    int64
	messageID int
	summary   string
	answer    chan agentloop.Decision
}

// chatApprover asks a user through an inline keyboard.
type chatApprover struct {
	bot  *Bot
	user *userSession
}

var _ agentloop.Approver = (*chatApprover)(nil)

func (a *chatApprover) Approve(ctx context.Context, req agentloop.ApprovalRequest) (agentloop.Decision, error) {
	chatID := a.user.chat()
	msg := tgbotapi.NewMessage(chatID, approvalText(req))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = approvalKeyboard(req.ID)
	sent, err := a.bot.api.Send(msg)
	if err != nil {
		return agentloop.DecisionReject, fmt.Errorf("send approval request: %w", err)
	}

	p := &pendingApproval{
		userID:    a.user.id,
		chatID:    chatID,
		messageID: sent.MessageID,
		summary:   req.Summary,
		answer:    make(chan agentloop.Decision, 1),
	}
	a.bot.addPending(req.ID, p)
	defer a.bot.removePending(req.ID)

	select {
	case d := <-p.answer:
		return d, nil
	case <-ctx.Done():
		a.bot.editText(p.chatID, p.messageID, "⏹ "+html.EscapeString(req.Summary)+" (cancelled)")
		return agentloop.DecisionReject, ctx.Err()
	}
}

func approvalText(req agentloop.ApprovalRequest) string {
	var b strings.Builder
	b.WriteString("🔐 <b>" + html.EscapeString(req.Summary) + "</b>\n")
	switch {
	case req.Command != "":
		b.WriteString("<pre>$ " + html.EscapeString(req.Command) + "</pre>")
	case req.Diff != "":
		b.WriteString(`<pre><code class="language-diff">` + html.EscapeString(truncate(req.Diff, maxDiffLength)) + "</code></pre>")
	case req.Path != "":
		b.WriteString("<code>" + html.EscapeString(req.Path) + "</code>")
	}
	return b.String()
}

func approvalKeyboard(id string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", callbackData(agentloop.DecisionApprove, id)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", callbackData(agentloop.DecisionReject, id)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve all", callbackData(agentloop.DecisionApproveAll, id)),
		),
	)
}

// callbackData fits Telegram's 64 byte limit: decision names are short and
// request ids are UUIDs.
func callbackData(d agentloop.Decision, id string) string {
	return string(d) + ":" + id
}

func parseCallback(data string) (agentloop.Decision, string, bool) {
	kind, id, ok := strings.Cut(data, ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch d := agentloop.Decision(kind); d {
	case agentloop.DecisionApprove, agentloop.DecisionReject, agentloop.DecisionApproveAll:
		return d, id, true
	}
	return "", "", false
}

func decisionLabel(d agentloop.Decision) string {
	switch d {
	case agentloop.DecisionApprove:
		return "✅ approved"
	case agentloop.DecisionApproveAll:
		return "✅ approved (auto-approve on)"
	}
	return "❌ rejected"
}
