// Package telegram serves ollacode sessions to Telegram users, one session
// per user, with file changes and commands approved through inline buttons.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ollacode/ollacode/agentloop"
	"github.com/ollacode/ollacode/app"
	"github.com/ollacode/ollacode/logging"
)

// telegramLimit is the hard message size limit of the Bot API.
const telegramLimit = 4096

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// userSession is the conversation of one Telegram user.
type userSession struct {
	id      int64
	session *agentloop.Session
	// turn is held while a message is being answered.
	turn sync.Mutex

	mu     sync.Mutex
	chatID int64
	tools  []string
}

func (u *userSession) chat() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.chatID
}

func (u *userSession) setChat(id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.chatID = id
}

// Bot routes updates to per-user sessions.
type Bot struct {
	api    API
	rt     *app.Runtime
	logger *slog.Logger

	mu      sync.Mutex
	users   map[int64]*userSession
	pending map[string]*pendingApproval
	turns   sync.WaitGroup
}

// New returns a Bot that talks through api.
func New(api API, rt *app.Runtime, logger *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		rt:      rt,
		logger:  logger,
		users:   make(map[int64]*userSession),
		pending: make(map[string]*pendingApproval),
	}
}

// Start connects to Telegram with the configured token and serves updates
// until ctx is done.
func Start(ctx context.Context, rt *app.Runtime, logger *slog.Logger) error {
	token := rt.Config.Telegram.Token
	if token == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is not set; create a bot with @BotFather and put its token in .env")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("connect to telegram (token %s): %w", logging.RedactValue(token), err)
	}

	allowed := "all"
	if ids := rt.Config.Telegram.AllowedUsers; len(ids) > 0 {
		allowed = fmt.Sprint(ids)
	}
	logger.Info("telegram bot started",
		"bot", api.Self.UserName,
		"token", logging.RedactValue(token),
		"model", rt.Config.Model,
		"server", rt.Config.OllamaHost,
		"workspace", rt.Guard.Root(),
		"allowed_users", allowed,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	b := New(api, rt, logger)
	defer b.Close()
	return b.Run(ctx, updates)
}

// Run handles updates until the channel closes or ctx is done.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

// Close ends every session and waits for running turns to finish.
func (b *Bot) Close() {
	b.mu.Lock()
	users := make([]*userSession, 0, len(b.users))
	for _, u := range b.users {
		users = append(users, u)
	}
	b.mu.Unlock()

	for _, u := range users {
		u.session.Close()
	}
	b.turns.Wait()
}

// Wait blocks until no turn is running.
func (b *Bot) Wait() { b.turns.Wait() }

// HandleUpdate dispatches one update. Turns run in the background so that
// approval button presses keep flowing.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		b.handleCallback(upd.CallbackQuery)
		return
	}
	msg := upd.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.rt.Config.Telegram.UserAllowed(msg.From.ID) {
		b.logger.Warn("telegram user not allowed", "user_id", msg.From.ID, "security", true)
		b.reply(msg.Chat.ID, "⛔ Access denied.")
		return
	}

	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	user, err := b.user(msg.From.ID, msg.Chat.ID)
	if err != nil {
		b.replyError(msg.Chat.ID, err)
		return
	}
	if !user.turn.TryLock() {
		b.reply(msg.Chat.ID, "⏳ Still working on your previous message. Send /stop to cancel it.")
		return
	}
	b.turns.Add(1)
	go func() {
		defer b.turns.Done()
		defer user.turn.Unlock()
		b.runTurn(ctx, user, msg.Text)
	}()
}

func (b *Bot) runTurn(ctx context.Context, user *userSession, text string) {
	chatID := user.chat()
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("send chat action", "error", err)
	}

	user.mu.Lock()
	user.tools = nil
	user.mu.Unlock()

	err := user.session.Submit(ctx, text)

	user.mu.Lock()
	tools := user.tools
	user.mu.Unlock()
	if len(tools) > 0 {
		b.reply(chatID, "🔧 "+strings.Join(tools, ", "))
	}

	var capErr *agentloop.IterationCapExceededError
	switch {
	case err == nil:
		b.sendAnswer(chatID, lastAnswer(user.session.History()))
	case errors.Is(err, context.Canceled):
		b.reply(chatID, "⏹ Cancelled.")
	case errors.As(err, &capErr):
		b.reply(chatID, "⚠️ "+capErr.Error()+". Tell me how to continue.")
	default:
		b.logger.Error("telegram turn failed", "user_id", user.id, "error", err)
		b.replyError(chatID, err)
	}
}

// lastAnswer returns the text of the final assistant turn.
func lastAnswer(history []agentloop.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if t := history[i]; t.Kind == agentloop.TurnAssistant && t.Assistant != nil {
			return t.Assistant.Content
		}
	}
	return ""
}

// sendAnswer sends a model answer as HTML, split into parts. A part that
// fails to render as HTML is resent as plain text.
func (b *Bot) sendAnswer(chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		text = "(no answer)"
	}
	for _, part := range SplitMessage(text, MaxMessageLength) {
		formatted := FormatHTML(part)
		if formatted != "" && utf8.RuneCountInString(formatted) <= telegramLimit {
			msg := tgbotapi.NewMessage(chatID, formatted)
			msg.ParseMode = tgbotapi.ModeHTML
			_, err := b.api.Send(msg)
			if err == nil {
				continue
			}
			b.logger.Debug("html reply rejected, resending as plain text", "error", err)
		}
		b.reply(chatID, part)
	}
}

func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) {
	decision, id, ok := parseCallback(q.Data)
	if !ok {
		b.answerCallback(q.ID, "Unknown action.")
		return
	}

	b.mu.Lock()
	p := b.pending[id]
	if p != nil && p.userID == q.From.ID {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	switch {
	case p == nil:
		b.answerCallback(q.ID, "This request has expired.")
		return
	case p.userID != q.From.ID:
		b.answerCallback(q.ID, "This approval belongs to another user.")
		return
	}

	p.answer <- decision
	b.answerCallback(q.ID, decisionLabel(decision))
	b.editText(p.chatID, p.messageID, html.EscapeString(p.summary)+": "+decisionLabel(decision))
}

func (b *Bot) addPending(id string, p *pendingApproval) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[id] = p
}

func (b *Bot) removePending(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

// user returns the session of userID, creating it on first contact.
func (b *Bot) user(userID, chatID int64) (*userSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[userID]; ok {
		u.setChat(chatID)
		return u, nil
	}

	u := &userSession{id: userID, chatID: chatID}
	s, err := b.rt.NewSession(b.rt.Config.Model, agentloop.WithApprover(&chatApprover{bot: b, user: u}))
	if err != nil {
		return nil, err
	}
	u.session = s
	s.Subscribe(func(ev agentloop.SessionEvent) {
		if ev.Kind != agentloop.EventToolCallEnd {
			return
		}
		name := ev.String("tool_name")
		if ev.Bool("is_error") {
			name += " ✗"
		}
		u.mu.Lock()
		u.tools = append(u.tools, name)
		u.mu.Unlock()
	})
	b.users[userID] = u
	b.logger.Info("telegram session created", "user_id", userID, "session_id", s.ID())
	return u, nil
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("telegram send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) replyHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("telegram send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) replyError(chatID int64, err error) {
	b.replyHTML(chatID, "❌ Error:\n<code>"+html.EscapeString(err.Error())+"</code>")
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Debug("answer callback", "error", err)
	}
}

func (b *Bot) editText(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Debug("edit approval message", "error", err)
	}
}
