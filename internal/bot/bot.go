package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keyword_tracker/internal/config"
	"keyword_tracker/internal/dispatch"
	"keyword_tracker/internal/gate"
	"keyword_tracker/internal/inbox"
	"keyword_tracker/internal/model"
)

const (
	// pollTimeout is the long-polling wait in seconds. apiTimeout bounds
	// every request, including a long poll.
	pollTimeout = 30
	apiTimeout  = 45 * time.Second
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// SettingsQueue gives serialised access to the tracker settings.
type SettingsQueue interface {
	Update(ctx context.Context, fn func(*model.Settings) error) error
	View(ctx context.Context, fn func(*model.Settings)) error
	Stats() dispatch.Stats
}

// Directory lists the guilds the tracker can see.
type Directory interface {
	gate.GuildLookup
	Guilds() []model.Guild
}

// Bot is the Telegram bot that delivers match notifications and edits the
// tracker settings.
type Bot struct {
	api      telegramAPI
	settings SettingsQueue
	inbox    inbox.Store
	dir      Directory
	cfg      *config.Config
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Bot with the given Telegram token.
func New(token string, cfg *config.Config, settings SettingsQueue, store inbox.Store, dir Directory, log *slog.Logger) (*Bot, error) {
	client := &http.Client{Timeout: apiTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:      api,
		settings: settings,
		inbox:    store,
		dir:      dir,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From != nil && !b.cfg.IsUserAllowed(cb.From.ID) {
			b.ack(cb.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
		b.reply(update.Message.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, update.Message)
}

// Notify sends a match notification to the configured chat. A notification
// with a thumbnail is sent as a photo; when Telegram refuses the photo the
// text is sent on its own. Failures are logged.
func (b *Bot) Notify(_ context.Context, n model.Notification) {
	chatID := b.cfg.TelegramChatID
	text := FormatNotification(n)
	markup := notificationKeyboard(n)

	if n.ThumbnailURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(n.ThumbnailURL))
		photo.Caption = truncate(text, captionLimit)
		photo.DisableNotification = !n.Sound
		photo.ReplyMarkup = markup
		_, err := b.api.Send(photo)
		if err == nil {
			return
		}
		b.log.Warn("send notification photo, falling back to text", "chat_id", chatID, "message_id", n.MessageID, "error", err)
	}

	m := tgbotapi.NewMessage(chatID, truncate(text, messageLimit))
	m.DisableWebPagePreview = true
	m.DisableNotification = !n.Sound
	m.ReplyMarkup = markup
	if _, err := b.api.Send(m); err != nil {
		b.log.Error("send notification", "chat_id", chatID, "message_id", n.MessageID, "error", err)
	}
}

func notificationKeyboard(n model.Notification) tgbotapi.InlineKeyboardMarkup {
	row := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonURL("Open", n.Link),
	}
	if n.MarkReadOnOpen {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Mark read", callbackRead+":"+n.MessageID))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, truncate(text, messageLimit))
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Send(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "rules":
		b.handleRules(ctx, chatID)
	case "addrule":
		b.handleAddRule(ctx, chatID, args)
	case "rmrule":
		b.handleRmRule(ctx, chatID, args)
	case "block":
		b.handleUserList(ctx, chatID, cmd, args, blockList, true)
	case "unblock":
		b.handleUserList(ctx, chatID, cmd, args, blockList, false)
	case "allow":
		b.handleUserList(ctx, chatID, cmd, args, allowList, true)
	case "disallow":
		b.handleUserList(ctx, chatID, cmd, args, allowList, false)
	case "set":
		b.handleSet(ctx, chatID, args)
	case cmdGuilds:
		b.handleGuilds(ctx, chatID)
	case "guild":
		b.handleGuild(ctx, chatID, args)
	case cmdChannels:
		b.handleChannels(ctx, chatID, args)
	case "channel":
		b.handleChannel(ctx, chatID, args)
	case "all":
		b.handleAll(ctx, chatID, args)
	case cmdInbox:
		b.handleInbox(ctx, chatID)
	case "read":
		b.handleRead(ctx, chatID, args)
	case "readall":
		b.handleReadAll(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
