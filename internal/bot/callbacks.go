package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keyword_tracker/internal/inbox"
)

const (
	callbackRead    = "read"
	callbackReadAll = "readall"
	cmdGuilds       = "guilds"
	cmdChannels     = "channels"
	cmdInbox        = "inbox"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok || cb.Message == nil {
		b.ack(cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID

	attrs := []any{"action", action, "arg", arg, "chat_id", chatID}
	if cb.From != nil {
		attrs = append(attrs, "user_id", cb.From.ID, "username", cb.From.UserName)
	}
	b.log.Info("callback", attrs...)

	switch action {
	case callbackRead:
		err := b.inbox.MarkRead(ctx, arg)
		switch {
		case errors.Is(err, inbox.ErrNotFound):
			b.ack(cb.ID, "Already read.")
		case err != nil:
			b.log.Error("mark read", "message_id", arg, "error", err)
			b.ack(cb.ID, "Error, try again.")
		default:
			b.ack(cb.ID, "Marked as read.")
		}
	case callbackReadAll:
		b.ack(cb.ID, "")
		b.handleReadAll(ctx, chatID)
	case cmdChannels:
		b.ack(cb.ID, "")
		b.handleChannels(ctx, chatID, arg)
	default:
		b.ack(cb.ID, "")
	}
}
