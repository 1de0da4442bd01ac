package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keyword_tracker/internal/gate"
	"keyword_tracker/internal/inbox"
	"keyword_tracker/internal/model"
	"keyword_tracker/internal/rule"
)

// errUnchanged aborts a settings update that has nothing to save.
var errUnchanged = errors.New("settings unchanged")

type option struct {
	field func(*model.Settings) *bool
	help  string
}

var switches = map[string]option{
	"enabled":  {func(s *model.Settings) *bool { return &s.Enabled }, "master switch, flips every guild and channel"},
	"self":     {func(s *model.Settings) *bool { return &s.AllowSelf }, "match your own messages"},
	"bots":     {func(s *model.Settings) *bool { return &s.AllowBots }, "match messages from bots"},
	"embeds":   {func(s *model.Settings) *bool { return &s.AllowEmbeds }, "search embed contents"},
	"sound":    {func(s *model.Settings) *bool { return &s.Notifications }, "notify with sound"},
	"jumpread": {func(s *model.Settings) *bool { return &s.MarkJumpedRead }, "add a Mark read button to notifications"},
}

func switchNames() []string {
	names := make([]string, 0, len(switches))
	for name := range switches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type userList int

const (
	blockList userList = iota
	allowList
)

func (l userList) field(s *model.Settings) *[]string {
	if l == blockList {
		return &s.BlockList
	}
	return &s.AllowList
}

func (l userList) String() string {
	if l == blockList {
		return "block list"
	}
	return "allow list"
}

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Keyword Tracker!

Matches from your Discord guilds are posted here.

Quick start:
1. /addrule <word> - notify on a keyword
2. /addrule /regex/i - notify on a regular expression
3. /allow <user_id> - notify on every message of a user

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	var opts strings.Builder
	for _, name := range switchNames() {
		fmt.Fprintf(&opts, "  %s - %s\n", name, switches[name].help)
	}

	b.reply(chatID, `Rules:
/rules - list rules
/addrule <rule> - add a rule
/rmrule <n> - remove rule number n

Rule format: [@user_id:|#channel_id:|guild_id:]<keyword or /regex/flags>
Keywords are case sensitive, use /word/i to ignore case.

Users:
/block <user_id> - never notify on this user
/unblock <user_id>
/allow <user_id> - always notify on this user
/disallow <user_id>

Guilds and channels:
/guilds - list guilds
/channels <guild_id> - list channels of a guild
/guild <guild_id> <on|off> - toggle a guild
/channel <guild_id> <channel_id> <on|off> - toggle a channel
/all <on|off> - toggle everything

Inbox:
/inbox - unread matches from the last 60 days
/read <message_id> - mark one match as read
/readall - mark everything as read

Options (/set <option> <on|off>):
` + opts.String() + `
/status - current settings`)
}

// snapshot returns a copy of the current settings.
func (b *Bot) snapshot(ctx context.Context) (*model.Settings, error) {
	var cp *model.Settings
	if err := b.settings.View(ctx, func(s *model.Settings) { cp = s.Clone() }); err != nil {
		return nil, err
	}
	return cp, nil
}

// update applies fn and reports failures to the chat. It returns false when
// nothing was saved.
func (b *Bot) update(ctx context.Context, chatID int64, fn func(*model.Settings) error) bool {
	err := b.settings.Update(ctx, fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errUnchanged):
		return false
	default:
		b.log.Error("update settings", "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return false
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	s, err := b.snapshot(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	events, err := b.inbox.ListVisible(ctx, b.now())
	if err != nil {
		b.log.Error("list inbox", "error", err)
	}
	b.reply(chatID, FormatStatus(s, b.settings.Stats(), len(events)))
}

func (b *Bot) handleRules(ctx context.Context, chatID int64) {
	s, err := b.snapshot(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatRules(s.Rules))
}

func (b *Bot) handleAddRule(ctx context.Context, chatID int64, args string) {
	err := rule.Validate(args)
	if errors.Is(err, rule.ErrEmpty) {
		b.reply(chatID, "Usage: /addrule <rule>")
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid rule: %v", err))
		return
	}

	var pos int
	var dup bool
	ok := b.update(ctx, chatID, func(s *model.Settings) error {
		if slices.Contains(s.Rules, args) {
			dup = true
			return errUnchanged
		}
		s.Rules = append(s.Rules, args)
		pos = len(s.Rules)
		return nil
	})
	switch {
	case dup:
		b.reply(chatID, fmt.Sprintf("Rule %q already exists.", args))
	case ok:
		b.reply(chatID, fmt.Sprintf("Rule %d added: %s", pos, args))
	}
}

func (b *Bot) handleRmRule(ctx context.Context, chatID int64, args string) {
	n, err := ParseIndexArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmrule <n>")
		return
	}

	var removed string
	var missing bool
	ok := b.update(ctx, chatID, func(s *model.Settings) error {
		if n > len(s.Rules) {
			missing = true
			return errUnchanged
		}
		removed = s.Rules[n-1]
		s.Rules = slices.Delete(s.Rules, n-1, n)
		return nil
	})
	if missing {
		b.reply(chatID, fmt.Sprintf("Rule %d not found.", n))
		return
	}
	if ok {
		b.reply(chatID, fmt.Sprintf("Rule %d removed: %s", n, removed))
	}
}

func (b *Bot) handleUserList(ctx context.Context, chatID int64, cmd, args string, list userList, add bool) {
	id, err := ParseSnowflake(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <user_id>", cmd))
		return
	}

	ok := b.update(ctx, chatID, func(s *model.Settings) error {
		ids := list.field(s)
		has := slices.Contains(*ids, id)
		switch {
		case add && has, !add && !has:
			return errUnchanged
		case add:
			*ids = append(*ids, id)
		default:
			*ids = slices.DeleteFunc(*ids, func(v string) bool { return v == id })
		}
		return nil
	})

	switch {
	case ok && add:
		b.reply(chatID, fmt.Sprintf("User %s added to the %s.", id, list))
	case ok:
		b.reply(chatID, fmt.Sprintf("User %s removed from the %s.", id, list))
	case add:
		b.reply(chatID, fmt.Sprintf("User %s is already on the %s.", id, list))
	default:
		b.reply(chatID, fmt.Sprintf("User %s is not on the %s.", id, list))
	}
}

func (b *Bot) handleSet(ctx context.Context, chatID int64, args string) {
	name, on, err := ParseSetArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	ok := b.update(ctx, chatID, func(s *model.Settings) error {
		if name == "enabled" {
			gate.SetAll(s, on)
			return nil
		}
		*switches[name].field(s) = on
		return nil
	})
	if ok {
		b.reply(chatID, fmt.Sprintf("%s is now %s.", name, onOff(on)))
	}
}

func (b *Bot) handleAll(ctx context.Context, chatID int64, args string) {
	on, err := ParseSwitch(args)
	if err != nil {
		b.reply(chatID, "Usage: /all <on|off>")
		return
	}
	if b.update(ctx, chatID, func(s *model.Settings) error {
		gate.SetAll(s, on)
		return nil
	}) {
		b.reply(chatID, fmt.Sprintf("All guilds and channels are now %s.", onOff(on)))
	}
}

// handleGuilds lists the visible guilds. Tracked guilds pick up text
// channels created since they were registered.
func (b *Bot) handleGuilds(ctx context.Context, chatID int64) {
	guilds := b.dir.Guilds()

	var cp *model.Settings
	err := b.settings.Update(ctx, func(s *model.Settings) error {
		added := 0
		for i := range guilds {
			added += gate.Repair(s, &guilds[i])
		}
		cp = s.Clone()
		if added == 0 {
			return errUnchanged
		}
		b.log.Info("repaired guild channels", "added", added)
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatGuilds(guilds, cp))
	if len(guilds) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, g := range guilds {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(g.Name, cmdChannels+":"+g.ID),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send guild list", "error", err)
	}
}

func (b *Bot) handleChannels(ctx context.Context, chatID int64, args string) {
	id, err := ParseSnowflake(args)
	if err != nil {
		b.reply(chatID, "Usage: /channels <guild_id>")
		return
	}
	g, err := b.dir.Guild(id)
	if err != nil || g == nil {
		b.reply(chatID, fmt.Sprintf("Guild %s not found.", id))
		return
	}
	s, err := b.snapshot(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatChannels(g, s.Guilds[id]))
}

func (b *Bot) handleGuild(ctx context.Context, chatID int64, args string) {
	id, on, err := ParseGuildArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	err = b.settings.Update(ctx, func(s *model.Settings) error {
		return gate.SetGuild(s, b.dir, id, on)
	})
	if errors.Is(err, gate.ErrUnknownGuild) {
		b.reply(chatID, fmt.Sprintf("Guild %s not found.", id))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Guild %s and its channels are now %s.", id, onOff(on)))
}

func (b *Bot) handleChannel(ctx context.Context, chatID int64, args string) {
	a, err := ParseChannelArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	err = b.settings.Update(ctx, func(s *model.Settings) error {
		return gate.SetChannel(s, a.GuildID, a.ChannelID, a.On)
	})
	switch {
	case errors.Is(err, gate.ErrUnknownGuild):
		b.reply(chatID, fmt.Sprintf("Guild %s is not tracked yet.", a.GuildID))
	case errors.Is(err, gate.ErrUnknownChannel):
		b.reply(chatID, fmt.Sprintf("Channel %s not found in guild %s. Try /guilds to refresh.", a.ChannelID, a.GuildID))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Channel %s is now %s.", a.ChannelID, onOff(a.On)))
	}
}

func (b *Bot) handleInbox(ctx context.Context, chatID int64) {
	now := b.now()
	events, err := b.inbox.ListVisible(ctx, now)
	if err != nil {
		b.log.Error("list inbox", "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatInbox(events, now))
	msg.DisableWebPagePreview = true
	if len(events) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Mark all as read", callbackReadAll+":all"),
		))
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send inbox", "error", err)
	}
}

func (b *Bot) handleRead(ctx context.Context, chatID int64, args string) {
	id, err := ParseSnowflake(args)
	if err != nil {
		b.reply(chatID, "Usage: /read <message_id>")
		return
	}
	err = b.inbox.MarkRead(ctx, id)
	switch {
	case errors.Is(err, inbox.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Match %s not found.", id))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Match %s marked as read.", id))
	}
}

func (b *Bot) handleReadAll(ctx context.Context, chatID int64) {
	if err := b.inbox.ClearAll(ctx); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "All matches marked as read.")
}
