package bot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"keyword_tracker/internal/dispatch"
	"keyword_tracker/internal/model"
	"keyword_tracker/internal/rule"
)

const (
	inboxLimit    = 20
	previewLength = 80

	// Telegram rejects longer message texts and photo captions.
	messageLimit = 4096
	captionLimit = 1024

	// inboxFooterReserve leaves room for the "...and N more" line.
	inboxFooterReserve = 32
)

// FormatNotification renders the text of a match notification.
func FormatNotification(n model.Notification) string {
	return n.Title + "\n" + n.Body
}

// truncate shortens s to at most limit runes, ending with "..." when cut.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}

// FormatRules lists rules with their positions. Rules that do not compile
// are flagged since the tracker skips them.
func FormatRules(rules []string) string {
	if len(rules) == 0 {
		return "No rules yet. Use /addrule <rule> to add one."
	}
	var b strings.Builder
	b.WriteString("Rules (first match wins):\n")
	for i, raw := range rules {
		fmt.Fprintf(&b, "\n%d. %s", i+1, raw)
		if err := rule.Validate(raw); err != nil {
			fmt.Fprintf(&b, "  [skipped: %v]", err)
		}
	}
	return b.String()
}

// FormatStatus summarises the settings and the queue counters.
func FormatStatus(s *model.Settings, stats dispatch.Stats, unread int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tracking: %s\n", onOff(s.Enabled))
	fmt.Fprintf(&b, "Rules: %d, allowed users: %d, blocked users: %d\n", len(s.Rules), len(s.AllowList), len(s.BlockList))

	enabled := 0
	for _, g := range s.Guilds {
		if g != nil && g.Enabled {
			enabled++
		}
	}
	fmt.Fprintf(&b, "Guilds: %d tracked, %d enabled\n", len(s.Guilds), enabled)
	fmt.Fprintf(&b, "Unread matches: %d\n", unread)

	b.WriteString("\nOptions:\n")
	for _, name := range switchNames() {
		fmt.Fprintf(&b, "  %s: %s\n", name, onOff(*switches[name].field(s)))
	}

	fmt.Fprintf(&b, "\nMessages: %d received, %d matched, %d faulted, %d dropped",
		stats.Received, stats.Matched, stats.Faulted, stats.Dropped)
	return b.String()
}

// FormatGuilds lists the visible guilds with their gate state.
func FormatGuilds(guilds []model.Guild, s *model.Settings) string {
	if len(guilds) == 0 {
		return "No guilds visible yet."
	}
	var b strings.Builder
	b.WriteString("Guilds:\n")
	for _, g := range guilds {
		entry := s.Guilds[g.ID]
		if entry == nil {
			fmt.Fprintf(&b, "\n%s (%s): not tracked yet", g.Name, g.ID)
			continue
		}
		on := 0
		for _, enabled := range entry.Channels {
			if enabled {
				on++
			}
		}
		fmt.Fprintf(&b, "\n%s (%s): %s, %d/%d channels", g.Name, g.ID, onOff(entry.Enabled), on, len(entry.Channels))
	}
	return b.String()
}

// FormatChannels lists the text channels of a guild and whether each one
// is tracked.
func FormatChannels(g *model.Guild, entry *model.GuildGate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", g.Name, g.ID)
	if entry == nil {
		b.WriteString(" is not tracked yet. Use /guild <id> on to start.")
		return b.String()
	}
	fmt.Fprintf(&b, ": %s\n", onOff(entry.Enabled))
	for _, c := range g.TextChannels() {
		fmt.Fprintf(&b, "\n#%s (%s): %s", c.Name, c.ID, onOff(entry.Channels[c.ID]))
	}
	return b.String()
}

// FormatInbox renders the newest unread matches. It lists at most
// inboxLimit entries and stops early so the text fits in one Telegram
// message.
func FormatInbox(events []model.MatchEvent, now time.Time) string {
	if len(events) == 0 {
		return "No unread matches."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Unread matches (%d):\n", len(events))
	used := utf8.RuneCountInString(b.String())

	for i, ev := range events {
		entry := formatInboxEntry(ev, now)
		n := utf8.RuneCountInString(entry)
		if i == inboxLimit || used+n > messageLimit-inboxFooterReserve {
			fmt.Fprintf(&b, "\n...and %d more", len(events)-i)
			break
		}
		b.WriteString(entry)
		used += n
	}
	return b.String()
}

func formatInboxEntry(ev model.MatchEvent, now time.Time) string {
	msg := ev.Message
	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s] %s #%s, %s\n", truncate(ev.MatchLabel, previewLength), ev.GuildName, ev.ChannelName,
		humanize.RelTime(msg.CreatedAt, now, "ago", "from now"))
	fmt.Fprintf(&b, "  %s: %s\n", msg.AuthorName, preview(msg.Content))
	fmt.Fprintf(&b, "  %s\n  /read %s\n", msg.JumpURL(), msg.ID)
	return truncate(b.String(), messageLimit-inboxFooterReserve-64)
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "(embed)"
	}
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	r := []rune(s)
	return string(r[:previewLength]) + "..."
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
