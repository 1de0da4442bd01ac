// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Message is a guild chat message as observed by the tracker.
type Message struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	AuthorAvatar string    `json:"author_avatar,omitempty"`
	AuthorIsBot  bool      `json:"author_is_bot"`
	Content      string    `json:"content"`
	Embeds       []any     `json:"embeds,omitempty"`
	ChannelID    string    `json:"channel_id"`
	GuildID      string    `json:"guild_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// MatchLabel is set on the copy stored in the inbox.
	MatchLabel string `json:"match_label,omitempty"`
}

// JumpURL returns the client link that opens the message.
func (m Message) JumpURL() string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", m.GuildID, m.ChannelID, m.ID)
}

// AvatarURL returns the author's avatar on the Discord CDN, or an empty
// string when the author has no custom avatar.
func (m Message) AvatarURL() string {
	if m.AuthorAvatar == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.webp?size=256", m.AuthorID, m.AuthorAvatar)
}

// ChannelType distinguishes guild channel kinds.
type ChannelType string

// Channel types relevant to the tracker. Only text channels are gated.
const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
	ChannelOther ChannelType = "other"
	ChannelDM    ChannelType = "dm"
)

// Channel is a directory entry for a channel.
type Channel struct {
	ID      string
	GuildID string
	Type    ChannelType
	Name    string
}

// Guild is a directory entry for a guild and its channels.
type Guild struct {
	ID       string
	Name     string
	Channels []Channel
}

// TextChannels returns the guild's text channels in directory order.
func (g *Guild) TextChannels() []Channel {
	var out []Channel
	for _, c := range g.Channels {
		if c.Type == ChannelText {
			out = append(out, c)
		}
	}
	return out
}

// GuildGate holds the enablement switches of one guild.
type GuildGate struct {
	Enabled  bool            `json:"enabled"`
	Channels map[string]bool `json:"channels"`
}

// Settings is the full persisted configuration of the tracker.
type Settings struct {
	Enabled        bool                  `json:"enabled"`
	BlockList      []string              `json:"ignored_users"`
	AllowList      []string              `json:"whitelisted_users"`
	Rules          []string              `json:"keywords"`
	Guilds         map[string]*GuildGate `json:"guilds"`
	SelfUserID     string                `json:"self_user_id"`
	AllowSelf      bool                  `json:"allow_self"`
	AllowBots      bool                  `json:"allow_bots"`
	AllowEmbeds    bool                  `json:"allow_embeds"`
	Notifications  bool                  `json:"notifications"`
	MarkJumpedRead bool                  `json:"mark_jumped_read"`
}

// DefaultSettings returns the settings used when nothing is persisted yet.
func DefaultSettings() *Settings {
	return &Settings{
		Enabled:       true,
		Guilds:        make(map[string]*GuildGate),
		AllowBots:     true,
		AllowEmbeds:   true,
		Notifications: true,
	}
}

// Normalize drops blank rules and user IDs and makes sure the guild map
// exists. It is applied before every save.
func (s *Settings) Normalize() {
	s.Rules = dropBlank(s.Rules, false)
	s.BlockList = dropBlank(s.BlockList, true)
	s.AllowList = dropBlank(s.AllowList, true)
	if s.Guilds == nil {
		s.Guilds = make(map[string]*GuildGate)
	}
	for id, g := range s.Guilds {
		if g == nil {
			delete(s.Guilds, id)
			continue
		}
		if g.Channels == nil {
			g.Channels = make(map[string]bool)
		}
	}
}

// Clone returns a deep copy of s.
func (s *Settings) Clone() *Settings {
	cp := *s
	cp.BlockList = append([]string(nil), s.BlockList...)
	cp.AllowList = append([]string(nil), s.AllowList...)
	cp.Rules = append([]string(nil), s.Rules...)
	cp.Guilds = make(map[string]*GuildGate, len(s.Guilds))
	for id, g := range s.Guilds {
		if g == nil {
			continue
		}
		chans := make(map[string]bool, len(g.Channels))
		for cid, on := range g.Channels {
			chans[cid] = on
		}
		cp.Guilds[id] = &GuildGate{Enabled: g.Enabled, Channels: chans}
	}
	return &cp
}

// IsBlocked reports whether the user is on the block list.
func (s *Settings) IsBlocked(userID string) bool {
	return contains(s.BlockList, userID)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// dropBlank keeps lines with non-whitespace content. IDs are trimmed,
// rules are kept verbatim because surrounding spaces are part of a keyword.
func dropBlank(in []string, trim bool) []string {
	out := in[:0:0]
	for _, v := range in {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if trim {
			v = strings.TrimSpace(v)
		}
		out = append(out, v)
	}
	return out
}

// MatchKind tells what triggered a match.
type MatchKind string

// Match kinds.
const (
	MatchUser    MatchKind = "user"
	MatchKeyword MatchKind = "keyword"
)

// MatchEvent is produced by the engine when a message matches.
type MatchEvent struct {
	Message     Message   `json:"message"`
	GuildName   string    `json:"guild_name"`
	ChannelName string    `json:"channel_name"`
	MatchLabel  string    `json:"match_label"`
	Kind        MatchKind `json:"kind"`
}

// Notification is what the engine hands to the notification sink.
type Notification struct {
	ThumbnailURL string
	Title        string
	Body         string
	Link         string
	Sound        bool
	MessageID    string
	// MarkReadOnOpen asks the sink to offer a "mark read" action.
	MarkReadOnOpen bool
}
