package discord

import (
	"encoding/json"
	"sort"

	"github.com/bwmarrin/discordgo"

	"keyword_tracker/internal/model"
)

// ConvertMessage maps a gateway message to the tracker's message type.
// Embeds are kept as generic JSON values.
func ConvertMessage(m *discordgo.Message) model.Message {
	msg := model.Message{
		ID:        m.ID,
		Content:   m.Content,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		CreatedAt: m.Timestamp.UTC(),
		Embeds:    embedValues(m.Embeds),
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = displayName(m.Author)
		msg.AuthorAvatar = m.Author.Avatar
		msg.AuthorIsBot = m.Author.Bot
	}
	if msg.CreatedAt.IsZero() {
		if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
			msg.CreatedAt = ts.UTC()
		}
	}
	return msg
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func embedValues(embeds []*discordgo.MessageEmbed) []any {
	if len(embeds) == 0 {
		return nil
	}
	raw, err := json.Marshal(embeds)
	if err != nil {
		return nil
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// ConvertChannel maps a gateway channel. Announcement channels count as
// text channels.
func ConvertChannel(c *discordgo.Channel) model.Channel {
	return model.Channel{
		ID:      c.ID,
		GuildID: c.GuildID,
		Name:    c.Name,
		Type:    channelType(c.Type),
	}
}

func channelType(t discordgo.ChannelType) model.ChannelType {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return model.ChannelText
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return model.ChannelVoice
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return model.ChannelDM
	default:
		return model.ChannelOther
	}
}

// ConvertGuild maps a guild together with the given channels, ordered by
// their position in the channel list.
func ConvertGuild(g *discordgo.Guild, channels []*discordgo.Channel) model.Guild {
	out := model.Guild{ID: g.ID, Name: g.Name}
	sorted := make([]*discordgo.Channel, 0, len(channels))
	for _, c := range channels {
		if c != nil {
			sorted = append(sorted, c)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})
	for _, c := range sorted {
		ch := ConvertChannel(c)
		if ch.GuildID == "" {
			ch.GuildID = g.ID
		}
		out.Channels = append(out.Channels, ch)
	}
	return out
}
