package discord

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"

	"keyword_tracker/internal/model"
)

// restAPI is the subset of *discordgo.Session used when the state cache
// misses.
type restAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Directory resolves channels, guilds and messages from the gateway state
// cache, falling back to the REST API.
type Directory struct {
	state *discordgo.State
	rest  restAPI
}

// NewDirectory creates a Directory. rest may be nil, in which case only the
// state cache is consulted.
func NewDirectory(state *discordgo.State, rest restAPI) *Directory {
	return &Directory{state: state, rest: rest}
}

// Channel returns a channel by ID.
func (d *Directory) Channel(id string) (*model.Channel, error) {
	c, err := d.state.Channel(id)
	if err != nil {
		if !errors.Is(err, discordgo.ErrStateNotFound) || d.rest == nil {
			return nil, fmt.Errorf("channel %s: %w", id, err)
		}
		c, err = d.rest.Channel(id)
		if err != nil {
			return nil, fmt.Errorf("fetch channel %s: %w", id, err)
		}
	}
	ch := ConvertChannel(c)
	return &ch, nil
}

// Guild returns a guild and its channels by ID.
func (d *Directory) Guild(id string) (*model.Guild, error) {
	g, err := d.state.Guild(id)
	if err == nil {
		d.state.RLock()
		out := ConvertGuild(g, g.Channels)
		d.state.RUnlock()
		return &out, nil
	}
	if !errors.Is(err, discordgo.ErrStateNotFound) || d.rest == nil {
		return nil, fmt.Errorf("guild %s: %w", id, err)
	}

	g, err = d.rest.Guild(id)
	if err != nil {
		return nil, fmt.Errorf("fetch guild %s: %w", id, err)
	}
	channels, err := d.rest.GuildChannels(id)
	if err != nil {
		return nil, fmt.Errorf("fetch guild channels %s: %w", id, err)
	}
	out := ConvertGuild(g, channels)
	return &out, nil
}

// Message fetches a single message. It is used for messages that arrived
// without author data.
func (d *Directory) Message(channelID, messageID string) (*model.Message, error) {
	m, err := d.state.Message(channelID, messageID)
	if err != nil {
		if d.rest == nil {
			return nil, fmt.Errorf("message %s: %w", messageID, err)
		}
		m, err = d.rest.ChannelMessage(channelID, messageID)
		if err != nil {
			return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
		}
	}
	msg := ConvertMessage(m)
	if msg.ChannelID == "" {
		msg.ChannelID = channelID
	}
	return &msg, nil
}

// Guilds lists the guilds known to the state cache, ordered by name.
func (d *Directory) Guilds() []model.Guild {
	d.state.RLock()
	out := make([]model.Guild, 0, len(d.state.Guilds))
	for _, g := range d.state.Guilds {
		out = append(out, ConvertGuild(g, g.Channels))
	}
	d.state.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}
