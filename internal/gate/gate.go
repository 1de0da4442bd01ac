// Package gate implements per-guild and per-channel enablement.
package gate

import (
	"errors"
	"fmt"

	"keyword_tracker/internal/model"
)

// ErrUnknownGuild is returned when the directory cannot resolve a guild.
var ErrUnknownGuild = errors.New("unknown guild")

// ErrUnknownChannel is returned by SetChannel for channels that are not
// part of the guild's gate entry.
var ErrUnknownChannel = errors.New("unknown channel")

// GuildLookup resolves a guild and its channel directory.
type GuildLookup interface {
	Guild(id string) (*model.Guild, error)
}

// Ensure makes sure settings has a gate entry for guildID. A new entry has
// the guild and every text channel enabled. It reports whether an entry was
// created so the caller can persist the change.
func Ensure(s *model.Settings, dir GuildLookup, guildID string) (bool, error) {
	if s.Guilds == nil {
		s.Guilds = make(map[string]*model.GuildGate)
	}
	if _, ok := s.Guilds[guildID]; ok {
		return false, nil
	}

	g, err := dir.Guild(guildID)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrUnknownGuild, guildID, err)
	}
	if g == nil {
		return false, fmt.Errorf("%w %s", ErrUnknownGuild, guildID)
	}

	s.Guilds[guildID] = newEntry(g)
	return true, nil
}

func newEntry(g *model.Guild) *model.GuildGate {
	entry := &model.GuildGate{
		Enabled:  true,
		Channels: make(map[string]bool),
	}
	for _, c := range g.TextChannels() {
		entry.Channels[c.ID] = true
	}
	return entry
}

// IsEnabled reports whether messages from the channel should be evaluated.
// Channels missing from the guild's entry count as disabled.
func IsEnabled(s *model.Settings, guildID, channelID string) bool {
	g, ok := s.Guilds[guildID]
	if !ok || g == nil {
		return false
	}
	return g.Enabled && g.Channels[channelID]
}

// SetAll flips the master switch together with every guild and channel.
func SetAll(s *model.Settings, on bool) {
	s.Enabled = on
	for _, g := range s.Guilds {
		if g == nil {
			continue
		}
		g.Enabled = on
		for cid := range g.Channels {
			g.Channels[cid] = on
		}
	}
}

// SetGuild flips a guild and all of its known channels. The guild entry is
// created from the directory when it does not exist yet.
func SetGuild(s *model.Settings, dir GuildLookup, guildID string, on bool) error {
	if _, err := Ensure(s, dir, guildID); err != nil {
		return err
	}
	g := s.Guilds[guildID]
	g.Enabled = on
	for cid := range g.Channels {
		g.Channels[cid] = on
	}
	return nil
}

// SetChannel flips a single channel of a known guild.
func SetChannel(s *model.Settings, guildID, channelID string, on bool) error {
	g, ok := s.Guilds[guildID]
	if !ok || g == nil {
		return fmt.Errorf("%w %s", ErrUnknownGuild, guildID)
	}
	if _, ok := g.Channels[channelID]; !ok {
		return fmt.Errorf("%w %s in guild %s", ErrUnknownChannel, channelID, guildID)
	}
	g.Channels[channelID] = on
	return nil
}

// Repair adds text channels that appeared in the guild after its entry was
// created, enabled. It returns how many were added. The evaluation path
// never calls it; it backs the settings listing.
func Repair(s *model.Settings, g *model.Guild) int {
	entry, ok := s.Guilds[g.ID]
	if !ok || entry == nil {
		return 0
	}
	if entry.Channels == nil {
		entry.Channels = make(map[string]bool)
	}
	added := 0
	for _, c := range g.TextChannels() {
		if _, ok := entry.Channels[c.ID]; ok {
			continue
		}
		entry.Channels[c.ID] = true
		added++
	}
	return added
}
