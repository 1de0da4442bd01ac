package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSwitch parses an on/off argument.
func ParseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

// ParseSnowflake extracts a Discord ID from the first argument.
func ParseSnowflake(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", fmt.Errorf("ID is required")
	}
	id := parts[0]
	if !isDigits(id) {
		return "", fmt.Errorf("invalid ID %q", id)
	}
	return id, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseIndexArg extracts a 1-based list position.
func ParseIndexArg(args string) (int, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return 0, fmt.Errorf("number is required")
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid number %q", parts[0])
	}
	return n, nil
}

// ParseSetArgs parses "<option> <on|off>".
func ParseSetArgs(args string) (string, bool, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", false, fmt.Errorf("usage: /set <option> <on|off>")
	}
	opt := strings.ToLower(parts[0])
	if _, ok := switches[opt]; !ok {
		return "", false, fmt.Errorf("unknown option %q, use: %s", parts[0], strings.Join(switchNames(), ", "))
	}
	on, err := ParseSwitch(parts[1])
	if err != nil {
		return "", false, err
	}
	return opt, on, nil
}

// ParseGuildArgs parses "<guild_id> <on|off>".
func ParseGuildArgs(args string) (string, bool, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", false, fmt.Errorf("usage: /guild <guild_id> <on|off>")
	}
	id, err := ParseSnowflake(parts[0])
	if err != nil {
		return "", false, err
	}
	on, err := ParseSwitch(parts[1])
	if err != nil {
		return "", false, err
	}
	return id, on, nil
}

// ChannelArgs holds the parsed arguments of /channel.
type ChannelArgs struct {
	GuildID   string
	ChannelID string
	On        bool
}

// ParseChannelArgs parses "<guild_id> <channel_id> <on|off>".
func ParseChannelArgs(args string) (ChannelArgs, error) {
	parts := strings.Fields(args)
	if len(parts) != 3 {
		return ChannelArgs{}, fmt.Errorf("usage: /channel <guild_id> <channel_id> <on|off>")
	}
	guildID, err := ParseSnowflake(parts[0])
	if err != nil {
		return ChannelArgs{}, err
	}
	channelID, err := ParseSnowflake(parts[1])
	if err != nil {
		return ChannelArgs{}, err
	}
	on, err := ParseSwitch(parts[2])
	if err != nil {
		return ChannelArgs{}, err
	}
	return ChannelArgs{GuildID: guildID, ChannelID: channelID, On: on}, nil
}
