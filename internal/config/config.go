// Package config reads the tracker configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultDatabasePath = "./data/tracker.db"
	defaultLogLevel     = "info"
	defaultQueueSize    = 256
)

// Config holds the application configuration.
type Config struct {
	DiscordToken     string
	TelegramBotToken string
	// TelegramChatID receives match notifications.
	TelegramChatID int64
	DatabasePath   string
	LogLevel       string
	// AllowedUsers may run bot commands. Empty means everyone.
	AllowedUsers []int64
	QueueSize    int
	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	discordToken, err := required("DISCORD_TOKEN")
	if err != nil {
		return nil, err
	}
	telegramToken, err := required("TELEGRAM_BOT_TOKEN")
	if err != nil {
		return nil, err
	}

	rawChat, err := required("TELEGRAM_CHAT_ID")
	if err != nil {
		return nil, err
	}
	chatID, err := strconv.ParseInt(rawChat, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", rawChat, err)
	}

	queueSize := defaultQueueSize
	if raw := os.Getenv("QUEUE_SIZE"); raw != "" {
		queueSize, err = strconv.Atoi(raw)
		if err != nil || queueSize < 1 {
			return nil, fmt.Errorf("QUEUE_SIZE must be a positive integer, got %q", raw)
		}
	}

	allowedUsers, err := parseUserIDs(os.Getenv("ALLOWED_USERS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		DiscordToken:     discordToken,
		TelegramBotToken: telegramToken,
		TelegramChatID:   chatID,
		DatabasePath:     withDefault("DATABASE_PATH", defaultDatabasePath),
		LogLevel:         withDefault("LOG_LEVEL", defaultLogLevel),
		AllowedUsers:     allowedUsers,
		QueueSize:        queueSize,
		MetricsAddr:      strings.TrimSpace(os.Getenv("METRICS_ADDR")),
	}, nil
}

func required(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func withDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

// IsUserAllowed checks whether a Telegram user may run commands.
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
