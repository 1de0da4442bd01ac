// Package discord connects to the Discord gateway and feeds guild messages
// to the tracker.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"keyword_tracker/internal/model"
)

// Intents requested from the gateway.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentMessageContent

// Sink receives messages and owns the settings.
type Sink interface {
	Submit(msg model.Message) bool
	Update(ctx context.Context, fn func(*model.Settings) error) error
}

// Session wraps a discordgo session.
type Session struct {
	dg  *discordgo.Session
	dir *Directory
	log *slog.Logger
}

// New creates a session for the bot token. It does not connect.
func New(token string, log *slog.Logger) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = Intents
	dg.StateEnabled = true

	return &Session{
		dg:  dg,
		dir: NewDirectory(dg.State, dg),
		log: log,
	}, nil
}

// Directory returns the channel and guild directory backed by this session.
func (s *Session) Directory() *Directory {
	return s.dir
}

// Run connects to the gateway, forwards events to sink and blocks until ctx
// is cancelled.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	removeReady := s.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		s.onReady(ctx, sink, r)
	})
	removeMessage := s.dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		s.onMessageCreate(sink, m)
	})
	defer removeReady()
	defer removeMessage()

	if err := s.dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	s.log.Info("discord session opened")

	<-ctx.Done()

	if err := s.dg.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (s *Session) onReady(ctx context.Context, sink Sink, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	s.log.Info("discord ready", "user_id", r.User.ID, "guilds", len(r.Guilds))

	err := sink.Update(ctx, func(settings *model.Settings) error {
		settings.SelfUserID = r.User.ID
		return nil
	})
	if err != nil {
		s.log.Error("store self user id", "error", err)
	}
}

func (s *Session) onMessageCreate(sink Sink, m *discordgo.MessageCreate) {
	if m.Message == nil {
		return
	}
	sink.Submit(ConvertMessage(m.Message))
}
