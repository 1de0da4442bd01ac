// Package engine decides, for each incoming guild message, whether it
// should raise a notification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"keyword_tracker/internal/gate"
	"keyword_tracker/internal/inbox"
	"keyword_tracker/internal/model"
	"keyword_tracker/internal/rule"
)

// Errors reported in Result.Err.
var (
	ErrMissingAuthor = errors.New("message has no author")
	ErrFault         = errors.New("engine fault")
)

// Directory resolves channels, guilds and messages from the host client.
type Directory interface {
	Channel(id string) (*model.Channel, error)
	Guild(id string) (*model.Guild, error)
	Message(channelID, messageID string) (*model.Message, error)
}

// Notifier delivers notifications. Delivery is fire and forget.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// Saver persists settings after the engine registers a new guild.
type Saver interface {
	SaveSettings(ctx context.Context, s *model.Settings) error
}

// Outcome classifies a Result.
type Outcome int

// Possible outcomes of Evaluate.
const (
	NoMatch Outcome = iota
	Matched
	Faulted
)

func (o Outcome) String() string {
	switch o {
	case NoMatch:
		return "no match"
	case Matched:
		return "matched"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Drop reasons reported in Result.Reason.
const (
	ReasonSelf            = "own message"
	ReasonBlocked         = "blocked user"
	ReasonEmpty           = "empty message"
	ReasonBot             = "bot author"
	ReasonDirect          = "not a guild channel"
	ReasonUnknownGuild    = "unknown guild"
	ReasonMissingAuthor   = "missing author"
	ReasonChannelDisabled = "channel disabled"
	ReasonNoRule          = "no rule matched"
)

// Result is the outcome of evaluating one message.
type Result struct {
	Outcome Outcome
	Event   *model.MatchEvent
	Reason  string
	Err     error
}

// Engine evaluates messages against the tracker settings.
type Engine struct {
	dir      Directory
	inbox    inbox.Store
	notifier Notifier
	saver    Saver
	log      *slog.Logger
}

// New creates an Engine.
func New(dir Directory, store inbox.Store, notifier Notifier, saver Saver, log *slog.Logger) *Engine {
	return &Engine{
		dir:      dir,
		inbox:    store,
		notifier: notifier,
		saver:    saver,
		log:      log,
	}
}

// Evaluate runs the decision pipeline for msg. It may register the
// message's guild in s. It never panics; internal faults are reported as
// Faulted.
func (e *Engine) Evaluate(ctx context.Context, s *model.Settings, msg model.Message) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("evaluate message", "message_id", msg.ID, "panic", r)
			res = Result{Outcome: Faulted, Err: fmt.Errorf("%w: %v", ErrFault, r)}
		}
	}()

	if msg.AuthorID == "" {
		fetched, err := e.dir.Message(msg.ChannelID, msg.ID)
		if err != nil || fetched == nil || fetched.AuthorID == "" {
			return drop(ReasonMissingAuthor, ErrMissingAuthor)
		}
		msg = *fetched
	}

	if !s.AllowSelf && msg.AuthorID == s.SelfUserID {
		return drop(ReasonSelf, nil)
	}
	if s.IsBlocked(msg.AuthorID) {
		return drop(ReasonBlocked, nil)
	}
	if msg.Content == "" && len(msg.Embeds) == 0 {
		return drop(ReasonEmpty, nil)
	}
	if msg.AuthorIsBot && !s.AllowBots {
		return drop(ReasonBot, nil)
	}

	channel, err := e.dir.Channel(msg.ChannelID)
	if err != nil {
		return drop(ReasonDirect, fmt.Errorf("lookup channel %s: %w", msg.ChannelID, err))
	}
	if channel == nil || channel.GuildID == "" {
		return drop(ReasonDirect, nil)
	}
	if msg.GuildID == "" {
		msg.GuildID = channel.GuildID
	}

	created, err := gate.Ensure(s, e.dir, channel.GuildID)
	if err != nil {
		return drop(ReasonUnknownGuild, err)
	}
	if created {
		e.log.Info("registered guild", "guild_id", channel.GuildID)
		if err := e.saver.SaveSettings(ctx, s); err != nil {
			e.log.Error("save settings", "error", err)
		}
	}
	if !gate.IsEnabled(s, channel.GuildID, channel.ID) {
		return drop(ReasonChannelDisabled, nil)
	}

	for _, userID := range s.AllowList {
		if userID != msg.AuthorID {
			continue
		}
		return e.emit(ctx, s, msg, channel, match{
			label: "User ID " + msg.AuthorID,
			kind:  model.MatchUser,
		})
	}

	var embeds *string
	for _, raw := range s.Rules {
		r, err := rule.Parse(raw)
		if err != nil {
			if !errors.Is(err, rule.ErrEmpty) {
				e.log.Warn("skip rule", "rule", raw, "error", err)
			}
			continue
		}
		if !r.Scope.Matches(&msg) {
			continue
		}
		hit := r.MatchString(msg.Content)
		if !hit && s.AllowEmbeds && len(msg.Embeds) > 0 {
			if embeds == nil {
				text := embedText(msg.Embeds)
				embeds = &text
			}
			hit = r.MatchString(*embeds)
		}
		if hit {
			return e.emit(ctx, s, msg, channel, match{
				label: r.Source,
				kind:  model.MatchKeyword,
				rule:  r,
			})
		}
	}

	return drop(ReasonNoRule, nil)
}

type match struct {
	label string
	kind  model.MatchKind
	rule  rule.Rule
}

func (e *Engine) emit(ctx context.Context, s *model.Settings, msg model.Message, channel *model.Channel, m match) Result {
	guildName := msg.GuildID
	if g, err := e.dir.Guild(msg.GuildID); err == nil && g != nil && g.Name != "" {
		guildName = g.Name
	}

	msg.MatchLabel = m.label
	ev := model.MatchEvent{
		Message:     msg,
		GuildName:   guildName,
		ChannelName: channel.Name,
		MatchLabel:  m.label,
		Kind:        m.kind,
	}

	e.log.Info("match found",
		"kind", m.kind,
		"label", m.label,
		"message_id", msg.ID,
		"guild", guildName,
		"channel", channel.Name,
	)

	if err := e.inbox.Append(ctx, ev); err != nil {
		e.log.Error("append to inbox", "message_id", msg.ID, "error", err)
	}
	e.notifier.Notify(ctx, notificationFor(s, ev, m))

	return Result{Outcome: Matched, Event: &ev}
}

func notificationFor(s *model.Settings, ev model.MatchEvent, m match) model.Notification {
	msg := ev.Message
	n := model.Notification{
		ThumbnailURL:   msg.AvatarURL(),
		Link:           msg.JumpURL(),
		Sound:          s.Notifications,
		MessageID:      msg.ID,
		MarkReadOnOpen: s.MarkJumpedRead,
	}
	switch m.kind {
	case model.MatchUser:
		n.Title = fmt.Sprintf("User match in %s!", ev.GuildName)
		n.Body = fmt.Sprintf("%s typed in #%s.", msg.AuthorName, ev.ChannelName)
	default:
		n.Title = fmt.Sprintf("Keyword match in %s!", ev.GuildName)
		n.Body = fmt.Sprintf("%s matched %s in #%s.", msg.AuthorName, m.rule, ev.ChannelName)
	}
	return n
}

func drop(reason string, err error) Result {
	return Result{Outcome: NoMatch, Reason: reason, Err: err}
}
