package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"keyword_tracker/internal/inbox"
	"keyword_tracker/internal/model"
)

// --- mocks ---

type mockDirectory struct {
	channels map[string]*model.Channel
	guilds   map[string]*model.Guild
	messages map[string]*model.Message
	panicOn  string
}

func (m *mockDirectory) Channel(id string) (*model.Channel, error) {
	if id == m.panicOn {
		panic("directory exploded")
	}
	c, ok := m.channels[id]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return c, nil
}

func (m *mockDirectory) Guild(id string) (*model.Guild, error) {
	g, ok := m.guilds[id]
	if !ok {
		return nil, errors.New("unknown guild")
	}
	return g, nil
}

func (m *mockDirectory) Message(_, messageID string) (*model.Message, error) {
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, errors.New("unknown message")
	}
	return msg, nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (m *mockNotifier) Notify(_ context.Context, n model.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockSaver struct {
	saves int
	err   error
}

func (m *mockSaver) SaveSettings(_ context.Context, _ *model.Settings) error {
	m.saves++
	return m.err
}

// --- helpers ---

const (
	selfID    = "1"
	guildID   = "900"
	channelID = "100"
)

func newDirectory() *mockDirectory {
	return &mockDirectory{
		channels: map[string]*model.Channel{
			channelID: {ID: channelID, GuildID: guildID, Type: model.ChannelText, Name: "general"},
			"101":     {ID: "101", GuildID: guildID, Type: model.ChannelText, Name: "random"},
			"102":     {ID: "102", GuildID: guildID, Type: model.ChannelText, Name: "jobs"},
			"200":     {ID: "200", Type: model.ChannelDM, Name: ""},
			"300":     {ID: "300", GuildID: "404", Type: model.ChannelText, Name: "lost"},
		},
		guilds: map[string]*model.Guild{
			guildID: {
				ID:   guildID,
				Name: "Gophers",
				Channels: []model.Channel{
					{ID: channelID, GuildID: guildID, Type: model.ChannelText, Name: "general"},
					{ID: "101", GuildID: guildID, Type: model.ChannelText, Name: "random"},
					{ID: "102", GuildID: guildID, Type: model.ChannelText, Name: "jobs"},
				},
			},
		},
		messages: map[string]*model.Message{},
	}
}

// memInbox keeps matches in a map and lists them through inbox.Visible.
type memInbox struct {
	mu      sync.Mutex
	entries map[string]model.MatchEvent
}

func newMemInbox() *memInbox {
	return &memInbox{entries: make(map[string]model.MatchEvent)}
}

func (m *memInbox) Append(_ context.Context, ev model.MatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ev.Message.ID] = ev
	return nil
}

func (m *memInbox) ListVisible(_ context.Context, now time.Time) ([]model.MatchEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]model.MatchEvent, 0, len(m.entries))
	for _, ev := range m.entries {
		all = append(all, ev)
	}
	return inbox.Visible(all, now), nil
}

func (m *memInbox) MarkRead(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[messageID]; !ok {
		return inbox.ErrNotFound
	}
	delete(m.entries, messageID)
	return nil
}

func (m *memInbox) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]model.MatchEvent)
	return nil
}

func (m *memInbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type fixture struct {
	engine   *Engine
	dir      *mockDirectory
	inbox    *memInbox
	notifier *mockNotifier
	saver    *mockSaver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:      newDirectory(),
		inbox:    newMemInbox(),
		notifier: &mockNotifier{},
		saver:    &mockSaver{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(f.dir, f.inbox, f.notifier, f.saver, log)
	return f
}

func newSettings(rules ...string) *model.Settings {
	s := model.DefaultSettings()
	s.SelfUserID = selfID
	s.Rules = rules
	return s
}

func msg(authorID, content string) model.Message {
	return model.Message{
		ID:         "m-" + authorID + "-" + content,
		AuthorID:   authorID,
		AuthorName: "user" + authorID,
		Content:    content,
		ChannelID:  channelID,
		GuildID:    guildID,
		CreatedAt:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func label(res Result) string {
	if res.Event == nil {
		return ""
	}
	return res.Event.MatchLabel
}

// --- tests ---

func TestEvaluatePipeline(t *testing.T) {
	tests := []struct {
		name       string
		settings   func() *model.Settings
		msg        func() model.Message
		wantOut    Outcome
		wantReason string
		wantLabel  string
	}{
		{
			name:       "own message dropped",
			settings:   func() *model.Settings { return newSettings("hello") },
			msg:        func() model.Message { return msg(selfID, "hello") },
			wantOut:    NoMatch,
			wantReason: ReasonSelf,
		},
		{
			name: "own message allowed",
			settings: func() *model.Settings {
				s := newSettings("hello")
				s.AllowSelf = true
				return s
			},
			msg:       func() model.Message { return msg(selfID, "hello") },
			wantOut:   Matched,
			wantLabel: "hello",
		},
		{
			name: "blocked author dropped regardless of content",
			settings: func() *model.Settings {
				s := newSettings("hello")
				s.BlockList = []string{"7"}
				s.AllowList = []string{"7"}
				return s
			},
			msg:        func() model.Message { return msg("7", "hello") },
			wantOut:    NoMatch,
			wantReason: ReasonBlocked,
		},
		{
			name:       "empty message dropped",
			settings:   func() *model.Settings { return newSettings("1:") },
			msg:        func() model.Message { return msg("7", "") },
			wantOut:    NoMatch,
			wantReason: ReasonEmpty,
		},
		{
			name: "bot dropped when bots disallowed",
			settings: func() *model.Settings {
				s := newSettings("hello")
				s.AllowBots = false
				return s
			},
			msg: func() model.Message {
				m := msg("7", "hello")
				m.AuthorIsBot = true
				return m
			},
			wantOut:    NoMatch,
			wantReason: ReasonBot,
		},
		{
			name:     "bot allowed by default",
			settings: func() *model.Settings { return newSettings("hello") },
			msg: func() model.Message {
				m := msg("7", "hello")
				m.AuthorIsBot = true
				return m
			},
			wantOut:   Matched,
			wantLabel: "hello",
		},
		{
			name:     "direct message dropped",
			settings: func() *model.Settings { return newSettings("hello") },
			msg: func() model.Message {
				m := msg("7", "hello")
				m.ChannelID = "200"
				m.GuildID = ""
				return m
			},
			wantOut:    NoMatch,
			wantReason: ReasonDirect,
		},
		{
			name:     "unknown guild dropped",
			settings: func() *model.Settings { return newSettings("hello") },
			msg: func() model.Message {
				m := msg("7", "hello")
				m.ChannelID = "300"
				m.GuildID = "404"
				return m
			},
			wantOut:    NoMatch,
			wantReason: ReasonUnknownGuild,
		},
		{
			name: "disabled channel dropped",
			settings: func() *model.Settings {
				s := newSettings("hello")
				s.Guilds[guildID] = &model.GuildGate{Enabled: true, Channels: map[string]bool{channelID: false}}
				return s
			},
			msg:        func() model.Message { return msg("7", "hello") },
			wantOut:    NoMatch,
			wantReason: ReasonChannelDisabled,
		},
		{
			name: "channel missing from existing entry dropped",
			settings: func() *model.Settings {
				s := newSettings("hello")
				s.Guilds[guildID] = &model.GuildGate{Enabled: true, Channels: map[string]bool{"101": true}}
				return s
			},
			msg:        func() model.Message { return msg("7", "hello") },
			wantOut:    NoMatch,
			wantReason: ReasonChannelDisabled,
		},
		{
			name: "allow list suppresses keyword rules",
			settings: func() *model.Settings {
				s := newSettings("hello")
				s.AllowList = []string{"3", "7"}
				return s
			},
			msg:       func() model.Message { return msg("7", "hello world") },
			wantOut:   Matched,
			wantLabel: "User ID 7",
		},
		{
			name:      "first matching rule wins",
			settings:  func() *model.Settings { return newSettings("world", "hello") },
			msg:       func() model.Message { return msg("7", "hello world") },
			wantOut:   Matched,
			wantLabel: "world",
		},
		{
			name:       "literal keyword is case sensitive",
			settings:   func() *model.Settings { return newSettings("sale") },
			msg:        func() model.Message { return msg("7", "Big SALE") },
			wantOut:    NoMatch,
			wantReason: ReasonNoRule,
		},
		{
			name:      "explicit case-insensitive regex",
			settings:  func() *model.Settings { return newSettings("/sale/i") },
			msg:       func() model.Message { return msg("7", "Big SALE") },
			wantOut:   Matched,
			wantLabel: "sale",
		},
		{
			name:      "bad rule skipped, later rule still evaluated",
			settings:  func() *model.Settings { return newSettings("/[broken/", "", "hello") },
			msg:       func() model.Message { return msg("7", "hello") },
			wantOut:   Matched,
			wantLabel: "hello",
		},
		{
			name:      "channel scoped rule",
			settings:  func() *model.Settings { return newSettings("#101:hello", "#100:/hel+o/") },
			msg:       func() model.Message { return msg("7", "hello") },
			wantOut:   Matched,
			wantLabel: "hel+o",
		},
		{
			name:       "guild scoped rule mismatch",
			settings:   func() *model.Settings { return newSettings("901:hello") },
			msg:        func() model.Message { return msg("7", "hello") },
			wantOut:    NoMatch,
			wantReason: ReasonNoRule,
		},
		{
			name:     "guild id defaults to the channel's guild",
			settings: func() *model.Settings { return newSettings("900:hello") },
			msg: func() model.Message {
				m := msg("7", "hello")
				m.GuildID = ""
				return m
			},
			wantOut:   Matched,
			wantLabel: "hello",
		},
		{
			name:     "embed content matches",
			settings: func() *model.Settings { return newSettings("release") },
			msg: func() model.Message {
				m := msg("7", "")
				m.Embeds = []any{map[string]any{"title": "New release", "fields": []any{map[string]any{"name": "v2"}}}}
				return m
			},
			wantOut:   Matched,
			wantLabel: "release",
		},
		{
			name: "embeds ignored when disabled",
			settings: func() *model.Settings {
				s := newSettings("release")
				s.AllowEmbeds = false
				return s
			},
			msg: func() model.Message {
				m := msg("7", "see embed")
				m.Embeds = []any{map[string]any{"title": "New release"}}
				return m
			},
			wantOut:    NoMatch,
			wantReason: ReasonNoRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.engine.Evaluate(context.Background(), tt.settings(), tt.msg())

			if diff := cmp.Diff(tt.wantOut, res.Outcome); diff != "" {
				t.Errorf("outcome mismatch (-want +got):\n%s (reason %q, err %v)", diff, res.Reason, res.Err)
			}
			if diff := cmp.Diff(tt.wantReason, res.Reason); diff != "" {
				t.Errorf("reason mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantLabel, label(res)); diff != "" {
				t.Errorf("label mismatch (-want +got):\n%s", diff)
			}

			wantEvents := 0
			if tt.wantOut == Matched {
				wantEvents = 1
			}
			if diff := cmp.Diff(wantEvents, f.inbox.Len()); diff != "" {
				t.Errorf("inbox size (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(wantEvents, f.notifier.count()); diff != "" {
				t.Errorf("notification count (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUserScopedScenario(t *testing.T) {
	f := newFixture(t)
	s := newSettings("hello", "@42:urgent")
	ctx := context.Background()

	res := f.engine.Evaluate(ctx, s, msg("42", "urgent matter"))
	if diff := cmp.Diff("urgent", label(res)); diff != "" {
		t.Errorf("author 42 label (-want +got):\n%s", diff)
	}

	res = f.engine.Evaluate(ctx, s, msg("7", "urgent matter"))
	if diff := cmp.Diff(NoMatch, res.Outcome); diff != "" {
		t.Errorf("author 7 outcome (-want +got):\n%s", diff)
	}
}

func TestLazyGuildRegistration(t *testing.T) {
	f := newFixture(t)
	s := newSettings("hello")
	ctx := context.Background()

	res := f.engine.Evaluate(ctx, s, msg("7", "hello"))
	if diff := cmp.Diff(Matched, res.Outcome); diff != "" {
		t.Fatalf("outcome (-want +got):\n%s", diff)
	}

	want := &model.GuildGate{
		Enabled:  true,
		Channels: map[string]bool{channelID: true, "101": true, "102": true},
	}
	if diff := cmp.Diff(want, s.Guilds[guildID]); diff != "" {
		t.Errorf("gate entry (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, f.saver.saves); diff != "" {
		t.Errorf("saves after first message (-want +got):\n%s", diff)
	}

	f.engine.Evaluate(ctx, s, msg("7", "hello again"))
	if diff := cmp.Diff(1, f.saver.saves); diff != "" {
		t.Errorf("saves after second message (-want +got):\n%s", diff)
	}
}

func TestSaveErrorDoesNotStopEvaluation(t *testing.T) {
	f := newFixture(t)
	f.saver.err = errors.New("disk full")

	res := f.engine.Evaluate(context.Background(), newSettings("hello"), msg("7", "hello"))
	if diff := cmp.Diff(Matched, res.Outcome); diff != "" {
		t.Errorf("outcome (-want +got):\n%s", diff)
	}
}

func TestMissingAuthor(t *testing.T) {
	t.Run("refetched", func(t *testing.T) {
		f := newFixture(t)
		full := msg("7", "hello")
		f.dir.messages[full.ID] = &full

		partial := model.Message{ID: full.ID, ChannelID: channelID}
		res := f.engine.Evaluate(context.Background(), newSettings("hello"), partial)
		if diff := cmp.Diff(Matched, res.Outcome); diff != "" {
			t.Errorf("outcome (-want +got):\n%s", diff)
		}
	})

	t.Run("refetch fails", func(t *testing.T) {
		f := newFixture(t)
		partial := model.Message{ID: "gone", ChannelID: channelID, Content: "hello"}
		res := f.engine.Evaluate(context.Background(), newSettings("hello"), partial)
		if diff := cmp.Diff(ReasonMissingAuthor, res.Reason); diff != "" {
			t.Errorf("reason (-want +got):\n%s", diff)
		}
		if !errors.Is(res.Err, ErrMissingAuthor) {
			t.Errorf("expected ErrMissingAuthor, got %v", res.Err)
		}
	})
}

func TestEvaluateRecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	f.dir.panicOn = channelID

	res := f.engine.Evaluate(context.Background(), newSettings("hello"), msg("7", "hello"))
	if diff := cmp.Diff(Faulted, res.Outcome); diff != "" {
		t.Errorf("outcome (-want +got):\n%s", diff)
	}
	if !errors.Is(res.Err, ErrFault) {
		t.Errorf("expected ErrFault, got %v", res.Err)
	}

	f.dir.panicOn = ""
	res = f.engine.Evaluate(context.Background(), newSettings("hello"), msg("7", "hello"))
	if diff := cmp.Diff(Matched, res.Outcome); diff != "" {
		t.Errorf("next message outcome (-want +got):\n%s", diff)
	}
}

func TestMatchEventAndNotification(t *testing.T) {
	f := newFixture(t)
	s := newSettings("/deploy/i")
	s.MarkJumpedRead = true
	in := msg("7", "Deploy done")
	in.AuthorAvatar = "abc"

	res := f.engine.Evaluate(context.Background(), s, in)
	if res.Event == nil {
		t.Fatalf("expected event, got %+v", res)
	}

	wantEvent := model.MatchEvent{
		Message:     in,
		GuildName:   "Gophers",
		ChannelName: "general",
		MatchLabel:  "deploy",
		Kind:        model.MatchKeyword,
	}
	wantEvent.Message.MatchLabel = "deploy"
	if diff := cmp.Diff(wantEvent, *res.Event); diff != "" {
		t.Errorf("event (-want +got):\n%s", diff)
	}
	if in.MatchLabel != "" {
		t.Error("caller's message must not be annotated")
	}

	want := model.Notification{
		ThumbnailURL:   "https://cdn.discordapp.com/avatars/7/abc.webp?size=256",
		Title:          "Keyword match in Gophers!",
		Body:           "user7 matched /deploy/i in #general.",
		Link:           "https://discord.com/channels/900/100/" + in.ID,
		Sound:          true,
		MessageID:      in.ID,
		MarkReadOnOpen: true,
	}
	if diff := cmp.Diff([]model.Notification{want}, f.notifier.sent); diff != "" {
		t.Errorf("notification (-want +got):\n%s", diff)
	}

	listed, _ := f.inbox.ListVisible(context.Background(), in.CreatedAt)
	if diff := cmp.Diff([]model.MatchEvent{wantEvent}, listed); diff != "" {
		t.Errorf("inbox (-want +got):\n%s", diff)
	}
}

func TestAllowListNotification(t *testing.T) {
	f := newFixture(t)
	s := newSettings()
	s.AllowList = []string{"7"}

	f.engine.Evaluate(context.Background(), s, msg("7", "anything"))

	if diff := cmp.Diff(1, f.notifier.count()); diff != "" {
		t.Fatalf("notification count (-want +got):\n%s", diff)
	}
	n := f.notifier.sent[0]
	if diff := cmp.Diff("User match in Gophers!", n.Title); diff != "" {
		t.Errorf("title (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("user7 typed in #general.", n.Body); diff != "" {
		t.Errorf("body (-want +got):\n%s", diff)
	}
	if n.ThumbnailURL != "" {
		t.Errorf("no avatar should give no thumbnail, got %q", n.ThumbnailURL)
	}
}

func TestEmbedText(t *testing.T) {
	embeds := []any{
		map[string]any{
			"title":       "Patch <notes>",
			"description": nil,
			"fields": []any{
				map[string]any{"name": "a", "value": "b", "inline": true},
			},
			"color": float64(42),
		},
		"loose",
	}
	got := embedText(embeds)
	want := `[42,true,"a","b","Patch <notes>","loose"]`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("embedText (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(embedText(nil), "[") {
		t.Errorf("empty embeds should encode as an array, got %q", embedText(nil))
	}
}
