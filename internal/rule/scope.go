package rule

import "keyword_tracker/internal/model"

// Kind selects which message field a scope compares against.
type Kind int

// Scope kinds.
const (
	KindGuild Kind = iota + 1
	KindUser
	KindChannel
)

func kindFromSigil(s string) Kind {
	switch s {
	case "@":
		return KindUser
	case "#":
		return KindChannel
	default:
		return KindGuild
	}
}

func (k Kind) String() string {
	switch k {
	case KindGuild:
		return "guild"
	case KindUser:
		return "user"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Scope restricts a rule to one user, channel or guild.
type Scope struct {
	Kind Kind
	ID   string
}

// Matches reports whether msg falls inside the scope. A nil scope matches
// everything; an unknown kind matches nothing.
func (s *Scope) Matches(msg *model.Message) bool {
	if s == nil {
		return true
	}
	switch s.Kind {
	case KindUser:
		return msg.AuthorID == s.ID
	case KindChannel:
		return msg.ChannelID == s.ID
	case KindGuild:
		return msg.GuildID == s.ID
	default:
		return false
	}
}
