// Package rule parses keyword rule lines into scoped, compiled patterns.
//
// A rule line has the form
//
//	[@<userId>|#<channelId>|<guildId>:]<keyword or /regex/flags>
//
// A bare keyword is matched literally and case-sensitively. The slash form
// is a regular expression; the i, m and s flags map to the matching inline
// flags, y anchors the match at the start of the text, g, u and d are
// accepted and ignored.
package rule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	scopePrefix = regexp.MustCompile(`^([@#]?)(\d+):(.*)$`)
	slashRegex  = regexp.MustCompile(`^/(.*)/([a-z]*)$`)
)

// ErrEmpty is returned for rule lines without any keyword text.
var ErrEmpty = errors.New("empty rule")

// CompileError reports a rule whose pattern cannot be compiled.
type CompileError struct {
	Raw string
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile rule %q: %v", e.Raw, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Rule is a parsed rule line.
type Rule struct {
	Raw      string
	Scope    *Scope
	Pattern  *regexp.Regexp
	Source   string
	Flags    string
	Explicit bool
}

// Parse parses one rule line. It returns a *CompileError when the pattern
// is invalid and ErrEmpty when the line is blank.
func Parse(raw string) (Rule, error) {
	if strings.TrimSpace(raw) == "" {
		return Rule{}, ErrEmpty
	}

	r := Rule{Raw: raw}
	body := raw
	if m := scopePrefix.FindStringSubmatch(raw); m != nil {
		r.Scope = &Scope{Kind: kindFromSigil(m[1]), ID: m[2]}
		body = m[3]
	}

	if m := slashRegex.FindStringSubmatch(body); m != nil {
		r.Explicit = true
		r.Source = m[1]
		r.Flags = m[2]
	} else {
		r.Source = regexp.QuoteMeta(body)
	}

	prefix, sticky, err := inlineFlags(r.Flags)
	if err != nil {
		return Rule{}, &CompileError{Raw: raw, Err: err}
	}
	expr := prefix + r.Source
	if sticky {
		expr = prefix + `\A(?:` + r.Source + `)`
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, &CompileError{Raw: raw, Err: err}
	}
	r.Pattern = re
	return r, nil
}

// Validate checks a rule line without keeping the result.
func Validate(raw string) error {
	_, err := Parse(raw)
	return err
}

// MatchString reports whether the rule's pattern matches s.
func (r Rule) MatchString(s string) bool {
	return r.Pattern != nil && r.Pattern.MatchString(s)
}

// String renders the pattern in slash form, e.g. /urgent/i.
func (r Rule) String() string {
	return "/" + r.Source + "/" + r.Flags
}

// inlineFlags converts slash flags to an RE2 inline flag group. sticky is
// set for y, which only matches at index 0.
func inlineFlags(flags string) (prefix string, sticky bool, err error) {
	var (
		seen   = make(map[rune]bool, len(flags))
		inline strings.Builder
	)
	for _, f := range flags {
		if seen[f] {
			return "", false, fmt.Errorf("duplicate flag %q", f)
		}
		seen[f] = true
		switch f {
		case 'i', 'm', 's':
			inline.WriteRune(f)
		case 'y':
			sticky = true
		case 'g', 'u', 'd':
		default:
			return "", false, fmt.Errorf("unsupported flag %q", f)
		}
	}
	if inline.Len() == 0 {
		return "", sticky, nil
	}
	return "(?" + inline.String() + ")", sticky, nil
}
