package relay

import "regexp"

// doubleBraceRe matches unexpanded template interpolation like {{phone}}.
// Such values mean the upstream caller failed to substitute a variable;
// dialing one would misdial, so they are skipped everywhere.
var doubleBraceRe = regexp.MustCompile(`\{\{[^}]*\}\}`)

// PlaceholderMatcher detects unexpanded template placeholders. Extra
// patterns can be supplied through configuration.
type PlaceholderMatcher struct {
	patterns []*regexp.Regexp
}

// NewPlaceholderMatcher builds a matcher with the default double-brace
// pattern plus any configured extras. Invalid extra patterns are ignored.
func NewPlaceholderMatcher(extra []string) *PlaceholderMatcher {
	m := &PlaceholderMatcher{patterns: []*regexp.Regexp{doubleBraceRe}}
	for _, raw := range extra {
		if re, err := regexp.Compile(raw); err == nil {
			m.patterns = append(m.patterns, re)
		}
	}
	return m
}

// Match reports whether the value contains an unexpanded placeholder.
// A nil matcher applies only the default pattern.
func (m *PlaceholderMatcher) Match(value string) bool {
	if m == nil {
		return doubleBraceRe.MatchString(value)
	}
	for _, re := range m.patterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
