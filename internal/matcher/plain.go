package matcher

import (
	"regexp"
	"strings"
)

var escapeRegex = regexp.MustCompile(`\\(.)`)

// Unescape removes backslash escapes so a plain-text pattern can be compared
// with the text it is meant to find.
func Unescape(pattern string) string {
	return escapeRegex.ReplaceAllString(pattern, "$1")
}

// IsPlain reports whether pattern is plain text rather than a regular
// expression. Plain text matches its own unescaped form exactly and contains
// no unescaped '.', '?' or '*'. Patterns that do not compile are not plain.
// Used when authoring signatures; detection never depends on it.
func IsPlain(pattern string) bool {
	re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
	if err != nil {
		return false
	}
	if !re.MatchString(Unescape(pattern)) {
		return false
	}
	return !hasUnescapedWildcard(pattern)
}

func hasUnescapedWildcard(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if !strings.ContainsRune(".?*", rune(pattern[i])) {
			continue
		}
		if i > 0 && pattern[i-1] == '\\' {
			continue
		}
		return true
	}
	return false
}
