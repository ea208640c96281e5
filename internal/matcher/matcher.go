// Package matcher evaluates signature patterns against page signals.
//
// A signature pattern is a regular expression optionally followed by
// metadata directives separated by `\;` (for example `nginx(?:/([\d.]+))?\;version:\1`).
// Only the expression before the first separator takes part in matching.
// Matching is a case-insensitive search: a hit anywhere in the subject counts.
package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codinguncut/builtwith/internal/cache"
	"github.com/rs/zerolog/log"
)

// MetadataSeparator splits the match expression from its trailing directives.
const MetadataSeparator = `\;`

type compiled struct {
	re  *regexp.Regexp
	err error
}

// patterns caches compiled expressions keyed by the stripped pattern text.
// Failed compilations are cached too so they are reported only once.
var patterns = cache.NewInMemoryCache[string, compiled]()

// Strip returns the part of pattern before the first metadata separator.
func Strip(pattern string) string {
	if idx := strings.Index(pattern, MetadataSeparator); idx >= 0 {
		return pattern[:idx]
	}
	return pattern
}

// Compile strips metadata from pattern and compiles it case-insensitively.
// Results (including failures) are cached for the life of the process.
func Compile(pattern string) (*regexp.Regexp, error) {
	expr := Strip(pattern)
	c := patterns.GetOrSet(expr, func() compiled {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			log.Warn().
				Err(err).
				Str("pattern", expr).
				Msg("Signature pattern does not compile, it will never match")
			return compiled{err: fmt.Errorf("compile pattern %q: %w", expr, err)}
		}
		return compiled{re: re}
	})
	return c.re, c.err
}

// Matches reports whether pattern is found anywhere in subject.
// Callers skip empty patterns; an empty expression never matches here.
func Matches(subject, pattern string) bool {
	if Strip(pattern) == "" {
		return false
	}
	re, err := Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(subject)
}

// MatchAny reports whether any of patterns matches subject, stopping at the first hit.
func MatchAny(subject string, patterns []string) bool {
	for _, p := range patterns {
		if Matches(subject, p) {
			return true
		}
	}
	return false
}
