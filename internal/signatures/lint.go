package signatures

import (
	"fmt"
	"sort"

	"github.com/codinguncut/builtwith/internal/matcher"
)

// IssueKind classifies a lint finding.
type IssueKind string

const (
	IssueUnknownImplication IssueKind = "unknown_implication"
	IssueInvalidPattern     IssueKind = "invalid_pattern"
	IssuePlainPattern       IssueKind = "plain_pattern"
)

// Issue is a data-quality finding about one rule.
type Issue struct {
	Technology string
	Kind       IssueKind
	Signal     Signal
	Key        string // header or meta name, when relevant
	Pattern    string
	Detail     string
}

func (i Issue) String() string {
	where := string(i.Signal)
	if i.Key != "" {
		where += "[" + i.Key + "]"
	}
	if where == "" {
		return fmt.Sprintf("%s: %s: %s", i.Technology, i.Kind, i.Detail)
	}
	return fmt.Sprintf("%s: %s %s: %s", i.Technology, i.Kind, where, i.Detail)
}

// Lint reports dangling implications, patterns that do not compile and
// patterns that are plain text. Plain patterns are informational: they work,
// but a literal search would do.
func (s *Store) Lint() []Issue {
	var issues []Issue

	for _, name := range s.names {
		rule := s.rules[name]

		for _, implied := range rule.Implies {
			if _, ok := s.rules[implied]; !ok {
				issues = append(issues, Issue{
					Technology: name,
					Kind:       IssueUnknownImplication,
					Detail:     fmt.Sprintf("%v: %q", ErrUnknownImplication, implied),
				})
			}
		}

		for _, signal := range []Signal{SignalURL, SignalHTML, SignalScript} {
			for _, p := range rule.Patterns(signal) {
				issues = append(issues, checkPattern(name, signal, "", p)...)
			}
		}
		issues = append(issues, checkKeyed(name, SignalHeaders, rule.Headers)...)
		issues = append(issues, checkKeyed(name, SignalMeta, rule.Meta)...)
	}

	return issues
}

func checkKeyed(name string, signal Signal, patterns map[string]string) []Issue {
	keys := make([]string, 0, len(patterns))
	for k := range patterns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []Issue
	for _, k := range keys {
		if matcher.Strip(patterns[k]) == "" {
			continue
		}
		issues = append(issues, checkPattern(name, signal, k, patterns[k])...)
	}
	return issues
}

func checkPattern(name string, signal Signal, key, pattern string) []Issue {
	issue := Issue{Technology: name, Signal: signal, Key: key, Pattern: pattern}

	if _, err := matcher.Compile(pattern); err != nil {
		issue.Kind = IssueInvalidPattern
		issue.Detail = err.Error()
		return []Issue{issue}
	}

	if matcher.IsPlain(matcher.Strip(pattern)) {
		issue.Kind = IssuePlainPattern
		issue.Detail = fmt.Sprintf("%q is plain text", matcher.Strip(pattern))
		return []Issue{issue}
	}

	return nil
}
