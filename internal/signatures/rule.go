package signatures

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codinguncut/builtwith/internal/matcher"
)

// Signal names a kind of page evidence a rule can test.
type Signal string

const (
	SignalURL     Signal = "url"
	SignalHeaders Signal = "headers"
	SignalHTML    Signal = "html"
	SignalScript  Signal = "script"
	SignalMeta    Signal = "meta"
)

// AllSignals lists every signal in evaluation order.
var AllSignals = []Signal{SignalURL, SignalHeaders, SignalHTML, SignalScript, SignalMeta}

// Pattern is a list of alternative match patterns. The database allows
// either a single string or a list of strings; both decode to a Pattern so
// matching code never has to check the shape again.
type Pattern []string

// UnmarshalJSON accepts a string, a list of strings or null.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = Pattern{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected string or list of strings, got %s", truncate(data))
	}
	*p = list
	return nil
}

// compact drops empty entries, returning nil when nothing is left.
func (p Pattern) compact() Pattern {
	var out Pattern
	for _, v := range p {
		if matcher.Strip(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// Rule is one technology signature.
type Rule struct {
	Name       string
	Categories []int
	URL        Pattern
	HTML       Pattern
	Script     Pattern
	// Headers and Meta are keyed by lower-cased header or meta name.
	// An empty pattern only requires the entry to be present.
	Headers map[string]string
	Meta    map[string]string
	Implies []string
	Website string
	Icon    string
}

// Has reports whether the rule carries patterns for signal.
func (r *Rule) Has(signal Signal) bool {
	switch signal {
	case SignalURL:
		return len(r.URL) > 0
	case SignalHeaders:
		return len(r.Headers) > 0
	case SignalHTML:
		return len(r.HTML) > 0
	case SignalScript:
		return len(r.Script) > 0
	case SignalMeta:
		return len(r.Meta) > 0
	}
	return false
}

// Patterns returns the list patterns for url, html and script signals.
func (r *Rule) Patterns(signal Signal) Pattern {
	switch signal {
	case SignalURL:
		return r.URL
	case SignalHTML:
		return r.HTML
	case SignalScript:
		return r.Script
	}
	return nil
}

// ruleDocument is the on-disk shape of a rule.
type ruleDocument struct {
	Cats    []int             `json:"cats"`
	URL     Pattern           `json:"url"`
	HTML    Pattern           `json:"html"`
	Script  Pattern           `json:"script"`
	Headers map[string]string `json:"headers"`
	Meta    map[string]string `json:"meta"`
	Implies Pattern           `json:"implies"`
	Website string            `json:"website"`
	Icon    string            `json:"icon"`
}

func (doc ruleDocument) toRule(name string) *Rule {
	rule := &Rule{
		Name:       name,
		Categories: doc.Cats,
		URL:        doc.URL.compact(),
		HTML:       doc.HTML.compact(),
		Script:     doc.Script.compact(),
		Headers:    lowerKeys(doc.Headers),
		Meta:       lowerKeys(doc.Meta),
		Website:    doc.Website,
		Icon:       doc.Icon,
	}

	// Implied names may carry a confidence suffix in newer databases.
	for _, implied := range doc.Implies {
		if implied = strings.TrimSpace(matcher.Strip(implied)); implied != "" {
			rule.Implies = append(rule.Implies, implied)
		}
	}

	return rule
}

func lowerKeys(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func truncate(data []byte) string {
	const max = 64
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
