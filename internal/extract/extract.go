// Package extract evaluates signature rules against the individual signals
// of a page: its URL, response headers, HTML body and meta tags.
//
// Extractors only report which rules fired. Category resolution and
// implications are the caller's job.
package extract

import (
	"strings"

	"github.com/codinguncut/builtwith/internal/matcher"
	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/rs/zerolog/log"
)

// URL returns the rules whose url patterns match pageURL.
func URL(rules []*signatures.Rule, pageURL string) []string {
	var matched []string
	for _, rule := range rules {
		if matcher.MatchAny(pageURL, rule.URL) {
			matched = append(matched, rule.Name)
		}
	}
	return matched
}

// Headers returns the rules whose header patterns all match. Every header a
// rule names must be present with a non-empty value; an empty pattern only
// checks presence.
func Headers(rules []*signatures.Rule, headers map[string]string) []string {
	if len(headers) == 0 {
		return nil
	}
	lowered := make(map[string]string, len(headers))
	for name, value := range headers {
		lowered[strings.ToLower(name)] = value
	}

	var matched []string
	for _, rule := range rules {
		if matchAllHeaders(rule, lowered) {
			matched = append(matched, rule.Name)
		}
	}
	return matched
}

func matchAllHeaders(rule *signatures.Rule, headers map[string]string) bool {
	if len(rule.Headers) == 0 {
		return false
	}
	for name, pattern := range rule.Headers {
		value := headers[name]
		if value == "" {
			return false
		}
		if matcher.Strip(pattern) != "" && !matcher.Matches(value, pattern) {
			return false
		}
	}
	return true
}

// HTML returns the rules whose html or script patterns match anywhere in
// the document.
func HTML(rules []*signatures.Rule, html string) []string {
	var matched []string
	for _, rule := range rules {
		if matcher.MatchAny(html, rule.HTML) || matcher.MatchAny(html, rule.Script) {
			matched = append(matched, rule.Name)
		}
	}
	return matched
}

// Meta returns the rules with at least one meta entry present in metas whose
// content matches.
func Meta(rules []*signatures.Rule, metas map[string]string) []string {
	if len(metas) == 0 {
		return nil
	}

	var matched []string
	for _, rule := range rules {
		if matchAnyMeta(rule, metas) {
			matched = append(matched, rule.Name)
		}
	}
	return matched
}

func matchAnyMeta(rule *signatures.Rule, metas map[string]string) bool {
	for name, pattern := range rule.Meta {
		content, ok := metas[name]
		if !ok {
			continue
		}
		if matcher.Strip(pattern) == "" || matcher.Matches(content, pattern) {
			log.Debug().
				Str("technology", rule.Name).
				Str("meta", name).
				Msg("Meta tag matched")
			return true
		}
	}
	return false
}
