// Package signatures holds the technology signature database.
//
// A Store is built once from a database document and is read-only
// afterwards, so it can be shared by any number of concurrent detections.
package signatures

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

var (
	// ErrMalformedDatabase is returned when a database document fails validation.
	ErrMalformedDatabase = errors.New("malformed signature database")
	// ErrUnknownImplication marks an implies entry that names no rule in the store.
	ErrUnknownImplication = errors.New("unknown implied technology")
)

// Store is an immutable, indexed signature database.
type Store struct {
	rules      map[string]*Rule
	names      []string
	categories map[int]string
	index      map[Signal][]*Rule
}

// document is the top-level database shape.
type document struct {
	Apps       map[string]json.RawMessage `json:"apps"`
	Categories map[string]json.RawMessage `json:"categories"`
}

// Load parses a database document. Every failure wraps ErrMalformedDatabase.
func Load(data []byte) (*Store, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDatabase, err)
	}
	if doc.Apps == nil {
		return nil, fmt.Errorf("%w: missing \"apps\" member", ErrMalformedDatabase)
	}
	if doc.Categories == nil {
		return nil, fmt.Errorf("%w: missing \"categories\" member", ErrMalformedDatabase)
	}

	categories, err := parseCategories(doc.Categories)
	if err != nil {
		return nil, err
	}

	s := &Store{
		rules:      make(map[string]*Rule, len(doc.Apps)),
		names:      make([]string, 0, len(doc.Apps)),
		categories: categories,
		index:      make(map[Signal][]*Rule),
	}

	for name, raw := range doc.Apps {
		var rd ruleDocument
		if err := json.Unmarshal(raw, &rd); err != nil {
			return nil, fmt.Errorf("%w: technology %q: %w", ErrMalformedDatabase, name, err)
		}
		for _, id := range rd.Cats {
			if _, ok := categories[id]; !ok {
				return nil, fmt.Errorf("%w: technology %q references unknown category %d", ErrMalformedDatabase, name, id)
			}
		}
		s.rules[name] = rd.toRule(name)
		s.names = append(s.names, name)
	}

	sort.Strings(s.names)

	for _, name := range s.names {
		rule := s.rules[name]
		for _, signal := range AllSignals {
			if rule.Has(signal) {
				s.index[signal] = append(s.index[signal], rule)
			}
		}
		for _, implied := range rule.Implies {
			if _, ok := s.rules[implied]; !ok {
				log.Warn().
					Str("technology", name).
					Str("implies", implied).
					Msg("Signature implies a technology that is not in the database")
			}
		}
	}

	log.Debug().
		Int("technologies", len(s.rules)).
		Int("categories", len(s.categories)).
		Msg("Signature database loaded")

	return s, nil
}

// LoadFile reads and parses a database document from disk.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature database: %w", err)
	}
	return Load(data)
}

// parseCategories accepts both `"1": "CMS"` and `"1": {"name": "CMS", ...}`.
func parseCategories(raw map[string]json.RawMessage) (map[int]string, error) {
	categories := make(map[int]string, len(raw))
	for key, value := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: category id %q is not an integer", ErrMalformedDatabase, key)
		}

		var name string
		if err := json.Unmarshal(value, &name); err != nil {
			var obj struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(value, &obj); err != nil || obj.Name == "" {
				return nil, fmt.Errorf("%w: category %q has no name", ErrMalformedDatabase, key)
			}
			name = obj.Name
		}
		categories[id] = name
	}
	return categories, nil
}

// Rules returns every rule carrying patterns for signal, ordered by name.
func (s *Store) Rules(signal Signal) []*Rule {
	return s.index[signal]
}

// RulesFor returns the rules carrying patterns for any of signals, ordered
// by name and without duplicates.
func (s *Store) RulesFor(signals ...Signal) []*Rule {
	if len(signals) == 1 {
		return s.Rules(signals[0])
	}

	seen := make(map[string]bool)
	var rules []*Rule
	for _, signal := range signals {
		for _, rule := range s.index[signal] {
			if !seen[rule.Name] {
				seen[rule.Name] = true
				rules = append(rules, rule)
			}
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// Rule looks up a rule by technology name.
func (s *Store) Rule(name string) (*Rule, bool) {
	rule, ok := s.rules[name]
	return rule, ok
}

// Category resolves a category id to its name.
func (s *Store) Category(id int) (string, bool) {
	name, ok := s.categories[id]
	return name, ok
}

// CategoryNames resolves every category of rule, in rule order.
func (s *Store) CategoryNames(rule *Rule) []string {
	names := make([]string, 0, len(rule.Categories))
	for _, id := range rule.Categories {
		if name, ok := s.categories[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Categories returns a copy of the category table.
func (s *Store) Categories() map[int]string {
	out := make(map[int]string, len(s.categories))
	for id, name := range s.categories {
		out[id] = name
	}
	return out
}

// Names returns every technology name in sorted order.
func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

// Len reports the number of technologies.
func (s *Store) Len() int {
	return len(s.rules)
}
