package detect

import (
	"sort"

	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/rs/zerolog/log"
)

// Result is the categorized set of technologies found on one page.
//
// Technologies maps category name to technology names in the order they
// were first seen. A technology appears at most once per category and once
// in every category it belongs to.
type Result struct {
	URL          string              `json:"url"`
	Technologies map[string][]string `json:"technologies"`
	// Partial is set when a fetch was needed but failed, so only the
	// signals that were available took part.
	Partial bool `json:"partial"`

	store *signatures.Store
	seen  map[string]bool
}

// NewResult returns an empty result resolving names against store.
func NewResult(store *signatures.Store, url string) *Result {
	return &Result{
		URL:          url,
		Technologies: make(map[string][]string),
		store:        store,
		seen:         make(map[string]bool),
	}
}

// Add records name and, transitively, every technology it implies.
// Adding a name twice is a no-op. Implication cycles terminate because each
// name is expanded only on its first visit. Names missing from the store
// are logged and skipped.
func (r *Result) Add(name string) {
	pending := []string{name}

	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if r.seen[current] {
			continue
		}

		rule, ok := r.store.Rule(current)
		if !ok {
			log.Warn().
				Str("technology", current).
				Str("url", r.URL).
				Err(signatures.ErrUnknownImplication).
				Msg("Skipping technology missing from the signature database")
			continue
		}
		r.seen[current] = true

		for _, category := range r.store.CategoryNames(rule) {
			r.insert(category, current)
		}

		// Push in reverse so implied names are expanded in declaration order.
		for i := len(rule.Implies) - 1; i >= 0; i-- {
			if !r.seen[rule.Implies[i]] {
				pending = append(pending, rule.Implies[i])
			}
		}
	}
}

func (r *Result) insert(category, name string) {
	for _, existing := range r.Technologies[category] {
		if existing == name {
			return
		}
	}
	r.Technologies[category] = append(r.Technologies[category], name)
}

// Has reports whether name was detected.
func (r *Result) Has(name string) bool {
	return r.seen[name]
}

// Categories returns the category names in sorted order.
func (r *Result) Categories() []string {
	categories := make([]string, 0, len(r.Technologies))
	for category := range r.Technologies {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// Names returns every detected technology in sorted order.
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.seen))
	for name := range r.seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of distinct technologies detected.
func (r *Result) Len() int {
	return len(r.seen)
}
