package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Chain evaluates many labelled patterns in a single pass over a subject.
// It is an optimisation over calling Matches per label and reports the same
// labels for non-overlapping matches.
type Chain struct {
	re     *regexp.Regexp
	labels map[string]string // group name -> label
}

// groupPrefix names the capture group wrapping each label. Labels are
// arbitrary strings, so they are mapped to generated identifiers.
const groupPrefix = "n_"

// NewChain combines the patterns of every label into one expression.
// Each label's patterns are OR-ed together; empty patterns are ignored and
// labels with no usable pattern are left out.
func NewChain(rules map[string][]string) (*Chain, error) {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	labels := make(map[string]string, len(keys))
	groups := make([]string, 0, len(keys))

	for i, key := range keys {
		alternatives := make([]string, 0, len(rules[key]))
		for _, p := range rules[key] {
			expr := Strip(p)
			if expr == "" {
				continue
			}
			if _, err := regexp.Compile(expr); err != nil {
				return nil, fmt.Errorf("pattern for %q: %w", key, err)
			}
			alternatives = append(alternatives, "(?:"+expr+")")
		}
		if len(alternatives) == 0 {
			continue
		}

		name := groupPrefix + strconv.Itoa(i)
		labels[name] = key
		groups = append(groups, "(?P<"+name+">"+strings.Join(alternatives, "|")+")")
	}

	if len(groups) == 0 {
		return &Chain{labels: labels}, nil
	}

	re, err := regexp.Compile("(?i)" + strings.Join(groups, "|"))
	if err != nil {
		return nil, fmt.Errorf("compile chain: %w", err)
	}

	return &Chain{re: re, labels: labels}, nil
}

// Find returns label -> matched text for every label found in subject.
// When a label matches more than once the last occurrence is kept.
func (c *Chain) Find(subject string) map[string]string {
	found := make(map[string]string)
	if c.re == nil {
		return found
	}

	names := c.re.SubexpNames()
	for _, m := range c.re.FindAllStringSubmatchIndex(subject, -1) {
		for i, name := range names {
			label, ok := c.labels[name]
			if !ok || m[2*i] < 0 {
				continue
			}
			found[label] = subject[m[2*i]:m[2*i+1]]
		}
	}

	return found
}

// Len reports the number of labels compiled into the chain.
func (c *Chain) Len() int {
	return len(c.labels)
}
