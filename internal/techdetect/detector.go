// Package techdetect runs projectdiscovery's wappalyzergo fingerprints over
// a page so builtwith detections can be cross-checked against an
// independently maintained signature set.
package techdetect

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/codinguncut/builtwith/internal/crawler"
	"github.com/codinguncut/builtwith/internal/detect"
	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// Result contains the technologies wappalyzergo found on a page
type Result struct {
	// Technologies maps technology name to its categories (e.g., {"WordPress": ["CMS"], "Cloudflare": ["CDN"]})
	Technologies map[string][]string `json:"technologies"`
}

// Detector wraps a wappalyzergo client
type Detector struct {
	client *wappalyzer.Wappalyze
}

// categoryNames maps wappalyzer category IDs to human-readable names
var categoryNames map[int]string
var categoryNamesOnce sync.Once

// New creates a new reference detector
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		cats := wappalyzer.GetCategoriesMapping()
		for id, cat := range cats {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{
		client: client,
	}, nil
}

// Detect fingerprints a page from its flattened headers and body
func (d *Detector) Detect(headers map[string]string, body string) *Result {
	h := make(http.Header, len(headers))
	for name, value := range headers {
		h.Set(name, value)
	}

	result := &Result{
		Technologies: make(map[string][]string),
	}

	fingerprints := d.client.FingerprintWithCats(h, []byte(body))
	for tech, catInfo := range fingerprints {
		categories := make([]string, 0, len(catInfo.Cats))
		for _, catID := range catInfo.Cats {
			if name, ok := categoryNames[catID]; ok {
				categories = append(categories, name)
			}
		}
		result.Technologies[baseName(tech)] = categories
	}

	log.Debug().
		Int("tech_count", len(result.Technologies)).
		Msg("Reference fingerprinting completed")

	return result
}

// DetectPage is a convenience method for a fetched page
func (d *Detector) DetectPage(page *crawler.Page) *Result {
	return d.Detect(page.Headers, page.Body)
}

// baseName drops the ":<version>" suffix wappalyzergo appends when it
// extracts a version.
func baseName(tech string) string {
	if idx := strings.LastIndex(tech, ":"); idx > 0 && idx+1 < len(tech) {
		if c := tech[idx+1]; c >= '0' && c <= '9' {
			return tech[:idx]
		}
	}
	return tech
}

// Comparison lines up a builtwith result against a reference result.
// Names are compared case-insensitively; each list is sorted.
type Comparison struct {
	URL           string   `json:"url"`
	Agreed        []string `json:"agreed"`
	OnlyBuiltwith []string `json:"only_builtwith"`
	OnlyReference []string `json:"only_reference"`
}

// Compare reports which technologies both detectors found and which only one did.
func Compare(ours *detect.Result, reference *Result) *Comparison {
	cmp := &Comparison{URL: ours.URL}

	refByKey := make(map[string]string, len(reference.Technologies))
	for name := range reference.Technologies {
		refByKey[strings.ToLower(name)] = name
	}

	matched := make(map[string]bool)
	for _, name := range ours.Names() {
		key := strings.ToLower(name)
		if _, ok := refByKey[key]; ok {
			cmp.Agreed = append(cmp.Agreed, name)
			matched[key] = true
		} else {
			cmp.OnlyBuiltwith = append(cmp.OnlyBuiltwith, name)
		}
	}
	for key, name := range refByKey {
		if !matched[key] {
			cmp.OnlyReference = append(cmp.OnlyReference, name)
		}
	}
	sort.Strings(cmp.OnlyReference)

	return cmp
}
