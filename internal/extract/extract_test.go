package extract

import (
	"testing"

	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `{
	"categories": {"1": "CMS", "22": "Web Servers", "31": "CDN", "27": "Programming Languages"},
	"apps": {
		"WordPress": {
			"cats": [1],
			"html": "<link rel=[\"']stylesheet[\"'] [^>]+wp-(?:content|includes)",
			"script": "/wp-includes/",
			"meta": {"generator": "WordPress( [\\d.]+)?\\;version:\\1", "shareaholic:wp_version": ""}
		},
		"Nginx": {"cats": [22], "headers": {"Server": "nginx(?:/([\\d.]+))?\\;version:\\1"}},
		"Both": {"cats": [22], "headers": {"Server": "nginx", "X-Powered-By": "PHP"}},
		"Presence": {"cats": [31], "headers": {"CF-RAY": ""}},
		"PHP": {"cats": [27], "url": ["\\.php(?:$|\\?)", "index\\.php"]}
	}
}`

func loadFixture(t *testing.T) *signatures.Store {
	t.Helper()
	store, err := signatures.Load([]byte(fixture))
	require.NoError(t, err)
	return store
}

func TestURL(t *testing.T) {
	store := loadFixture(t)
	rules := store.Rules(signatures.SignalURL)

	assert.Equal(t, []string{"PHP"}, URL(rules, "http://example.com/index.php?id=1"))
	assert.Equal(t, []string{"PHP"}, URL(rules, "HTTP://EXAMPLE.COM/PAGE.PHP"), "matching is case-insensitive")
	assert.Empty(t, URL(rules, "http://example.com/"))
}

func TestHeaders(t *testing.T) {
	store := loadFixture(t)
	rules := store.Rules(signatures.SignalHeaders)

	tests := []struct {
		name    string
		headers map[string]string
		want    []string
	}{
		{
			name:    "single_header",
			headers: map[string]string{"Server": "nginx/1.25.3"},
			want:    []string{"Nginx"},
		},
		{
			name:    "case_insensitive_name",
			headers: map[string]string{"SERVER": "nginx"},
			want:    []string{"Nginx"},
		},
		{
			name:    "all_headers_required",
			headers: map[string]string{"Server": "nginx", "X-Powered-By": "PHP/8.2"},
			want:    []string{"Both", "Nginx"},
		},
		{
			name:    "second_header_mismatch",
			headers: map[string]string{"Server": "nginx", "X-Powered-By": "ASP.NET"},
			want:    []string{"Nginx"},
		},
		{
			name:    "empty_value_is_absent",
			headers: map[string]string{"Server": "nginx", "X-Powered-By": ""},
			want:    []string{"Nginx"},
		},
		{
			name:    "empty_pattern_checks_presence",
			headers: map[string]string{"cf-ray": "7d1c2b3a4e5f6789-SYD"},
			want:    []string{"Presence"},
		},
		{
			name:    "no_headers",
			headers: nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Headers(rules, tt.headers))
		})
	}
}

func TestHTML(t *testing.T) {
	store := loadFixture(t)
	rules := store.RulesFor(signatures.SignalHTML, signatures.SignalScript)

	stylesheet := `<link rel='stylesheet' href='/wp-content/themes/x/style.css'>`
	script := `<script src="/wp-includes/js/jquery.js"></script>`

	assert.Equal(t, []string{"WordPress"}, HTML(rules, stylesheet))
	assert.Equal(t, []string{"WordPress"}, HTML(rules, script))
	assert.Equal(t, []string{"WordPress"}, HTML(rules, stylesheet+script), "a rule is reported once")
	assert.Empty(t, HTML(rules, "<html><body>hello</body></html>"))
}

func TestMeta(t *testing.T) {
	store := loadFixture(t)
	rules := store.Rules(signatures.SignalMeta)

	tests := []struct {
		name  string
		metas map[string]string
		want  []string
	}{
		{"generator", map[string]string{"generator": "WordPress 6.4.2"}, []string{"WordPress"}},
		{"one_entry_is_enough", map[string]string{"generator": "Hugo", "shareaholic:wp_version": "9.7"}, []string{"WordPress"}},
		{"mismatch", map[string]string{"generator": "Hugo 0.120"}, nil},
		{"unrelated", map[string]string{"viewport": "width=device-width"}, nil},
		{"empty", map[string]string{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Meta(rules, tt.metas))
		})
	}
}

// Headers need every entry, meta needs any entry.
func TestHeadersAndMetaAsymmetry(t *testing.T) {
	store, err := signatures.Load([]byte(`{
		"categories": {"1": "CMS"},
		"apps": {
			"T": {
				"cats": [1],
				"headers": {"A": "x", "B": "y"},
				"meta": {"a": "x", "b": "y"}
			}
		}
	}`))
	require.NoError(t, err)

	assert.Empty(t, Headers(store.Rules(signatures.SignalHeaders), map[string]string{"A": "x"}))
	assert.Equal(t, []string{"T"}, Headers(store.Rules(signatures.SignalHeaders), map[string]string{"A": "x", "B": "y"}))
	assert.Equal(t, []string{"T"}, Meta(store.Rules(signatures.SignalMeta), map[string]string{"a": "x"}))
}
