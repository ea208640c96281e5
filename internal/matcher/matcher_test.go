package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    string
	}{
		{"no_metadata", "WordPress", "WordPress"},
		{"version_directive", `nginx(?:/([\d.]+))?\;version:\1`, `nginx(?:/([\d.]+))?`},
		{"multiple_directives", `jquery\;version:\1\;confidence:50`, "jquery"},
		{"only_metadata", `\;confidence:50`, ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Strip(tt.pattern))
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		pattern string
		want    bool
	}{
		{"substring_search", "Powered by WordPress", "WordPress", true},
		{"case_insensitive", "powered by wordpress", "WordPress", true},
		{"no_match", "Powered by Joomla", "WordPress", false},
		{"anchor_start", "nginx/1.18.0", "^nginx", true},
		{"anchor_start_miss", "openresty nginx", "^nginx", false},
		{"anchor_end", "Server: LiteSpeed", "LiteSpeed$", true},
		{"alternation", "Phusion Passenger", "mod_rails|Phusion[\\s_]Passenger", true},
		{"character_class", "jquery-3.6.0.min.js", `jquery[.-]([\d.]*\d)`, true},
		{"quantifier", "aaab", "a{3}b", true},
		{"non_capturing_group", "Apache/2.4.1", `Apache(?:/([\d.]+))?`, true},
		{"python_named_group", "Drupal 9", `(?P<name>Drupal)\s\d`, true},
		{"named_group", "Drupal 9", `(?<name>Drupal)\s\d`, true},
		{"escaped_slash", "/wp-includes/js", `\/wp-includes\/`, true},
		{"empty_pattern", "anything", "", false},
		{"empty_after_strip", "anything", `\;confidence:50`, false},
		{"invalid_regex", "anything", "(unclosed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.subject, tt.pattern))
		})
	}
}

func TestMatches_SuffixStrippingIsTransparent(t *testing.T) {
	subjects := []string{
		"Powered by WordPress",
		"wordpress",
		"Joomla!",
		"",
	}

	for _, subject := range subjects {
		assert.Equal(t,
			Matches(subject, "WordPress"),
			Matches(subject, `WordPress\;confidence:50`),
			"subject %q", subject)
	}
}

func TestCompile_CachesResult(t *testing.T) {
	first, err := Compile(`Joomla!(?: ([\d.]+))?\;version:\1`)
	require.NoError(t, err)

	second, err := Compile(`Joomla!(?: ([\d.]+))?`)
	require.NoError(t, err)

	assert.Same(t, first, second, "patterns differing only in metadata share one compiled regexp")
}

func TestCompile_InvalidPattern(t *testing.T) {
	re, err := Compile("(?=lookahead)")
	assert.Nil(t, re)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookahead")

	// The failure is cached and reported consistently.
	_, err = Compile("(?=lookahead)")
	assert.Error(t, err)
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"drupal\\.js", "sites/(?:default|all)/themes"}

	assert.True(t, MatchAny(`<script src="/misc/drupal.js"></script>`, patterns))
	assert.True(t, MatchAny(`<link href="/sites/all/themes/x.css">`, patterns))
	assert.False(t, MatchAny("<html></html>", patterns))
	assert.False(t, MatchAny("drupal.js", nil))
}

func TestMatches_Concurrent(t *testing.T) {
	done := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		go func() {
			assert.True(t, Matches("X-Powered-By: Express", "^X-Powered-By: Express$"))
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}
}
