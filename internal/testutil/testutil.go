// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

// SmallDatabase is a signature document covering every signal type.
const SmallDatabase = `{
	"categories": {
		"1": "CMS",
		"11": "Blogs",
		"22": "Web Servers",
		"27": "Programming Languages",
		"34": "Databases"
	},
	"apps": {
		"WordPress": {
			"cats": [1, 11],
			"html": "<link rel=[\"']stylesheet[\"'] [^>]+wp-(?:content|includes)",
			"meta": {"generator": "WordPress( [\\d.]+)?\\;version:\\1"},
			"script": "wp-(?:content|includes)/",
			"implies": ["PHP", "MySQL"]
		},
		"Nginx": {
			"cats": [22],
			"headers": {"Server": "nginx(?:/([\\d.]+))?\\;version:\\1"}
		},
		"PHP": {
			"cats": [27],
			"headers": {"X-Powered-By": "php"},
			"url": "\\.php(?:$|\\?)"
		},
		"MySQL": {"cats": [34]}
	}
}`

// LoadStore parses doc or fails the test.
func LoadStore(t testing.TB, doc string) *signatures.Store {
	t.Helper()

	store, err := signatures.Load([]byte(doc))
	require.NoError(t, err)
	return store
}

// NewPageServer serves body with headers for every request and closes the
// server when the test ends.
func NewPageServer(t testing.TB, headers map[string]string, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range headers {
			w.Header().Set(name, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

// LoadTestEnv loads the .env.test file and sets DATABASE_URL from TEST_DATABASE_URL
func LoadTestEnv(t *testing.T) {
	t.Helper()

	// Already set (CI)
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return
	}

	envPath := findEnvTestFile()
	if envPath == "" {
		t.Log(".env.test not found, using environment variables as-is")
		return
	}

	envMap, err := godotenv.Read(envPath)
	if err != nil {
		t.Logf("Failed to read %s: %v", envPath, err)
		return
	}

	if testDBURL, exists := envMap["TEST_DATABASE_URL"]; exists {
		t.Setenv("DATABASE_URL", testDBURL)
	}
}

// findEnvTestFile searches for .env.test in current and parent directories
func findEnvTestFile() string {
	dir, _ := os.Getwd()

	for range 5 {
		envPath := filepath.Join(dir, ".env.test")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
