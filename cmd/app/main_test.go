package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codinguncut/builtwith/internal/api"
	"github.com/codinguncut/builtwith/internal/detect"
	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/codinguncut/builtwith/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, key := range []string{"PORT", "APP_ENV", "FETCH_TIMEOUT_SECONDS", "USER_AGENT", "RATE_LIMIT_RPS", "SIGNATURES_FILE", "OBSERVABILITY_ENABLED"} {
			t.Setenv(key, "")
		}

		config := loadConfig()
		assert.Equal(t, "8080", config.Port)
		assert.Equal(t, "development", config.Env)
		assert.Equal(t, 30*time.Second, config.FetchTimeout)
		assert.Equal(t, detect.DefaultUserAgent, config.UserAgent)
		assert.InDelta(t, float64(api.DefaultRateLimit), config.RateLimitRPS, 0.0001)
		assert.Empty(t, config.SignaturesFile)
		assert.True(t, config.ObservabilityEnabled)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("FETCH_TIMEOUT_SECONDS", "5")
		t.Setenv("USER_AGENT", "Mozilla/5.0 (compatible; builtwith)")
		t.Setenv("RATE_LIMIT_RPS", "0.5")
		t.Setenv("SIGNATURES_FILE", "/etc/builtwith/apps.json")
		t.Setenv("OBSERVABILITY_ENABLED", "false")

		config := loadConfig()
		assert.Equal(t, "9000", config.Port)
		assert.Equal(t, 5*time.Second, config.FetchTimeout)
		assert.Equal(t, "Mozilla/5.0 (compatible; builtwith)", config.UserAgent)
		assert.InDelta(t, 0.5, config.RateLimitRPS, 0.0001)
		assert.Equal(t, "/etc/builtwith/apps.json", config.SignaturesFile)
		assert.False(t, config.ObservabilityEnabled)
	})

	t.Run("invalid_numbers_fall_back", func(t *testing.T) {
		t.Setenv("FETCH_TIMEOUT_SECONDS", "soon")
		t.Setenv("RATE_LIMIT_RPS", "lots")

		config := loadConfig()
		assert.Equal(t, 30*time.Second, config.FetchTimeout)
		assert.InDelta(t, float64(api.DefaultRateLimit), config.RateLimitRPS, 0.0001)
	})
}

func TestParseOTLPHeaders(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]string
	}{
		{"", map[string]string{}},
		{"authorization=Bearer abc", map[string]string{"authorization": "Bearer abc"}},
		{" a=1 , b = 2 ,,", map[string]string{"a": "1", "b": "2"}},
		{"novalue, =skipped, c=x=y", map[string]string{"c": "x=y"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOTLPHeaders(tt.raw))
		})
	}
}

func TestLoadStore(t *testing.T) {
	t.Run("embedded_default", func(t *testing.T) {
		store, err := loadStore("")
		require.NoError(t, err)

		def, err := signatures.Default()
		require.NoError(t, err)
		assert.Same(t, def, store)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "apps.json")
		require.NoError(t, os.WriteFile(path, []byte(testutil.SmallDatabase), 0o600))

		store, err := loadStore(path)
		require.NoError(t, err)
		assert.Equal(t, 4, store.Len())
	})

	t.Run("malformed_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "apps.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"apps": [`), 0o600))

		_, err := loadStore(path)
		assert.ErrorIs(t, err, signatures.ErrMalformedDatabase)
	})
}

func TestBuildHandler(t *testing.T) {
	store := testutil.LoadStore(t, testutil.SmallDatabase)
	apiHandler := api.NewHandler(detect.New(store, nil), nil)
	handler := buildHandler(apiHandler, &Config{RateLimitRPS: 0.001}, nil)

	t.Run("health_passes_through_the_stack", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

		var health api.HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, "healthy", health.Status)
	})

	t.Run("detect_without_fetcher_is_partial", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/detect?url=example.com/index.php", nil)
		req.RemoteAddr = "203.0.113.10:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"partial":true`)
		assert.Contains(t, rec.Body.String(), `"Programming Languages":["PHP"]`)
	})

	t.Run("rate_limited_after_burst", func(t *testing.T) {
		codes := make([]int, 0, api.DefaultRateBurst+1)
		for i := 0; i <= api.DefaultRateBurst; i++ {
			req := httptest.NewRequest(http.MethodGet, "/v1/categories", nil)
			req.RemoteAddr = "198.51.100.99:4000"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
		}

		assert.Equal(t, http.StatusOK, codes[0])
		assert.Equal(t, http.StatusTooManyRequests, codes[len(codes)-1])
	})
}

func TestInitSentry_Disabled(t *testing.T) {
	assert.Nil(t, initSentry(&Config{Env: "test"}))
}

func TestStartFlightRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.out")

	stop, err := startFlightRecorder(path)
	require.NoError(t, err)
	stop()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = startFlightRecorder(filepath.Join(t.TempDir(), "missing", "trace.out"))
	assert.Error(t, err)
}
