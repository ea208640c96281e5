package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/codinguncut/builtwith/internal/api"
	"github.com/codinguncut/builtwith/internal/crawler"
	"github.com/codinguncut/builtwith/internal/db"
	"github.com/codinguncut/builtwith/internal/detect"
	"github.com/codinguncut/builtwith/internal/observability"
	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Port                  string        // HTTP port to listen on
	Env                   string        // Environment (development/production)
	SentryDSN             string        // Sentry DSN for error tracking
	LogLevel              string        // Log level (debug, info, warn, error)
	FlightRecorderEnabled bool          // Flight recorder for performance debugging
	ObservabilityEnabled  bool          // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr           string        // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint          string        // OTLP HTTP endpoint for trace export
	OTLPHeaders           string        // Comma separated headers for OTLP exporter
	OTLPInsecure          bool          // Disable TLS verification for OTLP exporter
	SignaturesFile        string        // Alternate signature database; empty uses the embedded one
	FetchTimeout          time.Duration // Per-detection fetch timeout
	UserAgent             string        // User-Agent sent when fetching pages
	RateLimitRPS          float64       // Requests per second allowed per client IP
}

func loadConfig() *Config {
	return &Config{
		Port:                  getEnvWithDefault("PORT", "8080"),
		Env:                   getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:             os.Getenv("SENTRY_DSN"),
		LogLevel:              getEnvWithDefault("LOG_LEVEL", "info"),
		FlightRecorderEnabled: getEnvWithDefault("FLIGHT_RECORDER_ENABLED", "false") == "true",
		ObservabilityEnabled:  getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:           getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:           os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:          getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		SignaturesFile:        os.Getenv("SIGNATURES_FILE"),
		FetchTimeout:          time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		UserAgent:             getEnvWithDefault("USER_AGENT", detect.DefaultUserAgent),
		RateLimitRPS:          getEnvFloat("RATE_LIMIT_RPS", api.DefaultRateLimit),
	}
}

func main() {
	// .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := loadConfig()

	if config.FlightRecorderEnabled {
		stopTrace, err := startFlightRecorder("trace.out")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start flight recorder")
		}
		defer stopTrace()
	}

	setupLogging(config)

	if flush := initSentry(config); flush != nil {
		defer flush()
	}

	var obsProviders *observability.Providers
	if config.ObservabilityEnabled {
		var metricsSrv *http.Server
		obsProviders, metricsSrv = startObservability(config)
		if obsProviders != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if metricsSrv != nil {
					if err := metricsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()
		}
	}

	store, err := loadStore(config.SignaturesFile)
	if err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		log.Fatal().Err(err).Str("file", config.SignaturesFile).Msg("Failed to load signature database")
	}
	log.Info().Int("technologies", store.Len()).Msg("Signature database loaded")

	var history api.HistoryStore
	pgDB, err := db.InitFromEnvWithRetry(context.Background(), db.DefaultRetryConfig())
	switch {
	case errors.Is(err, db.ErrNotConfigured):
		log.Info().Msg("No database configured, detection history disabled")
	case err != nil:
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	default:
		defer pgDB.Close()
		history = pgDB
	}

	crawlerConfig := crawler.DefaultConfig()
	crawlerConfig.DefaultTimeout = config.FetchTimeout
	crawlerConfig.UserAgent = config.UserAgent

	detector := detect.New(store, crawler.New(crawlerConfig),
		detect.WithUserAgent(config.UserAgent),
		detect.WithTimeout(config.FetchTimeout),
	)

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           buildHandler(api.NewHandler(detector, history), config, obsProviders),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().
		Str("port", config.Port).
		Bool("history", history != nil).
		Str("health", fmt.Sprintf("http://localhost:%s/health", config.Port)).
		Msg("Starting server")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done
	log.Info().Msg("Server stopped")
}

// startFlightRecorder writes a runtime execution trace to path until the
// returned stop function runs.
func startFlightRecorder(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	if err := trace.Start(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("start trace: %w", err)
	}

	log.Info().Str("file", path).Msg("Flight recorder enabled")
	return func() {
		trace.Stop()
		f.Close()
	}, nil
}

// initSentry enables error reporting when a DSN is configured and returns
// the flush to run on exit, or nil.
func initSentry(config *Config) func() {
	if config.SentryDSN == "" {
		log.Warn().Msg("SENTRY_DSN not set, error reporting disabled")
		return nil
	}

	sampleRate := 1.0
	if config.Env == "production" {
		sampleRate = 0.1
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.SentryDSN,
		Environment:      config.Env,
		Release:          "builtwith@" + api.Version,
		TracesSampleRate: sampleRate,
		AttachStacktrace: true,
		Debug:            config.Env == "development",
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise Sentry")
		return nil
	}

	log.Info().Str("environment", config.Env).Msg("Sentry initialised")
	return func() { sentry.Flush(2 * time.Second) }
}

// startObservability initialises telemetry and serves /metrics on its own
// address. It returns nil providers when initialisation fails.
func startObservability(config *Config) (*observability.Providers, *http.Server) {
	providers, err := observability.Init(context.Background(), observability.Config{
		Enabled:        true,
		ServiceName:    "builtwith",
		Environment:    config.Env,
		OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
		OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
		OTLPInsecure:   config.OTLPInsecure,
		MetricsAddress: config.MetricsAddr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return nil, nil
	}

	if providers.MetricsHandler == nil || config.MetricsAddr == "" {
		return providers, nil
	}

	metricsSrv := &http.Server{
		Addr:              config.MetricsAddr,
		Handler:           providers.MetricsHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return providers, metricsSrv
}

// loadStore reads the signature database from path, or the embedded default
// when path is empty.
func loadStore(path string) (*signatures.Store, error) {
	if path == "" {
		return signatures.Default()
	}
	return signatures.LoadFile(path)
}

// buildHandler wires the API routes behind the middleware stack
func buildHandler(apiHandler *api.Handler, config *Config, providers *observability.Providers) http.Handler {
	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	limiter := api.NewRateLimiter(config.RateLimitRPS, 0)

	// Innermost first
	var handler http.Handler = limiter.Middleware(mux)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CORSMiddleware(handler)
	return observability.WrapHandler(handler, providers)
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	return getEnvParsed(key, defaultValue, strconv.Atoi)
}

func getEnvFloat(key string, defaultValue float64) float64 {
	return getEnvParsed(key, defaultValue, func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

// getEnvParsed parses an environment variable, logging and falling back to
// defaultValue when it is unset or invalid.
func getEnvParsed[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := parse(value)
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Str("value", value).
			Interface("default", defaultValue).
			Msg("Invalid value in environment variable, using default")
		return defaultValue
	}
	return parsed
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		headers[key] = strings.TrimSpace(value)
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "builtwith").
			Logger()
	}
}
