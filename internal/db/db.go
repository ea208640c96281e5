// Package db stores detection history in PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codinguncut/builtwith/internal/cache"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned when no database connection details are available.
var ErrNotConfigured = errors.New("database not configured")

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	config *Config
	// Cache holds the newest MaxHistoryLimit detections per URL.
	Cache *cache.InMemoryCache[string, []Detection]

	cacheMu     sync.Mutex
	generations map[string]uint64
}

// GetConfig returns the original DB connection settings
func (d *DB) GetConfig() *Config {
	return d.config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host               string        // Database host
	Port               string        // Database port
	User               string        // Database user
	Password           string        // Database password
	Database           string        // Database name
	SSLMode            string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns       int           // Maximum number of idle connections
	MaxOpenConns       int           // Maximum number of open connections
	MaxLifetime        time.Duration // Maximum lifetime of a connection
	StatementTimeoutMs int           // Server-side statement timeout
	DatabaseURL        string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	dsn := c.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	}
	return AugmentDSNWithTimeout(dsn, c.StatementTimeoutMs)
}

// Validate checks the connection settings and fills in pool defaults.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		if c.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Port == "" {
			return fmt.Errorf("database port is required")
		}
		if c.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	}

	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 20
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 20 * time.Minute
	}
	if c.StatementTimeoutMs == 0 {
		c.StatementTimeoutMs = 30000
	}
	return nil
}

// New creates a new PostgreSQL database connection and ensures the schema exists
func New(ctx context.Context, config *Config) (*DB, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	if err := client.PingContext(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	log.Info().Msg("Detection history database ready")

	return newDB(client, config), nil
}

func newDB(client *sql.DB, config *Config) *DB {
	return &DB{
		client: client,
		config: config,
		Cache:  cache.NewInMemoryCache[string, []Detection](),

		generations: make(map[string]uint64),
	}
}

// ConfigFromEnv reads connection settings from DATABASE_URL or the
// POSTGRES_* variables. It returns ErrNotConfigured when neither is set.
func ConfigFromEnv() (*Config, error) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return &Config{DatabaseURL: url}, nil
	}

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return nil, ErrNotConfigured
	}

	config := &Config{
		Host:     host,
		Port:     os.Getenv("POSTGRES_PORT"),
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Database: os.Getenv("POSTGRES_DB"),
		SSLMode:  os.Getenv("POSTGRES_SSL_MODE"),
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "builtwith"
	}
	return config, nil
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv(ctx context.Context) (*DB, error) {
	config, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(ctx, config)
}

// setupSchema creates the detection history table
func setupSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS detections (
			id UUID PRIMARY KEY,
			url TEXT NOT NULL,
			technologies JSONB NOT NULL,
			categories TEXT[] NOT NULL DEFAULT '{}',
			technology_count INTEGER NOT NULL,
			partial BOOLEAN NOT NULL DEFAULT FALSE,
			detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create detections table: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_detections_url_detected_at
		ON detections (url, detected_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create detections index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.client.Close()
}

// GetDB returns the underlying database connection
func (db *DB) GetDB() *sql.DB {
	return db.client
}

// AugmentDSNWithTimeout adds statement_timeout to a DSN if not already present.
// Supports both URL format (postgresql://...) and key=value format
func AugmentDSNWithTimeout(dsn string, timeoutMs int) string {
	if dsn == "" || strings.Contains(dsn, "statement_timeout") {
		return dsn
	}
	if timeoutMs <= 0 {
		return dsn
	}
	timeout := strconv.Itoa(timeoutMs)

	if strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "postgres://") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		return dsn + separator + "statement_timeout=" + timeout
	}

	return dsn + " statement_timeout=" + timeout
}
