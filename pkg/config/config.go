package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// Environment variables are read only here; runtime tunables (benchmark,
// quarter weights, lookback) live in the settings table instead.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// External price source
	Yahoo YahooConfig

	// Fetch behaviour
	Fetch FetchConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// YahooConfig holds Yahoo Finance endpoints
type YahooConfig struct {
	ChartBaseURL   string
	SummaryBaseURL string
	ProfileBaseURL string
	CookieURL      string
	CrumbURL       string
}

// FetchConfig holds price-fetch tuning knobs
type FetchConfig struct {
	MinRequestInterval time.Duration // minimum spacing between provider calls
	MaxRetries         int           // attempts on rate-limit errors
	RetryDelay         time.Duration // base backoff, multiplied by attempt
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Yahoo: YahooConfig{
			ChartBaseURL:   getEnv("YAHOO_CHART_URL", "https://query2.finance.yahoo.com/v8/finance/chart"),
			SummaryBaseURL: getEnv("YAHOO_SUMMARY_URL", "https://query2.finance.yahoo.com/v10/finance/quoteSummary"),
			ProfileBaseURL: getEnv("YAHOO_PROFILE_URL", "https://finance.yahoo.com/quote"),
			CookieURL:      getEnv("YAHOO_COOKIE_URL", "https://fc.yahoo.com"),
			CrumbURL:       getEnv("YAHOO_CRUMB_URL", "https://query1.finance.yahoo.com/v1/test/getcrumb"),
		},

		Fetch: FetchConfig{
			MinRequestInterval: getEnvAsDuration("FETCH_MIN_INTERVAL", "500ms"),
			MaxRetries:         getEnvAsInt("FETCH_MAX_RETRIES", 3),
			RetryDelay:         getEnvAsDuration("FETCH_RETRY_DELAY", "2s"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
