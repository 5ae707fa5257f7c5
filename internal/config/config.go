package config

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Search    SearchConfig    `yaml:"search"`
	Redis     RedisConfig     `yaml:"redis"`
	Import    ImportConfig    `yaml:"import"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Media     MediaConfig     `yaml:"media"`
	Auth      AuthConfig      `yaml:"auth"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            string   `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	SyncWaitSeconds int      `yaml:"sync_wait_seconds"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SQLiteConfig contains the SQLite database file path
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings
type MeilisearchConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	APIKey  string `yaml:"api_key"`
	Index   string `yaml:"index"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ImportConfig contains import job settings
type ImportConfig struct {
	Store              string `yaml:"store"` // memory or redis
	RetentionMinutes   int    `yaml:"retention_minutes"`
	MaxJobMinutes      int    `yaml:"max_job_minutes"`
	MaxFileBytes       int64  `yaml:"max_file_bytes"`
	SweepInterval      string `yaml:"sweep_interval"`
	LogRetentionDays   int    `yaml:"log_retention_days"`
	DefaultListingCity string `yaml:"default_listing_city"`
}

// ScraperConfig contains external listing fetch settings
type ScraperConfig struct {
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	MaxRetries          int      `yaml:"max_retries"`
	RetryDelaySeconds   int      `yaml:"retry_delay_seconds"`
	RequestDelaySeconds int      `yaml:"request_delay_seconds"`
	Headless            bool     `yaml:"headless"`
	ChromePath          string   `yaml:"chrome_path"`
	ListingHosts        []string `yaml:"listing_hosts"`
	UserAgent           string   `yaml:"user_agent"`
}

// MediaConfig contains object storage and media processing settings
type MediaConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	MaxBytes       int64  `yaml:"max_bytes"`
	ThumbnailWidth uint   `yaml:"thumbnail_width"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AuthConfig contains bearer token settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// CalendarConfig contains calendar sync settings
type CalendarConfig struct {
	SyncSpec       string `yaml:"sync_spec"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	RequestsPerHour   int  `yaml:"requests_per_hour"`
	RequestsPerDay    int  `yaml:"requests_per_day"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `yaml:"level"`
	JSON        bool   `yaml:"json"`
	LogRequests bool   `yaml:"log_requests"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8084",
			AllowedOrigins:  []string{"http://localhost:3000"},
			SyncWaitSeconds: 2,
		},
		Database: DatabaseConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "data/rental.db"},
		},
		Search: SearchConfig{
			Meilisearch: MeilisearchConfig{Index: "properties"},
		},
		Import: ImportConfig{
			Store:            "memory",
			RetentionMinutes: 10,
			MaxJobMinutes:    60,
			MaxFileBytes:     10 * units.MiB,
			SweepInterval:    "1m",
			LogRetentionDays: 90,
		},
		Scraper: ScraperConfig{
			TimeoutSeconds:      30,
			MaxRetries:          3,
			RetryDelaySeconds:   2,
			RequestDelaySeconds: 2,
			Headless:            false,
			ChromePath:          "/usr/bin/google-chrome",
			ListingHosts:        []string{"airbnb.com", "airbnb.co.uk", "airbnb.ca", "airbnb.com.au", "airbnb.fr", "airbnb.de", "airbnb.es", "airbnb.it"},
			UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		},
		Media: MediaConfig{
			Region:         "us-east-1",
			Bucket:         "property-media",
			MaxBytes:       25 * units.MiB,
			ThumbnailWidth: 320,
			TimeoutSeconds: 20,
		},
		Calendar: CalendarConfig{
			SyncSpec:       "@every 5m",
			TimeoutSeconds: 15,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			RequestsPerHour:   600,
			RequestsPerDay:    5000,
		},
		Logging: LoggingConfig{
			Level:       "info",
			LogRequests: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// GetTimeout returns the timeout as a duration
func (c *ScraperConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetRetryDelay returns the retry delay as a duration
func (c *ScraperConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// GetRequestDelay returns the request delay as a duration
func (c *ScraperConfig) GetRequestDelay() time.Duration {
	return time.Duration(c.RequestDelaySeconds) * time.Second
}

// GetRetention returns how long terminal jobs stay visible to pollers
func (c *ImportConfig) GetRetention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// GetMaxJobDuration returns the lifetime bound for a job that never finishes
func (c *ImportConfig) GetMaxJobDuration() time.Duration {
	return time.Duration(c.MaxJobMinutes) * time.Minute
}

// GetTimeout returns the media download timeout
func (c *MediaConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetTimeout returns the calendar feed request timeout
func (c *CalendarConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetSyncWait returns how long the start endpoint waits for small jobs to finish
func (c *ServerConfig) GetSyncWait() time.Duration {
	return time.Duration(c.SyncWaitSeconds) * time.Second
}

// GetEnv returns the environment value for key, or defaultValue when unset
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvOrConfig returns config value if set, otherwise falls back to environment variable, then default
func GetEnvOrConfig(configValue, envKey, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	return GetEnv(envKey, defaultValue)
}
