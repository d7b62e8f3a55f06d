package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Ads      AdsConfig      `yaml:"ads"`
	Sync     SyncConfig     `yaml:"sync"`
	Rules    RulesConfig    `yaml:"rules"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis configuration for per-account sync locks.
// Optional: when Addr is empty the engine falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AdsConfig holds the remote advertising platform API configuration
type AdsConfig struct {
	BaseURL        string `yaml:"base_url"`
	TokenURL       string `yaml:"token_url"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// MaxRetries bounds the backoff retries on 429/5xx/network failure,
	// after the initial attempt.
	MaxRetries int `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c AdsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SyncConfig holds synchronization engine configuration
type SyncConfig struct {
	// Default metric window lengths in days for accounts that don't
	// configure their own.
	ShortWindowDays  int `yaml:"short_window_days"`
	MediumWindowDays int `yaml:"medium_window_days"`
	LongWindowDays   int `yaml:"long_window_days"`

	// Report job polling.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// Maximum time to wait for a report job. 0 means unbounded — used for
	// back-office resynchronization where a report taking 40 minutes is
	// still worth having.
	MaxWaitMinutes int `yaml:"max_wait_minutes"`

	// StrictAggregation disables the keyword→campaign rollup fallback,
	// preferring stale-but-report-verified metrics over derived ones.
	StrictAggregation bool `yaml:"strict_aggregation"`

	// StreamWrites upserts each entity as it is fetched instead of
	// batching all writes at the end of the account cycle.
	StreamWrites bool `yaml:"stream_writes"`

	// RollingSchedule enables the per-window due-check. When off, every
	// cycle runs the short window only.
	RollingSchedule bool `yaml:"rolling_schedule"`

	// SingleAccountID restricts the driver loop to one account. Empty
	// means all active accounts.
	SingleAccountID string `yaml:"single_account_id"`

	// DriveIntervalSeconds is the pause between driver passes.
	DriveIntervalSeconds int `yaml:"drive_interval_seconds"`
}

// PollInterval returns the report poll interval as a duration
func (c SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MaxWait returns the report poll deadline as a duration. Zero means no deadline.
func (c SyncConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitMinutes) * time.Minute
}

// DriveInterval returns the driver loop interval as a duration
func (c SyncConfig) DriveInterval() time.Duration {
	return time.Duration(c.DriveIntervalSeconds) * time.Second
}

// RulesConfig holds rule engine configuration
type RulesConfig struct {
	MinBid float64 `yaml:"min_bid"`
	MaxBid float64 `yaml:"max_bid"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Ads.BaseURL == "" {
		cfg.Ads.BaseURL = "https://advertising-api.amazon.com"
	}
	if cfg.Ads.TokenURL == "" {
		cfg.Ads.TokenURL = "https://api.amazon.com/auth/o2/token"
	}
	if cfg.Ads.TimeoutSeconds == 0 {
		cfg.Ads.TimeoutSeconds = 30
	}
	if cfg.Ads.MaxRetries == 0 {
		cfg.Ads.MaxRetries = 3
	}
	if cfg.Sync.ShortWindowDays == 0 {
		cfg.Sync.ShortWindowDays = 1
	}
	if cfg.Sync.MediumWindowDays == 0 {
		cfg.Sync.MediumWindowDays = 7
	}
	if cfg.Sync.LongWindowDays == 0 {
		cfg.Sync.LongWindowDays = 30
	}
	if cfg.Sync.PollIntervalSeconds == 0 {
		cfg.Sync.PollIntervalSeconds = 15
	}
	if cfg.Sync.DriveIntervalSeconds == 0 {
		cfg.Sync.DriveIntervalSeconds = 300
	}
	if cfg.Rules.MinBid == 0 {
		cfg.Rules.MinBid = 0.02
	}
	if cfg.Rules.MaxBid == 0 {
		cfg.Rules.MaxBid = 10.00
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. An
// empty path means env-only deployment: defaults plus overrides.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = &Config{}
		applyDefaults(cfg)
	} else {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ADS_API_BASE_URL"); v != "" {
		cfg.Ads.BaseURL = v
	}
	if v := os.Getenv("ADS_TOKEN_URL"); v != "" {
		cfg.Ads.TokenURL = v
	}
	if v := os.Getenv("ADS_CLIENT_ID"); v != "" {
		cfg.Ads.ClientID = v
	}
	if v := os.Getenv("ADS_CLIENT_SECRET"); v != "" {
		cfg.Ads.ClientSecret = v
	}
	if v := os.Getenv("SYNC_STRICT_AGGREGATION"); v != "" {
		cfg.Sync.StrictAggregation = parseBool(v)
	}
	if v := os.Getenv("SYNC_STREAM_WRITES"); v != "" {
		cfg.Sync.StreamWrites = parseBool(v)
	}
	if v := os.Getenv("SYNC_ROLLING_SCHEDULE"); v != "" {
		cfg.Sync.RollingSchedule = parseBool(v)
	}
	if v := os.Getenv("SYNC_SINGLE_ACCOUNT_ID"); v != "" {
		cfg.Sync.SingleAccountID = v
	}
	if v := os.Getenv("SYNC_MAX_WAIT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxWaitMinutes = n
		}
	}
	if v := os.Getenv("SYNC_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.PollIntervalSeconds = n
		}
	}

	return cfg, nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
