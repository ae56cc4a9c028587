package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Powerflow PowerflowConfig `yaml:"powerflow"`
	Reader    ReaderConfig    `yaml:"reader"`
	Source    SourceConfig    `yaml:"source"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type PowerflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ReaderConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	MaxConcurrent  int                  `yaml:"max_concurrent"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
}

// SourceConfig carries the MISO endpoints. Defaults cover the public
// data broker and market report servers; overrides exist mainly so
// tests can point the client at a local server.
type SourceConfig struct {
	LoadURL        string `yaml:"load_url"`
	FuelMixURL     string `yaml:"fuelmix_url"`
	LmpURL         string `yaml:"lmp_url"`
	ReportsBaseURL string `yaml:"reports_base_url"`
}

type SchedulerConfig struct {
	CycleDeadline time.Duration `yaml:"cycle_deadline"`
	MaxWorkers    int           `yaml:"max_workers"`
	Series        SeriesConfig  `yaml:"series"`
}

// SeriesConfig toggles individual series per invocation. All series
// default to enabled when the section is omitted.
type SeriesConfig struct {
	Load        *bool `yaml:"load"`
	Forecast    *bool `yaml:"forecast"`
	FuelMix     *bool `yaml:"fuelmix"`
	RealtimeLMP *bool `yaml:"realtime_lmp"`
	DayaheadLMP *bool `yaml:"dayahead_lmp"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	MaxConns       int           `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	EnsureSchema   bool          `yaml:"ensure_schema"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const (
	defaultLoadURL = "https://api.misoenergy.org/MISORTWDDataBroker/DataBrokerServices.asmx" +
		"?messageType=gettotalload&returnType=json"
	defaultFuelMixURL = "https://api.misoenergy.org/MISORTWDDataBroker/DataBrokerServices.asmx" +
		"?messageType=getfuelmix&returnType=json"
	defaultLmpURL = "https://api.misoenergy.org/MISORTWDBIReporter/Reporter.asmx" +
		"?messageType=rollingmarketday&returnType=csv"
	defaultReportsBaseURL = "https://docs.misoenergy.org/marketreports"
)

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Environment overrides for storage credentials. A full DSN wins;
	// otherwise one is assembled from the individual POSTGRES_* values.
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		config.Storage.Postgres.DSN = strings.TrimSpace(v)
	} else if host := os.Getenv("POSTGRES_HOST"); host != "" {
		config.Storage.Postgres.DSN = fmt.Sprintf(
			"postgres://%s:%s@%s/%s",
			url.QueryEscape(os.Getenv("POSTGRES_USER")),
			url.QueryEscape(os.Getenv("POSTGRES_PASSWORD")),
			strings.TrimSpace(host),
			url.QueryEscape(os.Getenv("POSTGRES_DB")),
		)
	}

	if v := os.Getenv("AWS_REGION"); v != "" && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Reader.Timeout <= 0 {
		cfg.Reader.Timeout = 30 * time.Second
	}
	if cfg.Reader.MaxConcurrent <= 0 {
		cfg.Reader.MaxConcurrent = 8
	}
	if cfg.Reader.ConnectionPool.MaxIdleConns <= 0 {
		cfg.Reader.ConnectionPool.MaxIdleConns = 8
	}
	if cfg.Reader.ConnectionPool.MaxConnsPerHost <= 0 {
		cfg.Reader.ConnectionPool.MaxConnsPerHost = 8
	}
	if cfg.Reader.ConnectionPool.IdleConnTimeout <= 0 {
		cfg.Reader.ConnectionPool.IdleConnTimeout = 90 * time.Second
	}
	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		cfg.Reader.RateLimit.RequestsPerSecond = 5
	}
	if cfg.Reader.RateLimit.BurstSize <= 0 {
		cfg.Reader.RateLimit.BurstSize = 5
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		cfg.Reader.Retry.MaxAttempts = 4
	}
	if cfg.Reader.Retry.BaseDelay <= 0 {
		cfg.Reader.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Reader.Retry.MaxDelay <= 0 {
		cfg.Reader.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.Reader.Retry.MaxJitter <= 0 {
		cfg.Reader.Retry.MaxJitter = 250 * time.Millisecond
	}

	if cfg.Source.LoadURL == "" {
		cfg.Source.LoadURL = defaultLoadURL
	}
	if cfg.Source.FuelMixURL == "" {
		cfg.Source.FuelMixURL = defaultFuelMixURL
	}
	if cfg.Source.LmpURL == "" {
		cfg.Source.LmpURL = defaultLmpURL
	}
	if cfg.Source.ReportsBaseURL == "" {
		cfg.Source.ReportsBaseURL = defaultReportsBaseURL
	}

	if cfg.Scheduler.CycleDeadline <= 0 {
		cfg.Scheduler.CycleDeadline = 4 * time.Minute
	}
	if cfg.Scheduler.MaxWorkers <= 0 {
		cfg.Scheduler.MaxWorkers = 4
	}

	if cfg.Storage.Postgres.MaxConns <= 0 {
		cfg.Storage.Postgres.MaxConns = 4
	}
	if cfg.Storage.Postgres.ConnectTimeout <= 0 {
		cfg.Storage.Postgres.ConnectTimeout = 10 * time.Second
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Powerflow.Name == "" {
		return fmt.Errorf("powerflow.name is required")
	}

	if cfg.Powerflow.Version == "" {
		return fmt.Errorf("powerflow.version is required")
	}

	if cfg.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required")
	}

	for name, raw := range map[string]string{
		"source.load_url":         cfg.Source.LoadURL,
		"source.fuelmix_url":      cfg.Source.FuelMixURL,
		"source.lmp_url":          cfg.Source.LmpURL,
		"source.reports_base_url": cfg.Source.ReportsBaseURL,
	} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("%s '%s' is invalid: %w", name, raw, err)
		}
	}

	return nil
}

// SeriesEnabled reports whether a toggle is on, treating a missing
// toggle as enabled.
func SeriesEnabled(v *bool) bool {
	return v == nil || *v
}
