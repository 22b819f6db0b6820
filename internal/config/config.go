// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Site      SiteConfig      `mapstructure:"site"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Scripts   ScriptsConfig   `mapstructure:"scripts"`
	Clock     ClockConfig     `mapstructure:"clock"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// StoreConfig selects and tunes the durable store.
type StoreConfig struct {
	Driver      string        `mapstructure:"driver"`
	Path        string        `mapstructure:"path"`
	DSN         string        `mapstructure:"dsn"`
	Reset       bool          `mapstructure:"reset"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	MaxConns    int           `mapstructure:"max_conns"`
}

// SiteConfig describes the crawled site.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	FirstYear int    `mapstructure:"first_year"`
	LastYear  int    `mapstructure:"last_year"`
}

// FetchConfig controls HTTP identity, retries and pacing.
type FetchConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// WorkersConfig sizes the pool and bounds batch retries.
type WorkersConfig struct {
	Size         int           `mapstructure:"size"`
	Multiplier   float64       `mapstructure:"multiplier"`
	RetryCeiling int           `mapstructure:"retry_ceiling"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// ScriptsConfig locates the post-load SQL scripts.
type ScriptsConfig struct {
	Dir  string   `mapstructure:"dir"`
	Skip []string `mapstructure:"skip"`
}

// ClockConfig sets the zone observation timestamps are written in.
type ClockConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Addr              string   `mapstructure:"addr"`
	RequestsPerMinute int      `mapstructure:"requests_per_minute"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "data/pitchfork.db")
	v.SetDefault("store.reset", false)
	v.SetDefault("store.busy_timeout", "10s")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("site.base_url", "https://pitchfork.com")
	v.SetDefault("site.first_year", 1999)
	v.SetDefault("site.last_year", time.Now().Year())
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_retries", 20)
	v.SetDefault("fetch.retry_delay", "2s")
	v.SetDefault("fetch.requests_per_second", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("workers.size", 0)
	v.SetDefault("workers.multiplier", 2.5)
	v.SetDefault("workers.retry_ceiling", 10)
	v.SetDefault("workers.retry_backoff", "0s")
	v.SetDefault("scripts.dir", "sql_scripts")
	v.SetDefault("scripts.skip", []string{"Create Tables"})
	v.SetDefault("clock.timezone", "Europe/Vienna")
	v.SetDefault("logging.development", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.requests_per_minute", 120)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("telemetry.service_name", "pitchfork-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, postgres", c.Store.Driver))
	}
	if u, err := url.Parse(c.Site.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("site.base_url %q must be an absolute url", c.Site.BaseURL))
	}
	if c.Site.FirstYear > c.Site.LastYear {
		errs = append(errs, fmt.Errorf("site.first_year %d is after site.last_year %d", c.Site.FirstYear, c.Site.LastYear))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be > 0"))
	}
	if c.Fetch.MaxRetries < 1 {
		errs = append(errs, errors.New("fetch.max_retries must be >= 1"))
	}
	if c.Fetch.RetryDelay < 0 {
		errs = append(errs, errors.New("fetch.retry_delay must be >= 0"))
	}
	if c.Fetch.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("fetch.requests_per_second must be >= 0"))
	}
	if c.Workers.Size < 0 {
		errs = append(errs, errors.New("workers.size must be >= 0"))
	}
	if c.Workers.Multiplier <= 0 {
		errs = append(errs, errors.New("workers.multiplier must be > 0"))
	}
	if c.Workers.RetryCeiling < 0 {
		errs = append(errs, errors.New("workers.retry_ceiling must be >= 0"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("server.requests_per_minute must be > 0"))
	}
	return errors.Join(errs...)
}

// Location resolves clock.timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Clock.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clock.timezone %q: %w", c.Clock.Timezone, err)
	}
	return loc, nil
}
