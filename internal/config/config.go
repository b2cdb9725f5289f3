// Package config loads the application configuration from the environment
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string   `yaml:"telegram_bot_token" env:"TELEGRAM_BOT_TOKEN" env-required:"true"`
	LogLevel         string   `yaml:"log_level"          env:"LOG_LEVEL"          env-default:"info"`
	Database         Database `yaml:"database"`
	Source           Source   `yaml:"source"`
	Enrich           Enrich   `yaml:"enrich"`
	Geocoder         Geocoder `yaml:"geocoder"`
	Send             Send     `yaml:"send"`
	Admin            Admin    `yaml:"admin"`
	Backup           Backup   `yaml:"backup"`
}

// Database selects the store.
type Database struct {
	Driver string `yaml:"driver" env:"DATABASE_DRIVER" env-default:"sqlite"`
	Path   string `yaml:"path"   env:"DATABASE_PATH"   env-default:"./data/bot.db"`
	URL    string `yaml:"url"    env:"DATABASE_URL"`
}

// Source configures polling of the news site.
type Source struct {
	BaseURL           string        `yaml:"base_url"            env:"SOURCE_BASE_URL"     env-default:"https://nerehta-adm.ru"`
	RPS               float64       `yaml:"rps"                 env:"SOURCE_RPS"          env-default:"2"`
	Timeout           time.Duration `yaml:"timeout"             env:"SOURCE_TIMEOUT"      env-default:"30s"`
	PollSchedule      string        `yaml:"poll_schedule"       env:"POLL_SCHEDULE"       env-default:"@every 1m"`
	FetchConcurrency  int           `yaml:"fetch_concurrency"   env:"FETCH_CONCURRENCY"   env-default:"4"`
	BackfillPageDelay time.Duration `yaml:"backfill_page_delay" env:"BACKFILL_PAGE_DELAY" env-default:"1s"`
}

// Enrich configures the optional text services. An empty URL disables the
// service.
type Enrich struct {
	SummaryURL string        `yaml:"summary_url" env:"SUMMARY_API_URL"`
	FormatURL  string        `yaml:"format_url"  env:"FORMAT_API_URL"`
	Timeout    time.Duration `yaml:"timeout"     env:"ENRICH_TIMEOUT" env-default:"60s"`
}

// Geocoder configures reverse geocoding of shared locations.
type Geocoder struct {
	URL       string `yaml:"url"        env:"GEOCODER_URL"`
	UserAgent string `yaml:"user_agent" env:"GEOCODER_USER_AGENT" env-default:"NewsNotifyBot/1.0"`
}

// Send configures notification fan-out.
type Send struct {
	Concurrency int     `yaml:"concurrency" env:"SEND_CONCURRENCY" env-default:"4"`
	RPS         float64 `yaml:"rps"         env:"SEND_RPS"         env-default:"25"`
}

// Admin configures the operator HTTP server and admin users.
type Admin struct {
	Addr   string  `yaml:"addr"    env:"ADMIN_ADDR"    env-default:"127.0.0.1:8080"`
	APIKey string  `yaml:"api_key" env:"ADMIN_API_KEY"`
	Users  []int64 `yaml:"users"   env:"ADMIN_USERS"   env-separator:","`
}

// Backup selects where backups go. WebDAV wins over Dir; with neither set
// backups are disabled.
type Backup struct {
	WebDAVURL   string `yaml:"webdav_url"   env:"BACKUP_WEBDAV_URL"`
	WebDAVLogin string `yaml:"webdav_login" env:"BACKUP_WEBDAV_LOGIN"`
	WebDAVToken string `yaml:"webdav_token" env:"BACKUP_WEBDAV_TOKEN"`
	Dir         string `yaml:"dir"          env:"BACKUP_DIR"`
}

// Load reads the file named by CONFIG_PATH when set, with environment
// variables taking precedence, or the environment alone otherwise.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("DATABASE_PATH is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}

	if c.Source.BaseURL == "" {
		return errors.New("SOURCE_BASE_URL is required")
	}
	if c.Source.RPS < 0 || c.Send.RPS < 0 {
		return errors.New("rate limits must not be negative")
	}
	if c.Source.FetchConcurrency < 1 || c.Send.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	if c.Backup.WebDAVURL != "" && c.Backup.WebDAVLogin == "" {
		return errors.New("BACKUP_WEBDAV_LOGIN is required with BACKUP_WEBDAV_URL")
	}
	return nil
}

// DSN returns the data source name for the configured driver.
func (c *Config) DSN() string {
	if c.Database.Driver == DriverPostgres {
		return c.Database.URL
	}
	return c.Database.Path
}
