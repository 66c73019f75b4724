package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit        string   `mapstructure:"BODY_LIMIT"`
	SiteSettingsFile string   `mapstructure:"SITE_SETTINGS_FILE"`

	// Client-side settings used by the review commands.
	WildbookURL        string `mapstructure:"WILDBOOK_URL"`
	HTTPTimeoutSeconds int    `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	SearchDebounceMS   int    `mapstructure:"SEARCH_DEBOUNCE_MS"`
	SearchMinChars     int    `mapstructure:"SEARCH_MIN_CHARS"`
	SearchPageSize     int    `mapstructure:"SEARCH_PAGE_SIZE"`
}

var keys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"CORS_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"BODY_LIMIT",
	"SITE_SETTINGS_FILE",
	"WILDBOOK_URL",
	"HTTP_TIMEOUT_SECONDS",
	"SEARCH_DEBOUNCE_MS",
	"SEARCH_MIN_CHARS",
	"SEARCH_PAGE_SIZE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("SITE_SETTINGS_FILE", "./site-settings.yaml")
	v.SetDefault("WILDBOOK_URL", "http://localhost:8000")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 15)
	v.SetDefault("SEARCH_DEBOUNCE_MS", 300)
	v.SetDefault("SEARCH_MIN_CHARS", 2)
	v.SetDefault("SEARCH_PAGE_SIZE", 20)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ValidateServer checks the settings the serve and migrate commands need.
// Review commands only talk to WILDBOOK_URL and skip this check.
func (c *Config) ValidateServer() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// ValidateClient checks the settings the review commands need.
func (c *Config) ValidateClient() error {
	if c.WildbookURL == "" {
		return fmt.Errorf("WILDBOOK_URL is required")
	}
	if c.SearchMinChars < 0 {
		return fmt.Errorf("SEARCH_MIN_CHARS must be >= 0, got %d", c.SearchMinChars)
	}
	if c.SearchPageSize <= 0 {
		return fmt.Errorf("SEARCH_PAGE_SIZE must be positive, got %d", c.SearchPageSize)
	}
	return nil
}

// HTTPTimeout returns the outbound request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// SearchDebounce returns the typeahead debounce interval.
func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMS) * time.Millisecond
}
