// Package config defines the pricesync configuration and its defaults.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// DBPath is the SQLite database file. ":memory:" is accepted for tests.
	DBPath string `koanf:"db_path"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "json" (production) or "console".
	LogFormat string `koanf:"log_format"`

	// RejectsDir receives one CSV of rejected records per run. Empty disables the file.
	RejectsDir string `koanf:"rejects_dir"`

	// ListenAddr configures the HTTP listen address of `serve`, e.g. ":8080".
	ListenAddr string `koanf:"listen_addr"`

	// CORSAllowedOrigins is the allow list for the reporting API.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// TierCeilings maps a case-insensitive card name substring to its price ceiling in USD.
	TierCeilings map[string]float64 `koanf:"tier_ceilings"`

	// DefaultCeiling applies when no tier matches.
	DefaultCeiling float64 `koanf:"default_ceiling"`

	// RejectAbove zeroes any price strictly greater than this value.
	RejectAbove float64 `koanf:"reject_above"`

	// MatcherCacheSize bounds the matcher's LRU cache.
	MatcherCacheSize int `koanf:"matcher_cache_size"`

	PokemonTCGBaseURL string `koanf:"pokemontcg_base_url"`
	PokemonTCGAPIKey  string `koanf:"pokemontcg_api_key"`
	TCGdexBaseURL     string `koanf:"tcgdex_base_url"`

	// APITimeout is the per-request HTTP timeout for pricing APIs.
	APITimeout time.Duration `koanf:"api_timeout"`

	// APIRequestsPerSecond throttles pricing API calls. 0 derives it from the API key:
	// 10/s with a key, 1/s without.
	APIRequestsPerSecond float64 `koanf:"api_rps"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		DBPath:             "./cards.db",
		LogLevel:           "info",
		LogFormat:          "json",
		RejectsDir:         "./rejects",
		ListenAddr:         ":8080",
		CORSAllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		TierCeilings: map[string]float64{
			"gold star": 25000,
			"star":      15000,
		},
		DefaultCeiling:    5000,
		RejectAbove:       50000,
		MatcherCacheSize:  4096,
		PokemonTCGBaseURL: "https://api.pokemontcg.io/v2",
		TCGdexBaseURL:     "https://api.tcgdex.net/v2/en",
		APITimeout:        30 * time.Second,
	}
}

// RequestsPerSecond resolves the effective pricing API rate.
func (c *Config) RequestsPerSecond() float64 {
	if c.APIRequestsPerSecond > 0 {
		return c.APIRequestsPerSecond
	}
	if c.PokemonTCGAPIKey != "" {
		return 10
	}
	return 1
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the invariants the pipeline relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("%w: log_format must be json or console, got %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.DefaultCeiling <= 0 {
		return fmt.Errorf("%w: default_ceiling must be positive", ErrInvalidConfig)
	}
	if c.RejectAbove < c.DefaultCeiling {
		return fmt.Errorf("%w: reject_above (%v) is below default_ceiling (%v)", ErrInvalidConfig, c.RejectAbove, c.DefaultCeiling)
	}
	for tier, ceiling := range c.TierCeilings {
		if strings.TrimSpace(tier) == "" {
			return fmt.Errorf("%w: empty tier name", ErrInvalidConfig)
		}
		if ceiling <= 0 {
			return fmt.Errorf("%w: ceiling for tier %q must be positive", ErrInvalidConfig, tier)
		}
		if c.RejectAbove < ceiling {
			return fmt.Errorf("%w: reject_above (%v) is below the %q ceiling (%v)", ErrInvalidConfig, c.RejectAbove, tier, ceiling)
		}
	}
	if c.MatcherCacheSize <= 0 {
		return fmt.Errorf("%w: matcher_cache_size must be positive", ErrInvalidConfig)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("%w: api_timeout must be positive", ErrInvalidConfig)
	}
	if c.APIRequestsPerSecond < 0 {
		return fmt.Errorf("%w: api_rps must not be negative", ErrInvalidConfig)
	}
	return nil
}
