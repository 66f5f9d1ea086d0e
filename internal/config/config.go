// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default Matter API endpoints.
const (
	DefaultFeedURL    = "https://api.getmatter.com/api/library_items/highlights_feed"
	DefaultRefreshURL = "https://api.getmatter.com/api/token/refresh"
)

// Config holds the application configuration.
// It is loaded once at startup and treated as immutable.
type Config struct {
	DatabasePath string
	LogLevel     string
	ListenAddr   string

	FeedURL    string
	RefreshURL string

	// MaxWrites bounds how many feed entries a single cycle may write.
	MaxWrites int
	// TickInterval is the scheduler's timer resolution.
	TickInterval time.Duration
	// Cooldown is the pause before a budget-exhausted cycle resumes.
	Cooldown time.Duration
	// StaleAfter is how old a heartbeat may be before an in-flight sync
	// is considered abandoned and its lock reclaimable.
	StaleAfter time.Duration
	// JitterRangeMinutes bounds the per-process scheduling jitter.
	JitterRangeMinutes int
	// PageRateLimit caps feed page requests per second.
	PageRateLimit float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:       "./data/mattersync.db",
		LogLevel:           "info",
		ListenAddr:         "127.0.0.1:8645",
		FeedURL:            DefaultFeedURL,
		RefreshURL:         DefaultRefreshURL,
		MaxWrites:          20,
		TickInterval:       time.Minute,
		Cooldown:           time.Minute,
		StaleAfter:         6 * time.Minute,
		JitterRangeMinutes: 3,
		PageRateLimit:      2,
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.FeedURL = v
	}
	if v := os.Getenv("REFRESH_URL"); v != "" {
		cfg.RefreshURL = v
	}

	if err := intVar(&cfg.MaxWrites, "MAX_WRITES"); err != nil {
		return nil, err
	}
	if cfg.MaxWrites <= 0 {
		return nil, fmt.Errorf("MAX_WRITES must be positive, got %d", cfg.MaxWrites)
	}
	if err := durationVar(&cfg.TickInterval, "TICK_INTERVAL"); err != nil {
		return nil, err
	}
	if err := durationVar(&cfg.Cooldown, "COOLDOWN"); err != nil {
		return nil, err
	}
	if err := durationVar(&cfg.StaleAfter, "STALE_AFTER"); err != nil {
		return nil, err
	}
	if err := intVar(&cfg.JitterRangeMinutes, "JITTER_RANGE_MINUTES"); err != nil {
		return nil, err
	}
	if err := floatVar(&cfg.PageRateLimit, "PAGE_RATE_LIMIT"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func intVar(dst *int, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = v
	return nil
}

func floatVar(dst *float64, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = v
	return nil
}

func durationVar(dst *time.Duration, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = v
	return nil
}
