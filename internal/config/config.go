// Package config provides centralized configuration loading and validation
// for the chatgate gateway.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Key strategies selectable via RATE_LIMIT_KEY_STRATEGY.
const (
	KeyStrategyIP     = "ip"
	KeyStrategyIPPath = "ip_path"
)

// Config holds all validated configuration for the chatgate gateway.
type Config struct {
	// ListenAddr is the address the HTTP server binds to (e.g., ":3000").
	ListenAddr string

	// ChatServiceURL is the upstream chat/conversation service.
	ChatServiceURL *url.URL

	// AuthServiceURL is the upstream authentication service.
	AuthServiceURL *url.URL

	// TrustProxy enables trusting X-Forwarded-For headers.
	TrustProxy bool

	// AdminAPIToken is the bearer token required for management API access.
	AdminAPIToken string

	// RateLimitRequests is the number of requests allowed per window per key.
	RateLimitRequests int64

	// RateLimitWindow is the fixed window duration for rate limiting.
	RateLimitWindow time.Duration

	// RateLimitKeyStrategy selects how limit keys are derived (ip, ip_path).
	RateLimitKeyStrategy string

	// RateLimitSkipSuccessful excludes responses with status < 400 from the count.
	RateLimitSkipSuccessful bool

	// RateLimitSkipFailed excludes responses with status >= 400 from the count.
	RateLimitSkipFailed bool

	// RateLimitStrict counts at admission and refunds skipped requests,
	// instead of counting at response completion.
	RateLimitStrict bool

	// StoreTimeout bounds each distributed-store call.
	StoreTimeout time.Duration

	// RedisAddr is the Redis server address (host:port). Empty disables the
	// distributed backend and the limiter runs on the local store only.
	RedisAddr string

	// DatabaseURL is the PostgreSQL connection string for limiter analytics.
	// Empty string disables analytics persistence.
	DatabaseURL string

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string
}

// Load reads configuration from environment variables, applies defaults,
// and validates all required values.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:              getEnv("LISTEN_ADDR", ":3000"),
		TrustProxy:              getEnv("TRUST_PROXY", "false") == "true",
		AdminAPIToken:           strings.TrimSpace(getEnv("ADMIN_API_TOKEN", "")),
		RedisAddr:               strings.TrimSpace(getEnv("REDIS_ADDR", "localhost:6379")),
		DatabaseURL:             strings.TrimSpace(getEnv("DATABASE_URL", "")),
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", "info")),
		RateLimitKeyStrategy:    strings.ToLower(getEnv("RATE_LIMIT_KEY_STRATEGY", KeyStrategyIP)),
		RateLimitSkipSuccessful: getEnv("RATE_LIMIT_SKIP_SUCCESSFUL", "false") == "true",
		RateLimitSkipFailed:     getEnv("RATE_LIMIT_SKIP_FAILED", "false") == "true",
		RateLimitStrict:         getEnv("RATE_LIMIT_STRICT", "false") == "true",
	}

	requests, err := getEnvInt64("RATE_LIMIT_REQUESTS", 100)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitRequests = requests

	windowMS, err := getEnvInt64("RATE_LIMIT_WINDOW_MS", 60000)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitWindow = time.Duration(windowMS) * time.Millisecond

	timeoutMS, err := getEnvInt64("STORE_TIMEOUT_MS", 2000)
	if err != nil {
		return nil, err
	}
	cfg.StoreTimeout = time.Duration(timeoutMS) * time.Millisecond

	chatURL, err := parseServiceURL("CHAT_SERVICE_URL", "http://localhost:8080")
	if err != nil {
		return nil, err
	}
	cfg.ChatServiceURL = chatURL

	authURL, err := parseServiceURL("AUTH_SERVICE_URL", "http://localhost:8081")
	if err != nil {
		return nil, err
	}
	cfg.AuthServiceURL = authURL

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent and safe.
func (c *Config) Validate() error {
	for name, u := range map[string]*url.URL{
		"CHAT_SERVICE_URL": c.ChatServiceURL,
		"AUTH_SERVICE_URL": c.AuthServiceURL,
	} {
		if u == nil {
			return fmt.Errorf("config: %s is required", name)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("config: %s scheme must be http or https, got %q", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("config: %s must include a host", name)
		}
	}

	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_WINDOW_MS must be > 0")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("config: STORE_TIMEOUT_MS must be > 0")
	}
	if c.RateLimitKeyStrategy != KeyStrategyIP && c.RateLimitKeyStrategy != KeyStrategyIPPath {
		return fmt.Errorf("config: RATE_LIMIT_KEY_STRATEGY must be %q or %q, got %q",
			KeyStrategyIP, KeyStrategyIPPath, c.RateLimitKeyStrategy)
	}
	if c.AdminAPIToken == "change-me" {
		return fmt.Errorf("config: ADMIN_API_TOKEN must be changed from default value")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("config: LOG_LEVEL must be one of: debug, info, warn, error; got %q", c.LogLevel)
	}

	return nil
}

func parseServiceURL(key, fallback string) (*url.URL, error) {
	raw := getEnv(key, fallback)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
	return u, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
	return parsed, nil
}
