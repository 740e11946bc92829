// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults; every timeout and capacity knob the chat broker exposes is
// configurable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret    string
	JWTExpiresIn time.Duration

	DefaultMaxChatsPerAgent int
	ChatIdleTimeout         time.Duration
	IdleReaperInterval      time.Duration
	AutoAssignEnabled       bool

	BrokerPoolCapacity int
	DispatchPoolSize   int
	DispatchPoolCap    int

	Retry RetryConfig
}

// RetryConfig holds the DB_MAX_RETRIES / DB_RETRY_BASE_DELAY settings.
// The store's retry loop does not read them; it uses its own fixed
// values (3 attempts, 50ms base delay).
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/chatbroker.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiresIn: getEnvDuration("JWT_EXPIRES_IN", 24*time.Hour),

		DefaultMaxChatsPerAgent: getEnvInt("MAX_CHATS_PER_CS", 5),
		ChatIdleTimeout:         getEnvDuration("CHAT_IDLE_TIMEOUT", 30*time.Minute),
		IdleReaperInterval:      getEnvDuration("IDLE_REAPER_INTERVAL", 30*time.Second),
		AutoAssignEnabled:       getEnvBool("AUTO_ASSIGN_ENABLED", true),

		BrokerPoolCapacity: getEnvInt("BROKER_POOL_CAPACITY", 1024),
		DispatchPoolSize:   getEnvInt("DISPATCH_POOL_SIZE", 4),
		DispatchPoolCap:    getEnvInt("DISPATCH_POOL_CAPACITY", 256),

		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET cannot be empty outside development")
	}
	if c.DefaultMaxChatsPerAgent <= 0 {
		return fmt.Errorf("MAX_CHATS_PER_CS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// UsesRedis reports whether a Redis-backed session cache was configured.
func (c *Config) UsesRedis() bool {
	return c.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
