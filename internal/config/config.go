// Package config provides configuration for the payment session service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"-"`

	// Store settings
	StoreBackend  string `yaml:"store_backend"`
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	PostgresDSN   string `yaml:"postgres_dsn"`

	// Policy settings
	MaxRequestAmount  string   `yaml:"max_request_amount"`
	AllowedCurrencies []string `yaml:"allowed_currencies"`
	PolicyFile        string   `yaml:"policy_file"`

	// WebSocket watch settings
	PingInterval  time.Duration `yaml:"-"`
	WriteTimeout  time.Duration `yaml:"-"`
	HubBufferSize int           `yaml:"hub_buffer_size"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Millisecond values as read from YAML
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`
	PingIntervalMs    int `yaml:"ws_ping_interval_ms"`
	WriteTimeoutMs    int `yaml:"ws_write_timeout_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:          8080,
		StoreBackend:      BackendSQLite,
		DatabaseURL:       "file:pmpcs.db?mode=rwc&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate",
		RedisAddr:         "localhost:6379",
		RedisPrefix:       "pmpcs:",
		MaxRequestAmount:  "0",
		HubBufferSize:     64,
		LogLevel:          "info",
		LogFormat:         "console",
		ShutdownTimeoutMs: 10000,
		PingIntervalMs:    30000,
		WriteTimeoutMs:    10000,
	}
}

// Load reads .env when present, then the YAML file named by PMPCS_CONFIG,
// then environment variables. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("PMPCS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", c.StoreBackend))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisPrefix = getEnv("REDIS_PREFIX", c.RedisPrefix)
	c.PostgresDSN = getEnv("POSTGRES_DSN", c.PostgresDSN)
	c.MaxRequestAmount = getEnv("MAX_REQUEST_AMOUNT", c.MaxRequestAmount)
	c.AllowedCurrencies = getEnvList("ALLOWED_CURRENCIES", c.AllowedCurrencies)
	c.PolicyFile = getEnv("POLICY_FILE", c.PolicyFile)
	c.HubBufferSize = getEnvInt("HUB_BUFFER_SIZE", c.HubBufferSize)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.ShutdownTimeoutMs = getEnvInt("SHUTDOWN_TIMEOUT_MS", c.ShutdownTimeoutMs)
	c.PingIntervalMs = getEnvInt("WS_PING_INTERVAL_MS", c.PingIntervalMs)
	c.WriteTimeoutMs = getEnvInt("WS_WRITE_TIMEOUT_MS", c.WriteTimeoutMs)

	c.ShutdownTimeout = time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
	c.PingInterval = time.Duration(c.PingIntervalMs) * time.Millisecond
	c.WriteTimeout = time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if _, err := c.MaxAmount(); err != nil {
		return err
	}
	for i, cur := range c.AllowedCurrencies {
		c.AllowedCurrencies[i] = strings.ToUpper(strings.TrimSpace(cur))
	}
	return nil
}

// MaxAmount parses MaxRequestAmount. Zero disables the limit.
func (c *Config) MaxAmount() (decimal.Decimal, error) {
	if strings.TrimSpace(c.MaxRequestAmount) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(c.MaxRequestAmount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid MAX_REQUEST_AMOUNT %q: %w", c.MaxRequestAmount, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("MAX_REQUEST_AMOUNT must not be negative")
	}
	return d, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
