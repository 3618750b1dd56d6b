// Package config provides application configuration management.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigEnv names the settings file when --config is not given.
const ConfigEnv = "HOOKROUTER_CONFIG"

// Config holds all application configuration.
type Config struct {
	// Handler execution
	HookDir         string        `yaml:"hookDir"`
	RegistryPath    string        `yaml:"registryPath"`
	HandlerTimeout  time.Duration `yaml:"handlerTimeout"`
	HostTimeout     time.Duration `yaml:"hostTimeout"`
	TimeoutExitCode int           `yaml:"timeoutExitCode"`
	MaxOutputBytes  int           `yaml:"maxOutputBytes"`

	LogLevel string `yaml:"logLevel"`

	// Redis / trace configuration
	RedisAddr        string `yaml:"redisAddr"`
	RedisUsername    string `yaml:"redisUsername"`
	RedisPassword    string `yaml:"redisPassword"`
	RedisDB          int    `yaml:"redisDB"`
	RedisTLSEnabled  bool   `yaml:"redisTLSEnabled"`
	RedisTLSInsecure bool   `yaml:"redisTLSInsecure"`
	TraceStream      string `yaml:"traceStream"`
	TraceMaxLen      int64  `yaml:"traceMaxLen"`
	EventsChannel    string `yaml:"eventsChannel"`

	// Side channels
	MetricsTextfile string `yaml:"metricsTextfile"`
	Audit           bool   `yaml:"audit"`
	AuditDriver     string `yaml:"auditDriver"`
	AuditDSN        string `yaml:"auditDSN"`

	// Gemini adapter
	GeminiSessionFile string `yaml:"geminiSessionFile"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	hookDir := filepath.Join(home, ".claude", "hooks")
	return &Config{
		HookDir:           hookDir,
		HandlerTimeout:    30 * time.Second,
		HostTimeout:       60 * time.Second,
		TimeoutExitCode:   1,
		MaxOutputBytes:    1 << 20,
		LogLevel:          "warn",
		TraceStream:       "hookrouter:trace",
		TraceMaxLen:       10000,
		EventsChannel:     "hookrouter-events",
		AuditDriver:       "sqlite",
		GeminiSessionFile: filepath.Join(home, ".gemini", "tmp", "current_session_id"),
	}
}

// Load builds the configuration: defaults, then the settings file (path, or
// HOOKROUTER_CONFIG when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if cfg.Audit && cfg.AuditDriver == "sqlite" && cfg.AuditDSN == "" {
		cfg.AuditDSN = filepath.Join(cfg.HookDir, "hookrouter.db")
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HookDir = getEnv("HOOKROUTER_HOOK_DIR", c.HookDir)
	c.RegistryPath = getEnv("HOOKROUTER_REGISTRY", c.RegistryPath)
	c.HandlerTimeout = getEnvDuration("HOOKROUTER_HANDLER_TIMEOUT", c.HandlerTimeout)
	c.HostTimeout = getEnvDuration("HOOKROUTER_HOST_TIMEOUT", c.HostTimeout)
	c.TimeoutExitCode = getEnvInt("HOOKROUTER_TIMEOUT_EXIT_CODE", c.TimeoutExitCode)
	c.MaxOutputBytes = getEnvInt("HOOKROUTER_MAX_OUTPUT_BYTES", c.MaxOutputBytes)
	c.LogLevel = getEnv("HOOKROUTER_LOG_LEVEL", c.LogLevel)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisUsername = getEnv("REDIS_USERNAME", c.RedisUsername)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisTLSEnabled = getEnvBool("REDIS_TLS_ENABLED", c.RedisTLSEnabled)
	c.RedisTLSInsecure = getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", c.RedisTLSInsecure)
	c.TraceStream = getEnv("HOOKROUTER_TRACE_STREAM", c.TraceStream)
	c.TraceMaxLen = int64(getEnvInt("HOOKROUTER_TRACE_MAXLEN", int(c.TraceMaxLen)))
	c.EventsChannel = getEnv("HOOKROUTER_EVENTS_CHANNEL", c.EventsChannel)
	c.MetricsTextfile = getEnv("HOOKROUTER_METRICS_TEXTFILE", c.MetricsTextfile)
	c.Audit = getEnvBool("HOOKROUTER_AUDIT", c.Audit)
	c.AuditDriver = getEnv("HOOKROUTER_AUDIT_DRIVER", c.AuditDriver)
	c.AuditDSN = getEnv("HOOKROUTER_AUDIT_DSN", c.AuditDSN)
	if c.AuditDriver == "postgres" && c.AuditDSN == "" {
		c.AuditDSN = os.Getenv("POSTGRES_DSN")
	}
	c.GeminiSessionFile = getEnv("HOOKROUTER_GEMINI_SESSION_FILE", c.GeminiSessionFile)
}

// AuditEnabled reports whether invocations should be journaled.
func (c *Config) AuditEnabled() bool {
	return c.AuditDSN != ""
}

// TraceEnabled reports whether trace events are shipped to Redis.
func (c *Config) TraceEnabled() bool {
	return c.RedisAddr != "" && c.TraceStream != ""
}

// EventsEnabled reports whether route completions are published to Redis.
func (c *Config) EventsEnabled() bool {
	return c.RedisAddr != "" && c.EventsChannel != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
