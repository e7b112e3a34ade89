// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `koanf:"burst" validate:"gt=0"`
	RefillInterval time.Duration `koanf:"refill_interval" validate:"gt=0"`
}

// StoreConfig sizes the database and its worker pool.
type StoreConfig struct {
	Path      string `koanf:"path" validate:"required"`
	Workers   int    `koanf:"workers" validate:"gt=0,lte=256"`
	QueueSize int    `koanf:"queue_size" validate:"gt=0"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port             string          `koanf:"port" validate:"required"`
	AllowedOrigins   []string        `koanf:"allowed_origins"`
	MaxMessageSize   int64           `koanf:"max_message_size" validate:"gt=0"`
	RateLimit        RateLimitConfig `koanf:"rate_limit"`
	HistoryLimit     int             `koanf:"history_limit" validate:"gt=0,lte=1000"`
	UpgradeRateLimit int             `koanf:"upgrade_rate_limit" validate:"gte=0"`
	ShutdownTimeout  time.Duration   `koanf:"shutdown_timeout" validate:"gt=0"`
	JWTSecret        string          `koanf:"jwt_secret" validate:"required,min=16"`
	Store            StoreConfig     `koanf:"store"`
	Log              LogConfig       `koanf:"log"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 64 << 10,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		HistoryLimit:     50,
		UpgradeRateLimit: 30,
		ShutdownTimeout:  10 * time.Second,
		Store: StoreConfig{
			Path:      "gochat.db",
			Workers:   4,
			QueueSize: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// sanitizeConfig fills zero values with defaults so hand-built configs (tests,
// embedding) behave like loaded ones.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Validate checks the struct tags of cfg.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadConfig layers defaults, an optional YAML file and the environment, in
// that order of increasing priority.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}
	if err := processDurationFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"server_port":                "port",
	"allowed_origins":            "allowed_origins",
	"max_message_size":           "max_message_size",
	"rate_limit_burst":           "rate_limit.burst",
	"rate_limit_refill_interval": "rate_limit.refill_interval",
	"history_limit":              "history_limit",
	"upgrade_rate_limit":         "upgrade_rate_limit",
	"shutdown_timeout":           "shutdown_timeout",
	"jwt_secret":                 "jwt_secret",
	"database_path":              "store.path",
	"store_workers":              "store.workers",
	"store_queue_size":           "store.queue_size",
	"log_level":                  "log.level",
	"log_format":                 "log.format",
}

// envTransformFunc maps known environment variables to config paths and
// drops everything else.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// processSliceFields splits comma separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	val, ok := k.Get("allowed_origins").(string)
	if !ok {
		return nil
	}
	if err := k.Set("allowed_origins", parseOrigins(val)); err != nil {
		return fmt.Errorf("failed to set allowed_origins: %w", err)
	}
	return nil
}

// processDurationFields accepts bare integers as seconds, so
// RATE_LIMIT_REFILL_INTERVAL=2 keeps working alongside "2s".
func processDurationFields(k *koanf.Koanf) error {
	for _, path := range []string{"rate_limit.refill_interval", "shutdown_timeout"} {
		val, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		if err := k.Set(path, time.Duration(seconds)*time.Second); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
