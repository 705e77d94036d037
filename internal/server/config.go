// Package server provides configuration helpers that define runtime defaults,
// the optional YAML config file and environment overrides for the relay.
package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/Tyrowin/relaychat/internal/chatlog"
)

// Config holds the server configuration settings.
type Config struct {
	Port           string
	AllowedOrigins []string
	StoreBackend   string
	StoreDSN       string
	// StoreToken is the access credential of a hosted libSQL store.
	StoreToken     string
	RecoveryWindow time.Duration
	LogLevel       string
	LogFormat      string
}

// fileConfig is the YAML layout of a config file. Durations are Go duration
// strings such as "2m".
type fileConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Store          struct {
		Backend string `yaml:"backend"`
		DSN     string `yaml:"dsn"`
		Token   string `yaml:"token"`
	} `yaml:"store"`
	RecoveryWindow string `yaml:"recovery_window"`
	Log            struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaultConfig() Config {
	return Config{
		Port:           ":3000",
		AllowedOrigins: []string{"*"},
		StoreBackend:   chatlog.BackendSQLite,
		StoreDSN:       chatlog.DefaultDSN,
		RecoveryWindow: DefaultRecoveryWindow,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path (skipped when path is empty), then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case chatlog.BackendSQLite, chatlog.BackendMemory:
	case chatlog.BackendLibSQL:
		if c.StoreDSN == "" || c.StoreDSN == chatlog.DefaultDSN {
			return fmt.Errorf("store backend %q needs a database URL in STORE_DSN", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.RecoveryWindow < 0 {
		return fmt.Errorf("recovery window must not be negative, got %s", c.RecoveryWindow)
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != "" {
		cfg.Port = normalizePort(fc.Port)
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.Store.Backend != "" {
		cfg.StoreBackend = fc.Store.Backend
	}
	if fc.Store.DSN != "" {
		cfg.StoreDSN = fc.Store.DSN
	}
	if fc.Store.Token != "" {
		cfg.StoreToken = fc.Store.Token
	}
	if fc.RecoveryWindow != "" {
		window, err := time.ParseDuration(fc.RecoveryWindow)
		if err != nil {
			return fmt.Errorf("parse recovery_window: %w", err)
		}
		cfg.RecoveryWindow = window
	}
	if fc.Log.Level != "" {
		cfg.LogLevel = fc.Log.Level
	}
	if fc.Log.Format != "" {
		cfg.LogFormat = fc.Log.Format
	}
	return nil
}

func applyEnv(cfg *Config) {
	// PORT is what most hosting platforms set.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		cfg.StoreBackend = strings.ToLower(backend)
	}
	if dsn := os.Getenv("STORE_DSN"); dsn != "" {
		cfg.StoreDSN = dsn
	}
	// DB_TOKEN is the name hosted SQL providers hand out.
	if token := os.Getenv("DB_TOKEN"); token != "" {
		cfg.StoreToken = token
	}
	if token := os.Getenv("STORE_TOKEN"); token != "" {
		cfg.StoreToken = token
	}

	if window := os.Getenv("RECOVERY_WINDOW"); window != "" {
		cfg.RecoveryWindow = parseWindow(window, cfg.RecoveryWindow)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
}

// normalizePort accepts "3000" as well as ":3000" or "host:3000".
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseWindow(value string, defaultValue time.Duration) time.Duration {
	if window, err := time.ParseDuration(value); err == nil && window >= 0 {
		return window
	}
	return defaultValue
}
