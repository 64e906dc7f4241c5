// ABOUTME: Configuration loading and parsing for smsdb
// ABOUTME: Reads YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "smsdb"

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "SMSDB_CONFIG"

// Config represents the complete smsdb configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Lists    ListsConfig    `yaml:"lists" toml:"lists"`
	Device   DeviceConfig   `yaml:"device" toml:"device"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds the store location and backend
type DatabaseConfig struct {
	Backend     string        `yaml:"backend" toml:"backend"` // sqlite or bolt
	Path        string        `yaml:"path" toml:"path"`
	BusyTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	BusyTimeoutRaw string `yaml:"busy_timeout" toml:"busy_timeout"`
}

// ListsConfig holds message list retention. Zero values mean unlimited.
type ListsConfig struct {
	TTL      time.Duration `yaml:"-" toml:"-"`
	MaxLists int           `yaml:"max_lists" toml:"max_lists"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// DeviceConfig describes the local endpoint
type DeviceConfig struct {
	MSISDN string `yaml:"msisdn" toml:"msisdn"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend:        "sqlite",
			Path:           DefaultDatabasePath(),
			BusyTimeout:    5 * time.Second,
			BusyTimeoutRaw: "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the config file location: $SMSDB_CONFIG if set,
// otherwise config.yaml under the XDG config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// DefaultDatabasePath returns the database location under the XDG data directory.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, appName, "sms.db")
}

// Find loads the config at path. An empty path means DefaultPath; if that
// file does not exist and was not named through the environment, Default
// is returned.
func Find(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	path = DefaultPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && os.Getenv(EnvConfigPath) == "" {
		return Default(), nil
	}
	return Load(path)
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Unset fields keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.Database.Path = expandHome(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("database.backend must be sqlite or bolt, got %q", c.Database.Backend)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}

	if c.Lists.TTL < 0 {
		return fmt.Errorf("lists.ttl must not be negative")
	}
	if c.Lists.MaxLists < 0 {
		return fmt.Errorf("lists.max_lists must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Database.BusyTimeoutRaw != "" {
		cfg.Database.BusyTimeout, err = time.ParseDuration(cfg.Database.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Database.BusyTimeoutRaw, err)
		}
	}

	if cfg.Lists.TTLRaw != "" {
		cfg.Lists.TTL, err = time.ParseDuration(cfg.Lists.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", cfg.Lists.TTLRaw, err)
		}
	}

	return nil
}
