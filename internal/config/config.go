// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML files with ${VAR} expansion, PARLEY_* overrides, .env files and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"
	"unicode/utf8"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/store"
)

// operatorIDPattern keeps the operator id in ASCII, where byte order and the
// widget's UTF-16 order agree when naming conversation channels.
var operatorIDPattern = regexp.MustCompile(`^[\x21-\x7e]+$`)

// Bus modes
const (
	BusModeLocal  = "local"
	BusModeRemote = "remote"
)

// Defaults applied to fields left empty
const (
	DefaultHTTPAddr   = "127.0.0.1:8080"
	DefaultOperatorID = "operator"
	DefaultSessionTTL = 24 * time.Hour
	DefaultBufferSize = 64
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultCensorChar = "*"
)

// Database drivers
const (
	DriverSQLite   = store.DriverSQLite
	DriverPostgres = store.DriverPostgres
)

// Config represents the complete parley configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database"`
	Operator   OperatorConfig   `yaml:"operator"`
	Auth       AuthConfig       `yaml:"auth"`
	Bus        BusConfig        `yaml:"bus"`
	Moderation ModerationConfig `yaml:"moderation"`
	Search     SearchConfig     `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// AllowedOrigins lists browser origins allowed to call the API (the embeddable visitor widget)
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"` // serve on :443 with tailnet certificates
}

// DatabaseConfig holds database configuration. Path is used by the sqlite
// driver, DSN by the postgres driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// OperatorConfig names the single operator identity
type OperatorConfig struct {
	ID string `yaml:"id"`
}

// AuthConfig holds operator session configuration
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"-"`

	SessionTTLRaw string `yaml:"session_ttl"`
}

// BusConfig selects and tunes the delivery bus
type BusConfig struct {
	Mode        string `yaml:"mode"`
	BufferSize  int    `yaml:"buffer_size"`
	RelayURL    string `yaml:"relay_url"`
	RelaySecret string `yaml:"relay_secret"`
}

// ModerationConfig controls censoring of visitor messages
type ModerationConfig struct {
	Enabled       bool     `yaml:"enabled"`
	CensoredWords []string `yaml:"censored_words"`
	CensorChar    string   `yaml:"censor_char"`
}

// SearchConfig controls the operator full-text index
type SearchConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is the index directory; empty keeps the index in memory
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the config file location: $PARLEY_CONFIG if set,
// otherwise parley/parley.yaml under $XDG_CONFIG_HOME or ~/.config.
func DefaultPath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "parley", "parley.yaml")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "parley", "parley.yaml")
}

// LoadEnvFiles loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, and non-empty
// PARLEY_* variables override the matching file values.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// envOverrides lists the PARLEY_* variables that replace file values when set.
type envOverrides struct {
	HTTPAddr    string `env:"PARLEY_HTTP_ADDR"`
	DBDriver    string `env:"PARLEY_DB_DRIVER"`
	DBPath      string `env:"PARLEY_DB_PATH"`
	DBDSN       string `env:"PARLEY_DB_DSN"`
	JWTSecret   string `env:"PARLEY_JWT_SECRET"`
	SessionTTL  string `env:"PARLEY_SESSION_TTL"`
	OperatorID  string `env:"PARLEY_OPERATOR_ID"`
	BusMode     string `env:"PARLEY_BUS_MODE"`
	RelayURL    string `env:"PARLEY_RELAY_URL"`
	RelaySecret string `env:"PARLEY_RELAY_SECRET"`
	LogLevel    string `env:"PARLEY_LOG_LEVEL"`
	LogFormat   string `env:"PARLEY_LOG_FORMAT"`
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.HTTPAddr, o.HTTPAddr)
	set(&cfg.Database.Driver, o.DBDriver)
	set(&cfg.Database.Path, o.DBPath)
	set(&cfg.Database.DSN, o.DBDSN)
	set(&cfg.Auth.JWTSecret, o.JWTSecret)
	set(&cfg.Auth.SessionTTLRaw, o.SessionTTL)
	set(&cfg.Operator.ID, o.OperatorID)
	set(&cfg.Bus.Mode, o.BusMode)
	set(&cfg.Bus.RelayURL, o.RelayURL)
	set(&cfg.Bus.RelaySecret, o.RelaySecret)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Logging.Format, o.LogFormat)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Moderation.CensorChar == "" {
		c.Moderation.CensorChar = DefaultCensorChar
	}
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Operator.ID == "" {
		c.Operator.ID = DefaultOperatorID
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}
	if c.Bus.Mode == "" {
		c.Bus.Mode = BusModeLocal
	}
	if c.Bus.BufferSize == 0 {
		c.Bus.BufferSize = DefaultBufferSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if !operatorIDPattern.MatchString(c.Operator.ID) {
		return fmt.Errorf("operator.id must be printable ASCII without spaces, got %q", c.Operator.ID)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when database.driver is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Auth.SessionTTL < 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}

	switch c.Bus.Mode {
	case BusModeLocal:
	case BusModeRemote:
		if c.Bus.RelayURL == "" {
			return fmt.Errorf("bus.relay_url is required when bus.mode is %q", BusModeRemote)
		}
		if c.Bus.RelaySecret == "" {
			return fmt.Errorf("bus.relay_secret is required when bus.mode is %q", BusModeRemote)
		}
	default:
		return fmt.Errorf("bus.mode must be %q or %q, got %q", BusModeLocal, BusModeRemote, c.Bus.Mode)
	}
	if c.Bus.BufferSize < 0 {
		return fmt.Errorf("bus.buffer_size must not be negative")
	}

	if c.Moderation.Enabled {
		if len(c.Moderation.CensoredWords) == 0 {
			return fmt.Errorf("moderation.censored_words is required when moderation is enabled")
		}
		if utf8.RuneCountInString(c.Moderation.CensorChar) != 1 {
			return fmt.Errorf("moderation.censor_char must be a single character")
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Auth.SessionTTLRaw != "" {
		d, err := time.ParseDuration(cfg.Auth.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Auth.SessionTTLRaw, err)
		}
		cfg.Auth.SessionTTL = d
	}
	return nil
}
