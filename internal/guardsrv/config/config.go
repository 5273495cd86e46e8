// Package config loads and validates the fenceline server configuration
// from a TOML file, with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Version is the supported config file format version.
const Version = "0.1"

// AuthConfig holds credential verification configuration.
type AuthConfig struct {
	Issuer               string `toml:"issuer" validate:"required"`                 // expected credential issuer
	Audience             string `toml:"audience" validate:"required"`               // expected credential audience
	MaxTokenAge          string `toml:"max_token_age" validate:"required"`          // maximum age for credentials
	ClockSkew            string `toml:"clock_skew" validate:"required"`             // allowed clock skew for time-based claims
	DefaultTokenValidity string `toml:"default_token_validity" validate:"required"` // validity for issued credentials
	ObjectTokenValidity  string `toml:"object_token_validity" validate:"required"`  // validity ceiling for scoped object tokens
	KeyEncryptionPasswd  string `toml:"key_encryption_passwd"`                     // password protecting the signing key at rest
	KeyStore             string `toml:"key_store" validate:"oneof=db memory"`       // where signing keys live
}

// GetMaxTokenAge returns the maximum credential age as a time.Duration.
func (a *AuthConfig) GetMaxTokenAge() (time.Duration, error) {
	return ParseDuration(a.MaxTokenAge)
}

// GetClockSkew returns the allowed clock skew as a time.Duration.
func (a *AuthConfig) GetClockSkew() (time.Duration, error) {
	return ParseDuration(a.ClockSkew)
}

// GetDefaultTokenValidity returns the issued-credential validity as a time.Duration.
func (a *AuthConfig) GetDefaultTokenValidity() (time.Duration, error) {
	return ParseDuration(a.DefaultTokenValidity)
}

// GetObjectTokenValidity returns the scoped object token validity ceiling.
func (a *AuthConfig) GetObjectTokenValidity() (time.Duration, error) {
	return ParseDuration(a.ObjectTokenValidity)
}

// GetClockSkewOrDefault returns the allowed clock skew or panics on an
// invalid value. Config validation makes the panic unreachable in a
// loaded config.
func (a *AuthConfig) GetClockSkewOrDefault() time.Duration {
	duration, err := a.GetClockSkew()
	if err != nil {
		panic(fmt.Sprintf("invalid clock skew: %v", err))
	}
	return duration
}

// GetDefaultTokenValidityOrDefault returns the issued-credential validity
// or panics on an invalid value.
func (a *AuthConfig) GetDefaultTokenValidityOrDefault() time.Duration {
	duration, err := a.GetDefaultTokenValidity()
	if err != nil {
		panic(fmt.Sprintf("invalid default token validity: %v", err))
	}
	return duration
}

// GetObjectTokenValidityOrDefault returns the scoped object token validity
// ceiling or panics on an invalid value.
func (a *AuthConfig) GetObjectTokenValidityOrDefault() time.Duration {
	duration, err := a.GetObjectTokenValidity()
	if err != nil {
		panic(fmt.Sprintf("invalid object token validity: %v", err))
	}
	return duration
}

// AuditConfig holds audit emitter configuration.
type AuditConfig struct {
	Path          string `toml:"path"`                                   // directory for the hash-chained audit log
	FlushInterval int    `toml:"flush_interval" validate:"gte=1"`        // entries buffered before a flush
	BufferSize    int    `toml:"buffer_size" validate:"gte=1,lte=65536"` // event channel capacity
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	DBName   string `toml:"dbname" validate:"required"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	SSLMode  string `toml:"sslmode" validate:"required"`
}

// ConfigParam holds all configuration parameters for the fenceline server.
type ConfigParam struct {
	FormatVersion string `toml:"format_version"`

	ServerHostName     string `toml:"server_hostname"`
	ServerPort         string `toml:"server_port" validate:"required"`
	HandleCORS         bool   `toml:"handle_cors"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	MaxRequestBodySize int64  `toml:"max_request_body_size" validate:"gt=0"`
	RequestTimeout     string `toml:"request_timeout"`

	Auth  AuthConfig  `toml:"auth"`
	Audit AuditConfig `toml:"audit"`
	DB    DBConfig    `toml:"db"`
}

var cfg *ConfigParam

// Config returns the current configuration.
func Config() *ConfigParam {
	return cfg
}

// DSN returns the database connection string.
func (c *ConfigParam) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.DBName, c.DB.SSLMode)
}

// GetRequestTimeout returns the per-request timeout, defaulting to 30s.
func (c *ConfigParam) GetRequestTimeout() time.Duration {
	if c.RequestTimeout == "" {
		return 30 * time.Second
	}
	d, err := ParseDuration(c.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ParseDuration parses a duration string in the format "<number><unit>"
// where unit is one of s, m, h, d, y.
func ParseDuration(input string) (time.Duration, error) {
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid duration format")
	}

	unit := input[len(input)-1:]
	valueStr := input[:len(input)-1]
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}

	var duration time.Duration
	switch unit {
	case "s":
		duration = time.Duration(value) * time.Second
	case "m":
		duration = time.Duration(value) * time.Minute
	case "h":
		duration = time.Duration(value) * time.Hour
	case "d":
		duration = time.Duration(value) * 24 * time.Hour
	case "y":
		duration = time.Duration(value) * 365 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}

	return duration, nil
}

// ValidateConfig checks that all required configuration values are present
// and valid, applying defaults where permitted.
func ValidateConfig(cfg *ConfigParam) error {
	if cfg.FormatVersion != Version {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = 16
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 1024
	}
	if cfg.Auth.KeyStore == "" {
		cfg.Auth.KeyStore = "db"
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for _, d := range []string{cfg.Auth.MaxTokenAge, cfg.Auth.ClockSkew, cfg.Auth.DefaultTokenValidity, cfg.Auth.ObjectTokenValidity} {
		if _, err := ParseDuration(d); err != nil {
			return fmt.Errorf("invalid auth duration %q: %v", d, err)
		}
	}

	if cfg.Audit.Path == "" {
		userHomeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error getting user home directory: %v", err)
		}
		cfg.Audit.Path = filepath.Join(userHomeDir, ".fenceline", "auditlogs")
	}
	if err := os.MkdirAll(cfg.Audit.Path, 0700); err != nil {
		return fmt.Errorf("error creating audit log directory: %v", err)
	}

	return nil
}

// LoadConfig loads configuration from a TOML file. DB password and key
// encryption password may be overridden by FENCELINE_DB_PASSWORD and
// FENCELINE_KEY_PASSWD environment variables; a .env file next to the
// working directory is honored if present.
func LoadConfig(filename string) error {
	if filename == "" {
		return fmt.Errorf("config filename is required")
	}

	_ = godotenv.Load() // no error if .env doesn't exist

	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	c := &ConfigParam{}
	if _, err := toml.Decode(string(content), c); err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}

	if passwd := os.Getenv("FENCELINE_DB_PASSWORD"); passwd != "" {
		c.DB.Password = passwd
	}
	if passwd := os.Getenv("FENCELINE_KEY_PASSWD"); passwd != "" {
		c.Auth.KeyEncryptionPasswd = passwd
	}

	if err := ValidateConfig(c); err != nil {
		return err
	}

	// Generate key encryption password if not set. This is intended for
	// evaluation only; any non-eval use should set a password in the
	// config file or environment.
	if c.Auth.KeyEncryptionPasswd == "" {
		c.Auth.KeyEncryptionPasswd = "guardsrv.fenceline.dev"
	}

	cfg = c
	return nil
}

var isTest = false

// IsTest reports whether the process runs under the test harness.
func IsTest() bool {
	return isTest
}

// TestInit loads the checked-in config file from the project root and
// switches the key store to memory so tests do not depend on persisted
// signing keys.
func TestInit() {
	isTest = true
	wd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			panic("could not find project root (go.mod)")
		}
		projectRoot = parent
	}
	if err := LoadConfig(filepath.Join(projectRoot, "fencelinesrv.conf")); err != nil {
		panic(fmt.Errorf("error loading config: %v", err))
	}
	cfg.Auth.KeyStore = "memory"
}
