package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"golang.org/x/text/encoding/ianaindex"
)

// ErrConfigValidation is returned when configuration validation fails
var ErrConfigValidation = errors.New("configuration validation failed")

// EnvPrefix prefixes every environment override, e.g. EXPRC_OPTIMIZE_FOLD.
const EnvPrefix = "EXPRC_"

// Config represents the exprc configuration
type Config struct {
	Optimize    OptimizeConfig    `yaml:"optimize"`
	Codegen     CodegenConfig     `yaml:"codegen"`
	Encoding    string            `yaml:"encoding"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
}

// OptimizeConfig toggles the optimization passes
type OptimizeConfig struct {
	Fold     bool `yaml:"fold"`
	Peephole bool `yaml:"peephole"`
}

// CodegenConfig represents code generation settings
type CodegenConfig struct {
	Division string `yaml:"division"` // "sign" or "zero"
}

// DiagnosticsConfig controls error reporting
type DiagnosticsConfig struct {
	MaxErrors int  `yaml:"max_errors"`
	Color     bool `yaml:"color"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// ServerConfig represents HTTP service settings
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   int      `yaml:"rate_limit"` // requests per minute per client, 0 disables
}

// Default returns the configuration used when no file or override is given.
func Default() *Config {
	return &Config{
		Optimize:    OptimizeConfig{Fold: true, Peephole: true},
		Codegen:     CodegenConfig{Division: "sign"},
		Encoding:    "UTF-8",
		Diagnostics: DiagnosticsConfig{MaxErrors: 10, Color: true},
		Log:         LogConfig{Level: "info", Format: "text"},
		Server:      ServerConfig{Addr: ":8080"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and finally EXPRC_* environment
// variables. A missing file at path is not an error.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.UnmarshalWithOptions(data, config, yaml.Strict()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := applyEnv(config, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadEnvFiles loads .env if it exists. Variables already set in the
// environment take precedence.
func loadEnvFiles() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from EXPRC_<SECTION>_<KEY> variables.
func applyEnv(c *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrConfigValidation, EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		i, err := cast.ToIntE(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrConfigValidation, EnvPrefix, key, err)
		}
		*dst = i
		return nil
	}

	if err := boolean("OPTIMIZE_FOLD", &c.Optimize.Fold); err != nil {
		return err
	}
	if err := boolean("OPTIMIZE_PEEPHOLE", &c.Optimize.Peephole); err != nil {
		return err
	}
	str("CODEGEN_DIVISION", &c.Codegen.Division)
	str("ENCODING", &c.Encoding)
	if err := integer("DIAGNOSTICS_MAX_ERRORS", &c.Diagnostics.MaxErrors); err != nil {
		return err
	}
	if err := boolean("DIAGNOSTICS_COLOR", &c.Diagnostics.Color); err != nil {
		return err
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("SERVER_ADDR", &c.Server.Addr)
	if v, ok := lookup(EnvPrefix + "SERVER_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, origin)
			}
		}
	}
	return integer("SERVER_RATE_LIMIT", &c.Server.RateLimit)
}

// Validate validates the configuration for common errors
func (c *Config) Validate() error {
	switch c.Codegen.Division {
	case "sign", "zero":
	default:
		return fmt.Errorf("%w: codegen.division '%s' is invalid: must be one of sign, zero", ErrConfigValidation, c.Codegen.Division)
	}

	if c.Encoding == "" {
		return fmt.Errorf("%w: encoding is required", ErrConfigValidation)
	}
	if enc, err := ianaindex.IANA.Encoding(c.Encoding); err != nil || enc == nil {
		return fmt.Errorf("%w: encoding '%s' is not supported", ErrConfigValidation, c.Encoding)
	}

	if c.Diagnostics.MaxErrors < 1 {
		return fmt.Errorf("%w: diagnostics.max_errors must be positive, got %d", ErrConfigValidation, c.Diagnostics.MaxErrors)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log.level '%s' is invalid: must be one of debug, info, warn, error", ErrConfigValidation, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format '%s' is invalid: must be one of text, json", ErrConfigValidation, c.Log.Format)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", ErrConfigValidation)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("%w: server.rate_limit must not be negative, got %d", ErrConfigValidation, c.Server.RateLimit)
	}
	return nil
}
