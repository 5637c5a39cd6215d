// Package config loads the sprocd configuration.
//
// A Config is built once at process start by Load, validated, and then
// passed by value to the constructors that need it. Nothing in the core
// reads configuration from globals.
package config

import (
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/filestore"
	"github.com/koustreak/sproc/internal/logger"
	"github.com/koustreak/sproc/internal/mapping"
)

// Environment variables that override file values.
const (
	EnvDSN      = "SPROC_DSN"
	EnvDriver   = "SPROC_DRIVER"
	EnvLogLevel = "SPROC_LOG_LEVEL"
)

// Config is the full sprocd configuration.
type Config struct {
	Database database.Config  `yaml:"database"`
	Mapping  Mapping          `yaml:"mapping"`
	Logger   logger.Config    `yaml:"logger"`
	Server   Server           `yaml:"server"`
	Export   filestore.Config `yaml:"export"`
}

// Mapping configures the default row mapper.
type Mapping struct {
	// Policy is "permissive" (skip fields that cannot be filled) or "strict".
	Policy string `yaml:"policy"`
}

// Server configures the HTTP gateway.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Default returns production defaults. The DSN is left empty and must come
// from the file or SPROC_DSN.
func Default() *Config {
	exp := filestore.DefaultConfig("", "", "")
	return &Config{
		Database: *database.DefaultConfig(""),
		Mapping:  Mapping{Policy: mapping.PolicyPermissive.String()},
		Logger:   logger.Config{Level: "info", Format: "json", TimeFormat: "rfc3339"},
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Export: *exp,
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindNotFound, "failed to read config "+path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to parse config "+path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDSN); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := lookup(EnvDriver); ok && v != "" {
		c.Database.Driver = database.Driver(strings.ToLower(v))
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logger.Level = v
	}
}

// Validate rejects unknown drivers, policies and log levels, an empty DSN
// and an incomplete export section.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if _, err := mapping.ParsePolicy(c.Mapping.Policy); err != nil {
		return err
	}
	if !logger.ValidLevel(c.Logger.Level) {
		return errs.Newf(errs.ErrKindInvalidInput, "unknown log level %q", c.Logger.Level)
	}
	if c.Server.Addr == "" {
		return errs.New(errs.ErrKindInvalidInput, "server addr is empty")
	}
	return c.Export.Validate()
}

// MappingPolicy returns the parsed mapping policy. Call after Validate.
func (c *Config) MappingPolicy() mapping.Policy {
	p, _ := mapping.ParsePolicy(c.Mapping.Policy)
	return p
}
