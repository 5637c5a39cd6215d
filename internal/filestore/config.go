package filestore

import (
	"time"

	"github.com/koustreak/sproc/internal/errs"
)

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderMinIO Provider = "minio"
)

// Config holds all settings needed to connect to the export bucket.
type Config struct {
	// Provider is the storage backend (e.g. ProviderMinIO).
	Provider Provider `yaml:"provider"`

	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO. Empty disables export.
	Endpoint string `yaml:"endpoint"`

	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool `yaml:"use_ssl"`

	// Region is used by region-aware backends. Leave empty for MinIO.
	Region string `yaml:"region"`

	// Bucket receives exported result sets. It is created on startup when
	// missing.
	Bucket string `yaml:"bucket"`

	// PresignTTL is how long download links handed out after an export stay valid.
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

// DefaultConfig returns a sensible local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:   ProviderMinIO,
		Endpoint:   endpoint,
		AccessKey:  accessKey,
		SecretKey:  secretKey,
		Bucket:     "sproc-exports",
		PresignTTL: 15 * time.Minute,
	}
}

// Enabled reports whether an export backend is configured.
func (c *Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate checks an enabled config. A disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Provider != ProviderMinIO {
		return errs.Newf(errs.ErrKindInvalidInput, "unknown export provider %q", c.Provider)
	}
	if c.Bucket == "" {
		return errs.New(errs.ErrKindInvalidInput, "export bucket is empty")
	}
	if c.PresignTTL <= 0 {
		return errs.New(errs.ErrKindInvalidInput, "export presign_ttl must be positive")
	}
	return nil
}
