// Package config defines the explicit configuration surface of the
// storage layer. Options are enumerated and validated at construction
// time instead of probed at runtime.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/pkg/cache"
)

const (
	// EmulatedNATSURL is the fixed local endpoint used in emulated mode.
	EmulatedNATSURL = "nats://127.0.0.1:4222"
	// EmulatedProjectID is the test project used in emulated mode.
	EmulatedProjectID = "codepush-test"
)

// Config enumerates the recognized backend options.
type Config struct {
	// Emulated selects the local fixed endpoint and test project.
	// When false, ProjectID must be set explicitly.
	Emulated bool `json:"emulated"`

	// ProjectID selects the target project/environment. Bucket names are
	// namespaced under it.
	ProjectID string `json:"project_id"`

	// DatabaseID optionally selects a database within the project. Empty
	// means the default database.
	DatabaseID string `json:"database_id,omitempty"`

	// BucketName is the blob-store bucket holding package histories.
	BucketName string `json:"bucket_name"`

	// NATSURL is the backend endpoint. Ignored in emulated mode.
	NATSURL string `json:"nats_url"`

	// SignedURLBase is the public base URL signed blob links point at.
	SignedURLBase string `json:"signed_url_base,omitempty"`

	// SignedURLSecret signs short-lived blob read tokens. Required only
	// when signed URLs are minted.
	SignedURLSecret string `json:"-"`

	// SignedURLTTL bounds the lifetime of minted blob read tokens.
	SignedURLTTL time.Duration `json:"signed_url_ttl,omitempty"`

	// BlobCache configures the read-through cache for blob downloads.
	BlobCache cache.Config `json:"blob_cache"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Emulated:     false,
		BucketName:   "codepush_packages",
		NATSURL:      "nats://127.0.0.1:4222",
		SignedURLTTL: time.Hour,
		BlobCache:    cache.DefaultConfig(),
	}
}

// FromEnv builds a configuration from CODEPUSH_* environment variables on
// top of the defaults.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("CODEPUSH_EMULATED"); v != "" {
		emulated, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errors.New(errors.Invalid, "config", "FromEnv", "CODEPUSH_EMULATED must be a boolean")
		}
		cfg.Emulated = emulated
	}
	if v := os.Getenv("CODEPUSH_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("CODEPUSH_DATABASE_ID"); v != "" {
		cfg.DatabaseID = v
	}
	if v := os.Getenv("CODEPUSH_BUCKET_NAME"); v != "" {
		cfg.BucketName = v
	}
	if v := os.Getenv("CODEPUSH_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("CODEPUSH_SIGNED_URL_BASE"); v != "" {
		cfg.SignedURLBase = v
	}
	if v := os.Getenv("CODEPUSH_SIGNED_URL_SECRET"); v != "" {
		cfg.SignedURLSecret = v
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalized returns a copy with emulated-mode defaults applied.
func (c Config) Normalized() Config {
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.Emulated {
		c.NATSURL = EmulatedNATSURL
		if c.ProjectID == "" {
			c.ProjectID = EmulatedProjectID
		}
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = time.Hour
	}
}

// Validate checks the configuration, returning an Invalid error on the
// first unmet requirement.
func (c Config) Validate() error {
	if !c.Emulated && c.ProjectID == "" {
		return errors.New(errors.Invalid, "config", "Validate", "project id is required when not emulated")
	}
	if c.BucketName == "" {
		return errors.New(errors.Invalid, "config", "Validate", "bucket name is required")
	}
	if c.NATSURL == "" {
		return errors.New(errors.Invalid, "config", "Validate", "nats url is required")
	}
	if c.SignedURLBase != "" && c.SignedURLSecret == "" {
		return errors.New(errors.Invalid, "config", "Validate", "signed url secret is required when a base url is set")
	}
	return nil
}

// BucketPrefix returns the namespace prefix for document-store buckets,
// derived from the project and optional database id.
func (c Config) BucketPrefix() string {
	prefix := sanitizeBucketToken(c.ProjectID)
	if c.DatabaseID != "" {
		prefix += "_" + sanitizeBucketToken(c.DatabaseID)
	}
	return prefix
}

// sanitizeBucketToken maps an identifier onto the character set bucket
// names allow.
func sanitizeBucketToken(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_', ch == '-':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
