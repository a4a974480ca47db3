package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiseokYu/code-push-server/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "default with project id is valid",
			mutate: func(c *Config) { c.ProjectID = "prod" },
		},
		{
			name:    "missing project id fails when not emulated",
			mutate:  func(c *Config) {},
			wantErr: true,
		},
		{
			name:   "emulated mode needs no project id",
			mutate: func(c *Config) { c.Emulated = true },
		},
		{
			name: "empty bucket name fails",
			mutate: func(c *Config) {
				c.ProjectID = "prod"
				c.BucketName = ""
			},
			wantErr: true,
		},
		{
			name: "signed url base without secret fails",
			mutate: func(c *Config) {
				c.ProjectID = "prod"
				c.SignedURLBase = "https://cdn.example.com"
			},
			wantErr: true,
		},
		{
			name: "signed url base with secret is valid",
			mutate: func(c *Config) {
				c.ProjectID = "prod"
				c.SignedURLBase = "https://cdn.example.com"
				c.SignedURLSecret = "s3cret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			cfg = cfg.Normalized()

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEmulatedNormalization(t *testing.T) {
	cfg := Default()
	cfg.Emulated = true
	cfg.NATSURL = "nats://somewhere-else:4222"
	cfg = cfg.Normalized()

	assert.Equal(t, EmulatedNATSURL, cfg.NATSURL)
	assert.Equal(t, EmulatedProjectID, cfg.ProjectID)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CODEPUSH_EMULATED", "false")
	t.Setenv("CODEPUSH_PROJECT_ID", "staging")
	t.Setenv("CODEPUSH_DATABASE_ID", "eu")
	t.Setenv("CODEPUSH_BUCKET_NAME", "pkg_blobs")
	t.Setenv("CODEPUSH_NATS_URL", "nats://nats.internal:4222")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.ProjectID)
	assert.Equal(t, "pkg_blobs", cfg.BucketName)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATSURL)
	assert.Equal(t, "staging_eu", cfg.BucketPrefix())
	assert.Equal(t, time.Hour, cfg.SignedURLTTL)
}

func TestFromEnvRejectsBadBool(t *testing.T) {
	t.Setenv("CODEPUSH_EMULATED", "definitely")

	_, err := FromEnv()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestBucketPrefixSanitization(t *testing.T) {
	cfg := Config{ProjectID: "my.project", DatabaseID: "db:1"}
	assert.Equal(t, "my_project_db_1", cfg.BucketPrefix())
}
