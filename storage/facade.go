package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/metric"
)

// Storage is the public facade of the persistence layer. All repository
// operations share one backend pair and one lazily-initialized setup
// handle.
type Storage struct {
	docs    DocumentStore
	blobs   BlobStore
	boot    *Bootstrap
	logger  *slog.Logger
	metrics *metric.StorageMetrics
	now     func() time.Time

	accounts    *AccountRepository
	accessKeys  *AccessKeyRepository
	apps        *AppRepository
	deployments *DeploymentRepository
	history     *PackageHistoryStore
	health      *HealthChecker
}

// Option configures the facade.
type Option func(*Storage)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSetup installs the backend provisioning function behind the shared
// setup handle. Without it the facade assumes a provisioned backend.
func WithSetup(fn func(context.Context) error) Option {
	return func(s *Storage) {
		s.boot = NewBootstrap(fn)
	}
}

// WithMetrics attaches storage metrics, updated by the health checker.
func WithMetrics(m *metric.StorageMetrics) Option {
	return func(s *Storage) {
		s.metrics = m
	}
}

// WithClock overrides the time source. Tests use this to control
// created/expiry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the storage facade over the given backends.
func New(docs DocumentStore, blobs BlobStore, opts ...Option) *Storage {
	s := &Storage{
		docs:   docs,
		blobs:  blobs,
		boot:   NewBootstrap(nil),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.accounts = &AccountRepository{s: s}
	s.accessKeys = &AccessKeyRepository{s: s}
	s.apps = &AppRepository{s: s}
	s.deployments = &DeploymentRepository{s: s}
	s.history = &PackageHistoryStore{s: s}
	s.health = &HealthChecker{s: s}
	return s
}

// ready awaits the shared setup handle.
func (s *Storage) ready(ctx context.Context) error {
	return s.boot.Ensure(ctx)
}

// Accounts returns the account repository.
func (s *Storage) Accounts() *AccountRepository { return s.accounts }

// AccessKeys returns the access key repository.
func (s *Storage) AccessKeys() *AccessKeyRepository { return s.accessKeys }

// Apps returns the app repository.
func (s *Storage) Apps() *AppRepository { return s.apps }

// Deployments returns the deployment repository.
func (s *Storage) Deployments() *DeploymentRepository { return s.deployments }

// History returns the package history store.
func (s *Storage) History() *PackageHistoryStore { return s.history }

// Health returns the composite health checker.
func (s *Storage) Health() *HealthChecker { return s.health }

// GetBlobURL mints a time-limited public read URL for a stored blob.
func (s *Storage) GetBlobURL(ctx context.Context, blobID string, ttl time.Duration) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	if blobID == "" {
		return "", errors.New(errors.Invalid, "Storage", "GetBlobURL", "blob id cannot be empty")
	}
	url, err := s.blobs.SignedReadURL(ctx, blobID, ttl)
	if err != nil {
		return "", errors.Wrap(errors.Other, err, "Storage", "GetBlobURL", "sign read url")
	}
	return url, nil
}
