package natsstore

import (
	"context"
	"log/slog"

	"github.com/JiseokYu/code-push-server/config"
	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/metric"
	"github.com/JiseokYu/code-push-server/natsclient"
	"github.com/JiseokYu/code-push-server/pkg/retry"
	"github.com/JiseokYu/code-push-server/storage"
)

// Store bundles the NATS-backed document and blob stores behind one
// connection, plus the provisioning entry point the storage facade runs
// lazily on first use.
type Store struct {
	client    *natsclient.Client
	documents *DocumentStore
	blobs     *BlobStore
	logger    *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger  *slog.Logger
	metrics *metric.StorageMetrics
}

// WithStoreLogger sets the logger, propagated to both backends.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStoreMetrics attaches operation metrics to both backends.
func WithStoreMetrics(m *metric.StorageMetrics) StoreOption {
	return func(o *storeOptions) {
		o.metrics = m
	}
}

// Open connects to the backend described by cfg and builds the store
// pair. The caller owns the returned store and must Close it.
func Open(ctx context.Context, cfg config.Config, opts ...StoreOption) (*Store, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := storeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := natsclient.NewClient(cfg.NATSURL, natsclient.WithLogger(o.logger))
	if err != nil {
		return nil, errors.Wrap(errors.Other, err, "Store", "Open", "build client")
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.Wrap(errors.ConnectionFailed, err, "Store", "Open", "connect")
	}
	return NewStore(client, cfg, opts...), nil
}

// NewStore builds the store pair over an already-connected client.
func NewStore(client *natsclient.Client, cfg config.Config, opts ...StoreOption) *Store {
	cfg = cfg.Normalized()

	o := storeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var signer *URLSigner
	if cfg.SignedURLBase != "" {
		// Config.Validate guarantees the secret accompanies the base.
		signer, _ = NewURLSigner(cfg.SignedURLBase, cfg.SignedURLSecret, cfg.SignedURLTTL)
	}

	docOpts := []DocumentStoreOption{WithDocumentLogger(o.logger)}
	blobOpts := []BlobStoreOption{WithBlobLogger(o.logger)}
	if o.metrics != nil {
		docOpts = append(docOpts, WithDocumentMetrics(o.metrics))
		blobOpts = append(blobOpts, WithBlobMetrics(o.metrics))
	}
	if signer != nil {
		blobOpts = append(blobOpts, WithURLSigner(signer))
	}

	return &Store{
		client:    client,
		documents: NewDocumentStore(client, cfg.BucketPrefix(), docOpts...),
		blobs:     NewBlobStore(client, cfg.BucketName, cfg.BlobCache, blobOpts...),
		logger:    o.logger,
	}
}

// Documents returns the document store backend.
func (s *Store) Documents() *DocumentStore { return s.documents }

// Blobs returns the blob store backend.
func (s *Store) Blobs() *BlobStore { return s.blobs }

// Client returns the underlying NATS client.
func (s *Store) Client() *natsclient.Client { return s.client }

// Setup provisions every collection bucket, the blob bucket, and both
// health sentinels. It is idempotent and safe under concurrent
// first-time provisioning; the storage facade runs it behind its
// memoized setup handle.
func (s *Store) Setup(ctx context.Context) error {
	cfg := retry.Quick()

	for _, collection := range storage.Collections() {
		col := collection
		err := retry.Do(ctx, cfg, func() error {
			_, err := s.documents.kv(ctx, col)
			return err
		})
		if err != nil {
			return errors.Wrap(errors.ConnectionFailed, err, "Store", "Setup", "provision collection "+col)
		}
	}

	if err := retry.Do(ctx, cfg, func() error {
		_, err := s.blobs.objectStore(ctx)
		return err
	}); err != nil {
		return errors.Wrap(errors.ConnectionFailed, err, "Store", "Setup", "provision blob bucket")
	}

	if err := retry.Do(ctx, cfg, func() error {
		return s.documents.Set(ctx, storage.CollectionHealth, storage.HealthSentinelID, storage.SentinelDocument())
	}); err != nil {
		return errors.Wrap(errors.ConnectionFailed, err, "Store", "Setup", "write document sentinel")
	}
	if err := retry.Do(ctx, cfg, func() error {
		return s.blobs.Put(ctx, storage.HealthSentinelBlobID, storage.SentinelBlob())
	}); err != nil {
		return errors.Wrap(errors.ConnectionFailed, err, "Store", "Setup", "write blob sentinel")
	}

	s.logger.Info("storage backend provisioned",
		"collections", len(storage.Collections()),
		"blobBucket", s.blobs.bucket)
	return nil
}

// Close drains the underlying connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
