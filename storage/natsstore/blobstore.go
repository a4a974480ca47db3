package natsstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/metric"
	"github.com/JiseokYu/code-push-server/natsclient"
	"github.com/JiseokYu/code-push-server/pkg/cache"
)

// BlobStore implements storage.BlobStore over a JetStream ObjectStore
// bucket, with a read-through TTL cache in front of downloads. Package
// histories are read on every client update check, so cache hits carry
// most of the read load.
type BlobStore struct {
	client  *natsclient.Client
	bucket  string
	cache   *cache.Cache[[]byte]
	signer  *URLSigner
	logger  *slog.Logger
	metrics *metric.StorageMetrics

	mu    sync.Mutex
	store jetstream.ObjectStore
}

// NewBlobStore creates a blob store over the named ObjectStore bucket.
func NewBlobStore(client *natsclient.Client, bucket string, cacheCfg cache.Config, opts ...BlobStoreOption) *BlobStore {
	b := &BlobStore{
		client: client,
		bucket: bucket,
		cache:  cache.New[[]byte](cacheCfg),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BlobStoreOption configures a BlobStore.
type BlobStoreOption func(*BlobStore)

// WithBlobLogger sets the logger.
func WithBlobLogger(logger *slog.Logger) BlobStoreOption {
	return func(b *BlobStore) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBlobMetrics attaches operation metrics.
func WithBlobMetrics(m *metric.StorageMetrics) BlobStoreOption {
	return func(b *BlobStore) {
		b.metrics = m
	}
}

// WithURLSigner enables SignedReadURL. Without a signer the operation
// fails Invalid.
func WithURLSigner(signer *URLSigner) BlobStoreOption {
	return func(b *BlobStore) {
		b.signer = signer
	}
}

func (b *BlobStore) objectStore(ctx context.Context) (jetstream.ObjectStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.store != nil {
		return b.store, nil
	}

	store, err := b.client.CreateObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{
		Bucket: b.bucket,
	})
	if err != nil {
		return nil, translateObject(err, "BlobStore", "objectStore", "resolve bucket "+b.bucket)
	}
	b.store = store
	return store, nil
}

func (b *BlobStore) observe(operation string, start time.Time, err error) {
	if b.metrics != nil {
		b.metrics.Observe(operation, start, err)
	}
}

// Get downloads a blob, serving repeated reads from the cache.
func (b *BlobStore) Get(ctx context.Context, id string) (data []byte, err error) {
	defer b.observe("blob_get", time.Now(), err)

	if cached, ok := b.cache.Get(id); ok {
		return cached, nil
	}

	store, err := b.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	data, err = store.GetBytes(ctx, id)
	if err != nil {
		return nil, translateObject(err, "BlobStore", "Get", "get "+id)
	}

	b.cache.Set(id, data)
	return data, nil
}

// Put uploads a blob and refreshes the cache entry.
func (b *BlobStore) Put(ctx context.Context, id string, data []byte) (err error) {
	defer b.observe("blob_put", time.Now(), err)

	store, err := b.objectStore(ctx)
	if err != nil {
		return err
	}
	if _, err := store.PutBytes(ctx, id, data); err != nil {
		return translateObject(err, "BlobStore", "Put", "put "+id)
	}

	b.cache.Set(id, data)
	return nil
}

// Delete removes a blob and its cache entry. Missing ids are not errors.
func (b *BlobStore) Delete(ctx context.Context, id string) (err error) {
	defer b.observe("blob_delete", time.Now(), err)

	store, err := b.objectStore(ctx)
	if err != nil {
		return err
	}
	b.cache.Delete(id)
	if err := store.Delete(ctx, id); err != nil {
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil
		}
		return translateObject(err, "BlobStore", "Delete", "delete "+id)
	}
	return nil
}

// SignedReadURL mints a time-limited read URL for a stored blob.
func (b *BlobStore) SignedReadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	if b.signer == nil {
		return "", errors.New(errors.Invalid, "BlobStore", "SignedReadURL", "no url signer configured")
	}

	store, err := b.objectStore(ctx)
	if err != nil {
		return "", err
	}
	if _, err := store.GetInfo(ctx, id); err != nil {
		return "", translateObject(err, "BlobStore", "SignedReadURL", "stat "+id)
	}
	return b.signer.Sign(id, ttl)
}

func translateObject(err error, component, operation, action string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, jetstream.ErrObjectNotFound) || stderrors.Is(err, jetstream.ErrBucketNotFound):
		return errors.Wrap(errors.NotFound, err, component, operation, action)
	case isConnectionError(err):
		return errors.Wrap(errors.ConnectionFailed, err, component, operation, action)
	default:
		return errors.Wrap(errors.Other, err, component, operation, action)
	}
}
