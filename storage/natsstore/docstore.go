// Package natsstore implements the storage backends over NATS
// JetStream: KeyValue buckets as the document store and an ObjectStore
// bucket as the blob store, with signed read URLs minted locally.
package natsstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/metric"
	"github.com/JiseokYu/code-push-server/natsclient"
)

// DocumentStore implements storage.DocumentStore over one KeyValue
// bucket per collection. Buckets are resolved lazily and cached; names
// are namespaced under the configured prefix.
type DocumentStore struct {
	client  *natsclient.Client
	prefix  string
	logger  *slog.Logger
	metrics *metric.StorageMetrics

	mu      sync.Mutex
	buckets map[string]*natsclient.KVStore
}

// NewDocumentStore creates a document store over the given client. The
// prefix namespaces bucket names per project.
func NewDocumentStore(client *natsclient.Client, prefix string, opts ...DocumentStoreOption) *DocumentStore {
	d := &DocumentStore{
		client:  client,
		prefix:  prefix,
		logger:  slog.Default(),
		buckets: make(map[string]*natsclient.KVStore),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DocumentStoreOption configures a DocumentStore.
type DocumentStoreOption func(*DocumentStore)

// WithDocumentLogger sets the logger.
func WithDocumentLogger(logger *slog.Logger) DocumentStoreOption {
	return func(d *DocumentStore) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDocumentMetrics attaches operation metrics.
func WithDocumentMetrics(m *metric.StorageMetrics) DocumentStoreOption {
	return func(d *DocumentStore) {
		d.metrics = m
	}
}

// BucketName returns the namespaced bucket name for a collection.
func (d *DocumentStore) BucketName(collection string) string {
	if d.prefix == "" {
		return collection
	}
	return d.prefix + "_" + collection
}

func (d *DocumentStore) kv(ctx context.Context, collection string) (*natsclient.KVStore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if store, ok := d.buckets[collection]; ok {
		return store, nil
	}

	bucket, err := d.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  d.BucketName(collection),
		History: 1,
	})
	if err != nil {
		return nil, translateKV(err, "DocumentStore", "kv", "resolve bucket "+collection)
	}

	store := d.client.NewKVStore(bucket)
	d.buckets[collection] = store
	return store, nil
}

func (d *DocumentStore) observe(operation string, start time.Time, err error) {
	if d.metrics != nil {
		d.metrics.Observe(operation, start, err)
	}
}

// Get implements storage.DocumentStore.
func (d *DocumentStore) Get(ctx context.Context, collection, id string) (data []byte, err error) {
	defer d.observe("doc_get", time.Now(), err)

	kv, err := d.kv(ctx, collection)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, id)
	if err != nil {
		return nil, translateKV(err, "DocumentStore", "Get", "get "+collection+"/"+id)
	}
	return entry.Value, nil
}

// Set implements storage.DocumentStore.
func (d *DocumentStore) Set(ctx context.Context, collection, id string, data []byte) (err error) {
	defer d.observe("doc_set", time.Now(), err)

	kv, err := d.kv(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, id, data); err != nil {
		return translateKV(err, "DocumentStore", "Set", "put "+collection+"/"+id)
	}
	return nil
}

// Create implements storage.DocumentStore.
func (d *DocumentStore) Create(ctx context.Context, collection, id string, data []byte) (err error) {
	defer d.observe("doc_create", time.Now(), err)

	kv, err := d.kv(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := kv.Create(ctx, id, data); err != nil {
		return translateKV(err, "DocumentStore", "Create", "create "+collection+"/"+id)
	}
	return nil
}

// Update implements storage.DocumentStore as a CAS read-modify-write
// with conflict retry.
func (d *DocumentStore) Update(ctx context.Context, collection, id string, update func(current []byte) ([]byte, error)) (err error) {
	defer d.observe("doc_update", time.Now(), err)

	kv, err := d.kv(ctx, collection)
	if err != nil {
		return err
	}
	if err := kv.UpdateWithRetry(ctx, id, update); err != nil {
		return translateKV(err, "DocumentStore", "Update", "update "+collection+"/"+id)
	}
	return nil
}

// Delete implements storage.DocumentStore.
func (d *DocumentStore) Delete(ctx context.Context, collection, id string) (err error) {
	defer d.observe("doc_delete", time.Now(), err)

	kv, err := d.kv(ctx, collection)
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, id); err != nil {
		return translateKV(err, "DocumentStore", "Delete", "delete "+collection+"/"+id)
	}
	return nil
}

// Keys implements storage.DocumentStore.
func (d *DocumentStore) Keys(ctx context.Context, collection, filter string) (keys []string, err error) {
	defer d.observe("doc_keys", time.Now(), err)

	kv, err := d.kv(ctx, collection)
	if err != nil {
		return nil, err
	}
	keys, err = kv.Keys(ctx, filter)
	if err != nil {
		return nil, translateKV(err, "DocumentStore", "Keys", "list "+collection)
	}
	return keys, nil
}

// GetAll implements storage.DocumentStore. Missing ids are skipped; the
// backend has no batch read, so this is a sequential fetch loop.
func (d *DocumentStore) GetAll(ctx context.Context, collection string, ids []string) (result map[string][]byte, err error) {
	defer d.observe("doc_get_all", time.Now(), err)

	kv, err := d.kv(ctx, collection)
	if err != nil {
		return nil, err
	}

	result = make(map[string][]byte, len(ids))
	for _, id := range ids {
		entry, err := kv.Get(ctx, id)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, translateKV(err, "DocumentStore", "GetAll", "get "+collection+"/"+id)
		}
		result[id] = entry.Value
	}
	return result, nil
}

// translateKV maps backend errors onto the storage error taxonomy,
// exactly once.
func translateKV(err error, component, operation, action string) error {
	switch {
	case err == nil:
		return nil
	case natsclient.IsKVNotFoundError(err):
		return errors.Wrap(errors.NotFound, err, component, operation, action)
	case natsclient.IsKVConflictError(err):
		return errors.Wrap(errors.AlreadyExists, err, component, operation, action)
	case natsclient.IsKVTooLargeError(err):
		return errors.Wrap(errors.TooLarge, err, component, operation, action)
	case isConnectionError(err):
		return errors.Wrap(errors.ConnectionFailed, err, component, operation, action)
	default:
		return errors.Wrap(errors.Other, err, component, operation, action)
	}
}

func isConnectionError(err error) bool {
	return stderrors.Is(err, nats.ErrConnectionClosed) ||
		stderrors.Is(err, nats.ErrNoServers) ||
		stderrors.Is(err, nats.ErrTimeout) ||
		stderrors.Is(err, natsclient.ErrNotConnected) ||
		stderrors.Is(err, context.DeadlineExceeded)
}
