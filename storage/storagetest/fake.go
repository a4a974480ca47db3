// Package storagetest provides in-memory DocumentStore and BlobStore
// implementations for unit tests, mirroring the error kinds of the
// real backends.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JiseokYu/code-push-server/errors"
)

// FakeDocumentStore is an in-memory document store keyed by collection
// and id. Safe for concurrent use. FailNext injects one error on the
// next matching call for write-sequence failure tests.
type FakeDocumentStore struct {
	mu          sync.Mutex
	collections map[string]map[string][]byte
	failNext    map[string]error
}

// NewFakeDocumentStore creates an empty fake document store.
func NewFakeDocumentStore() *FakeDocumentStore {
	return &FakeDocumentStore{
		collections: make(map[string]map[string][]byte),
		failNext:    make(map[string]error),
	}
}

// FailNext makes the next call of the named operation ("Get", "Set",
// "Create", "Update", "Delete", "Keys", "GetAll") return err, then
// clears itself.
func (f *FakeDocumentStore) FailNext(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[operation] = err
}

func (f *FakeDocumentStore) takeFailure(operation string) error {
	if err, ok := f.failNext[operation]; ok {
		delete(f.failNext, operation)
		return err
	}
	return nil
}

// Get implements storage.DocumentStore.
func (f *FakeDocumentStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Get"); err != nil {
		return nil, err
	}

	data, ok := f.collections[collection][id]
	if !ok {
		return nil, errors.New(errors.NotFound, "FakeDocumentStore", "Get", fmt.Sprintf("document %s/%s not found", collection, id))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set implements storage.DocumentStore.
func (f *FakeDocumentStore) Set(ctx context.Context, collection, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Set"); err != nil {
		return err
	}
	f.put(collection, id, data)
	return nil
}

// Create implements storage.DocumentStore.
func (f *FakeDocumentStore) Create(ctx context.Context, collection, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Create"); err != nil {
		return err
	}

	if _, ok := f.collections[collection][id]; ok {
		return errors.New(errors.AlreadyExists, "FakeDocumentStore", "Create", fmt.Sprintf("document %s/%s already exists", collection, id))
	}
	f.put(collection, id, data)
	return nil
}

// Update implements storage.DocumentStore as a read-modify-write under
// the store lock, so the update is atomic the way the real backend's
// CAS loop is.
func (f *FakeDocumentStore) Update(ctx context.Context, collection, id string, update func(current []byte) ([]byte, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Update"); err != nil {
		return err
	}

	var current []byte
	if data, ok := f.collections[collection][id]; ok {
		current = make([]byte, len(data))
		copy(current, data)
	}
	next, err := update(current)
	if err != nil {
		return err
	}
	f.put(collection, id, next)
	return nil
}

// Delete implements storage.DocumentStore. Missing ids are not errors.
func (f *FakeDocumentStore) Delete(ctx context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Delete"); err != nil {
		return err
	}
	delete(f.collections[collection], id)
	return nil
}

// Keys implements storage.DocumentStore. The filter is either empty
// (everything), "prefix.*", or an exact id.
func (f *FakeDocumentStore) Keys(ctx context.Context, collection, filter string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Keys"); err != nil {
		return nil, err
	}

	var keys []string
	for id := range f.collections[collection] {
		if matchFilter(id, filter) {
			keys = append(keys, id)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetAll implements storage.DocumentStore. Missing ids are silently
// absent from the result.
func (f *FakeDocumentStore) GetAll(ctx context.Context, collection string, ids []string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("GetAll"); err != nil {
		return nil, err
	}

	result := make(map[string][]byte, len(ids))
	for _, id := range ids {
		if data, ok := f.collections[collection][id]; ok {
			out := make([]byte, len(data))
			copy(out, data)
			result[id] = out
		}
	}
	return result, nil
}

// Count returns the number of documents in a collection.
func (f *FakeDocumentStore) Count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collections[collection])
}

func (f *FakeDocumentStore) put(collection, id string, data []byte) {
	if f.collections[collection] == nil {
		f.collections[collection] = make(map[string][]byte)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	f.collections[collection][id] = stored
}

func matchFilter(id, filter string) bool {
	switch {
	case filter == "":
		return true
	case strings.HasSuffix(filter, ".*"):
		return strings.HasPrefix(id, strings.TrimSuffix(filter, "*"))
	default:
		return id == filter
	}
}

// FakeBlobStore is an in-memory blob store. Safe for concurrent use.
type FakeBlobStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failNext map[string]error
}

// NewFakeBlobStore creates an empty fake blob store.
func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{
		objects:  make(map[string][]byte),
		failNext: make(map[string]error),
	}
}

// FailNext makes the next call of the named operation ("Get", "Put",
// "Delete") return err, then clears itself.
func (f *FakeBlobStore) FailNext(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[operation] = err
}

func (f *FakeBlobStore) takeFailure(operation string) error {
	if err, ok := f.failNext[operation]; ok {
		delete(f.failNext, operation)
		return err
	}
	return nil
}

// Get implements storage.BlobStore.
func (f *FakeBlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Get"); err != nil {
		return nil, err
	}

	data, ok := f.objects[id]
	if !ok {
		return nil, errors.New(errors.NotFound, "FakeBlobStore", "Get", fmt.Sprintf("blob %s not found", id))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put implements storage.BlobStore.
func (f *FakeBlobStore) Put(ctx context.Context, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Put"); err != nil {
		return err
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	f.objects[id] = stored
	return nil
}

// Delete implements storage.BlobStore. Missing ids are not errors.
func (f *FakeBlobStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Delete"); err != nil {
		return err
	}
	delete(f.objects, id)
	return nil
}

// SignedReadURL implements storage.BlobStore with a fake URL scheme.
func (f *FakeBlobStore) SignedReadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[id]; !ok {
		return "", errors.New(errors.NotFound, "FakeBlobStore", "SignedReadURL", fmt.Sprintf("blob %s not found", id))
	}
	return fmt.Sprintf("https://blobs.invalid/%s?ttl=%d", id, int(ttl.Seconds())), nil
}
