//go:build integration

package natsclient

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStoreBasicOperations(t *testing.T) {
	testClient := NewTestClient(t)
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "test-kv-basic",
	})
	require.NoError(t, err)
	kv := client.NewKVStore(bucket)

	t.Run("get missing key", func(t *testing.T) {
		_, err := kv.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrKVKeyNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		rev, err := kv.Put(ctx, "doc", []byte("value"))
		require.NoError(t, err)
		assert.Greater(t, rev, uint64(0))

		entry, err := kv.Get(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), entry.Value)
		assert.Equal(t, rev, entry.Revision)
	})

	t.Run("create conflict", func(t *testing.T) {
		_, err := kv.Create(ctx, "once", []byte("first"))
		require.NoError(t, err)

		_, err = kv.Create(ctx, "once", []byte("second"))
		assert.ErrorIs(t, err, ErrKVKeyExists)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		_, err := kv.Put(ctx, "doomed", []byte("x"))
		require.NoError(t, err)

		require.NoError(t, kv.Delete(ctx, "doomed"))
		require.NoError(t, kv.Delete(ctx, "doomed"))

		_, err = kv.Get(ctx, "doomed")
		assert.ErrorIs(t, err, ErrKVKeyNotFound)
	})

	t.Run("create after delete", func(t *testing.T) {
		_, err := kv.Create(ctx, "recycled", []byte("v1"))
		require.NoError(t, err)
		require.NoError(t, kv.Delete(ctx, "recycled"))

		_, err = kv.Create(ctx, "recycled", []byte("v2"))
		require.NoError(t, err)
	})
}

func TestKVStoreFilteredKeys(t *testing.T) {
	testClient := NewTestClient(t)
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "test-kv-keys",
	})
	require.NoError(t, err)
	kv := client.NewKVStore(bucket)

	for _, key := range []string{"acct1.app1", "acct1.app2", "acct2.app3"} {
		_, err := kv.Put(ctx, key, []byte("{}"))
		require.NoError(t, err)
	}

	t.Run("prefix filter", func(t *testing.T) {
		keys, err := kv.Keys(ctx, "acct1.*")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"acct1.app1", "acct1.app2"}, keys)
	})

	t.Run("all keys", func(t *testing.T) {
		keys, err := kv.Keys(ctx, "")
		require.NoError(t, err)
		assert.Len(t, keys, 3)
	})

	t.Run("empty result", func(t *testing.T) {
		keys, err := kv.Keys(ctx, "acct9.*")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestKVStoreUpdateWithRetry(t *testing.T) {
	testClient := NewTestClient(t)
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "test-kv-cas",
	})
	require.NoError(t, err)
	kv := client.NewKVStore(bucket)

	t.Run("creates missing key", func(t *testing.T) {
		err := kv.UpdateWithRetry(ctx, "fresh", func(current []byte) ([]byte, error) {
			assert.Nil(t, current)
			return []byte("created"), nil
		})
		require.NoError(t, err)

		entry, err := kv.Get(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, []byte("created"), entry.Value)
	})

	t.Run("retries through interleaved write", func(t *testing.T) {
		_, err := kv.Put(ctx, "contended", []byte("v1"))
		require.NoError(t, err)

		attempts := 0
		err = kv.UpdateWithRetry(ctx, "contended", func(current []byte) ([]byte, error) {
			attempts++
			if attempts == 1 {
				// Simulate a concurrent writer racing this update.
				_, err := kv.Put(ctx, "contended", []byte("interleaved"))
				require.NoError(t, err)
			}
			return append(current, '+'), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)

		entry, err := kv.Get(ctx, "contended")
		require.NoError(t, err)
		assert.Equal(t, []byte("interleaved+"), entry.Value)
	})

	t.Run("update function error is not retried", func(t *testing.T) {
		attempts := 0
		err := kv.UpdateWithRetry(ctx, "whatever", func(current []byte) ([]byte, error) {
			attempts++
			return nil, assert.AnError
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})
}
