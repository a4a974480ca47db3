package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/types"
)

func TestAddAccessKeyAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accountID := env.addAccount(t, "alice@example.com")

	key, err := env.store.AccessKeys().AddAccessKey(ctx, accountID, types.AccessKey{
		Name:         "raw-token-1",
		FriendlyName: "laptop",
	})
	require.NoError(t, err)
	require.NotEmpty(t, key.ID)
	assert.Equal(t, accountID, key.CreatedBy)
	assert.Equal(t, env.clock, key.CreatedTime)

	got, err := env.store.AccessKeys().GetAccessKey(ctx, accountID, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestAddAccessKeyDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	bob := env.addAccount(t, "bob@example.com")

	_, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "shared-token"})
	require.NoError(t, err)

	// Name uniqueness is global, not per account.
	_, err = env.store.AccessKeys().AddAccessKey(ctx, bob, types.AccessKey{Name: "shared-token"})
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestGetAccessKeyWrongAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	bob := env.addAccount(t, "bob@example.com")

	key, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "token"})
	require.NoError(t, err)

	_, err = env.store.AccessKeys().GetAccessKey(ctx, bob, key.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetAccessKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	bob := env.addAccount(t, "bob@example.com")

	_, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "token-a"})
	require.NoError(t, err)
	_, err = env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "token-b"})
	require.NoError(t, err)
	_, err = env.store.AccessKeys().AddAccessKey(ctx, bob, types.AccessKey{Name: "token-c"})
	require.NoError(t, err)

	keys, err := env.store.AccessKeys().GetAccessKeys(ctx, alice)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	names := []string{keys[0].Name, keys[1].Name}
	assert.ElementsMatch(t, []string{"token-a", "token-b"}, names)
}

func TestGetAccessKeyAccountID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")

	_, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "valid-token"})
	require.NoError(t, err)

	got, err := env.store.AccessKeys().GetAccessKeyAccountID(ctx, "valid-token")
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = env.store.AccessKeys().GetAccessKeyAccountID(ctx, "no-such-token")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetAccessKeyAccountIDExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")

	_, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{
		Name:    "short-lived",
		Expires: env.clock.Add(time.Hour),
	})
	require.NoError(t, err)

	// Still valid one minute before expiry.
	env.clock = env.clock.Add(59 * time.Minute)
	_, err = env.store.AccessKeys().GetAccessKeyAccountID(ctx, "short-lived")
	require.NoError(t, err)

	// Expired exactly at the boundary.
	env.clock = env.clock.Add(time.Minute)
	_, err = env.store.AccessKeys().GetAccessKeyAccountID(ctx, "short-lived")
	require.Error(t, err)
	assert.True(t, errors.IsExpired(err))
}

func TestRemoveAccessKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	bob := env.addAccount(t, "bob@example.com")

	key, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "doomed"})
	require.NoError(t, err)

	// Another account cannot remove it.
	err = env.store.AccessKeys().RemoveAccessKey(ctx, bob, key.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, env.store.AccessKeys().RemoveAccessKey(ctx, alice, key.ID))

	_, err = env.store.AccessKeys().GetAccessKey(ctx, alice, key.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = env.store.AccessKeys().GetAccessKeyAccountID(ctx, "doomed")
	assert.True(t, errors.IsNotFound(err))

	// The name is reusable after removal.
	_, err = env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "doomed"})
	require.NoError(t, err)
}

func TestUpdateAccessKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")

	key, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "old-name"})
	require.NoError(t, err)

	expires := env.clock.Add(24 * time.Hour)
	err = env.store.AccessKeys().UpdateAccessKey(ctx, alice, types.AccessKey{
		ID:           key.ID,
		Name:         "new-name",
		FriendlyName: "ci",
		Expires:      expires,
	})
	require.NoError(t, err)

	got, err := env.store.AccessKeys().GetAccessKey(ctx, alice, key.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-name", got.Name)
	assert.Equal(t, "ci", got.FriendlyName)
	assert.Equal(t, expires, got.Expires)

	// The old name no longer resolves; the new one does.
	_, err = env.store.AccessKeys().GetAccessKeyAccountID(ctx, "old-name")
	assert.True(t, errors.IsNotFound(err))
	got2, err := env.store.AccessKeys().GetAccessKeyAccountID(ctx, "new-name")
	require.NoError(t, err)
	assert.Equal(t, alice, got2)
}

func TestUpdateAccessKeyNameCollision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")

	_, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "taken"})
	require.NoError(t, err)
	key, err := env.store.AccessKeys().AddAccessKey(ctx, alice, types.AccessKey{Name: "mine"})
	require.NoError(t, err)

	err = env.store.AccessKeys().UpdateAccessKey(ctx, alice, types.AccessKey{ID: key.ID, Name: "taken"})
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))
}
