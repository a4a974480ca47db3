package storage_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/storage"
	"github.com/JiseokYu/code-push-server/types"
)

func TestAddDeploymentAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")

	deployment := env.addDeployment(t, alice, app.ID, "Staging")
	require.NotEmpty(t, deployment.ID)
	require.NotEmpty(t, deployment.Key)
	assert.Nil(t, deployment.Package)

	got, err := env.store.Deployments().GetDeployment(ctx, alice, app.ID, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, deployment, got)

	// History is initialized empty.
	history, err := env.store.History().GetPackageHistory(ctx, alice, app.ID, deployment.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAddDeploymentKeepsExplicitKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")

	deployment, err := env.store.Deployments().AddDeployment(ctx, alice, app.ID, types.Deployment{
		Name: "Production",
		Key:  "explicit-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit-key", deployment.Key)
}

func TestAddDeploymentDuplicateKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")

	_, err := env.store.Deployments().AddDeployment(ctx, alice, app.ID, types.Deployment{Name: "One", Key: "dup"})
	require.NoError(t, err)

	_, err = env.store.Deployments().AddDeployment(ctx, alice, app.ID, types.Deployment{Name: "Two", Key: "dup"})
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestAddDeploymentUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	bob := env.addAccount(t, "bob@example.com")
	app := env.addApp(t, alice, "app")

	_, err := env.store.Deployments().AddDeployment(ctx, bob, app.ID, types.Deployment{Name: "Staging"})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetDeploymentWrongApp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	appA := env.addApp(t, alice, "app-a")
	appB := env.addApp(t, alice, "app-b")

	deployment := env.addDeployment(t, alice, appA.ID, "Staging")

	// A deployment is only addressable under its own app.
	_, err := env.store.Deployments().GetDeployment(ctx, alice, appB.ID, deployment.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetDeploymentInfo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")
	deployment := env.addDeployment(t, alice, app.ID, "Staging")

	info, err := env.store.Deployments().GetDeploymentInfo(ctx, deployment.Key)
	require.NoError(t, err)
	assert.Equal(t, app.ID, info.AppID)
	assert.Equal(t, deployment.ID, info.DeploymentID)

	_, err = env.store.Deployments().GetDeploymentInfo(ctx, "no-such-key")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetDeployments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")
	other := env.addApp(t, alice, "other")

	env.addDeployment(t, alice, app.ID, "Staging")
	env.addDeployment(t, alice, app.ID, "Production")
	env.addDeployment(t, alice, other.ID, "Staging")

	deployments, err := env.store.Deployments().GetDeployments(ctx, alice, app.ID)
	require.NoError(t, err)
	require.Len(t, deployments, 2)

	names := []string{deployments[0].Name, deployments[1].Name}
	assert.ElementsMatch(t, []string{"Staging", "Production"}, names)
}

func TestUpdateDeployment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")
	deployment := env.addDeployment(t, alice, app.ID, "Staging")

	deployment.Name = "Canary"
	require.NoError(t, env.store.Deployments().UpdateDeployment(ctx, alice, app.ID, deployment))

	got, err := env.store.Deployments().GetDeployment(ctx, alice, app.ID, deployment.ID)
	require.NoError(t, err)
	assert.Equal(t, "Canary", got.Name)
}

func TestRemoveDeploymentDisabled(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")
	deployment := env.addDeployment(t, alice, app.ID, "Staging")

	err := env.store.Deployments().RemoveDeployment(context.Background(), alice, app.ID, deployment.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestGetDeploymentStaleKeyIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")
	deployment := env.addDeployment(t, alice, app.ID, "Staging")

	// Repoint the key index at another app, as a diverged multi-step
	// write would leave it.
	stale, err := json.Marshal(types.DeploymentInfo{AppID: "other-app", DeploymentID: deployment.ID})
	require.NoError(t, err)
	require.NoError(t, env.docs.Set(ctx, storage.CollectionDeploymentKeys, storage.EncodeKeyToken(deployment.Key), stale))

	_, err = env.store.Deployments().GetDeployment(ctx, alice, app.ID, deployment.ID)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetDeploymentKeyIndexReadFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.addAccount(t, "alice@example.com")
	app := env.addApp(t, alice, "app")
	deployment := env.addDeployment(t, alice, app.ID, "Staging")

	require.NoError(t, env.docs.Set(ctx, storage.CollectionDeploymentKeys, storage.EncodeKeyToken(deployment.Key), []byte("{broken")))

	// An index read failure propagates as-is instead of masquerading as
	// a missing deployment.
	_, err := env.store.Deployments().GetDeployment(ctx, alice, app.ID, deployment.ID)
	require.Error(t, err)
	assert.False(t, errors.IsNotFound(err))
	assert.Equal(t, errors.Other, errors.KindOf(err))
}
